package events

import "time"

const (
	JobMessageKind string = "genqueue.events.job"
	defaultTopic   string = "genqueue.jobs.events"
)

// JobEvent is one state-change notification for a job. Sequence increases
// monotonically per job; a subscriber can use it to restore order if the
// transport reorders messages.
type JobEvent struct {
	JobID       string    `json:"job_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep *string   `json:"current_step,omitempty"`
	Message     string    `json:"message,omitempty"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}
