package v1

import (
	"time"

	"github.com/google/uuid"

	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store/model"
)

type EnqueueJobRequest struct {
	Kind        string         `json:"kind"`
	OrgID       string         `json:"org_id"`
	Username    string         `json:"username,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	MaxRetries  *int           `json:"max_retries,omitempty"`
	ScheduledAt *time.Time     `json:"scheduled_at,omitempty"`
}

type BulkEnqueueRequest struct {
	Kind       string           `json:"kind"`
	OrgID      string           `json:"org_id"`
	Username   string           `json:"username,omitempty"`
	Priority   int              `json:"priority,omitempty"`
	MaxRetries *int             `json:"max_retries,omitempty"`
	Jobs       []map[string]any `json:"jobs"`
}

type BulkEnqueueResponse struct {
	TotalJobs   int            `json:"total_jobs"`
	CreatedJobs []uuid.UUID    `json:"created_jobs"`
	FailedJobs  map[int]string `json:"failed_jobs,omitempty"`
}

type StepResponse struct {
	Order       int            `json:"order"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Progress    int            `json:"progress"`
	Data        map[string]any `json:"data,omitempty"`
	Error       *string        `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type LogResponse struct {
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type JobResponse struct {
	ID            uuid.UUID      `json:"id"`
	OrgID         string         `json:"org_id"`
	Username      string         `json:"username,omitempty"`
	Kind          string         `json:"kind"`
	Status        string         `json:"status"`
	Priority      int            `json:"priority"`
	Progress      int            `json:"progress"`
	CurrentStep   *string        `json:"current_step,omitempty"`
	TotalSteps    int            `json:"total_steps"`
	Input         map[string]any `json:"input,omitempty"`
	Output        map[string]any `json:"output,omitempty"`
	Error         *string        `json:"error,omitempty"`
	ErrorCategory *string        `json:"error_category,omitempty"`
	RetryCount    int            `json:"retry_count"`
	MaxRetries    int            `json:"max_retries"`
	ScheduledAt   time.Time      `json:"scheduled_at"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Steps         []StepResponse `json:"steps,omitempty"`
	Logs          []LogResponse  `json:"logs,omitempty"`
}

type JobListResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Total int64         `json:"total"`
}

type ErrorResponse struct {
	Message   string  `json:"message"`
	RequestID *string `json:"request_id,omitempty"`
}

func jobToAPI(job *model.Job) JobResponse {
	resp := JobResponse{
		ID:            job.ID,
		OrgID:         job.OrgID,
		Username:      job.Username,
		Kind:          string(job.Kind),
		Status:        string(job.Status),
		Priority:      job.Priority,
		Progress:      job.Progress,
		CurrentStep:   job.CurrentStep,
		TotalSteps:    job.TotalSteps,
		Error:         job.Error,
		ErrorCategory: job.ErrorCategory,
		RetryCount:    job.RetryCount,
		MaxRetries:    job.MaxRetries,
		ScheduledAt:   job.ScheduledAt,
		StartedAt:     job.StartedAt,
		CompletedAt:   job.CompletedAt,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
	}
	if job.Input != nil {
		resp.Input = job.Input.Data
	}
	if job.Output != nil {
		resp.Output = job.Output.Data
	}
	for _, step := range job.Steps {
		s := StepResponse{
			Order:       step.Order,
			Name:        step.Name,
			Status:      string(step.Status),
			Progress:    step.Progress,
			Error:       step.Error,
			StartedAt:   step.StartedAt,
			CompletedAt: step.CompletedAt,
		}
		if step.Data != nil {
			s.Data = step.Data.Data
		}
		resp.Steps = append(resp.Steps, s)
	}
	for _, entry := range job.Logs {
		l := LogResponse{
			Level:     string(entry.Level),
			Message:   entry.Message,
			CreatedAt: entry.CreatedAt,
		}
		if entry.Metadata != nil {
			l.Metadata = entry.Metadata.Data
		}
		resp.Logs = append(resp.Logs, l)
	}
	return resp
}

func (r EnqueueJobRequest) toService() service.EnqueueRequest {
	priority := r.Priority
	if priority == 0 {
		priority = 5
	}
	return service.EnqueueRequest{
		OrgID:       r.OrgID,
		Username:    r.Username,
		Kind:        model.JobKind(r.Kind),
		Priority:    priority,
		Input:       r.Input,
		MaxRetries:  r.MaxRetries,
		ScheduledAt: r.ScheduledAt,
	}
}
