package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type testWriter struct {
	lock     sync.Mutex
	Messages []cloudevents.Event
	Topics   []string
}

func newTestWriter() *testWriter {
	return &testWriter{}
}

func (t *testWriter) Write(_ context.Context, topic string, e cloudevents.Event) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.Messages = append(t.Messages, e)
	t.Topics = append(t.Topics, topic)
	return nil
}

func (t *testWriter) Close(_ context.Context) error {
	return nil
}

func (t *testWriter) count() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.Messages)
}

var _ = Describe("producer", Ordered, func() {
	Context("publish", func() {
		It("delivers events to the writer as cloudevents", func() {
			w := newTestWriter()
			ep := NewEventProducer(w, WithOutputTopic("jobs.test"))
			defer func() { _ = ep.Close() }()

			err := ep.Publish(JobEvent{JobID: "j1", Status: "pending", Sequence: 1})
			Expect(err).To(BeNil())
			err = ep.Publish(JobEvent{JobID: "j1", Status: "processing", Sequence: 2})
			Expect(err).To(BeNil())

			Eventually(w.count, "2s", "10ms").Should(Equal(2))

			w.lock.Lock()
			defer w.lock.Unlock()
			Expect(w.Topics[0]).To(Equal("jobs.test"))
			Expect(w.Messages[0].Type()).To(Equal(JobMessageKind))

			var ev JobEvent
			Expect(json.Unmarshal(w.Messages[0].Data(), &ev)).To(BeNil())
			Expect(ev.JobID).To(Equal("j1"))
			Expect(ev.Sequence).To(Equal(int64(1)))
		})

		It("preserves publish order through the buffer", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)
			defer func() { _ = ep.Close() }()

			for i := int64(1); i <= 10; i++ {
				Expect(ep.Publish(JobEvent{JobID: "j1", Sequence: i})).To(BeNil())
			}

			Eventually(w.count, "2s", "10ms").Should(Equal(10))

			w.lock.Lock()
			defer w.lock.Unlock()
			for i, msg := range w.Messages {
				var ev JobEvent
				Expect(json.Unmarshal(msg.Data(), &ev)).To(BeNil())
				Expect(ev.Sequence).To(Equal(int64(i + 1)))
			}
		})

		It("stamps a timestamp when the caller left it zero", func() {
			w := newTestWriter()
			ep := NewEventProducer(w)
			defer func() { _ = ep.Close() }()

			Expect(ep.Publish(JobEvent{JobID: "j1", Sequence: 1})).To(BeNil())
			Eventually(w.count, "2s", "10ms").Should(Equal(1))

			var ev JobEvent
			w.lock.Lock()
			defer w.lock.Unlock()
			Expect(json.Unmarshal(w.Messages[0].Data(), &ev)).To(BeNil())
			Expect(ev.Timestamp).To(BeTemporally("~", time.Now().UTC(), time.Minute))
		})
	})
})
