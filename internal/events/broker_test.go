package events

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("broker", func() {
	It("fans out only to subscribers of the job", func() {
		b := NewBroker()
		defer b.Close()

		sub1 := b.Subscribe("j1")
		sub2 := b.Subscribe("j2")

		b.Notify(JobEvent{JobID: "j1", Sequence: 1})

		Eventually(sub1.C).Should(Receive())
		Consistently(sub2.C, "50ms").ShouldNot(Receive())
	})

	It("supports multiple subscribers per job", func() {
		b := NewBroker()
		defer b.Close()

		sub1 := b.Subscribe("j1")
		sub2 := b.Subscribe("j1")

		b.Notify(JobEvent{JobID: "j1", Sequence: 1})

		Eventually(sub1.C).Should(Receive())
		Eventually(sub2.C).Should(Receive())
	})

	It("stops delivery after unsubscribe", func() {
		b := NewBroker()
		defer b.Close()

		sub := b.Subscribe("j1")
		sub.Unsubscribe()

		// must not panic on a closed channel
		b.Notify(JobEvent{JobID: "j1", Sequence: 1})
	})

	It("unsubscribe is safe to call twice", func() {
		b := NewBroker()
		defer b.Close()

		sub := b.Subscribe("j1")
		sub.Unsubscribe()
		sub.Unsubscribe()
	})

	It("survives unsubscribe racing shutdown", func() {
		for i := 0; i < 1000; i++ {
			b := NewBroker()
			subs := make([]*Subscription, 8)
			for j := range subs {
				subs[j] = b.Subscribe("j1")
			}

			var wg sync.WaitGroup
			wg.Add(len(subs) + 1)
			go func() {
				defer wg.Done()
				b.Close()
			}()
			for _, sub := range subs {
				go func(sub *Subscription) {
					defer wg.Done()
					sub.Unsubscribe()
				}(sub)
			}
			wg.Wait()
		}
	})

	It("drops events for a slow subscriber instead of blocking", func() {
		b := NewBroker()
		defer b.Close()

		sub := b.Subscribe("j1")
		for i := 0; i < 1000; i++ {
			b.Notify(JobEvent{JobID: "j1", Sequence: int64(i)})
		}
		// the channel buffer is full, Notify returned anyway
		Expect(len(sub.C)).To(BeNumerically("<=", cap(sub.C)))
	})
})
