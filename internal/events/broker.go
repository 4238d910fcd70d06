package events

import "sync"

const subscriptionBufferSize = 64

// Subscription is a single subscriber's view of one job's event stream.
// Events arrive in sequence order. The channel is closed on Unsubscribe or
// when the broker shuts down.
type Subscription struct {
	C chan JobEvent

	jobID  string
	broker *Broker
	once   sync.Once
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.broker.remove(s)
		close(s.C)
	})
}

// Broker fans job events out to in-process subscribers keyed by job ID.
// A subscriber that stops draining its channel loses events rather than
// blocking the publisher.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

func (b *Broker) Subscribe(jobID string) *Subscription {
	sub := &Subscription{
		C:     make(chan JobEvent, subscriptionBufferSize),
		jobID: jobID,
	}
	sub.broker = b

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.C)
		return sub
	}
	if _, ok := b.subs[jobID]; !ok {
		b.subs[jobID] = make(map[*Subscription]struct{})
	}
	b.subs[jobID][sub] = struct{}{}
	return sub
}

func (b *Broker) Notify(ev JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs[ev.JobID] {
		select {
		case sub.C <- ev:
		default:
			// slow subscriber, drop rather than block the scheduler
		}
	}
}

func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*Subscription]struct{})
	b.mu.Unlock()

	// closing outside the lock: a concurrent Unsubscribe holds its once
	// while it takes the broker mutex in remove
	for _, sub := range all {
		sub.once.Do(func() {
			close(sub.C)
		})
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subs[sub.jobID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.subs, sub.jobID)
		}
	}
}
