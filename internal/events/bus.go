package events

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

const defaultSubscriptionBuffer = 64

// Bus is the publishing surface exposed to core components.
type Bus interface {
	Publish(ctx context.Context, topic Topic, payload Payload) error
	Subscribe(buffer int, topics ...Topic) *Subscription
}

// InProcessBus fans events out to subscribers over bounded queues. Publishing
// never blocks: when a subscription's queue is full its oldest event is
// dropped and counted.
type InProcessBus struct {
	mu      sync.Mutex
	nextSeq uint64
	subs    map[*Subscription]struct{}
	closed  bool
}

// NewBus constructs an empty in-process bus.
func NewBus() *InProcessBus {
	return &InProcessBus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers the event to every live subscription whose topic set
// matches. The payload is shallow-copied so publishers may reuse their maps.
func (b *InProcessBus) Publish(ctx context.Context, topic Topic, payload Payload) error {
	if b == nil {
		return nil
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.nextSeq++
	evt := Event{
		Sequence:  b.nextSeq,
		Topic:     topic,
		Timestamp: time.Now().UTC(),
	}
	if len(payload) > 0 {
		evt.Payload = maps.Clone(payload)
	}
	for sub := range b.subs {
		if !sub.wants(topic) {
			continue
		}
		sub.push(evt)
	}
	return nil
}

// Subscribe registers a new subscription. With no topics the subscription
// receives every event. Buffer sizes at or below zero use the default.
func (b *InProcessBus) Subscribe(buffer int, topics ...Topic) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriptionBuffer
	}
	sub := &Subscription{
		bus: b,
		ch:  make(chan Event, buffer),
	}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]struct{}, len(topics))
		for _, topic := range topics {
			sub.topics[topic] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		sub.done = true
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close detaches all subscriptions and closes their channels. Publishing after
// Close is a no-op.
func (b *InProcessBus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		if !sub.done {
			close(sub.ch)
			sub.done = true
		}
	}
	b.subs = make(map[*Subscription]struct{})
}

// Subscription is one receiver's bounded view of the bus.
type Subscription struct {
	bus     *InProcessBus
	ch      chan Event
	topics  map[Topic]struct{}
	dropped atomic.Uint64
	done    bool
}

// C returns the receive channel. It is closed when the subscription or the
// bus is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped reports how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription from the bus and closes its channel.
// Pending events may still be read after Close.
func (s *Subscription) Close() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.done {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
	s.done = true
}

func (s *Subscription) wants(topic Topic) bool {
	if len(s.topics) == 0 {
		return true
	}
	_, ok := s.topics[topic]
	return ok
}

// push runs under the bus mutex, so the channel cannot close mid-send and the
// drop path cannot race another publisher.
func (s *Subscription) push(evt Event) {
	select {
	case s.ch <- evt:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- evt:
	default:
		s.dropped.Add(1)
	}
}

// NopBus discards every publish and hands out closed subscriptions.
type NopBus struct{}

// NewNopBus returns a bus that ignores all activity.
func NewNopBus() NopBus {
	return NopBus{}
}

func (NopBus) Publish(context.Context, Topic, Payload) error {
	return nil
}

func (NopBus) Subscribe(int, ...Topic) *Subscription {
	sub := &Subscription{ch: make(chan Event), done: true}
	close(sub.ch)
	return sub
}
