package feed

import (
	"context"
	"log"
	"sync"
)

// DefaultBuffer is the per-subscription channel capacity.
const DefaultBuffer = 64

// Fanout routes changes to in-process subscribers by topic. Sends never
// block: a subscriber whose buffer is full is terminated with
// ErrSlowConsumer and is expected to resubscribe and refetch.
type Fanout struct {
	mu     sync.RWMutex
	subs   map[Topic]map[*fanoutSub]struct{}
	buffer int
	closed bool
}

// NewFanout creates an empty router.
func NewFanout(buffer int) *Fanout {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Fanout{
		subs:   make(map[Topic]map[*fanoutSub]struct{}),
		buffer: buffer,
	}
}

type fanoutSub struct {
	topic  Topic
	parent *Fanout
	ch     chan Change
	err    error // guarded by parent.mu
}

func (s *fanoutSub) Topic() Topic          { return s.topic }
func (s *fanoutSub) Events() <-chan Change { return s.ch }

func (s *fanoutSub) Err() error {
	s.parent.mu.RLock()
	defer s.parent.mu.RUnlock()
	return s.err
}

func (s *fanoutSub) Close() error {
	s.parent.remove(s, nil)
	return nil
}

// Subscribe registers a subscriber for topic.
func (f *Fanout) Subscribe(topic Topic) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	sub := &fanoutSub{topic: topic, parent: f, ch: make(chan Change, f.buffer)}
	if f.subs[topic] == nil {
		f.subs[topic] = make(map[*fanoutSub]struct{})
	}
	f.subs[topic][sub] = struct{}{}
	return sub, nil
}

// Deliver hands c to every subscriber of its topic.
func (f *Fanout) Deliver(c Change) {
	var overflow []*fanoutSub

	f.mu.RLock()
	for sub := range f.subs[c.Topic()] {
		select {
		case sub.ch <- c:
		default:
			overflow = append(overflow, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range overflow {
		log.Printf("[feed] subscriber on %s overflowed; closing it", sub.topic)
		f.remove(sub, ErrSlowConsumer)
	}
}

// FailAll terminates every subscription with err.
func (f *Fanout) FailAll(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for topic, subs := range f.subs {
		for sub := range subs {
			sub.err = err
			close(sub.ch)
		}
		delete(f.subs, topic)
	}
}

// Count returns the number of open subscriptions for topic.
func (f *Fanout) Count(topic Topic) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[topic])
}

// Close terminates every subscription and rejects new ones.
func (f *Fanout) Close() error {
	f.FailAll(ErrClosed)
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fanout) remove(sub *fanoutSub, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	subs, ok := f.subs[sub.topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(f.subs, sub.topic)
	}
	sub.err = err
	close(sub.ch)
}

// ─── Memory backend ─────────────────────────────────────────

// Memory is a single-process feed: publishes are delivered straight to the
// local Fanout.
type Memory struct {
	fan *Fanout
}

// NewMemory creates an in-process feed.
func NewMemory() *Memory {
	return &Memory{fan: NewFanout(DefaultBuffer)}
}

func (m *Memory) Publish(_ context.Context, c Change) error {
	m.fan.Deliver(c)
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic Topic) (Subscription, error) {
	return m.fan.Subscribe(topic)
}

// Subscribers returns the number of open subscriptions for topic.
func (m *Memory) Subscribers(topic Topic) int { return m.fan.Count(topic) }

// Drop terminates every open subscription with err, the way a lost
// connection does on a networked backend.
func (m *Memory) Drop(err error) { m.fan.FailAll(err) }

func (m *Memory) Close() error { return m.fan.Close() }
