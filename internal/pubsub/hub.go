// Package pubsub is the in-process topic hub shared by the change feed and the
// ephemeral broadcast channel.
package pubsub

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("pubsub: hub closed")

// Subscription is a live registration on one topic. Events are delivered on
// Events(); Done() is closed when the subscription ends, either through Close
// or because the hub dropped it. Events() is never closed.
type Subscription[T any] struct {
	topic string
	ch    chan T
	done  chan struct{}
	once  sync.Once
	hub   *Hub[T]
}

func (s *Subscription[T]) Topic() string { return s.topic }
func (s *Subscription[T]) Events() <-chan T { return s.ch }
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.hub.remove(s)
	s.end()
}

func (s *Subscription[T]) end() {
	s.once.Do(func() { close(s.done) })
}

// Hub fans values out to every subscription of a topic. Delivery never blocks the
// publisher: a subscriber whose buffer is full misses the value.
type Hub[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription[T]]struct{}
	buffer int
	closed bool
}

func NewHub[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub[T]{
		topics: make(map[string]map[*Subscription[T]]struct{}),
		buffer: buffer,
	}
}

func (h *Hub[T]) Subscribe(topic string) (*Subscription[T], error) {
	s := &Subscription[T]{
		topic: topic,
		ch:    make(chan T, h.buffer),
		done:  make(chan struct{}),
		hub:   h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Subscription[T]]struct{})
	}
	h.topics[topic][s] = struct{}{}
	return s, nil
}

func (h *Hub[T]) remove(s *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.topics[s.topic]; m != nil {
		delete(m, s)
		if len(m) == 0 {
			delete(h.topics, s.topic)
		}
	}
}

// Publish returns the number of subscribers that accepted the value.
func (h *Hub[T]) Publish(topic string, v T) int {
	h.mu.RLock()
	m := h.topics[topic]
	subs := make([]*Subscription[T], 0, len(m))
	for s := range m {
		subs = append(subs, s)
	}
	h.mu.RUnlock()
	delivered := 0
	for _, s := range subs {
		select {
		case s.ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Drop ends every subscription on topic. Subscribers observe Done() and must resubscribe.
func (h *Hub[T]) Drop(topic string) {
	h.mu.Lock()
	m := h.topics[topic]
	delete(h.topics, topic)
	h.mu.Unlock()
	for s := range m {
		s.end()
	}
}

// DropAll ends every subscription without closing the hub.
func (h *Hub[T]) DropAll() {
	h.mu.Lock()
	topics := h.topics
	h.topics = make(map[string]map[*Subscription[T]]struct{})
	h.mu.Unlock()
	for _, m := range topics {
		for s := range m {
			s.end()
		}
	}
}

// Close ends every subscription and rejects new ones.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.DropAll()
}

func (h *Hub[T]) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.topics {
		n += len(m)
	}
	return n
}
