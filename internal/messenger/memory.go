package messenger

import (
	"context"
	"strings"
	"sync"
)

// Memory is the messenger.kind=memory backend: an in-process pub/sub bus
// with glob-style subject matching ("foo.*.bar"), matching NATS's own
// wildcard semantics closely enough that Subscribe(ctx, "foo.*") behaves
// the same against either backend.
type Memory struct {
	mu     sync.Mutex
	subs   map[*memorySub]string // sub -> subject pattern
	closed bool
}

// NewMemory constructs a Memory messenger.
func NewMemory() *Memory {
	return &Memory{subs: map[*memorySub]string{}}
}

func (m *Memory) Publish(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	msg := Message{Subject: subject, Data: append([]byte(nil), data...)}
	for sub, pattern := range m.subs {
		if subjectMatch(pattern, subject) {
			sub.deliver(msg)
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{parent: m, ch: make(chan Message, 64), done: make(chan struct{})}
	m.subs[sub] = subject
	return sub, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		sub.closeLocked()
	}
	m.subs = nil
	return nil
}

type memorySub struct {
	parent *Memory
	ch     chan Message
	once   sync.Once
	done   chan struct{}
}

func (s *memorySub) deliver(msg Message) {
	select {
	case s.ch <- msg:
	default:
		// Slow consumer: drop rather than block the publisher, matching
		// NATS core's at-most-once, fire-and-forget delivery.
	}
}

func (s *memorySub) closeLocked() {
	s.once.Do(func() { close(s.done) })
}

func (s *memorySub) Next(ctx context.Context) (Message, error) {
	select {
	case msg := <-s.ch:
		return msg, nil
	case <-s.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (s *memorySub) Unsubscribe() error {
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	delete(s.parent.subs, s)
	s.closeLocked()
	return nil
}

// subjectMatch implements NATS-style dot-segment wildcards: "*" matches
// exactly one segment, ">" matches one-or-more trailing segments.
func subjectMatch(pattern, subject string) bool {
	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(subject, ".")
	for i, p := range pSegs {
		if p == ">" {
			return i < len(sSegs)
		}
		if i >= len(sSegs) {
			return false
		}
		if p != "*" && p != sSegs[i] {
			return false
		}
	}
	return len(pSegs) == len(sSegs)
}
