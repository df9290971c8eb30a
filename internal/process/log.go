package process

import (
	"context"
	"sync"

	"github.com/tangramdotdev/tangram/internal/id"
)

// LogStore buffers a process's combined log stream (spec §4.7 get_log).
// Writes within a stream are totally ordered; the default implementation
// keeps everything in memory, which is adequate for a single-node
// scheduler and is swapped for a durable store by embedding LogStore
// behind the same interface in a future on-disk backend.
type LogStore interface {
	Append(ctx context.Context, procID id.ID, chunk []byte) error
	Read(ctx context.Context, procID id.ID, position, length int) ([]byte, bool, error)
	Close(procID id.ID)
}

type memoryLog struct {
	mu   sync.Mutex
	buf  map[string][]byte
	done map[string]bool
	// wake is replaced (closed, then recreated) on every Append/Close so
	// a blocked Read can select on it directly instead of parking a
	// goroutine on a sync.Cond that a canceled ctx could never wake.
	wake map[string]chan struct{}
}

// NewMemoryLogStore constructs the in-memory LogStore used by default.
func NewMemoryLogStore() LogStore {
	return &memoryLog{buf: map[string][]byte{}, done: map[string]bool{}, wake: map[string]chan struct{}{}}
}

func (l *memoryLog) wakeChan(key string) chan struct{} {
	ch, ok := l.wake[key]
	if !ok {
		ch = make(chan struct{})
		l.wake[key] = ch
	}
	return ch
}

func (l *memoryLog) Append(ctx context.Context, procID id.ID, chunk []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := procID.String()
	l.buf[key] = append(l.buf[key], chunk...)
	close(l.wakeChan(key))
	delete(l.wake, key)
	return nil
}

// Read returns up to length bytes starting at position. When the process
// isn't done and no new bytes are available yet, it blocks until some
// arrive, the process closes, or ctx is canceled — the building block
// `Scheduler.GetLog`'s follow=true loops against.
func (l *memoryLog) Read(ctx context.Context, procID id.ID, position, length int) ([]byte, bool, error) {
	key := procID.String()

	for {
		l.mu.Lock()
		data := l.buf[key]
		if position < len(data) || l.done[key] {
			end := len(data)
			if length > 0 && position+length < end {
				end = position + length
			}
			var out []byte
			if position < end {
				out = make([]byte, end-position)
				copy(out, data[position:end])
			}
			eof := l.done[key] && end == len(data)
			l.mu.Unlock()
			return out, eof, nil
		}
		ch := l.wakeChan(key)
		l.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

func (l *memoryLog) Close(procID id.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := procID.String()
	l.done[key] = true
	close(l.wakeChan(key))
	delete(l.wake, key)
}
