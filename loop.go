package bedge

import (
	"context"
	"sync"
)

// Loop runs posted functions one after the other on a single goroutine. Posting never blocks, so
// handlers and I/O goroutines can hand work to the reactor at any time.
type Loop struct {
	mu     sync.Mutex
	queue  []func()
	signal chan struct{}
}

// NewLoop creates a loop. It does nothing until Run is called.
func NewLoop() *Loop {
	return &Loop{signal: make(chan struct{}, 1)}
}

// Post schedules fn to run on the loop goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Run executes posted functions until ctx is done. Functions still queued at that point are
// dropped.
func (l *Loop) Run(ctx context.Context) error {
	var batch []func()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.signal:
		}

		l.mu.Lock()
		batch, l.queue = l.queue, batch[:0]
		l.mu.Unlock()

		for i, fn := range batch {
			fn()
			batch[i] = nil
		}
	}
}
