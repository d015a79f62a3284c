package agenda

import (
	"context"
	"sync"
)

// Loop serialises closures onto a single goroutine, the owner of a Window.
type Loop struct {
	ops  chan func()
	done chan struct{}
	once sync.Once
}

// NewLoop creates a loop whose queue holds up to buffer closures before Post
// blocks.
func NewLoop(buffer int) *Loop {
	if buffer < 1 {
		buffer = 64
	}
	return &Loop{
		ops:  make(chan func(), buffer),
		done: make(chan struct{}),
	}
}

// Post queues fn. After the loop stops, fn is dropped.
func (l *Loop) Post(fn func()) {
	select {
	case l.ops <- fn:
	case <-l.done:
	}
}

// Call runs fn on the loop and waits for it. It must not be used from the
// loop goroutine itself.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.ops <- wrapped:
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Run may have executed it just before stopping.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes queued closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.ops:
			fn()
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
