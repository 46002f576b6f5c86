package application

import (
	"context"
	"errors"
	"log/slog"
)

// ErrLoopStopped is returned when work is submitted after the loop exited.
var ErrLoopStopped = errors.New("primary loop stopped")

// PrimaryLoop is the single goroutine allowed to mutate externally visible
// state: permission grants, display markers and announcements. Background
// tasks hand it closures instead of applying those effects themselves.
type PrimaryLoop struct {
	queue   chan func()
	stopped chan struct{}
}

// NewPrimaryLoop creates a loop with a queue of the given capacity.
func NewPrimaryLoop(capacity int) *PrimaryLoop {
	return &PrimaryLoop{
		queue:   make(chan func(), capacity),
		stopped: make(chan struct{}),
	}
}

// Start runs queued closures in submission order until ctx is canceled.
// Work still queued at cancellation is dropped.
func (l *PrimaryLoop) Start(ctx context.Context) {
	defer close(l.stopped)

	for {
		select {
		case <-ctx.Done():
			slog.Info("primary loop stopped", "dropped", len(l.queue))
			return
		case fn := <-l.queue:
			l.run(fn)
		}
	}
}

// Submit enqueues fn without waiting for it to run.
func (l *PrimaryLoop) Submit(fn func()) error {
	select {
	case <-l.stopped:
		return ErrLoopStopped
	default:
	}

	select {
	case l.queue <- fn:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	}
}

// Do enqueues fn and blocks until it has run or ctx is canceled.
func (l *PrimaryLoop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case l.queue <- wrapped:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *PrimaryLoop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("primary loop task panicked", "panic", r)
		}
	}()
	fn()
}
