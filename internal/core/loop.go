package core

import (
	"context"

	"github.com/rs/zerolog"
)

// Loop serializes all state changes of one relay onto a single goroutine.
// Each task runs to completion before the next starts, so relay maps need no locks.
type Loop struct {
	name  string
	tasks chan func()
	done  chan struct{}
	log   zerolog.Logger
}

// NewLoop creates a loop; call Run to start processing.
func NewLoop(name string, logger *zerolog.Logger) *Loop {
	return &Loop{
		name:  name,
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		log:   logger.With().Str("loop", name).Logger(),
	}
}

// Run processes tasks until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

// exec isolates a panicking task so the loop and other connections keep going.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
}

// Post enqueues fn. Returns false if the loop has stopped.
// Must not be called from inside a task.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case <-l.done:
		return ErrLoopStopped
	default:
	}
	select {
	case l.tasks <- wrapped:
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stopped is closed once Run has returned.
func (l *Loop) Stopped() <-chan struct{} {
	return l.done
}
