// Package stopsignal provides a one-shot, multi-waiter completion signal.
//
// A single Signal instance is shared between the sync session, the node
// lifecycle and the OS signal trap so that all shutdown races collapse into
// one idempotent transition. The first caller of Signal wins; every waiter
// observes the same final value.
package stopsignal

import "sync"

// Signal is a write-once completion flag carrying a result.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

// New returns an unsignaled Signal.
func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Trip records err as the final result and releases all waiters. Calls after
// the first are no-ops, even with a different err.
func (s *Signal) Trip(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Wait blocks until the signal has been tripped and returns the recorded
// result. Safe for any number of concurrent callers.
func (s *Signal) Wait() error {
	<-s.done
	return s.err
}

// Done returns a channel that is closed once the signal has been tripped.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Tripped reports whether the signal has fired without blocking.
func (s *Signal) Tripped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
