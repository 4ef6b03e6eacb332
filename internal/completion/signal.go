// Package completion provides a re-armable completion latch carrying the
// status of the operation it tracks.
package completion

import (
	"sync"
	"time"
)

// Signal reports whether a background operation has finished and why.
// The zero value is completed until Start is called.
type Signal struct {
	mu     sync.Mutex
	done   chan struct{}
	ended  bool
	status error
}

// NewSignal returns a signal in the in-progress state.
func NewSignal() *Signal {
	s := &Signal{}
	s.Start()
	return s
}

// Start (re-)enters the in-progress state.
func (s *Signal) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil && !s.ended {
		return
	}
	s.done = make(chan struct{})
	s.ended = false
}

// End enters the completed state, releasing all waiters.
func (s *Signal) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
	}
	if !s.ended {
		s.ended = true
		close(s.done)
	}
}

// IsCompleted reports whether End has been called since the last Start.
func (s *Signal) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done == nil || s.ended
}

// Done returns a channel closed once the signal completes.
func (s *Signal) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		s.done = make(chan struct{})
		s.ended = true
		close(s.done)
	}
	return s.done
}

// WaitUntilCompleted blocks for up to timeout and reports whether the signal
// is or became completed.
func (s *Signal) WaitUntilCompleted(timeout time.Duration) bool {
	done := s.Done()
	if timeout <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// SetStatus records the outcome of the operation. It is independent of the
// completion state.
func (s *Signal) SetStatus(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = err
}

// Status returns the last recorded status, nil meaning OK.
func (s *Signal) Status() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
