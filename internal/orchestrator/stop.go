package orchestrator

import "sync"

// StopToken is a cooperative stop request. The orchestrator honors it only between
// sites; the site in progress always runs to completion.
type StopToken struct {
	once sync.Once
	ch   chan struct{}
}

func NewStopToken() *StopToken {
	return &StopToken{ch: make(chan struct{})}
}

// Request asks the batch to stop at the next site boundary. Safe to call repeatedly
// and from any goroutine.
func (s *StopToken) Request() {
	s.once.Do(func() { close(s.ch) })
}

// Requested reports whether Request has been called.
func (s *StopToken) Requested() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done is closed once a stop is requested.
func (s *StopToken) Done() <-chan struct{} {
	return s.ch
}
