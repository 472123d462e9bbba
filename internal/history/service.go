package history

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/runnerr0/visitdb/internal/sequence"
)

// ErrServiceClosed is returned by Do after Close.
var ErrServiceClosed = errors.New("history service closed")

// Service owns a Backend on a dedicated goroutine. Callers never touch the
// backend directly; they post closures with Do, which run one at a time on
// the backend's sequence. A Service is safe for concurrent use.
type Service struct {
	loop    *sequence.Loop
	backend *Backend
	closed  atomic.Bool
}

// NewService starts a loop, creates a backend on it and initializes it. The
// Sequence in p is replaced by the loop.
func NewService(ctx context.Context, p Params) (*Service, error) {
	loop := sequence.NewLoop()
	p.Sequence = loop
	s := &Service{loop: loop, backend: NewBackend(p)}
	if err := s.Do(ctx, func(b *Backend) error { return b.Init(ctx) }); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Do runs fn on the backend's sequence and waits for it. When ctx ends
// first, Do returns ctx.Err() and fn still runs later.
func (s *Service) Do(ctx context.Context, fn func(b *Backend) error) error {
	if s.closed.Load() {
		return ErrServiceClosed
	}
	done := make(chan error, 1)
	if !s.loop.TryPostTask(func() { done <- fn(s.backend) }) {
		return ErrServiceClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post runs fn on the backend's sequence without waiting.
func (s *Service) Post(fn func(b *Backend)) {
	if s.closed.Load() {
		return
	}
	s.loop.PostTask(func() { fn(s.backend) })
}

// Close commits, closes the backend and stops the loop. Pending delayed
// work such as the commit timer is dropped after the final commit.
func (s *Service) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	done := make(chan error, 1)
	if !s.loop.TryPostTask(func() { done <- s.backend.Close() }) {
		// The loop is already stopped, so nothing else touches the backend.
		return s.backend.Close()
	}
	s.loop.Close()
	return <-done
}
