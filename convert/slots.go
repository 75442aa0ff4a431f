package convert

import (
	"context"
	"log/slog"
)

// slots bounds how many conversions run ffmpeg at once.
type slots struct {
	ch chan struct{}
}

func newSlots(n int) *slots {
	if n <= 0 {
		n = 1
	}
	return &slots{ch: make(chan struct{}, n)}
}

// acquire blocks until a slot is free or ctx is done. Returns true if
// acquired.
func (s *slots) acquire(ctx context.Context) bool {
	select {
	case s.ch <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *slots) release() {
	select {
	case <-s.ch:
	default:
		slog.Warn("conversion slot release called without corresponding acquire", slog.String("component", "convert"))
	}
}

func (s *slots) active() int { return len(s.ch) }

func (s *slots) capacity() int { return cap(s.ch) }
