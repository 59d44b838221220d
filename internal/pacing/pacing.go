// Package pacing holds the delays that keep the mirror under platform rate limits
// and the cooperative stop token shared by a run.
package pacing

import (
	"context"
	"sync"
	"time"

	"chanmirror/internal/domain"
)

// Config groups every delay the pipeline observes.
type Config struct {
	PageDelay         time.Duration // between history page fetches
	InterMessageDelay time.Duration // after each replicated message
	ErrorDelay        time.Duration // after a failed message
	ProvisionDelay    time.Duration // between channel creations
}

// Defaults returns the pacing used when nothing is configured.
func Defaults() Config {
	return Config{
		PageDelay:         time.Second,
		InterMessageDelay: 300 * time.Millisecond,
		ErrorDelay:        2 * time.Second,
		ProvisionDelay:    500 * time.Millisecond,
	}
}

// Stop is a cooperative stop token. It is checked between pages and between
// messages; in-flight network calls are not interrupted by it.
type Stop struct {
	once sync.Once
	ch   chan struct{}
}

// NewStop returns an untriggered stop token.
func NewStop() *Stop {
	return &Stop{ch: make(chan struct{})}
}

// Trigger requests the run to stop. Safe to call more than once.
func (s *Stop) Trigger() {
	if s == nil {
		return
	}
	s.once.Do(func() { close(s.ch) })
}

// Done is closed once Trigger has been called. A nil token never fires.
func (s *Stop) Done() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.ch
}

// Stopped reports whether Trigger has been called.
func (s *Stop) Stopped() bool {
	if s == nil {
		return false
	}
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Sleep waits for d unless ctx is cancelled or stop fires first.
// It returns ctx.Err() or domain.ErrStopped in those cases.
func Sleep(ctx context.Context, stop *Stop, d time.Duration) error {
	if stop.Stopped() {
		return domain.ErrStopped
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-stop.Done():
		return domain.ErrStopped
	case <-timer.C:
		return nil
	}
}
