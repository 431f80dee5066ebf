package tokenguard

import (
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// Backoff controls the per-attempt backoff window
type Backoff struct {
	s *State
}

// NewBackoff returns the backoff controller over s
func NewBackoff(s *State) *Backoff {
	return &Backoff{s: s}
}

// CanAttempt reports whether a request may be attempted now.
// When the window has elapsed the check itself clears the in-backoff flag.
func (b *Backoff) CanAttempt() bool {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	return b.canAttemptLocked()
}

func (b *Backoff) canAttemptLocked() bool {
	s := b.s
	if s.inBackoff && s.cfg.Clock().Before(s.lastRequestAt.Add(s.window)) {
		return false
	}
	s.inBackoff = false
	return true
}

// TryAcquire performs the admission check and stamps the request time in one step
func (b *Backoff) TryAcquire() bool {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()

	if !b.canAttemptLocked() {
		return false
	}
	b.s.lastRequestAt = b.s.cfg.Clock()
	return true
}

// RecordSuccess resets the window, the failure streak and the validity flag
func (b *Backoff) RecordSuccess() {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = s.cfg.InitialBackoff
	s.window = 0
	s.inBackoff = false
	s.consecutiveFailures = 0
	s.lastError = types.KindNone
	s.valid = true
}

// RecordFailure advances the window for a failure of the given kind and returns
// the consecutive failure count. Fatal and RateLimited failures double the
// exponential interval; transient and unknown failures get a short linear window.
func (b *Backoff) RecordFailure(kind types.ErrorKind) int {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == types.KindNone {
		kind = types.KindUnknown
	}

	s.consecutiveFailures++
	s.lastError = kind
	if s.lastRequestAt.IsZero() {
		s.lastRequestAt = s.cfg.Clock()
	}

	if kind.Escalates() {
		next := time.Duration(float64(s.interval) * 2 * s.cfg.Jitter())
		if next > s.cfg.MaxBackoff || next <= 0 {
			next = s.cfg.MaxBackoff
		}
		s.interval = next
		s.window = next
		if kind == types.KindFatal {
			s.valid = false
		}
	} else {
		step := s.cfg.TransientStep * time.Duration(s.consecutiveFailures)
		if step > s.cfg.TransientMax || step <= 0 {
			step = s.cfg.TransientMax
		}
		s.window = step
	}
	s.inBackoff = true

	return s.consecutiveFailures
}

// ResetWindow clears the backoff window while keeping the failure history
func (b *Backoff) ResetWindow() {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = s.cfg.InitialBackoff
	s.window = 0
	s.inBackoff = false
}

// Remaining returns how long the current window still blocks attempts
func (b *Backoff) Remaining() time.Duration {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inBackoff {
		return 0
	}
	remaining := s.lastRequestAt.Add(s.window).Sub(s.cfg.Clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}
