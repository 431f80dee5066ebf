package tokenguard

import (
	"log/slog"
	"time"
)

// CircuitBreaker trips on the global failure count and untrips lazily after its timeout.
// It is independent of the per-attempt backoff.
type CircuitBreaker struct {
	s      *State
	logger *slog.Logger
	onTrip func()
}

// NewCircuitBreaker returns the breaker over s
func NewCircuitBreaker(s *State, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{s: s, logger: logger.With("component", "circuit_breaker")}
}

// WithHook sets the callback invoked once each time the failure threshold trips the breaker.
// The hook runs outside the state lock.
func (c *CircuitBreaker) WithHook(fn func()) *CircuitBreaker {
	c.onTrip = fn
	return c
}

// IsTripped reports whether the breaker is open. If the timeout has elapsed the
// check untrips the breaker and resets the global failure count.
func (c *CircuitBreaker) IsTripped() bool {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tripped {
		return false
	}
	if s.cfg.Clock().Sub(s.trippedAt) > s.cfg.BreakerTimeout {
		s.tripped = false
		s.trippedAt = time.Time{}
		s.globalFailureCount = 0
		c.logger.Info("circuit breaker reset after timeout", "timeout", s.cfg.BreakerTimeout)
		return false
	}
	return true
}

// RecordGlobalFailure increments the global failure count and trips the breaker
// when it reaches the threshold. Returns true if this call tripped it.
func (c *CircuitBreaker) RecordGlobalFailure() bool {
	s := c.s
	s.mu.Lock()
	s.globalFailureCount++
	count := s.globalFailureCount
	justTripped := false
	if !s.tripped && count >= s.cfg.BreakerThreshold {
		s.tripped = true
		s.trippedAt = s.cfg.Clock()
		s.valid = false
		justTripped = true
	}
	s.mu.Unlock()

	if justTripped {
		c.logger.Warn("circuit breaker tripped", "global_failures", count, "timeout", s.cfg.BreakerTimeout)
		if c.onTrip != nil {
			c.onTrip()
		}
	}
	return justTripped
}

// Arm trips the breaker without invoking the trip hook
func (c *CircuitBreaker) Arm() {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tripped {
		c.logger.Info("circuit breaker armed")
	}
	s.tripped = true
	s.trippedAt = s.cfg.Clock()
	s.valid = false
}

// Reset closes the breaker and clears the global failure count
func (c *CircuitBreaker) Reset() {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tripped = false
	s.trippedAt = time.Time{}
	s.globalFailureCount = 0
	c.logger.Info("circuit breaker reset")
}
