package tokenguard

import (
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// State is the single source of truth for token health.
// Backoff and CircuitBreaker are views over the same State and share its mutex,
// so an admission check and the bookkeeping that follows it cannot interleave.
type State struct {
	mu  sync.Mutex
	cfg Config

	valid               bool
	consecutiveFailures int
	globalFailureCount  int
	lastError           types.ErrorKind
	lastRequestAt       time.Time

	// backoff window
	interval  time.Duration // exponential curve, only grows on escalating failures
	window    time.Duration // the delay currently enforced after lastRequestAt
	inBackoff bool

	// circuit breaker
	tripped   bool
	trippedAt time.Time
}

// NewState creates a state with optimistic validity and an initial backoff interval
func NewState(cfg Config) *State {
	cfg = cfg.withDefaults()
	return &State{
		cfg:      cfg,
		valid:    true,
		interval: cfg.InitialBackoff,
	}
}

// Valid reports the validity flag
func (s *State) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid
}

// Invalidate clears the validity flag without touching counters
func (s *State) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
}

// ConsecutiveFailures returns the failure count since the last success
func (s *State) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

// GlobalFailureCount returns the breaker's failure counter
func (s *State) GlobalFailureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.globalFailureCount
}

// LastError returns the kind of the most recent failure, KindNone after a success
func (s *State) LastError() types.ErrorKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Interval returns the current exponential backoff interval
func (s *State) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Snapshot returns the health status without evaluating any expiry
func (s *State) Snapshot() types.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := types.HealthStatus{
		Valid:                s.valid,
		InBackoff:            s.inBackoff,
		LastError:            s.lastError,
		ConsecutiveFailures:  s.consecutiveFailures,
		GlobalFailureCount:   s.globalFailureCount,
		CircuitBreakerActive: s.tripped,
	}
	if s.inBackoff {
		remaining := s.lastRequestAt.Add(s.window).Sub(s.cfg.Clock())
		if remaining > 0 {
			status.BackoffSeconds = int((remaining + time.Second - 1) / time.Second)
		}
	}
	return status
}

// Reset returns the state to its initial values
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.valid = true
	s.consecutiveFailures = 0
	s.globalFailureCount = 0
	s.lastError = types.KindNone
	s.lastRequestAt = time.Time{}
	s.interval = s.cfg.InitialBackoff
	s.window = 0
	s.inBackoff = false
	s.tripped = false
	s.trippedAt = time.Time{}
}
