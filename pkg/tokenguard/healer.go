package tokenguard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// Escalator runs the last-resort recovery once healing is exhausted
type Escalator interface {
	Execute(ctx context.Context) bool
}

// Healer performs bounded, spaced forced-refresh attempts
type Healer struct {
	mu       sync.Mutex
	cfg      Config
	logger   *slog.Logger
	provider types.IdentityProvider
	backoff  *Backoff
	breaker  *CircuitBreaker
	blocker  *Blocker
	escalate Escalator

	attempts       int
	lastAttemptAt  time.Time
	suspendedUntil time.Time
	inFlight       bool
}

// NewHealer wires a healer to the token components
func NewHealer(cfg Config, provider types.IdentityProvider, backoff *Backoff, breaker *CircuitBreaker, blocker *Blocker, escalate Escalator, logger *slog.Logger) *Healer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Healer{
		cfg:      cfg.withDefaults(),
		logger:   logger.With("component", "healer"),
		provider: provider,
		backoff:  backoff,
		breaker:  breaker,
		blocker:  blocker,
		escalate: escalate,
	}
}

// Heal attempts one forced refresh if the preconditions allow it and returns
// whether the token was refreshed. Reaching the attempt cap escalates to the
// purge and suspends healing.
func (h *Healer) Heal(ctx context.Context, identity *types.Identity) bool {
	if identity == nil {
		h.logger.Debug("heal skipped", "reason", "no identity")
		return false
	}
	if h.blocker.IsBlocked() {
		h.logger.Debug("heal skipped", "reason", "globally blocked")
		return false
	}
	if h.breaker.IsTripped() {
		h.logger.Debug("heal skipped", "reason", "circuit breaker open")
		return false
	}

	h.mu.Lock()
	now := h.cfg.Clock()
	switch {
	case h.inFlight:
		h.mu.Unlock()
		h.logger.Debug("heal skipped", "reason", "heal in flight")
		return false
	case now.Before(h.suspendedUntil):
		h.mu.Unlock()
		h.logger.Debug("heal skipped", "reason", "suspended", "until", h.suspendedUntil)
		return false
	case !h.lastAttemptAt.IsZero() && now.Sub(h.lastAttemptAt) < h.cfg.HealSpacing:
		h.mu.Unlock()
		h.logger.Debug("heal skipped", "reason", "spacing", "last_attempt", h.lastAttemptAt)
		return false
	case h.attempts >= h.cfg.MaxHeals:
		h.mu.Unlock()
		h.logger.Debug("heal skipped", "reason", "attempt cap", "attempts", h.attempts)
		return false
	}
	previousAttemptAt := h.lastAttemptAt
	h.lastAttemptAt = now
	h.inFlight = true
	h.mu.Unlock()

	h.backoff.ResetWindow()
	err := h.refresh(ctx, *identity)

	h.mu.Lock()
	h.inFlight = false
	if err != nil && ctx.Err() != nil {
		// the caller gave up; this attempt does not count
		h.lastAttemptAt = previousAttemptAt
		h.mu.Unlock()
		h.logger.Debug("heal abandoned", "user_id", identity.UserID, "error", ctx.Err())
		return false
	}
	if err == nil {
		h.attempts = 0
		h.mu.Unlock()

		h.backoff.RecordSuccess()
		h.logger.Info("token healed", "user_id", identity.UserID)
		return true
	}

	h.attempts++
	attempts := h.attempts
	exhausted := attempts >= h.cfg.MaxHeals
	if exhausted {
		h.suspendedUntil = h.cfg.Clock().Add(h.cfg.HealSuspension)
		h.attempts = 0
	}
	h.mu.Unlock()

	h.logger.Warn("heal attempt failed", "user_id", identity.UserID, "attempt", attempts, "max", h.cfg.MaxHeals, "error", err)
	h.breaker.RecordGlobalFailure()

	if exhausted {
		h.logger.Error("healing exhausted, purging credentials", "suspension", h.cfg.HealSuspension)
		if h.escalate != nil {
			h.escalate.Execute(context.WithoutCancel(ctx))
		}
	}
	return false
}

// refresh performs one forced refresh bounded by the heal timeout
func (h *Healer) refresh(ctx context.Context, identity types.Identity) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.HealTimeout)
	defer cancel()

	type result struct {
		token *types.Token
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := h.provider.RefreshToken(ctx, identity, true)
		done <- result{token: token, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return r.err
		}
		if r.token == nil {
			return types.ErrTokenUnavailable
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return types.NewTimeoutError("forced refresh timed out").WithOriginalErr(ctx.Err())
		}
		return ctx.Err()
	}
}

// Attempts returns the number of failed attempts since the last success or suspension
func (h *Healer) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// SuspendedUntil returns the end of the current suspension, zero if none
func (h *Healer) SuspendedUntil() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspendedUntil
}

// Reset clears attempts, spacing and suspension
func (h *Healer) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = 0
	h.lastAttemptAt = time.Time{}
	h.suspendedUntil = time.Time{}
}
