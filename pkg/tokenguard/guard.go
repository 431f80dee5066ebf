package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// Dependencies are the collaborators a Guard is built from
type Dependencies struct {
	Provider  types.IdentityProvider // required
	Session   types.SessionManager
	Tiers     []CredentialTier
	Cookies   CookieClearer
	Sink      types.NotificationSink
	Confirmer types.Confirmer
	Reloader  types.Reloader
	Logger    *slog.Logger
}

// Guard is the public face of the token layer. It owns one instance of every
// component and admits token refreshes only when all of them agree.
type Guard struct {
	cfg      Config
	logger   *slog.Logger
	provider types.IdentityProvider
	session  types.SessionManager
	sink     types.NotificationSink
	limiter  *rate.Limiter

	state   *State
	backoff *Backoff
	breaker *CircuitBreaker
	blocker *Blocker
	healer  *Healer
	purger  *Purger

	// identity-endpoint failures reported through Observe
	observedFailures atomic.Int64
}

// New builds a guard
func New(cfg Config, deps Dependencies) (*Guard, error) {
	if deps.Provider == nil {
		return nil, errors.New("identity provider is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := NewState(cfg)
	backoff := NewBackoff(state)
	breaker := NewCircuitBreaker(state, logger)
	blocker := NewBlocker(cfg, state.GlobalFailureCount, deps.Sink, deps.Reloader, logger)
	purger := NewPurger(cfg, PurgerDeps{
		Tiers:     deps.Tiers,
		Cookies:   deps.Cookies,
		Session:   deps.Session,
		Breaker:   breaker,
		Blocker:   blocker,
		Sink:      deps.Sink,
		Confirmer: deps.Confirmer,
		Reloader:  deps.Reloader,
		Logger:    logger,
	})
	healer := NewHealer(cfg, deps.Provider, backoff, breaker, blocker, purger, logger)

	breaker.WithHook(func() {
		purger.Execute(context.Background())
	})

	return &Guard{
		cfg:      cfg,
		logger:   logger.With("component", "token_guard"),
		provider: deps.Provider,
		session:  deps.Session,
		sink:     deps.Sink,
		limiter:  rate.NewLimiter(rate.Every(cfg.RefreshEvery), cfg.RefreshBurst),
		state:    state,
		backoff:  backoff,
		breaker:  breaker,
		blocker:  blocker,
		healer:   healer,
		purger:   purger,
	}, nil
}

// CanRequestToken reports whether a refresh would currently be admitted
func (g *Guard) CanRequestToken() bool {
	return !g.blocker.IsBlocked() && !g.breaker.IsTripped() && g.backoff.CanAttempt()
}

// IsTokenValid returns the optimistic validity flag
func (g *Guard) IsTokenValid() bool {
	return g.state.Valid()
}

// GetTokenSafely refreshes a token for identity if every guard admits it.
// It never returns an error: vetoes and failures yield nil and are recorded.
func (g *Guard) GetTokenSafely(ctx context.Context, identity *types.Identity, forceRefresh bool) *types.Token {
	token, _ := g.RequestToken(ctx, identity, forceRefresh)
	return token
}

// RequestToken is GetTokenSafely for callers that need to know why no token was
// returned. Vetoes wrap types.ErrTokenUnavailable; refresh failures are a
// *types.TokenError carrying the recorded kind.
func (g *Guard) RequestToken(ctx context.Context, identity *types.Identity, forceRefresh bool) (*types.Token, error) {
	if identity == nil {
		g.logger.Debug("token request vetoed", "reason", "no identity")
		return nil, types.ErrNoIdentity
	}
	if g.blocker.IsBlocked() {
		return nil, g.veto("globally blocked")
	}
	if g.breaker.IsTripped() {
		return nil, g.veto("circuit breaker open")
	}

	// The limiter is consulted before the backoff stamps the request time, and
	// its token is handed back when the backoff vetoes.
	now := g.cfg.Clock()
	reservation := g.limiter.ReserveN(now, 1)
	if !reservation.OK() || reservation.DelayFrom(now) > 0 {
		reservation.CancelAt(now)
		return nil, g.veto("refresh rate")
	}
	if !g.backoff.TryAcquire() {
		reservation.CancelAt(now)
		return nil, g.veto("backoff", "remaining", g.backoff.Remaining())
	}

	observedBefore := g.observedFailures.Load()
	token, err := g.provider.RefreshToken(ctx, *identity, forceRefresh)
	if err == nil && token == nil {
		err = types.ErrTokenUnavailable
	}
	if err != nil && ctx.Err() != nil {
		g.logger.Debug("token request abandoned", "error", ctx.Err())
		return nil, fmt.Errorf("%w: %w", types.ErrTokenUnavailable, ctx.Err())
	}
	if err != nil {
		kind := g.recordFailure(err, g.observedFailures.Load() != observedBefore)
		return nil, types.NewTokenError(kind, "token refresh failed").WithOperation("refresh").WithOriginalErr(err)
	}

	g.backoff.RecordSuccess()
	return token, nil
}

func (g *Guard) veto(reason string, args ...any) error {
	g.logger.Debug("token request vetoed", append([]any{"reason", reason}, args...)...)
	return fmt.Errorf("%w: %s", types.ErrTokenUnavailable, reason)
}

// recordFailure applies all failure bookkeeping before the caller returns.
// observed is set when the observing transport already reported a failed
// identity-endpoint response during this refresh; the block window then
// counts that response once.
func (g *Guard) recordFailure(err error, observed bool) types.ErrorKind {
	kind := types.Classify(err)
	streak := g.backoff.RecordFailure(kind)

	g.logger.Warn("token refresh failed", "kind", kind.String(), "consecutive_failures", streak, "error", err)

	if kind == types.KindFatal && !observed {
		g.blocker.CountError(kind, err.Error())
	}
	g.breaker.RecordGlobalFailure()

	if streak == 1 && g.sink != nil {
		g.sink.Advise(types.Advisory{
			Kind:    types.AdvisoryRetrying,
			Message: "Having trouble refreshing your sign-in, retrying shortly.",
		})
	}
	return kind
}

// HealToken attempts a bounded forced refresh
func (g *Guard) HealToken(ctx context.Context, identity *types.Identity) bool {
	return g.healer.Heal(ctx, identity)
}

// ClearCredentialsAndSignOut runs the emergency purge
func (g *Guard) ClearCredentialsAndSignOut(ctx context.Context) bool {
	return g.purger.Execute(ctx)
}

// ClearCredentialsWithConsent runs the purge after the user confirms it
func (g *Guard) ClearCredentialsWithConsent(ctx context.Context, reason string) bool {
	return g.purger.ExecuteWithConsent(ctx, reason)
}

// IsBlocked reports whether the global block is active. See Blocker.IsBlocked.
func (g *Guard) IsBlocked() bool {
	return g.blocker.IsBlocked()
}

// BlockRequests triggers the global block
func (g *Guard) BlockRequests(reason string) {
	g.blocker.Trigger(reason)
}

// ResetBlock clears the global block
func (g *Guard) ResetBlock() {
	g.blocker.Reset()
}

// IsCircuitOpen reports whether the breaker is tripped. See CircuitBreaker.IsTripped.
func (g *Guard) IsCircuitOpen() bool {
	return g.breaker.IsTripped()
}

// ResetBackoffWindow clears the backoff window, keeping the failure history
func (g *Guard) ResetBackoffWindow() {
	g.backoff.ResetWindow()
}

// HealthStatus returns a snapshot of the token layer after applying breaker expiry
func (g *Guard) HealthStatus() types.HealthStatus {
	g.breaker.IsTripped()
	return g.state.Snapshot()
}

// CurrentIdentity returns the signed-in identity from the session, if any
func (g *Guard) CurrentIdentity() *types.Identity {
	if g.session == nil {
		return nil
	}
	return g.session.CurrentIdentity()
}

// Observe implements types.NetworkObserver. Failed calls to the identity
// endpoint are fed to the global block's error window. HTTP errors are
// classified by status code and exceptions by message.
func (g *Guard) Observe(obs types.Observation) {
	if !obs.IdentityEndpoint || !obs.Outcome.IsFailure() {
		return
	}
	g.observedFailures.Add(1)

	if obs.Outcome.Type == types.OutcomeHTTPError {
		g.blocker.ReportError(types.ClassifyHTTPStatus(obs.Outcome.StatusCode), obs.Outcome.Describe())
		return
	}
	g.blocker.ReportObservedError(obs.Outcome.Describe())
}

// Reset returns every component to its initial state
func (g *Guard) Reset() {
	g.state.Reset()
	g.blocker.Reset()
	g.healer.Reset()
	g.purger.Reset()
	g.logger.Info("token guard reset")
}

// State returns the shared token state
func (g *Guard) State() *State { return g.state }

// Backoff returns the backoff controller
func (g *Guard) Backoff() *Backoff { return g.backoff }

// Breaker returns the circuit breaker
func (g *Guard) Breaker() *CircuitBreaker { return g.breaker }

// Blocker returns the global request blocker
func (g *Guard) Blocker() *Blocker { return g.blocker }

// Healer returns the healer
func (g *Guard) Healer() *Healer { return g.healer }

// Purger returns the credential purger
func (g *Guard) Purger() *Purger { return g.purger }

var _ types.NetworkObserver = (*Guard)(nil)
