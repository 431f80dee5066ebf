package tokenguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// CredentialTier is any store holding credential material that the purge must wipe
type CredentialTier interface {
	Name() string
	Wipe(ctx context.Context) error
}

// CookieClearer removes cookies whose name starts with a prefix and returns how many were removed
type CookieClearer interface {
	ClearNamespace(prefix string) int
}

// Purger is the emergency credential wipe
type Purger struct {
	mu        sync.Mutex
	cfg       Config
	logger    *slog.Logger
	tiers     []CredentialTier
	cookies   CookieClearer
	session   types.SessionManager
	breaker   *CircuitBreaker
	blocker   *Blocker
	sink      types.NotificationSink
	confirmer types.Confirmer
	reloader  types.Reloader

	lastRunAt time.Time
	runs      int
	reload    *time.Timer
}

// PurgerDeps are the collaborators of a Purger. Nil fields skip the related step.
type PurgerDeps struct {
	Tiers     []CredentialTier
	Cookies   CookieClearer
	Session   types.SessionManager
	Breaker   *CircuitBreaker
	Blocker   *Blocker
	Sink      types.NotificationSink
	Confirmer types.Confirmer
	Reloader  types.Reloader
	Logger    *slog.Logger
}

// NewPurger creates a purger
func NewPurger(cfg Config, deps PurgerDeps) *Purger {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		cfg:       cfg.withDefaults(),
		logger:    logger.With("component", "credential_purge"),
		tiers:     deps.Tiers,
		cookies:   deps.Cookies,
		session:   deps.Session,
		breaker:   deps.Breaker,
		blocker:   deps.Blocker,
		sink:      deps.Sink,
		confirmer: deps.Confirmer,
		reloader:  deps.Reloader,
	}
}

// Execute wipes every credential tier, clears credential cookies, signs out and
// arms the breaker and the global block. A call within the debounce window of a
// previous one is refused and returns false. Step failures are logged; only a
// failed storage wipe makes Execute return false.
func (p *Purger) Execute(ctx context.Context) bool {
	p.mu.Lock()
	now := p.cfg.Clock()
	if !p.lastRunAt.IsZero() && now.Sub(p.lastRunAt) < p.cfg.PurgeDebounce {
		p.mu.Unlock()
		p.logger.Info("purge refused, already ran recently", "last_run", p.lastRunAt)
		return false
	}
	p.lastRunAt = now
	p.runs++
	p.mu.Unlock()

	runID := uuid.New().String()
	logger := p.logger.With("run_id", runID)
	logger.Warn("credential purge started")

	wipeErr := p.wipe(ctx, logger)

	if p.cookies != nil {
		cleared := p.cookies.ClearNamespace(p.cfg.CookieNamespace)
		logger.Info("credential cookies cleared", "namespace", p.cfg.CookieNamespace, "count", cleared)
	}

	signOutErr := p.signOut(ctx, logger)

	if p.breaker != nil {
		p.breaker.Arm()
	}
	if p.blocker != nil {
		p.blocker.Trigger("forced purge")
	}

	if p.sink != nil {
		p.sink.Advise(types.Advisory{
			Kind:    types.AdvisoryPurged,
			Message: "Your saved sign-in was cleared. Please sign in again.",
			Actions: []types.Action{types.ActionDismiss},
		})
	}

	if signOutErr != nil {
		p.scheduleReload(logger)
	}

	if wipeErr != nil {
		logger.Error("credential purge incomplete", "error", wipeErr)
		return false
	}
	logger.Warn("credential purge completed", "signed_out", signOutErr == nil)
	return true
}

// ExecuteWithConsent asks the confirmer before purging. Without a confirmer the purge is refused.
func (p *Purger) ExecuteWithConsent(ctx context.Context, reason string) bool {
	if p.confirmer == nil {
		p.logger.Warn("purge needs consent but no confirmer is configured", "reason", reason)
		return false
	}

	advisory := types.Advisory{
		Kind:    types.AdvisoryPurgeConsent,
		Message: fmt.Sprintf("Sign-in keeps failing (%s). Clear saved credentials and sign in again?", reason),
		Actions: []types.Action{types.ActionConfirm, types.ActionCancel},
	}
	if !p.confirmer.Confirm(ctx, advisory) {
		p.logger.Info("purge declined", "reason", reason)
		return false
	}
	return p.Execute(ctx)
}

func (p *Purger) wipe(ctx context.Context, logger *slog.Logger) error {
	var errs []error
	for _, tier := range p.tiers {
		if err := wipeTier(ctx, tier); err != nil {
			logger.Warn("failed to wipe credential tier", "tier", tier.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}
		logger.Debug("credential tier wiped", "tier", tier.Name())
	}
	return errors.Join(errs...)
}

// wipeTier converts a panicking tier into an error so the remaining steps still run
func wipeTier(ctx context.Context, tier CredentialTier) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during wipe: %v", r)
		}
	}()
	return tier.Wipe(ctx)
}

func (p *Purger) signOut(ctx context.Context, logger *slog.Logger) error {
	if p.session == nil {
		return nil
	}
	if err := p.session.SignOut(ctx); err != nil {
		logger.Warn("sign-out failed during purge", "error", err)
		return err
	}
	return nil
}

func (p *Purger) scheduleReload(logger *slog.Logger) {
	if p.reloader == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.reload != nil {
		p.reload.Stop()
	}
	logger.Info("reload scheduled", "delay", p.cfg.ReloadDelay)
	p.reload = time.AfterFunc(p.cfg.ReloadDelay, func() {
		p.reloader.Reload("sign-out failed during credential purge")
	})
}

// Runs returns the number of purges that were not debounced
func (p *Purger) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

// Reset clears the debounce and cancels a pending reload
func (p *Purger) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastRunAt = time.Time{}
	if p.reload != nil {
		p.reload.Stop()
		p.reload = nil
	}
}
