// Package profilesync keeps the user profile in step with the profile store without
// issuing requests the token layer has forbidden.
package profilesync

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

// State is the coordinator's lifecycle state
type State string

const (
	StateIdle      State = "idle"
	StateSyncing   State = "syncing"
	StateSuspended State = "suspended"
)

// Gate is the part of the token layer the coordinator must obey
type Gate interface {
	IsBlocked() bool
	IsCircuitOpen() bool
	IsTokenValid() bool
	// RequestToken returns the token or the reason there is none. Refresh
	// failures keep their kind so rate limiting reaches the quota flag.
	RequestToken(ctx context.Context, identity *types.Identity, forceRefresh bool) (*types.Token, error)
	HealToken(ctx context.Context, identity *types.Identity) bool
	ResetBackoffWindow()
	ClearCredentialsWithConsent(ctx context.Context, reason string) bool
}

// ProfileSource supplies the local copy of the profile and accepts newer remote copies
type ProfileSource interface {
	LocalProfile(ctx context.Context, identity types.Identity) (*types.ProfileRecord, error)
	ApplyRemote(ctx context.Context, identity types.Identity, remote *types.ProfileRecord) error
}

// Config controls the sync throttle
type Config struct {
	MinInterval        time.Duration // Minimum spacing of non-forced syncs. Default: 30s
	BasePeriod         time.Duration // Tick period with no failures. Default: 2m
	MaxPeriod          time.Duration // Default: 15m
	HealAfterFailures  int           // Default: 3
	PurgeAfterFailures int           // Consented purge is offered once at this count. Default: 8
	SyncOnStart        bool
	Clock              func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 30 * time.Second
	}
	if c.BasePeriod <= 0 {
		c.BasePeriod = 2 * time.Minute
	}
	if c.MaxPeriod <= 0 {
		c.MaxPeriod = 15 * time.Minute
	}
	if c.HealAfterFailures <= 0 {
		c.HealAfterFailures = 3
	}
	if c.PurgeAfterFailures <= 0 {
		c.PurgeAfterFailures = 8
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Dependencies are the collaborators of a Coordinator
type Dependencies struct {
	Gate    Gate                 // required
	Store   types.ProfileStore   // required
	Session types.SessionManager // required
	Source  ProfileSource        // optional, defaults to a profile built from the identity
	Logger  *slog.Logger
}

// Status is a snapshot of the coordinator
type Status struct {
	State               State         `json:"state"`
	LastSyncAt          time.Time     `json:"last_sync_at,omitempty"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	QuotaExceeded       bool          `json:"quota_exceeded"`
	LastError           string        `json:"last_error,omitempty"`
	Period              time.Duration `json:"period"`
}

// Coordinator runs profile syncs behind the token layer's vetoes
type Coordinator struct {
	mu      sync.Mutex
	cfg     Config
	logger  *slog.Logger
	gate    Gate
	store   types.ProfileStore
	session types.SessionManager
	source  ProfileSource

	state         State
	lastSyncAt    time.Time
	lastSuccessAt time.Time
	failures      int
	quotaExceeded bool
	lastError     string
}

// New creates a coordinator in the Idle state
func New(cfg Config, deps Dependencies) (*Coordinator, error) {
	if deps.Gate == nil || deps.Store == nil || deps.Session == nil {
		return nil, errors.New("gate, store and session are required")
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	source := deps.Source
	if source == nil {
		source = identitySource{clock: cfg.Clock}
	}

	return &Coordinator{
		cfg:     cfg,
		logger:  logger.With("component", "profile_sync"),
		gate:    deps.Gate,
		store:   deps.Store,
		session: deps.Session,
		source:  source,
		state:   StateIdle,
	}, nil
}

// Sync runs one sync if every guard allows it and returns whether it succeeded.
// The global block and the circuit breaker veto even forced syncs; the quota flag
// and the minimum interval only veto non-forced ones.
func (c *Coordinator) Sync(ctx context.Context, force bool) bool {
	if c.gate.IsBlocked() {
		c.logger.Debug("sync vetoed", "reason", "globally blocked", "force", force)
		return false
	}
	if c.gate.IsCircuitOpen() {
		c.logger.Debug("sync vetoed", "reason", "circuit breaker open", "force", force)
		return false
	}

	c.mu.Lock()
	now := c.cfg.Clock()
	switch {
	case c.state == StateSyncing:
		c.mu.Unlock()
		c.logger.Debug("sync vetoed", "reason", "already syncing")
		return false
	case c.quotaExceeded && !force:
		c.mu.Unlock()
		c.logger.Debug("sync vetoed", "reason", "quota exceeded")
		return false
	case !force && !c.lastSyncAt.IsZero() && now.Sub(c.lastSyncAt) < c.cfg.MinInterval:
		c.mu.Unlock()
		c.logger.Debug("sync vetoed", "reason", "min interval", "last_sync", c.lastSyncAt)
		return false
	}
	previous := c.state
	c.state = StateSyncing
	c.lastSyncAt = now
	c.mu.Unlock()

	logger := c.logger.With("run_id", uuid.New().String(), "force", force)
	identity, err := c.perform(ctx)

	if errors.Is(err, types.ErrNoIdentity) || (err != nil && ctx.Err() != nil) {
		c.mu.Lock()
		c.state = previous
		c.mu.Unlock()
		logger.Debug("sync skipped", "error", err)
		return false
	}
	if err != nil {
		c.handleFailure(ctx, logger, identity, err)
		return false
	}

	c.mu.Lock()
	c.state = StateIdle
	c.failures = 0
	c.quotaExceeded = false
	c.lastError = ""
	c.lastSuccessAt = c.cfg.Clock()
	c.mu.Unlock()

	logger.Info("profile synced", "user_id", identity.UserID)
	return true
}

// perform does the sync itself: token, read, merge, write
func (c *Coordinator) perform(ctx context.Context) (*types.Identity, error) {
	identity := c.session.CurrentIdentity()
	if identity == nil {
		return nil, types.ErrNoIdentity
	}

	if _, err := c.gate.RequestToken(ctx, identity, false); err != nil {
		return identity, err
	}

	local, err := c.source.LocalProfile(ctx, *identity)
	if err != nil {
		return identity, fmt.Errorf("failed to load local profile: %w", err)
	}
	remote, err := c.store.Read(ctx, identity.UserID)
	if err != nil {
		return identity, fmt.Errorf("failed to read profile: %w", err)
	}

	switch {
	case local == nil && remote == nil:
		return identity, nil
	case local == nil:
		return identity, c.applyRemote(ctx, *identity, remote)
	case remote == nil || local.UpdatedAt.After(remote.UpdatedAt):
		if err := c.store.Write(ctx, identity.UserID, *local); err != nil {
			return identity, fmt.Errorf("failed to write profile: %w", err)
		}
		return identity, nil
	case remote.UpdatedAt.After(local.UpdatedAt):
		return identity, c.applyRemote(ctx, *identity, remote)
	default:
		return identity, nil
	}
}

func (c *Coordinator) applyRemote(ctx context.Context, identity types.Identity, remote *types.ProfileRecord) error {
	if err := c.source.ApplyRemote(ctx, identity, remote); err != nil {
		return fmt.Errorf("failed to apply remote profile: %w", err)
	}
	return nil
}

// handleFailure records the failure and escalates persistent ones
func (c *Coordinator) handleFailure(ctx context.Context, logger *slog.Logger, identity *types.Identity, err error) {
	quota := types.IsQuotaShaped(err)

	c.mu.Lock()
	c.failures++
	failures := c.failures
	c.lastError = err.Error()
	if quota {
		c.quotaExceeded = true
		c.state = StateSuspended
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	logger.Warn("profile sync failed", "error", err, "consecutive_failures", failures, "quota_exceeded", quota)

	switch {
	case failures == c.cfg.PurgeAfterFailures:
		reason := fmt.Sprintf("profile sync failed %d times in a row", failures)
		if c.gate.ClearCredentialsWithConsent(ctx, reason) {
			logger.Warn("credentials purged after persistent sync failures")
		}
	case failures >= c.cfg.HealAfterFailures && identity != nil:
		if c.gate.HealToken(ctx, identity) {
			logger.Info("token healed after sync failures")
		}
	}
}

// ForceSync attempts healing first when the token is invalid, then syncs with force
// regardless of the heal outcome.
func (c *Coordinator) ForceSync(ctx context.Context) bool {
	if !c.gate.IsTokenValid() {
		healed := c.gate.HealToken(ctx, c.session.CurrentIdentity())
		c.logger.Info("forced sync with invalid token", "healed", healed)
	}
	return c.Sync(ctx, true)
}

// ResetQuotaStatus clears the quota flag and failure streak and resets the token backoff window
func (c *Coordinator) ResetQuotaStatus() {
	c.mu.Lock()
	c.quotaExceeded = false
	c.failures = 0
	c.lastError = ""
	if c.state == StateSuspended {
		c.state = StateIdle
	}
	c.mu.Unlock()

	c.gate.ResetBackoffWindow()
	c.logger.Info("sync quota status reset")
}

// Period returns the current tick period: base * 2^failures, capped
func (c *Coordinator) Period() time.Duration {
	c.mu.Lock()
	failures := c.failures
	c.mu.Unlock()
	return c.periodFor(failures)
}

func (c *Coordinator) periodFor(failures int) time.Duration {
	if failures > 30 {
		return c.cfg.MaxPeriod
	}
	period := c.cfg.BasePeriod << uint(failures) // #nosec G115 -- failures is capped above
	if period > c.cfg.MaxPeriod || period <= 0 {
		period = c.cfg.MaxPeriod
	}
	return period
}

// Status returns a snapshot of the coordinator
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		State:               c.state,
		LastSyncAt:          c.lastSyncAt,
		LastSuccessAt:       c.lastSuccessAt,
		ConsecutiveFailures: c.failures,
		QuotaExceeded:       c.quotaExceeded,
		LastError:           c.lastError,
		Period:              c.periodFor(c.failures),
	}
}

// identitySource treats the signed-in identity as the local profile
type identitySource struct {
	clock func() time.Time
}

func (s identitySource) LocalProfile(ctx context.Context, identity types.Identity) (*types.ProfileRecord, error) {
	return &types.ProfileRecord{
		UserID:    identity.UserID,
		Email:     identity.Email,
		UpdatedAt: s.clock(),
	}, nil
}

func (s identitySource) ApplyRemote(ctx context.Context, identity types.Identity, remote *types.ProfileRecord) error {
	return nil
}
