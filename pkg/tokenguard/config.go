package tokenguard

import (
	"errors"
	"math/rand/v2"
	"time"
)

// Config holds the tunables for every component of the guard.
// Zero values are replaced with defaults by New.
type Config struct {
	// Backoff
	InitialBackoff time.Duration // Default: 5s
	MaxBackoff     time.Duration // Default: 1h
	TransientStep  time.Duration // Linear step for transient failures. Default: 5s
	TransientMax   time.Duration // Cap for transient backoff. Default: 30s

	// Client-side pacing of refresh calls, applied after backoff admission
	RefreshEvery time.Duration // Default: 1s
	RefreshBurst int           // Default: 3

	// Circuit breaker
	BreakerThreshold int           // Default: 10
	BreakerTimeout   time.Duration // Default: 30m

	// Global block
	BlockInitial        time.Duration // Default: 5m
	BlockMax            time.Duration // Default: 30m
	BlockGrowth         float64       // Default: 1.5
	ErrorWindow         time.Duration // Default: 30s
	ErrorWindowTrip     int           // Default: 3
	BlockFreeFailures   int           // Global failures before the block starts growing. Default: 3
	BlockExpiryCheckGap time.Duration // Extra delay before the scheduled expiry check. Default: 1s

	// Healing
	MaxHeals       int           // Default: 5
	HealSpacing    time.Duration // Default: 30s
	HealTimeout    time.Duration // Default: 5s
	HealSuspension time.Duration // Default: 10m

	// Purge
	PurgeDebounce   time.Duration // Default: 5s
	ReloadDelay     time.Duration // Default: 3s
	CookieNamespace string        // Cookie name prefix cleared by the purge. Default: "auth"

	// Clock and Jitter are injectable for tests
	Clock  func() time.Time
	Jitter func() float64 // Must return a value in [1.0, 1.5)
}

// DefaultConfig returns the default guard configuration
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Hour
	}
	if c.TransientStep <= 0 {
		c.TransientStep = 5 * time.Second
	}
	if c.TransientMax <= 0 {
		c.TransientMax = 30 * time.Second
	}
	if c.RefreshEvery <= 0 {
		c.RefreshEvery = time.Second
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = 3
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 10
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Minute
	}
	if c.BlockInitial <= 0 {
		c.BlockInitial = 5 * time.Minute
	}
	if c.BlockMax <= 0 {
		c.BlockMax = 30 * time.Minute
	}
	if c.BlockGrowth <= 1 {
		c.BlockGrowth = 1.5
	}
	if c.ErrorWindow <= 0 {
		c.ErrorWindow = 30 * time.Second
	}
	if c.ErrorWindowTrip <= 0 {
		c.ErrorWindowTrip = 3
	}
	if c.BlockFreeFailures <= 0 {
		c.BlockFreeFailures = 3
	}
	if c.BlockExpiryCheckGap <= 0 {
		c.BlockExpiryCheckGap = time.Second
	}
	if c.MaxHeals <= 0 {
		c.MaxHeals = 5
	}
	if c.HealSpacing <= 0 {
		c.HealSpacing = 30 * time.Second
	}
	if c.HealTimeout <= 0 {
		c.HealTimeout = 5 * time.Second
	}
	if c.HealSuspension <= 0 {
		c.HealSuspension = 10 * time.Minute
	}
	if c.PurgeDebounce <= 0 {
		c.PurgeDebounce = 5 * time.Second
	}
	if c.ReloadDelay <= 0 {
		c.ReloadDelay = 3 * time.Second
	}
	if c.CookieNamespace == "" {
		c.CookieNamespace = "auth"
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Jitter == nil {
		c.Jitter = defaultJitter
	}
	return c
}

// Validate checks relationships between fields after defaults are applied
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.MaxBackoff < c.InitialBackoff {
		return errors.New("max backoff must not be below initial backoff")
	}
	if c.TransientMax < c.TransientStep {
		return errors.New("transient max must not be below transient step")
	}
	if c.BlockMax < c.BlockInitial {
		return errors.New("block max must not be below block initial")
	}
	return nil
}

func defaultJitter() float64 {
	return 1.0 + rand.Float64()*0.5 // #nosec G404 -- jitter does not need a secure source
}
