package tokenguard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

func TestHealer_Success(t *testing.T) {
	f := newFixture(t)
	f.guard.Backoff().RecordFailure(types.KindFatal)
	require.False(t, f.guard.IsTokenValid())

	assert.True(t, f.guard.HealToken(context.Background(), testIdentity))

	assert.True(t, f.guard.IsTokenValid())
	assert.Equal(t, 1, f.provider.ForcedCalls())
	assert.Zero(t, f.guard.Healer().Attempts())
	assert.True(t, f.guard.Backoff().CanAttempt())
}

func TestHealer_Preconditions(t *testing.T) {
	t.Run("no identity", func(t *testing.T) {
		f := newFixture(t)
		assert.False(t, f.guard.HealToken(context.Background(), nil))
		assert.Zero(t, f.provider.Calls())
	})

	t.Run("blocked", func(t *testing.T) {
		f := newFixture(t)
		f.guard.BlockRequests("test")
		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		assert.Zero(t, f.provider.Calls())
	})

	t.Run("circuit open", func(t *testing.T) {
		f := newFixture(t)
		f.guard.Breaker().Arm()
		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		assert.Zero(t, f.provider.Calls())
	})

	t.Run("spacing", func(t *testing.T) {
		f := newFixture(t)
		f.provider.SetError(types.NewNetworkError("offline"))

		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		f.clock.Advance(29 * time.Second)
		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		assert.Equal(t, 1, f.provider.Calls())

		f.clock.Advance(time.Second)
		f.guard.HealToken(context.Background(), testIdentity)
		assert.Equal(t, 2, f.provider.Calls())
	})
}

func TestHealer_ResetsBackoffWindowBeforeRefresh(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 4; i++ {
		f.guard.Backoff().RecordFailure(types.KindRateLimited)
	}
	require.False(t, f.guard.CanRequestToken())
	f.provider.SetError(types.NewNetworkError("offline"))

	f.guard.HealToken(context.Background(), testIdentity)

	assert.Equal(t, 5*time.Second, f.guard.State().Interval())
	assert.Equal(t, 4, f.guard.State().ConsecutiveFailures(), "history is kept")
}

func TestHealer_Timeout(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.HealTimeout = 20 * time.Millisecond
	})
	f.provider.SetDelay(time.Second)

	start := time.Now()
	assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Equal(t, 1, f.guard.Healer().Attempts())
	assert.Equal(t, 1, f.guard.State().GlobalFailureCount())
}

func TestHealer_CallerCancellationIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.SetDelay(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	assert.False(t, f.guard.HealToken(ctx, testIdentity))

	assert.Zero(t, f.guard.Healer().Attempts())
	assert.Zero(t, f.guard.State().GlobalFailureCount())
	assert.Zero(t, f.guard.Purger().Runs())

	// spacing is not consumed by the abandoned attempt
	f.provider.SetDelay(0)
	assert.True(t, f.guard.HealToken(context.Background(), testIdentity))
	assert.Equal(t, 2, f.provider.Calls())
}

func TestHealer_CancelledContextsNeverEscalate(t *testing.T) {
	f := newFixture(t)
	f.provider.SetError(types.NewNetworkError("offline"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 6; i++ {
		assert.False(t, f.guard.HealToken(ctx, testIdentity))
		f.clock.Advance(31 * time.Second)
	}
	assert.Zero(t, f.guard.Healer().Attempts())
	assert.Zero(t, f.guard.Purger().Runs())
	assert.Zero(t, f.tier.Wipes())
}

func TestHealer_CapEscalatesOnceAndSuspends(t *testing.T) {
	f := newFixture(t)
	f.provider.SetError(types.NewFatalError("invalid_grant"))

	for i := 0; i < 5; i++ {
		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		f.clock.Advance(31 * time.Second)
	}

	assert.Equal(t, 5, f.provider.Calls())
	assert.Equal(t, 1, f.guard.Purger().Runs())
	assert.Equal(t, 1, f.tier.Wipes())
	assert.Equal(t, 1, f.session.SignOutCalls())
	assert.Equal(t, 5, f.guard.State().GlobalFailureCount())
	assert.True(t, f.guard.Healer().SuspendedUntil().After(f.clock.Now()))

	// the purge armed the breaker and the block; clear them to observe the suspension alone
	f.guard.Breaker().Reset()
	f.guard.ResetBlock()

	for i := 0; i < 5; i++ {
		assert.False(t, f.guard.HealToken(context.Background(), testIdentity))
		f.clock.Advance(time.Minute)
	}
	assert.Equal(t, 5, f.provider.Calls(), "healing is a no-op while suspended")
	assert.Equal(t, 1, f.guard.Purger().Runs())

	f.clock.Advance(6 * time.Minute)
	f.provider.SetError(nil)
	assert.True(t, f.guard.HealToken(context.Background(), testIdentity))
	assert.Equal(t, 6, f.provider.Calls())
}
