package tokenguard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/testutil"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

func TestPurger_Execute(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.guard.ClearCredentialsAndSignOut(context.Background()))

	assert.Equal(t, 1, f.tier.Wipes())
	assert.Equal(t, 1, f.cookies.Len(), "only credential cookies are cleared")
	assert.Equal(t, 1, f.session.SignOutCalls())
	assert.True(t, f.guard.IsCircuitOpen())
	assert.True(t, f.guard.IsBlocked())
	assert.Equal(t, "forced purge", f.guard.Blocker().Reason())
	assert.Equal(t, 1, f.sink.Count(types.AdvisoryPurged))
	assert.Zero(t, f.reloader.Count())
}

func TestPurger_Debounce(t *testing.T) {
	t.Run("sequential", func(t *testing.T) {
		f := newFixture(t)

		assert.True(t, f.guard.ClearCredentialsAndSignOut(context.Background()))
		f.clock.Advance(4 * time.Second)
		assert.False(t, f.guard.ClearCredentialsAndSignOut(context.Background()))
		assert.Equal(t, 1, f.tier.Wipes())

		f.clock.Advance(2 * time.Second)
		assert.True(t, f.guard.ClearCredentialsAndSignOut(context.Background()))
		assert.Equal(t, 2, f.tier.Wipes())
	})

	t.Run("concurrent", func(t *testing.T) {
		f := newFixture(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				f.guard.ClearCredentialsAndSignOut(context.Background())
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, f.tier.Wipes())
		assert.Equal(t, 1, f.guard.Purger().Runs())
	})
}

func TestPurger_WipeFailure(t *testing.T) {
	f := newFixture(t)
	f.tier.SetError(errors.New("disk full"))

	assert.False(t, f.guard.ClearCredentialsAndSignOut(context.Background()))

	assert.Equal(t, 1, f.session.SignOutCalls(), "remaining steps still run")
	assert.True(t, f.guard.IsCircuitOpen())
}

type panickingTier struct{}

func (panickingTier) Name() string                   { return "broken" }
func (panickingTier) Wipe(ctx context.Context) error { panic("boom") }

func TestPurger_PanickingTier(t *testing.T) {
	clock := testutil.NewFakeClock()
	second := testutil.NewCountingTier("file")
	purger := NewPurger(testConfig(clock), PurgerDeps{
		Tiers:  []CredentialTier{panickingTier{}, second},
		Logger: discardLogger(),
	})

	assert.False(t, purger.Execute(context.Background()))
	assert.Equal(t, 1, second.Wipes())
}

func TestPurger_SignOutFailureSchedulesReload(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.ReloadDelay = 10 * time.Millisecond
	})
	f.session.SetSignOutError(errors.New("revocation endpoint unreachable"))

	assert.True(t, f.guard.ClearCredentialsAndSignOut(context.Background()))

	assert.Eventually(t, func() bool {
		return f.reloader.Count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPurger_ExecuteWithConsent(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t)
		f.confirmer = testutil.NewMockConfirmer(false)
		purger := NewPurger(testConfig(f.clock), PurgerDeps{
			Tiers:     []CredentialTier{f.tier},
			Confirmer: f.confirmer,
			Logger:    discardLogger(),
		})

		assert.False(t, purger.ExecuteWithConsent(context.Background(), "sync keeps failing"))
		assert.Equal(t, 1, f.confirmer.Asked())
		assert.Zero(t, f.tier.Wipes())
	})

	t.Run("confirmed", func(t *testing.T) {
		f := newFixture(t)

		assert.True(t, f.guard.ClearCredentialsWithConsent(context.Background(), "sync keeps failing"))
		assert.Equal(t, 1, f.confirmer.Asked())
		assert.Equal(t, 1, f.tier.Wipes())
	})

	t.Run("no confirmer", func(t *testing.T) {
		clock := testutil.NewFakeClock()
		tier := testutil.NewCountingTier("memory")
		purger := NewPurger(testConfig(clock), PurgerDeps{Tiers: []CredentialTier{tier}, Logger: discardLogger()})

		assert.False(t, purger.ExecuteWithConsent(context.Background(), "sync keeps failing"))
		assert.Zero(t, tier.Wipes())
	})
}
