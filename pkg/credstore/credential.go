// Package credstore holds the local credential tiers the purge path wipes: an
// in-memory cache, encrypted files, the OS keyring and the HTTP cookie jar.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
)

// Credential kinds
const (
	KindAccessToken  = "access_token"
	KindRefreshToken = "refresh_token"
	KindSession      = "session"
	KindProfile      = "profile"
)

// Credential is a single stored secret
type Credential struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
}

// Expired reports whether the credential has an expiry at or before now
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// String redacts the value
func (c Credential) String() string {
	return fmt.Sprintf("Credential{kind=%s, expires_at=%s}", c.Kind, c.ExpiresAt.Format(time.RFC3339))
}

// Tier is one place credentials are kept
type Tier interface {
	Name() string
	Put(ctx context.Context, key string, cred Credential) error
	Get(ctx context.Context, key string) (*Credential, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	// Wipe removes every credential the tier holds
	Wipe(ctx context.Context) error
}

// Tiers is an ordered set of credential tiers
type Tiers []Tier

// WipeAll wipes every tier, continuing past failures, and joins the errors
func (ts Tiers) WipeAll(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	var errs []error
	for _, tier := range ts {
		if err := tier.Wipe(ctx); err != nil {
			logger.Warn("credential tier wipe failed", "tier", tier.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", tier.Name(), err))
			continue
		}
		logger.Debug("credential tier wiped", "tier", tier.Name())
	}
	return errors.Join(errs...)
}

func validateKey(key, op string) error {
	if key == "" {
		return errcode.Errorf(errcode.CredentialInvalidInput, "credential %s: key must not be empty", op)
	}
	return nil
}
