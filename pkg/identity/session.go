package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// SessionConfig controls sign-out revocation
type SessionConfig struct {
	RevokeURL    string // empty skips revocation
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	MaxTries     uint // revocation attempts. Default: 3
	RetryBase    time.Duration
}

// Session tracks the signed-in identity
type Session struct {
	mu       sync.RWMutex
	cfg      SessionConfig
	provider *OAuth2Provider
	identity *types.Identity
	logger   *slog.Logger
}

// NewSession creates a signed-out session. provider may be nil; when set its
// cached tokens are dropped on sign-out.
func NewSession(cfg SessionConfig, provider *OAuth2Provider, logger *slog.Logger) *Session {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With("component", "session"),
	}
}

// SignIn sets the current identity and, when the provider has a cache, persists
// its refresh token there
func (s *Session) SignIn(ctx context.Context, identity types.Identity) error {
	if identity.UserID == "" {
		return errors.New("identity must have a user ID")
	}
	if s.provider != nil && identity.RefreshToken != "" {
		if err := s.provider.Remember(ctx, identity.UserID, identity.RefreshToken); err != nil {
			return fmt.Errorf("failed to persist refresh token: %w", err)
		}
	}

	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()

	s.logger.Info("signed in", "user_id", identity.UserID)
	return nil
}

// CurrentIdentity returns a copy of the signed-in identity, or nil
func (s *Session) CurrentIdentity() *types.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}

// SignOut revokes the refresh token when a revocation endpoint is configured and
// clears the identity. The identity is cleared even when revocation fails; the
// revocation error is still returned.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	identity := s.identity
	s.identity = nil
	s.mu.Unlock()

	if identity == nil {
		return nil
	}
	refreshToken := identity.RefreshToken
	if s.provider != nil {
		if stored := s.provider.storedRefreshToken(ctx, identity.UserID); stored != "" {
			refreshToken = stored
		}
		s.provider.Forget(ctx, identity.UserID)
	}

	var err error
	if s.cfg.RevokeURL != "" && refreshToken != "" {
		err = s.revoke(ctx, refreshToken)
	}
	if err != nil {
		s.logger.Warn("signed out without revoking refresh token", "user_id", identity.UserID, "error", err)
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	s.logger.Info("signed out", "user_id", identity.UserID)
	return nil
}

// revoke posts an RFC 7009 revocation request. 4xx responses other than 429 are not retried.
func (s *Session) revoke(ctx context.Context, token string) error {
	form := url.Values{}
	form.Set("token", token)
	form.Set("token_type_hint", "refresh_token")
	form.Set("client_id", s.cfg.ClientID)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	body := form.Encode()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBase
	b.MaxInterval = 10 * s.cfg.RetryBase
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.RevokeURL, strings.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := s.cfg.HTTPClient.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("revocation endpoint returned %d", resp.StatusCode)
		default:
			return struct{}{}, backoff.Permanent(fmt.Errorf("revocation endpoint returned %d", resp.StatusCode))
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Debug("retrying token revocation", "error", err, "next", next)
		}),
	)
	return err
}

var _ types.SessionManager = (*Session)(nil)
