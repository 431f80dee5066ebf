// Package identity adapts an OAuth 2.0 authorization server to the token layer:
// refresh-token exchange, RFC 7009 revocation and a signed-in session.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/credstore"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// OAuth2Config describes the authorization server
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	RevokeURL    string // optional
	Scopes       []string
	HTTPClient   *http.Client
	// MinValidity is how long a cached access token must stay valid to be reused. Default: 30s
	MinValidity time.Duration
	Clock       func() time.Time
}

// OAuth2Provider refreshes access tokens with the refresh_token grant
type OAuth2Provider struct {
	cfg    OAuth2Config
	oauth  *oauth2.Config
	cache  credstore.Tier
	logger *slog.Logger
}

// NewOAuth2Provider creates a provider. cache may be nil, in which case every call hits the token endpoint.
func NewOAuth2Provider(cfg OAuth2Config, cache credstore.Tier, logger *slog.Logger) (*OAuth2Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.TokenURL == "" {
		return nil, errors.New("token URL is required")
	}
	if cfg.MinValidity <= 0 {
		cfg.MinValidity = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OAuth2Provider{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: cfg.Scopes,
		},
		cache:  cache,
		logger: logger.With("component", "oauth2_provider"),
	}, nil
}

// RefreshToken returns an access token for identity. Unless forceRefresh is set a
// cached token that is still valid for MinValidity is returned without a network call.
// Errors are *types.TokenError values classified for the token layer.
func (p *OAuth2Provider) RefreshToken(ctx context.Context, identity types.Identity, forceRefresh bool) (*types.Token, error) {
	if !forceRefresh {
		if token := p.cached(ctx, identity.UserID); token != nil {
			return token, nil
		}
	}

	refreshToken := identity.RefreshToken
	if stored := p.storedRefreshToken(ctx, identity.UserID); stored != "" {
		refreshToken = stored
	}
	if refreshToken == "" {
		return nil, types.NewFatalError("no refresh token for identity").WithOperation("refresh")
	}

	if p.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.cfg.HTTPClient)
	}

	issued, err := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		tokenErr := classifyRefreshError(err)
		p.logger.Debug("token refresh failed", "user_id", identity.UserID, "kind", tokenErr.Kind, "status", tokenErr.StatusCode)
		return nil, tokenErr
	}

	token := &types.Token{
		AccessToken:  issued.AccessToken,
		RefreshToken: issued.RefreshToken,
		TokenType:    issued.TokenType,
		ExpiresAt:    issued.Expiry,
		IssuedAt:     p.cfg.Clock(),
	}
	p.store(ctx, identity.UserID, token, refreshToken)
	return token, nil
}

// Remember stores refreshToken as the one to use for userID
func (p *OAuth2Provider) Remember(ctx context.Context, userID, refreshToken string) error {
	if p.cache == nil {
		return nil
	}
	return p.cache.Put(ctx, refreshKey(userID), credstore.Credential{
		Kind:     credstore.KindRefreshToken,
		Value:    refreshToken,
		StoredAt: p.cfg.Clock(),
	})
}

// Forget drops cached tokens for userID
func (p *OAuth2Provider) Forget(ctx context.Context, userID string) {
	if p.cache == nil {
		return
	}
	_ = p.cache.Delete(ctx, accessKey(userID))
	_ = p.cache.Delete(ctx, refreshKey(userID))
}

func (p *OAuth2Provider) cached(ctx context.Context, userID string) *types.Token {
	if p.cache == nil || userID == "" {
		return nil
	}
	cred, err := p.cache.Get(ctx, accessKey(userID))
	if err != nil {
		if !errcode.IsNotFound(err) {
			p.logger.Debug("token cache read failed", "error", err)
		}
		return nil
	}
	if !cred.ExpiresAt.IsZero() && cred.ExpiresAt.Sub(p.cfg.Clock()) <= p.cfg.MinValidity {
		return nil
	}
	return &types.Token{
		AccessToken: cred.Value,
		ExpiresAt:   cred.ExpiresAt,
		IssuedAt:    cred.StoredAt,
	}
}

func (p *OAuth2Provider) storedRefreshToken(ctx context.Context, userID string) string {
	if p.cache == nil || userID == "" {
		return ""
	}
	cred, err := p.cache.Get(ctx, refreshKey(userID))
	if err != nil {
		return ""
	}
	return cred.Value
}

func (p *OAuth2Provider) store(ctx context.Context, userID string, token *types.Token, usedRefresh string) {
	if p.cache == nil || userID == "" {
		return
	}
	now := p.cfg.Clock()
	if err := p.cache.Put(ctx, accessKey(userID), credstore.Credential{
		Kind:      credstore.KindAccessToken,
		Value:     token.AccessToken,
		ExpiresAt: token.ExpiresAt,
		StoredAt:  now,
	}); err != nil {
		p.logger.Warn("failed to cache access token", "error", err)
	}

	// servers that rotate refresh tokens invalidate the one just used
	if token.RefreshToken != "" && token.RefreshToken != usedRefresh {
		if err := p.cache.Put(ctx, refreshKey(userID), credstore.Credential{
			Kind:     credstore.KindRefreshToken,
			Value:    token.RefreshToken,
			StoredAt: now,
		}); err != nil {
			p.logger.Warn("failed to store rotated refresh token", "error", err)
		}
	}
}

// classifyRefreshError maps a token endpoint failure onto the token layer's error kinds
func classifyRefreshError(err error) *types.TokenError {
	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return types.NewTokenError(types.Classify(err), err.Error()).
			WithOperation("refresh").
			WithOriginalErr(err)
	}

	status := 0
	if retrieveErr.Response != nil {
		status = retrieveErr.Response.StatusCode
	}

	message := retrieveErr.ErrorCode
	if retrieveErr.ErrorDescription != "" {
		message = fmt.Sprintf("%s: %s", message, retrieveErr.ErrorDescription)
	}
	if message == "" {
		message = fmt.Sprintf("token endpoint returned %d", status)
	}

	kind := types.ClassifyHTTPStatus(status)
	switch retrieveErr.ErrorCode {
	case "invalid_grant", "invalid_client", "unauthorized_client", "unsupported_grant_type":
		kind = types.KindFatal
	case "slow_down", "temporarily_unavailable":
		if status != http.StatusTooManyRequests {
			kind = types.KindNetworkTransient
		}
	}
	if kind == types.KindUnknown && status == 0 {
		kind = types.ClassifyMessage(message)
	}

	return types.NewTokenError(kind, message).
		WithOperation("refresh").
		WithStatusCode(status).
		WithOriginalErr(err)
}

func accessKey(userID string) string  { return "access:" + userID }
func refreshKey(userID string) string { return "refresh:" + userID }

var _ types.IdentityProvider = (*OAuth2Provider)(nil)
