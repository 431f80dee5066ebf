package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backend"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backendtypes"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/config"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/credstore"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/identity"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/notify"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/observer"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilestore/sqlite"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/tokenguard"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// errRestartRequired is returned by serve when the token layer asks for a
// reload; a supervisor is expected to start the process again.
var errRestartRequired = errors.New("restart required to recover sign-in state")

// app holds every wired component of a running authguard
type app struct {
	logger  *slog.Logger
	tiers   credstore.Tiers
	jar     *credstore.CookieJar
	client  *http.Client // observed client shared by the identity adapters
	session *identity.Session
	guard   *tokenguard.Guard
	store   *sqlite.Store
	sync    *profilesync.Coordinator // nil when sync is disabled
	server  *backend.Server
	webhook *notify.WebhookSink

	reload chan string
}

// guardRef lets the HTTP transport report to the guard that is built after it
type guardRef struct {
	guard atomic.Pointer[tokenguard.Guard]
}

func (r *guardRef) Observe(obs types.Observation) {
	if g := r.guard.Load(); g != nil {
		g.Observe(obs)
	}
}

func (r *guardRef) IsBlocked() bool {
	g := r.guard.Load()
	return g != nil && g.IsBlocked()
}

// buildApp wires config into components. Nothing is started.
func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger, reload: make(chan string, 1)}

	cache, tiers, err := buildTiers(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.tiers = tiers

	a.jar, err = credstore.NewCookieJar()
	if err != nil {
		return nil, err
	}

	ref := &guardRef{}
	httpClient := observer.NewClient(observer.Config{
		Matcher:  observer.NewHostMatcher(identityHosts(cfg.Identity)...),
		Observer: ref,
		Gate:     ref,
	}, 30*time.Second)
	httpClient.Jar = a.jar
	a.client = httpClient

	var provider types.IdentityProvider
	var oauth *identity.OAuth2Provider
	if cfg.Identity.ClientID != "" {
		oauth, err = identity.NewOAuth2Provider(identity.OAuth2Config{
			ClientID:     cfg.Identity.ClientID,
			ClientSecret: cfg.Identity.ResolveClientSecret(),
			TokenURL:     cfg.Identity.TokenURL,
			RevokeURL:    cfg.Identity.RevokeURL,
			Scopes:       cfg.Identity.Scopes,
			HTTPClient:   httpClient,
		}, cache, logger)
		if err != nil {
			return nil, err
		}
		provider = oauth
	} else {
		logger.Warn("no identity.client_id configured, token refresh is disabled")
		provider = unconfiguredProvider{}
	}

	a.session = identity.NewSession(identity.SessionConfig{
		RevokeURL:    cfg.Identity.RevokeURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ResolveClientSecret(),
		HTTPClient:   httpClient,
	}, oauth, logger)

	sinks := notify.Multi{notify.NewLogSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		a.webhook, err = notify.NewWebhookSink(notify.WebhookConfig{
			URL:      cfg.Notify.WebhookURL,
			Kinds:    cfg.Notify.AdvisoryKinds(),
			Cooldown: cfg.Notify.WebhookCooldown,
		}, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.webhook)
	}

	guardTiers := make([]tokenguard.CredentialTier, 0, len(tiers))
	for _, t := range tiers {
		guardTiers = append(guardTiers, t)
	}

	a.guard, err = tokenguard.New(cfg.Guard.TokenGuard(), tokenguard.Dependencies{
		Provider:  provider,
		Session:   a.session,
		Tiers:     guardTiers,
		Cookies:   a.jar,
		Sink:      sinks,
		Confirmer: notify.StaticConfirmer(cfg.Notify.AutoConsent),
		Reloader:  types.ReloaderFunc(a.requestReload),
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}
	ref.guard.Store(a.guard)

	a.store, err = sqlite.Open(cfg.Storage.ProfileDB)
	if err != nil {
		return nil, err
	}

	if cfg.Sync.Enabled {
		a.sync, err = profilesync.New(cfg.Sync.ProfileSync(), profilesync.Dependencies{
			Gate:    a.guard,
			Store:   a.store,
			Session: a.session,
			Logger:  logger,
		})
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}

	a.server = backend.NewServer(backendConfig(cfg.Server), a.guard, a.sync, logger)

	if cfg.Identity.UserID != "" {
		var refresh string
		if cfg.Identity.RefreshTokenEnv != "" {
			refresh = os.Getenv(cfg.Identity.RefreshTokenEnv)
		}
		err := a.session.SignIn(ctx, types.Identity{
			UserID:       cfg.Identity.UserID,
			Email:        cfg.Identity.Email,
			RefreshToken: refresh,
		})
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}

	return a, nil
}

// requestReload records the first reload request; later ones are dropped
func (a *app) requestReload(reason string) {
	select {
	case a.reload <- reason:
		a.logger.Warn("reload requested", "reason", reason)
	default:
	}
}

// Close releases resources held by the app
func (a *app) Close() error {
	a.guard.Reset()
	if a.webhook != nil {
		a.webhook.Wait()
	}
	return a.store.Close()
}

// buildTiers returns the tier used as the token cache and every tier the purge wipes.
// The keyring is preferred for the cache, then the credential directory, then memory.
func buildTiers(cfg config.StorageConfig, logger *slog.Logger) (credstore.Tier, credstore.Tiers, error) {
	var tiers credstore.Tiers

	if cfg.KeyringService != "" {
		kr, err := credstore.NewKeyringStore(cfg.KeyringService, logger)
		if err != nil {
			return nil, nil, err
		}
		tiers = append(tiers, kr)
	}
	if cfg.CredentialDir != "" {
		var key string
		if cfg.EncryptionKeyEnv != "" {
			key = os.Getenv(cfg.EncryptionKeyEnv)
		}
		fs, err := credstore.NewFileStore(credstore.FileConfig{Directory: cfg.CredentialDir, EncryptionKey: key})
		if err != nil {
			return nil, nil, err
		}
		if !fs.Encrypted() {
			logger.Warn("credential files are not encrypted", "directory", cfg.CredentialDir, "key_env", cfg.EncryptionKeyEnv)
		}
		tiers = append(tiers, fs)
	}
	if len(tiers) == 0 {
		tiers = append(tiers, credstore.NewMemoryStore(credstore.MemoryConfig{MaxEntries: cfg.MaxCachedTokens}))
	}
	return tiers[0], tiers, nil
}

// identityHosts lists the hosts whose failures feed the global block
func identityHosts(cfg config.IdentityConfig) []string {
	hosts := append([]string(nil), cfg.Hosts...)
	for _, raw := range []string{cfg.TokenURL, cfg.RevokeURL} {
		if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
			hosts = append(hosts, u.Hostname())
		}
	}
	return hosts
}

func backendConfig(s config.ServerConfig) backendtypes.BackendConfig {
	key := s.ResolveAPIKey()
	return backendtypes.BackendConfig{
		Server: backendtypes.ServerConfig{
			Host:            s.Host,
			Port:            s.Port,
			Version:         version,
			ReadTimeout:     s.ReadTimeout,
			WriteTimeout:    s.WriteTimeout,
			ShutdownTimeout: s.ShutdownTimeout,
		},
		Auth: backendtypes.AuthConfig{
			Enabled: key != "",
			APIKey:  key,
		},
	}
}

// unconfiguredProvider stands in when no authorization server is configured
type unconfiguredProvider struct{}

func (unconfiguredProvider) RefreshToken(context.Context, types.Identity, bool) (*types.Token, error) {
	return nil, types.NewFatalError("no authorization server configured")
}
