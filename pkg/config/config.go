// Package config loads the authguard YAML configuration and converts it into
// the settings of each component.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/profilesync"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/tokenguard"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// Config is the complete configuration file
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Identity IdentityConfig `yaml:"identity"`
	Storage  StorageConfig  `yaml:"storage"`
	Guard    GuardConfig    `yaml:"guard"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// ServerConfig configures the admin HTTP server
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// APIKey protects the mutating endpoints. APIKeyEnv names an environment
	// variable to read it from when APIKey is empty.
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// LoggingConfig selects the slog handler
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // "json" or "text"
}

// IdentityConfig describes the authorization server and the signed-in user
type IdentityConfig struct {
	ClientID        string   `yaml:"client_id"`
	ClientSecret    string   `yaml:"client_secret"`
	ClientSecretEnv string   `yaml:"client_secret_env"`
	TokenURL        string   `yaml:"token_url"`
	RevokeURL       string   `yaml:"revoke_url"`
	Scopes          []string `yaml:"scopes"`
	// Hosts are treated as the identity endpoint by the network observer.
	// The token URL's host is always included.
	Hosts           []string `yaml:"hosts"`
	UserID          string   `yaml:"user_id"`
	Email           string   `yaml:"email"`
	RefreshTokenEnv string   `yaml:"refresh_token_env"`
}

// StorageConfig locates the credential tiers and the profile database
type StorageConfig struct {
	ProfileDB        string `yaml:"profile_db"`
	CredentialDir    string `yaml:"credential_dir"`
	EncryptionKeyEnv string `yaml:"encryption_key_env"`
	KeyringService   string `yaml:"keyring_service"` // empty disables the keyring tier
	MaxCachedTokens  int    `yaml:"max_cached_tokens"`
}

// GuardConfig mirrors tokenguard.Config. Zero fields take the guard's defaults.
type GuardConfig struct {
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
	TransientStep    time.Duration `yaml:"transient_step"`
	TransientMax     time.Duration `yaml:"transient_max"`
	RefreshEvery     time.Duration `yaml:"refresh_every"`
	RefreshBurst     int           `yaml:"refresh_burst"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	BlockInitial     time.Duration `yaml:"block_initial"`
	BlockMax         time.Duration `yaml:"block_max"`
	ErrorWindow      time.Duration `yaml:"error_window"`
	ErrorWindowTrip  int           `yaml:"error_window_trip"`
	MaxHeals         int           `yaml:"max_heals"`
	HealSpacing      time.Duration `yaml:"heal_spacing"`
	HealTimeout      time.Duration `yaml:"heal_timeout"`
	HealSuspension   time.Duration `yaml:"heal_suspension"`
	PurgeDebounce    time.Duration `yaml:"purge_debounce"`
	ReloadDelay      time.Duration `yaml:"reload_delay"`
	CookieNamespace  string        `yaml:"cookie_namespace"`
}

// SyncConfig mirrors profilesync.Config
type SyncConfig struct {
	Enabled            bool          `yaml:"enabled"`
	MinInterval        time.Duration `yaml:"min_interval"`
	BasePeriod         time.Duration `yaml:"base_period"`
	MaxPeriod          time.Duration `yaml:"max_period"`
	HealAfterFailures  int           `yaml:"heal_after_failures"`
	PurgeAfterFailures int           `yaml:"purge_after_failures"`
	SyncOnStart        bool          `yaml:"sync_on_start"`
}

// NotifyConfig configures advisory delivery and consent
type NotifyConfig struct {
	WebhookURL      string        `yaml:"webhook_url"`
	WebhookKinds    []string      `yaml:"webhook_kinds"`
	WebhookCooldown time.Duration `yaml:"webhook_cooldown"`
	// AutoConsent answers purge consent requests. Without a person at the
	// keyboard false is the safe choice.
	AutoConsent bool `yaml:"auto_consent"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	guard := tokenguard.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			APIKeyEnv:       "AUTHGUARD_API_KEY",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Identity: IdentityConfig{
			ClientSecretEnv: "AUTHGUARD_CLIENT_SECRET",
			RefreshTokenEnv: "AUTHGUARD_REFRESH_TOKEN",
		},
		Storage: StorageConfig{
			ProfileDB:        "authguard/profiles.db",
			CredentialDir:    "authguard/credentials",
			EncryptionKeyEnv: "AUTHGUARD_ENCRYPTION_KEY",
			MaxCachedTokens:  64,
		},
		Guard: GuardConfig{
			InitialBackoff:   guard.InitialBackoff,
			MaxBackoff:       guard.MaxBackoff,
			TransientStep:    guard.TransientStep,
			TransientMax:     guard.TransientMax,
			RefreshEvery:     guard.RefreshEvery,
			RefreshBurst:     guard.RefreshBurst,
			BreakerThreshold: guard.BreakerThreshold,
			BreakerTimeout:   guard.BreakerTimeout,
			BlockInitial:     guard.BlockInitial,
			BlockMax:         guard.BlockMax,
			ErrorWindow:      guard.ErrorWindow,
			ErrorWindowTrip:  guard.ErrorWindowTrip,
			MaxHeals:         guard.MaxHeals,
			HealSpacing:      guard.HealSpacing,
			HealTimeout:      guard.HealTimeout,
			HealSuspension:   guard.HealSuspension,
			PurgeDebounce:    guard.PurgeDebounce,
			ReloadDelay:      guard.ReloadDelay,
			CookieNamespace:  guard.CookieNamespace,
		},
		Sync: SyncConfig{
			Enabled:            true,
			MinInterval:        30 * time.Second,
			BasePeriod:         2 * time.Minute,
			MaxPeriod:          15 * time.Minute,
			HealAfterFailures:  3,
			PurgeAfterFailures: 8,
			SyncOnStart:        true,
		},
		Notify: NotifyConfig{WebhookCooldown: time.Minute},
	}
}

// Load reads and parses a YAML file
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is supplied by the operator
	if err != nil {
		return Config{}, errcode.Wrapf(err, errcode.ConfigReadFailure, "reading config file %s", path)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default() and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errcode.Wrapf(err, errcode.ConfigInvalidFormat, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field values and relationships
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errcode.Errorf(errcode.ConfigInvalidValue, "server.port %d out of range", c.Server.Port)
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return errcode.Errorf(errcode.ConfigInvalidValue, "logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Identity.ClientID != "" && c.Identity.TokenURL == "" {
		return errcode.New(errcode.ConfigInvalidValue, "identity.token_url is required when identity.client_id is set")
	}
	for _, kind := range c.Notify.WebhookKinds {
		if !validAdvisoryKind(types.AdvisoryKind(kind)) {
			return errcode.Errorf(errcode.ConfigInvalidValue, "notify.webhook_kinds: unknown kind %q", kind)
		}
	}
	if c.Sync.MaxPeriod > 0 && c.Sync.BasePeriod > c.Sync.MaxPeriod {
		return errcode.New(errcode.ConfigInvalidValue, "sync.base_period must not exceed sync.max_period")
	}
	if c.Sync.HealAfterFailures > 0 && c.Sync.PurgeAfterFailures > 0 && c.Sync.PurgeAfterFailures <= c.Sync.HealAfterFailures {
		return errcode.New(errcode.ConfigInvalidValue, "sync.purge_after_failures must exceed sync.heal_after_failures")
	}
	if err := c.Guard.TokenGuard().Validate(); err != nil {
		return errcode.Wrapf(err, errcode.ConfigInvalidValue, "guard")
	}
	return nil
}

// TokenGuard converts the section into a tokenguard.Config
func (g GuardConfig) TokenGuard() tokenguard.Config {
	return tokenguard.Config{
		InitialBackoff:   g.InitialBackoff,
		MaxBackoff:       g.MaxBackoff,
		TransientStep:    g.TransientStep,
		TransientMax:     g.TransientMax,
		RefreshEvery:     g.RefreshEvery,
		RefreshBurst:     g.RefreshBurst,
		BreakerThreshold: g.BreakerThreshold,
		BreakerTimeout:   g.BreakerTimeout,
		BlockInitial:     g.BlockInitial,
		BlockMax:         g.BlockMax,
		ErrorWindow:      g.ErrorWindow,
		ErrorWindowTrip:  g.ErrorWindowTrip,
		MaxHeals:         g.MaxHeals,
		HealSpacing:      g.HealSpacing,
		HealTimeout:      g.HealTimeout,
		HealSuspension:   g.HealSuspension,
		PurgeDebounce:    g.PurgeDebounce,
		ReloadDelay:      g.ReloadDelay,
		CookieNamespace:  g.CookieNamespace,
	}
}

// ProfileSync converts the section into a profilesync.Config
func (s SyncConfig) ProfileSync() profilesync.Config {
	return profilesync.Config{
		MinInterval:        s.MinInterval,
		BasePeriod:         s.BasePeriod,
		MaxPeriod:          s.MaxPeriod,
		HealAfterFailures:  s.HealAfterFailures,
		PurgeAfterFailures: s.PurgeAfterFailures,
		SyncOnStart:        s.SyncOnStart,
	}
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ResolveAPIKey returns APIKey, or the value of APIKeyEnv when APIKey is empty
func (s ServerConfig) ResolveAPIKey() string {
	if s.APIKey != "" {
		return s.APIKey
	}
	if s.APIKeyEnv != "" {
		return os.Getenv(s.APIKeyEnv)
	}
	return ""
}

// ResolveClientSecret returns ClientSecret, or the value of ClientSecretEnv
func (i IdentityConfig) ResolveClientSecret() string {
	if i.ClientSecret != "" {
		return i.ClientSecret
	}
	if i.ClientSecretEnv != "" {
		return os.Getenv(i.ClientSecretEnv)
	}
	return ""
}

// AdvisoryKinds returns the webhook kinds as typed values
func (n NotifyConfig) AdvisoryKinds() []types.AdvisoryKind {
	kinds := make([]types.AdvisoryKind, 0, len(n.WebhookKinds))
	for _, k := range n.WebhookKinds {
		kinds = append(kinds, types.AdvisoryKind(k))
	}
	return kinds
}

// NewLogger builds the slog.Logger described by the section
func (l LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(l.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errcode.Errorf(errcode.ConfigInvalidValue, "logging.level: unknown level %q", s)
	}
}

func validAdvisoryKind(k types.AdvisoryKind) bool {
	switch k {
	case types.AdvisoryRetrying, types.AdvisoryBlocked, types.AdvisoryPurged, types.AdvisoryPurgeConsent:
		return true
	default:
		return false
	}
}
