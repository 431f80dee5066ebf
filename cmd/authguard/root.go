package main

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cecil-the-coder/auth-resilience-kit/internal/errcode"
	"github.com/cecil-the-coder/auth-resilience-kit/pkg/config"
)

const envPrefix = "AUTHGUARD"

// overlayKeys are the config keys that flags and AUTHGUARD_* variables may override
var overlayKeys = []string{
	"server.host",
	"server.port",
	"logging.level",
	"logging.format",
	"identity.client_id",
	"identity.token_url",
	"identity.revoke_url",
	"identity.user_id",
	"identity.email",
	"storage.profile_db",
	"storage.credential_dir",
	"storage.keyring_service",
	"notify.webhook_url",
	"notify.auto_consent",
	"sync.enabled",
}

// NewRootCmd creates the root command with all subcommands registered
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "authguard",
		Short:         "authguard keeps a client's sign-in healthy",
		Long:          "authguard refreshes OAuth2 tokens behind backoff, a circuit breaker and a global block, heals and purges credentials, and keeps the user profile in sync.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initViper(cmd, v)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to the YAML config file")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before flags and environment are read")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(v),
		newStatusCmd(v),
		newVersionCmd(),
	)
	return root
}

// initViper loads the dotenv file and binds flags and AUTHGUARD_* variables so
// the precedence is flag > env > file > defaults.
func initViper(cmd *cobra.Command, v *viper.Viper) error {
	if envFile, _ := cmd.Root().PersistentFlags().GetString("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errcode.Wrapf(err, errcode.ConfigReadFailure, "loading %s", envFile)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overlayKeys {
		if err := v.BindEnv(key); err != nil {
			return errcode.Wrapf(err, errcode.ConfigInvalidValue, "binding %s", key)
		}
	}

	if err := v.BindPFlag("config", cmd.Root().PersistentFlags().Lookup("config")); err != nil {
		return errcode.Wrapf(err, errcode.ConfigInvalidValue, "binding config flag")
	}
	if err := v.BindEnv("config"); err != nil {
		return errcode.Wrapf(err, errcode.ConfigInvalidValue, "binding config env")
	}
	if err := v.BindPFlag("logging.level", cmd.Root().PersistentFlags().Lookup("log-level")); err != nil {
		return errcode.Wrapf(err, errcode.ConfigInvalidValue, "binding log-level flag")
	}
	return nil
}

// loadConfig reads the config file, if any, and applies the viper overlay
func loadConfig(v *viper.Viper) (config.Config, error) {
	cfg := config.Default()
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	overlayString(v, "server.host", &cfg.Server.Host)
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	overlayString(v, "logging.level", &cfg.Logging.Level)
	overlayString(v, "logging.format", &cfg.Logging.Format)
	overlayString(v, "identity.client_id", &cfg.Identity.ClientID)
	overlayString(v, "identity.token_url", &cfg.Identity.TokenURL)
	overlayString(v, "identity.revoke_url", &cfg.Identity.RevokeURL)
	overlayString(v, "identity.user_id", &cfg.Identity.UserID)
	overlayString(v, "identity.email", &cfg.Identity.Email)
	overlayString(v, "storage.profile_db", &cfg.Storage.ProfileDB)
	overlayString(v, "storage.credential_dir", &cfg.Storage.CredentialDir)
	overlayString(v, "storage.keyring_service", &cfg.Storage.KeyringService)
	overlayString(v, "notify.webhook_url", &cfg.Notify.WebhookURL)
	if v.IsSet("notify.auto_consent") {
		cfg.Notify.AutoConsent = v.GetBool("notify.auto_consent")
	}
	if v.IsSet("sync.enabled") {
		cfg.Sync.Enabled = v.GetBool("sync.enabled")
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// overlayString copies a non-empty viper value into dst
func overlayString(v *viper.Viper, key string, dst *string) {
	if s := v.GetString(key); s != "" {
		*dst = s
	}
}
