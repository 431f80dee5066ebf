package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/backend"
)

func newStatusCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the token layer status of a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, v)
		},
	}
	cmd.Flags().String("address", "", "admin server address (default: from config)")
	return cmd
}

func runStatus(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	addr, _ := cmd.Flags().GetString("address")
	if addr == "" {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}

	client := backend.NewClient("http://"+addr, cfg.Server.ResolveAPIKey())
	status, err := client.TokenStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("authguard at %s: %w", addr, err)
	}

	out := cmd.OutOrStdout()
	health := status.Health
	_, _ = fmt.Fprintf(out, "authguard at %s\n", addr)
	if status.SignedIn {
		_, _ = fmt.Fprintf(out, "  signed in:            %s\n", status.UserID)
	} else {
		_, _ = fmt.Fprintf(out, "  signed in:            no\n")
	}
	_, _ = fmt.Fprintf(out, "  healthy:              %t\n", status.Healthy)
	_, _ = fmt.Fprintf(out, "  token valid:          %t\n", health.Valid)
	_, _ = fmt.Fprintf(out, "  backoff:              %t (%ds)\n", health.InBackoff, health.BackoffSeconds)
	_, _ = fmt.Fprintf(out, "  consecutive failures: %d\n", health.ConsecutiveFailures)
	_, _ = fmt.Fprintf(out, "  global failures:      %d\n", health.GlobalFailureCount)
	_, _ = fmt.Fprintf(out, "  circuit breaker:      %s\n", onOff(health.CircuitBreakerActive))
	if status.Blocked {
		_, _ = fmt.Fprintf(out, "  global block:         on, %s left (%s)\n",
			time.Duration(status.BlockRemainingSecs)*time.Second, status.BlockReason)
	} else if status.ReloadPending {
		_, _ = fmt.Fprintf(out, "  global block:         expired, reload pending\n")
	} else {
		_, _ = fmt.Fprintf(out, "  global block:         off\n")
	}
	if status.HealSuspendedUntil != nil {
		_, _ = fmt.Fprintf(out, "  healing suspended:    until %s\n", status.HealSuspendedUntil.Format(time.RFC3339))
	}
	_, _ = fmt.Fprintf(out, "  purges:               %d\n", status.PurgeRuns)
	if s := status.Sync; s != nil {
		_, _ = fmt.Fprintf(out, "  profile sync:         %s, %d failures, every %s\n",
			s.State, s.ConsecutiveFailures, time.Duration(s.PeriodSeconds)*time.Second)
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
