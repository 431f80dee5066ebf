package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the token guard, the profile sync loop and the admin server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, v)
		},
	}

	cmd.Flags().String("host", "", "admin server host")
	cmd.Flags().Int("port", 0, "admin server port")
	_ = v.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	_ = v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(v)
	if err != nil {
		return err
	}
	logger := cfg.Logging.NewLogger(os.Stderr).With("version", version)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting authguard: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing authguard", "error", err)
		}
	}()

	return a.run(ctx)
}

// run serves until ctx ends, the server fails, or a reload is requested
func (a *app) run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	done := make(chan error, 2)
	go func() {
		err := a.server.Run(ctx)
		if err != nil {
			cancel(err)
		}
		done <- err
	}()

	running := 1
	if a.sync != nil {
		running++
		go func() {
			err := a.sync.Run(ctx)
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			done <- err
		}()
	}

	select {
	case reason := <-a.reload:
		cancel(fmt.Errorf("%w: %s", errRestartRequired, reason))
	case <-ctx.Done():
	}

	var firstErr error
	for range running {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if cause := context.Cause(ctx); errors.Is(cause, errRestartRequired) {
		return cause
	}
	if firstErr != nil {
		return firstErr
	}
	a.logger.Info("authguard stopped")
	return nil
}
