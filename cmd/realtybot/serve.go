package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"realty-bot/internal/app"
	"realty-bot/internal/server"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and lead API over HTTP",
		Long: `Runs the webhook endpoint at POST /webhook and, when auth.jwt_secret is set,
the lead dashboard API under /api.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := app.NewLogger(cfg.Log, os.Stderr)
			slog.SetDefault(log)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.Build(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := server.Options{
				Addr:    cfg.HTTP.Addr,
				Webhook: a.Inbound,
				Logger:  log,
			}
			if cfg.AdminEnabled() {
				opts.JWTSecret = cfg.Auth.JWTSecret
				opts.Leads = a.BotControl
			} else {
				log.Warn("lead api disabled: auth.jwt_secret is not set")
			}
			srv, err := server.New(opts)
			if err != nil {
				return err
			}
			return runServer(ctx, srv, log)
		},
	}
}

type runnable interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// runServer blocks until ctx is cancelled or the server fails, then shuts
// it down gracefully.
func runServer(ctx context.Context, srv runnable, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return <-errCh
}
