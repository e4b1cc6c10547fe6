package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/qontrek/civos/pkg/api"
)

func (c *cli) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context())
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	_ = c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (c *cli) newAPIServer(sys *subsystems) (*api.Server, error) {
	opts := []api.Option{
		api.WithRateLimit(c.cfg.RateLimit.RPS, c.cfg.RateLimit.Burst),
		api.WithTelemetry(sys.telemetry),
	}
	if c.cfg.Auth.Enabled {
		opts = append(opts, api.WithAuthenticator(api.NewAuthenticator(c.cfg.Auth.JWTSecret, c.cfg.Auth.Issuer)))
	} else {
		slog.Warn("authentication disabled; every request runs as a local admin")
	}
	return api.NewServer(api.Deps{
		Coordinator: sys.coordinator,
		Engine:      sys.engine,
		Ledger:      sys.ledger,
		Budget:      sys.monitor,
		Vocabulary:  sys.guard,
	}, opts...)
}

func (c *cli) serve(ctx context.Context) error {
	sys, err := buildSubsystems(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := sys.Close(shutdownCtx); err != nil {
			slog.Error("subsystem shutdown failed", "error", err)
		}
	}()

	srv, err := c.newAPIServer(sys)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         c.cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  c.cfg.Server.ReadTimeout,
		WriteTimeout: c.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("civos listening", "addr", httpServer.Addr, "version", version,
			"friction_phase", sys.engine.FrictionPhase(), "ledger_entries", sys.ledger.Len())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
