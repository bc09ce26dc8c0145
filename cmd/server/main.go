package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azimuth-cloud/azimuth-portal/internal/api/rest"
	"github.com/azimuth-cloud/azimuth-portal/internal/auth"
	"github.com/azimuth-cloud/azimuth-portal/internal/cluster"
	"github.com/azimuth-cloud/azimuth-portal/internal/config"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/logger"
	"github.com/azimuth-cloud/azimuth-portal/internal/pkg/tracing"
	"github.com/azimuth-cloud/azimuth-portal/internal/session"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Setup(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cleanup, err := tracing.Init("azimuth-portal", cfg.TracingEndpoint, cfg.TracingSamplingRate)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer cleanup()

	provider, registry, err := buildAuth(ctx, cfg)
	if err != nil {
		return err
	}

	engine, err := cluster.NewEngine(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init cluster engine: %w", err)
	}
	defer engine.Close()

	handler := rest.NewHandler(cfg, registry, provider, engine)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler.Router(),
		ReadTimeout:  time.Duration(cfg.RequestTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.RequestTimeoutSec) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening",
			"port", cfg.Port, "auth_type", cfg.AuthType, "job_backend", cfg.AWXURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// buildAuth assembles the session provider and the login flows for the
// configured auth type. OIDC gets a single code flow; OpenStack gets a
// password form plus, when a federation protocol is configured, a websso
// redirect flow.
func buildAuth(ctx context.Context, cfg *config.Config) (session.Provider, *auth.Registry, error) {
	switch cfg.AuthType {
	case "oidc":
		provider, err := session.NewOIDCProvider(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init oidc provider: %w", err)
		}
		authenticator, err := auth.NewOIDCAuthenticator(ctx, "oidc", cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init oidc authenticator: %w", err)
		}
		return provider, auth.NewRegistry(authenticator), nil
	case "openstack":
		provider := session.NewOpenStackProvider(cfg)
		authenticators := []auth.Authenticator{
			auth.NewFormAuthenticator("password", auth.NewKeystonePasswordBackend(cfg)),
		}
		if cfg.FederatedProtocol != "" {
			authenticators = append(authenticators, auth.NewFederatedAuthenticator(
				"federated", provider.AuthURL(), cfg.FederatedProvider, cfg.FederatedProtocol))
		}
		return provider, auth.NewRegistry(authenticators...), nil
	}
	return nil, nil, fmt.Errorf("unknown auth_type %q", cfg.AuthType)
}
