package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/crm-auth/internal/auth"
	"github.com/alexjbarnes/crm-auth/internal/config"
	"github.com/alexjbarnes/crm-auth/internal/credential"
	"github.com/alexjbarnes/crm-auth/internal/logging"
	"github.com/alexjbarnes/crm-auth/internal/mcpserver"
	"github.com/alexjbarnes/crm-auth/internal/server"
	"github.com/alexjbarnes/crm-auth/internal/session"
	"github.com/alexjbarnes/crm-auth/internal/state"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, cfg)
	},
}

func newCodeStore(cfg *config.Config, logger *slog.Logger) (auth.Store, error) {
	if cfg.CodeStore == config.CodeStoreLRU {
		return auth.NewCacheStore(cfg.CodeStoreSize, logger)
	}

	return auth.NewMemoryStore(logger), nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("crm-auth starting",
		slog.String("version", Version),
		slog.String("public_url", cfg.PublicURL),
		slog.Bool("oauth_strict", cfg.OAuthStrict),
		slog.Bool("oauth_require_pkce", cfg.OAuthRequirePKCE),
		slog.Bool("oauth_strict_registration", cfg.OAuthStrictRegistration),
		slog.String("code_store", cfg.CodeStore),
	)

	codec, err := session.NewCodec(cfg.AuthSecret)
	if err != nil {
		return fmt.Errorf("creating session codec: %w", err)
	}

	db, err := state.LoadAt(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer db.Close()

	logger.Info("state loaded",
		slog.String("path", cfg.StatePath),
		slog.Int("credentials", db.CredentialCount()),
	)

	creds := credential.NewStore(db, logger)

	store, err := newCodeStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating code store: %w", err)
	}
	defer store.Stop()

	resolver := auth.NewResolver(cfg.SessionCookie, codec, creds, logger)

	router := server.NewRouter(server.RouterConfig{
		Store:              store,
		Resolver:           resolver,
		Credentials:        creds,
		MCPHandler:         mcpserver.NewHandler(creds, logger, Version),
		Logger:             logger,
		PublicURL:          cfg.PublicURL,
		LoginURL:           cfg.LoginURL,
		Strict:             cfg.OAuthStrict,
		RequirePKCE:        cfg.OAuthRequirePKCE,
		StrictRegistration: cfg.OAuthStrictRegistration,
		AllowedOrigins:     cfg.AllowedOrigins(),
		CookieDomain:       cfg.CookieDomain,
		SecureCookies:      cfg.IsProduction(),
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if _, ok := store.(*auth.CacheStore); ok {
		g.Go(func() error {
			auth.RunSweeper(gctx, store, logger)
			return nil
		})
	}

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	// Shutdown when context is cancelled.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
