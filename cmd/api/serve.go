package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/diagnosis/slotgrid/internal/http/handlers"
	"github.com/diagnosis/slotgrid/internal/http/middleware"
	"github.com/diagnosis/slotgrid/internal/http/router"
	"github.com/diagnosis/slotgrid/internal/platform/mailer"
	"github.com/diagnosis/slotgrid/internal/repo"
	"github.com/diagnosis/slotgrid/internal/repo/memory"
	"github.com/diagnosis/slotgrid/internal/repo/postgres"
	"github.com/diagnosis/slotgrid/internal/service"
	"github.com/diagnosis/slotgrid/pkg/config"
	"github.com/diagnosis/slotgrid/pkg/database"
	"github.com/diagnosis/slotgrid/pkg/events"
	"github.com/diagnosis/slotgrid/pkg/logger"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply migrations before serving (postgres only)")
}

func openStore(ctx context.Context, cfg *config.Config) (repo.Store, func(), error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store; data is lost on restart")
		return memory.NewStore(), func() {}, nil
	}
	if migrateOnStart {
		if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
			return nil, nil, err
		}
	}
	pool, err := database.Connect(ctx, cfg.Database.URL, database.Options{
		MaxConns:    int32(cfg.Database.MaxConns),
		MinConns:    int32(cfg.Database.MinConns),
		MaxLifetime: cfg.Database.MaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return postgres.NewStore(pool), pool.Close, nil
}

func openBroadcaster(ctx context.Context, cfg config.BroadcastConfig) (events.Broadcaster, error) {
	hub := events.NewHub(cfg.Buffer, cfg.KeepAlive)
	switch cfg.Backend {
	case "nats":
		relay, err := events.NewNATSRelay(cfg.NATSURL, cfg.Subject, hub)
		if err != nil {
			return nil, err
		}
		return relay, nil
	case "redis":
		relay, err := events.NewRedisRelay(ctx, cfg.RedisURL, cfg.Subject, hub)
		if err != nil {
			return nil, err
		}
		return relay, nil
	default:
		return hub, nil
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	broadcaster, err := openBroadcaster(ctx, cfg.Broadcast)
	if err != nil {
		return fmt.Errorf("start broadcaster: %w", err)
	}

	tokens := service.NewTokenIssuer(store, service.TokenConfig{
		Secret:             cfg.Auth.JWTSecret,
		AccessTTL:          cfg.Auth.AccessTokenTTL,
		RefreshTTLRemember: cfg.Auth.RefreshTTLRemember,
		RefreshTTLSession:  cfg.Auth.RefreshTTLSession,
	})
	lockout := service.NewLockoutGuard(cfg.Auth.LockoutThreshold, cfg.Auth.LockoutWindow)
	accounts := service.NewAccountService(store, tokens, service.NewEmailTokenService(), lockout,
		mailer.New(cfg.Email), service.AccountConfig{
			VerifyTTL:  cfg.Auth.EmailVerificationTTL,
			ResetTTL:   cfg.Auth.ResetTokenTTL,
			AppBaseURL: cfg.App.BaseURL,
			PublicURL:  cfg.App.PublicURL,
		})
	defer accounts.Wait()

	limiter := middleware.NewRateLimiter(map[middleware.Class]middleware.Budget{
		middleware.ClassAuth:  {RPS: cfg.RateLimit.AuthRPS, Burst: cfg.RateLimit.AuthBurst},
		middleware.ClassWrite: {RPS: cfg.RateLimit.WriteRPS, Burst: cfg.RateLimit.WriteBurst},
		middleware.ClassRead:  {RPS: cfg.RateLimit.ReadRPS, Burst: cfg.RateLimit.ReadBurst},
	}, cfg.RateLimit.IdleTTL)

	handler := router.NewRouter(router.RouterConfig{
		Accounts:    accounts,
		Events:      service.NewEventService(store, broadcaster),
		Broadcaster: broadcaster,
		Verifier:    tokens,
		Limiter:     limiter,
		Cookie: handlers.CookieSettings{
			Name:   cfg.Cookie.Name,
			Secure: cfg.Cookie.Secure,
			Domain: cfg.Cookie.Domain,
		},
		AppBaseURL:     cfg.App.BaseURL,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustProxy:     cfg.Server.TrustProxy,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return broadcaster.Run(ctx) })
	g.Go(func() error { return limiter.Run(ctx) })
	g.Go(func() error {
		return service.NewJanitor(store, lockout, cfg.Auth.JanitorInterval).Run(ctx)
	})
	g.Go(func() error {
		logger.Info("Starting API server", "port", cfg.Server.Port, "env", cfg.Env,
			"store", cfg.Database.Driver, "broadcast", cfg.Broadcast.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down API server...")

		// Closing the broadcaster ends open streams so Shutdown can drain.
		if err := broadcaster.Close(); err != nil {
			logger.Error("Broadcaster close error", "error", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("API server stopped")
	return nil
}
