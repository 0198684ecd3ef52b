package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"conclave/config"
	adapthttp "conclave/internal/adapter/http"
	"conclave/internal/adapter/gotrue"
	"conclave/internal/adapter/memory"
	"conclave/internal/adapter/postgres"
	redisstore "conclave/internal/adapter/redis"
	"conclave/internal/app"
	"conclave/internal/domain"
	"conclave/internal/guard"
)

// backend is the set of adapters one auth mode provides.
type backend struct {
	admins   domain.AdminRepository
	messages domain.MessageRepository
	verifier guard.VerifierFactory
	checks   map[string]adapthttp.HealthCheck
	seed     *domain.AdminRecord
	close    func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		be  backend
		err error
	)
	switch cfg.AuthMode {
	case config.AuthModeDev:
		be, err = devBackend(cfg, logger)
	default:
		be, err = gotrueBackend(ctx, cfg, logger)
	}
	if err != nil {
		return err
	}
	defer be.close()

	adminSvc := app.NewAdminService(be.admins)
	if be.seed != nil {
		switch err := adminSvc.CreateInitialAdmin(ctx, *be.seed); {
		case err == nil:
			logger.Info("created initial admin", "admin_id", be.seed.ID)
		case errors.Is(err, app.ErrAdminsExist):
		default:
			return err
		}
	}

	registry := guard.NewRegistry(be.verifier, be.admins, guard.RegistryOptions{
		Guard: guard.Options{
			Logger:         logger,
			RestoreTimeout: cfg.Guard.RestoreTimeout,
			CheckTimeout:   cfg.Guard.CheckTimeout,
		},
		IdleTTL:   cfg.Guard.IdleTTL,
		MaxGuards: cfg.Guard.MaxGuards,
	})

	var cookieSecret []byte
	if cfg.HTTP.CookieSecret != "" {
		cookieSecret = []byte(cfg.HTTP.CookieSecret)
	} else {
		logger.Warn("COOKIE_SECRET not set; browser keys will not survive a restart")
	}

	srv := adapthttp.New(registry,
		adminSvc,
		app.NewMessageService(be.messages),
		app.NewDashboardService(be.messages),
		adapthttp.Options{
			Logger:            logger,
			WebDir:            cfg.WebDir,
			CookieSecure:      cfg.HTTP.CookieSecure,
			CookieSecret:      cookieSecret,
			TrustProxyHeaders: cfg.HTTP.TrustProxyHeaders,
			LoginRatePerM:     cfg.HTTP.LoginRatePerMin,
			AllowedOrigins:    cfg.HTTP.AllowedOrigins,
			Checks:            be.checks,
		})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Addr, "auth_mode", cfg.AuthMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func gotrueBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	db, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		return backend{}, err
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sessions := redisstore.NewSessionStore(rdb, cfg.Redis.SessionGrace)
	closeAll := func() {
		_ = rdb.Close()
		_ = db.Close()
	}

	client, err := gotrue.NewClient(gotrue.Config{BaseURL: cfg.GoTrue.URL, APIKey: cfg.GoTrue.APIKey})
	if err != nil {
		closeAll()
		return backend{}, err
	}

	var validator gotrue.TokenValidator
	if cfg.GoTrue.JWTSecret != "" {
		validator, err = gotrue.NewHMACValidator(cfg.GoTrue.JWTSecret, cfg.GoTrue.Issuer)
	} else {
		validator, err = gotrue.NewOIDCValidator(ctx, cfg.GoTrue.Issuer, cfg.GoTrue.JWKSURL)
	}
	if err != nil {
		closeAll()
		return backend{}, err
	}

	be := backend{
		admins:   db,
		messages: db,
		verifier: func(key string) (domain.CredentialVerifier, error) {
			return client.NewVerifier(key, gotrue.VerifierOptions{
				Storage:       sessions,
				Validator:     validator,
				RefreshMargin: cfg.Guard.RefreshMargin,
				Logger:        logger,
			}), nil
		},
		checks: map[string]adapthttp.HealthCheck{
			"postgres": db.Ping,
			"redis":    sessions.Ping,
		},
		close: closeAll,
	}
	if b := cfg.Bootstrap; b.Enabled() {
		be.seed = &domain.AdminRecord{ID: b.ID, Email: b.Email, Name: b.Name}
	}
	return be, nil
}

func devBackend(cfg config.Config, logger *slog.Logger) (backend, error) {
	db := memory.New()
	dev, err := memory.NewDevAuth(memory.DevConfig{
		UserID:   cfg.Dev.ID,
		Email:    cfg.Dev.Email,
		Password: cfg.Dev.Password,
	}, db)
	if err != nil {
		return backend{}, err
	}
	logger.Warn("running with the development credential verifier", "email", cfg.Dev.Email)

	return backend{
		admins:   db,
		messages: db,
		verifier: func(key string) (domain.CredentialVerifier, error) {
			return dev.NewVerifier(key), nil
		},
		seed:  &domain.AdminRecord{ID: cfg.Dev.ID, Email: cfg.Dev.Email, Name: "Development Admin"},
		close: func() {},
	}, nil
}

func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
