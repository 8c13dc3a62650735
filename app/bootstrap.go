package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"credential-service/internal/auth"
	"credential-service/internal/config"
	"credential-service/internal/db"
	"credential-service/internal/maintenance"
	"credential-service/internal/observability"
	"credential-service/internal/registry"
	"credential-service/internal/store"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Addr    string
	Handler http.Handler
	Logger  *observability.Logger
	Close   func() error
}

type healthCheck func(ctx context.Context) error

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	return BuildWithConfig(cfg, options)
}

func BuildWithConfig(cfg *config.Config, options Options) (*Runtime, error) {
	logger := observability.NewLogger(cfg.Env)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Env); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		observability.FlushSentry()
		return errors.Join(errs...)
	}
	checks := make(map[string]healthCheck)

	var (
		database *sql.DB
		err      error
	)
	if cfg.UsesDatabase() {
		database, err = openDatabase(cfg, options, logger)
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		closers = append(closers, database.Close)
		checks["database"] = database.PingContext
	}

	users := openUserStore(cfg, database, logger)

	verifier, err := auth.NewVerifier(cfg.Auth.PasswordHasher)
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	if cfg.Auth.PasswordHasher == "plain" {
		logger.Warn("plain_password_storage_enabled", nil)
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.RefreshSecret(), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL).
		WithIssuer(cfg.Auth.Issuer)

	authService := auth.NewService(users, verifier, tokens).
		WithSecurityConfig(cfg.Auth.MaxAttempts, cfg.Auth.LockWindow).
		WithPasswordPolicy(cfg.Auth.PasswordMinLength).
		WithLogger(logger)

	if cfg.Auth.RefreshEnabled {
		tokenRegistry, err := openRegistry(cfg, database, &closers, checks)
		if err != nil {
			_ = closeAll()
			return nil, err
		}
		authService.WithRegistry(tokenRegistry)
	}

	authHandler := auth.NewHandler(authService)
	cleanupHandler := maintenance.NewCleanupHandler(authService, logger, cfg.Maintenance.CronSecret)

	mux := http.NewServeMux()
	authHandler.Routes(mux)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(checks))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	logger.Info("runtime_built", map[string]any{
		"storage":         cfg.Storage.Driver,
		"refresh_enabled": cfg.Auth.RefreshEnabled,
		"registry":        cfg.Registry.Driver,
		"hasher":          cfg.Auth.PasswordHasher,
	})

	return &Runtime{
		Addr:    ":" + cfg.Port,
		Handler: handler,
		Logger:  logger,
		Close:   closeAll,
	}, nil
}

func openDatabase(cfg *config.Config, options Options, logger *observability.Logger) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(10)
	database.SetMaxIdleConns(5)
	database.SetConnMaxLifetime(30 * time.Minute)
	database.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := database.PingContext(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations || cfg.Storage.RunMigrations {
		applied, err := db.RunMigrations(ctx, database)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("migrations_applied", map[string]any{"versions": applied})
	}

	return database, nil
}

func openUserStore(cfg *config.Config, database *sql.DB, logger *observability.Logger) auth.UserStore {
	if cfg.Storage.Driver == config.StoragePostgres {
		return store.NewPostgres(database)
	}
	return store.NewCollection(store.NewFilePersister(cfg.Storage.UsersFile), logger)
}

func openRegistry(cfg *config.Config, database *sql.DB, closers *[]func() error, checks map[string]healthCheck) (auth.TokenRegistry, error) {
	switch cfg.Registry.Driver {
	case config.RegistryPostgres:
		return registry.NewPostgres(database), nil
	case config.RegistryRedis:
		return openRedisRegistry(cfg.Registry.RedisURL, closers, checks)
	default:
		return auth.NewMemoryRegistry(), nil
	}
}

func openRedisRegistry(url string, closers *[]func() error, checks map[string]healthCheck) (auth.TokenRegistry, error) {
	redisRegistry, err := registry.NewRedisFromURL(url)
	if err != nil {
		return nil, err
	}
	*closers = append(*closers, redisRegistry.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := redisRegistry.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	checks["redis"] = redisRegistry.Ping

	return redisRegistry, nil
}

func healthHandler(checks map[string]healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		failed := make(map[string]string)
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["failed"] = failed
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
