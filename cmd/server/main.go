// Package main is the entrypoint for the AgentBazaar API server.
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

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/agentbazaar/internal/advisor"
	"github.com/kiranshivaraju/agentbazaar/internal/api"
	"github.com/kiranshivaraju/agentbazaar/internal/api/handler"
	mw "github.com/kiranshivaraju/agentbazaar/internal/api/middleware"
	"github.com/kiranshivaraju/agentbazaar/internal/api/response"
	"github.com/kiranshivaraju/agentbazaar/internal/cache"
	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/internal/engine"
	"github.com/kiranshivaraju/agentbazaar/internal/lock"
	"github.com/kiranshivaraju/agentbazaar/internal/notify"
	"github.com/kiranshivaraju/agentbazaar/internal/payment"
	"github.com/kiranshivaraju/agentbazaar/internal/registry"
	"github.com/kiranshivaraju/agentbazaar/internal/scheduler"
	"github.com/kiranshivaraju/agentbazaar/internal/store"
	"github.com/kiranshivaraju/agentbazaar/internal/telemetry"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	connectTimeout  = 10 * time.Second
)

var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"store", cfg.Store.Backend,
		"gateway", cfg.Payment.Gateway,
		"advisor", cfg.Advisor.Provider,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	c, locker, redisClient, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	gateway, err := payment.NewGateway(cfg.Payment)
	if err != nil {
		return fmt.Errorf("create payment gateway: %w", err)
	}
	quality, negotiator, err := advisor.New(cfg.Advisor, cfg.Market.QualityThreshold)
	if err != nil {
		return fmt.Errorf("create advisor: %w", err)
	}
	notifier, err := notify.New(cfg.Notify, redisClient)
	if err != nil {
		return fmt.Errorf("create notifier: %w", err)
	}
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notifier.Close(drainCtx); err != nil {
			slog.Warn("notifier drain incomplete", "error", err)
		}
	}()
	slog.Info("collaborators initialized", "gateway", gateway.Name(), "notify_sink", cfg.Notify.Sink)

	reg := registry.New(st, c, cfg.Server.RegistrationCooldown)
	eng, err := engine.New(engine.Deps{
		Store:        st,
		Locker:       locker,
		Gateway:      gateway,
		Capabilities: reg,
		Quality:      quality,
		Negotiator:   negotiator,
		Notifier:     notifier,
	}, engine.PolicyFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}

	if cfg.Server.BootstrapKey != "" {
		if err := ensureBootstrapKey(ctx, st, cfg.Server.BootstrapKey, cfg.Server.BootstrapOwner); err != nil {
			return fmt.Errorf("bootstrap admin key: %w", err)
		}
	}

	sweeps := scheduler.New(eng.StaleAgentTask(reg, cfg.Sweep.Interval, cfg.Sweep.HeartbeatStale))
	if cfg.Sweep.AutoAward {
		sweeps.Add(eng.AutoAwardTask(cfg.Sweep.Interval, engine.AutoAcceptCriteria{
			MinRating:     cfg.Sweep.AutoAwardMinRating,
			MinConfidence: cfg.Sweep.AutoAwardMinConf,
		}))
	}
	sweepErr := make(chan error, 1)
	go func() { sweepErr <- sweeps.Start(ctx) }()

	deps := api.MarketHandlers(eng, reg, st)
	deps.Auth = mw.NewAuth(st)
	deps.RateLimit = mw.NewRateLimit(c, cfg.Server.RateLimitPerMin)
	deps.HealthHandler = healthHandler(st, c)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case err := <-sweepErr:
		if err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openStore connects the configured ledger backend and prepares its schema.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		slog.Info("database connected")
		if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")
		return store.NewPostgresStore(pool), pool.Close, nil

	case "mongo":
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongo: %w", err)
		}
		disconnect := func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(dctx)
		}
		ms := store.NewMongoStore(client, cfg.Mongo.Database)
		if err := ms.Ping(connectCtx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ping mongo: %w", err)
		}
		if err := ms.EnsureIndexes(connectCtx); err != nil {
			disconnect()
			return nil, nil, fmt.Errorf("ensure mongo indexes: %w", err)
		}
		slog.Info("mongo connected", "database", cfg.Mongo.Database)
		return ms, disconnect, nil

	default:
		slog.Warn("using in-memory store, state is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}

// openCache returns the Redis-backed cache and job locker when REDIS_URL is
// set, and process-local ones otherwise. The redis client is nil in the
// latter case.
func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, lock.Locker, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		slog.Warn("REDIS_URL not set, cache and job locks are process-local")
		return cache.NewMemoryCache(time.Minute), lock.NewMemoryLocker(), nil, nil
	}
	rc, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create redis cache: %w", err)
	}
	if err := rc.Ping(ctx); err != nil {
		rc.Close()
		return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return rc, lock.NewRedisLocker(rc.Client(), cfg.Redis.LockTTL), rc.Client(), nil
}

// keyStore is the part of the store the bootstrap key needs.
type keyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// ensureBootstrapKey stores raw as an admin key unless it is already stored.
func ensureBootstrapKey(ctx context.Context, keys keyStore, raw, owner string) error {
	if len(raw) < mw.KeyPrefixLen {
		return fmt.Errorf("key shorter than %d characters", mw.KeyPrefixLen)
	}
	existing, err := keys.GetAPIKeyByPrefix(ctx, raw[:mw.KeyPrefixLen])
	if err != nil {
		return err
	}
	for _, k := range existing {
		if k.Grants(models.ScopeAdmin) && bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return nil
		}
	}
	key, err := handler.NewAPIKey(raw, owner, "bootstrap", []string{models.ScopeAdmin})
	if err != nil {
		return err
	}
	if err := keys.CreateAPIKey(ctx, key); err != nil {
		return err
	}
	slog.Info("bootstrap admin key created", "owner_id", owner, "key_prefix", key.KeyPrefix)
	return nil
}

// healthHandler checks store and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"store": "ok",
			"cache": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["store"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["store"] != "ok" || checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"version":  version,
			"services": checks,
		})
	}
}
