package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/imanuelcio/be-moodswing-sub000/internal/config"
	"github.com/imanuelcio/be-moodswing-sub000/internal/domain"
	"github.com/imanuelcio/be-moodswing-sub000/internal/ledger"
	"github.com/imanuelcio/be-moodswing-sub000/internal/metrics"
	"github.com/imanuelcio/be-moodswing-sub000/internal/notify"
	"github.com/imanuelcio/be-moodswing-sub000/internal/settle"
	"github.com/imanuelcio/be-moodswing-sub000/internal/store"
	"github.com/imanuelcio/be-moodswing-sub000/internal/trade"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Persistence: PostgreSQL when configured, in-memory otherwise.
	var st store.Store
	if cfg.Postgres.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
		pg := store.NewPostgresStore(pool)
		if cfg.Postgres.RunMigrations {
			if err := pg.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		st = pg
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		logger.Warn("MOODSWING_POSTGRES_DSN not set, using in-memory store")
	}

	// Redis adds the market/reserve cache and distributed settlement locks.
	var locks domain.LockManager = store.NewMemoryLockManager()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		locks = store.NewRedisLockManager(rdb)
		logger.Info("redis cache enabled", "addr", cfg.Redis.Addr)
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("moodswing-engine"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Drain()
		n, err := notify.NewNATSNotifier(nc, cfg.NATS.StreamName, logger)
		if err != nil {
			return fmt.Errorf("nats notifier: %w", err)
		}
		notifier = n
		logger.Info("nats event stream enabled", "stream", cfg.NATS.StreamName)
	}

	hub := trade.NewHub(logger)
	done := make(chan struct{})
	defer close(done)
	go hub.Run(done)

	positions := ledger.New(st, logger)
	executor := trade.NewExecutor(st, positions, notifier, hub, cfg.Engine, logger)
	engine := settle.NewEngine(st, positions, locks, notifier,
		cfg.Engine.SettlementPageSize, cfg.Engine.SettlementLockTTL, logger)
	handler := trade.NewHandler(executor, positions, engine, st, logger)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(metrics.Middleware)
		r.Route("/api/v1", handler.Routes)
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", hub.ServeWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
