package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/riskdesk/risk-engine/internal/api"
	"github.com/riskdesk/risk-engine/internal/config"
	"github.com/riskdesk/risk-engine/internal/exposure"
	"github.com/riskdesk/risk-engine/internal/limits"
	"github.com/riskdesk/risk-engine/internal/marketdata"
	"github.com/riskdesk/risk-engine/internal/metrics"
	"github.com/riskdesk/risk-engine/internal/returns"
	"github.com/riskdesk/risk-engine/internal/risk"
	"github.com/riskdesk/risk-engine/internal/scheduler"
	"github.com/riskdesk/risk-engine/internal/store"
	"github.com/riskdesk/risk-engine/internal/stream"
	"github.com/riskdesk/risk-engine/internal/valuation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var rdb *redis.Client
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb = redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL.String())
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub, fanned out through Redis when available ---
	hub := stream.NewHub()
	go hub.Run(ctx)

	var pub stream.Publisher = hub
	if rdb != nil {
		relay := stream.NewRedisRelay(rdb, hub)
		go func() {
			if err := relay.Run(ctx); err != nil {
				slog.Error("redis relay stopped", "err", err)
			}
		}()
		pub = relay
	}

	// --- Engines ---
	valuer := valuation.NewEngine(st, marketdata.Chain{marketdata.NewStoreSource(st)})
	builder := returns.NewBuilder(st)
	analyzer := exposure.NewAnalyzer(valuer)
	engine := risk.NewEngine(st, valuer, builder, analyzer)
	engine.Alpha = cfg.VarAlpha
	engine.Lookback = cfg.VarLookback
	engine.Lambda = cfg.EWMALambda
	checker := limits.NewChecker(cfg.VarAlertThreshold, cfg.ConcentrationAlertPct, cfg.HHIAlert, cfg.GroupAlertPct)

	svc := api.NewService(st, valuer, builder, engine, analyzer, checker, pub)

	// --- Scheduled jobs ---
	sched := scheduler.New(ctx)
	accounts := scheduler.Accounts{Store: st, Fixed: cfg.Accounts}
	type scheduled struct {
		schedule string
		job      scheduler.Job
	}
	jobs := []scheduled{
		{cfg.ValuationSchedule, &scheduler.ValuationJob{Store: st, Valuer: valuer, Publisher: pub, Accounts: accounts}},
		{cfg.SnapshotSchedule, &scheduler.SnapshotJob{
			Engine: engine, Exposure: analyzer, Checker: checker, Publisher: pub,
			Accounts: accounts, Alpha: cfg.VarAlpha, Lookback: cfg.VarLookback,
		}},
	}
	if cfg.UseMockPrices {
		mock := marketdata.NewMockSource(true, 0.01, marketdata.DefaultMockBases)
		jobs = append(jobs, scheduled{cfg.PriceSchedule, &scheduler.PriceJob{Store: st, Mock: mock, Publisher: pub}})
		slog.Warn("mock price ingest enabled")
	}
	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			slog.Error("invalid job schedule", "job", j.job.Name(), "schedule", j.schedule, "err", err)
			os.Exit(1)
		}
	}
	sched.Start()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for dashboard cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket stays outside the timeout middleware.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("risk-engine stopped")
}
