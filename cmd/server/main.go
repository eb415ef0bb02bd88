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
	"github.com/shopspring/decimal"

	"github.com/atmx/flashloan/internal/api"
	"github.com/atmx/flashloan/internal/auth"
	"github.com/atmx/flashloan/internal/flashloan"
	"github.com/atmx/flashloan/internal/limit"
	"github.com/atmx/flashloan/internal/metrics"
	"github.com/atmx/flashloan/internal/store"
	"github.com/atmx/flashloan/internal/transfer"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := envOr("PORT", "8080")
	account := envOr("ENGINE_ACCOUNT", "flashloan")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
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

	// --- Loan limits ---
	maxOutstanding := decimal.Zero
	if v := os.Getenv("MAX_OUTSTANDING"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil || d.IsNegative() {
			slog.Error("invalid MAX_OUTSTANDING", "value", v, "err", err)
			os.Exit(1)
		}
		maxOutstanding = d
	}
	limiter := limit.NewLoanLimiter(maxOutstanding)

	// --- Auth ---
	secret := os.Getenv("AUTH_SECRET")
	if secret == "" {
		slog.Warn("AUTH_SECRET not set, every mutating request will be rejected")
	}
	signer := auth.NewSigner(secret, os.Getenv("AUTH_ISSUER"), time.Hour)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Engine ---
	// Transfers settle on the in-process ledger; a chain-backed Transferer
	// plugs in here.
	ledger := transfer.NewLedger()
	engine := flashloan.New(account, st, ledger,
		flashloan.WithLimiter(limiter),
		flashloan.WithPublisher(wsHub),
		flashloan.WithLogger(logger),
	)

	pools, err := engine.ListPools(ctx)
	if err != nil {
		slog.Error("failed to load pools", "err", err)
		os.Exit(1)
	}
	metrics.ActivePools.Set(float64(len(pools)))
	for _, p := range pools {
		metrics.PoolBalance.WithLabelValues(p.Asset.String()).Set(p.Balance.Quantity.InexactFloat64())
	}

	svc := api.NewService(engine, ledger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
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
		w.Write([]byte(`{"status":"ok","service":"flashloan"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(signer.Middleware)
		// The WebSocket route stays outside the timeout.
		r.Get("/ws", wsHub.HandleWS)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r, nil)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("flashloan engine listening", "port", port, "account", account)
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

	slog.Info("shutting down flashloan engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("flashloan engine stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
