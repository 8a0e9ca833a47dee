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
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vstock/ledger/internal/keylock"
	"github.com/vstock/ledger/internal/metrics"
	"github.com/vstock/ledger/internal/model"
	"github.com/vstock/ledger/internal/news"
	"github.com/vstock/ledger/internal/store"
	"github.com/vstock/ledger/internal/trade"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
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
		ms := store.NewMemoryStore()
		seedDemoData(ms)
		st = ms
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Shared per-account serialization ---
	locks := keylock.New()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	tradeSvc := trade.NewService(st, locks, wsHub)
	newsSvc := news.NewService(st, locks)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"vstock-ledger"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price updates.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/accounts", tradeSvc.Register)
		r.Get("/accounts/{accountID}", tradeSvc.GetAccount)
		r.Get("/accounts/{accountID}/holdings", tradeSvc.ListHoldings)
		r.Get("/accounts/{accountID}/transactions", tradeSvc.ListTransactions)
		r.Get("/accounts/{accountID}/portfolio", tradeSvc.GetPortfolio)

		// Instruments and prices.
		r.Get("/instruments", tradeSvc.ListInstruments)
		r.Post("/instruments", tradeSvc.CreateInstrument)
		r.Get("/instruments/{instrumentID}", tradeSvc.GetInstrument)
		r.Put("/instruments/{instrumentID}/price", tradeSvc.SetPrice)

		// Trade execution.
		r.Post("/trade", tradeSvc.ExecuteTrade)

		// Leaderboard.
		r.Get("/leaderboard", tradeSvc.GetLeaderboard)

		// News.
		r.Get("/news", newsSvc.List)
		r.Post("/news", newsSvc.Create)
		r.Get("/news/{newsID}", newsSvc.Get)
		r.Post("/news/{newsID}/purchase", newsSvc.Purchase)
		r.Delete("/news/{newsID}", newsSvc.Delete)
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
		slog.Info("vstock-ledger listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vstock-ledger...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vstock-ledger stopped")
}

// seedDemoData loads an administrator and a starter set of instruments
// into the in-memory store for local development.
func seedDemoData(ms *store.MemoryStore) {
	ctx := context.Background()
	now := time.Now().UTC()

	admin := &model.Account{
		ID:        "admin",
		Username:  "admin",
		Name:      "Administrator",
		Role:      model.RoleAdmin,
		Cash:      decimal.Zero,
		CreatedAt: now,
	}
	if err := ms.CreateAccount(ctx, admin); err != nil {
		slog.Error("seed admin failed", "err", err)
		return
	}

	seed := []struct {
		symbol string
		name   string
		price  int64
	}{
		{"ALPE", "Alpine Electronics", 10000},
		{"BRMT", "Borami Motors", 25000},
		{"CHEM", "Cheonil Chemicals", 8000},
		{"DSKY", "Daesung Shipyards", 15000},
		{"ENTO", "Ento Entertainment", 5000},
		{"FINB", "First National Bank", 12000},
		{"GRNF", "Green Foods", 7000},
		{"HTEL", "Hantel Telecom", 30000},
	}

	for _, s := range seed {
		in := &model.Instrument{
			ID:           uuid.New().String(),
			Symbol:       s.symbol,
			Name:         s.name,
			CurrentPrice: decimal.NewFromInt(s.price),
			UpdatedAt:    now,
		}
		if err := ms.CreateInstrument(ctx, in); err != nil {
			slog.Error("seed instrument failed", "symbol", s.symbol, "err", err)
		}
	}

	slog.Info("seeded demo data", "instruments", len(seed))
}
