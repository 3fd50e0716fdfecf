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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dopamine/market-sim/internal/accounts"
	"github.com/dopamine/market-sim/internal/admin"
	"github.com/dopamine/market-sim/internal/api"
	"github.com/dopamine/market-sim/internal/config"
	"github.com/dopamine/market-sim/internal/kv"
	"github.com/dopamine/market-sim/internal/logging"
	"github.com/dopamine/market-sim/internal/market"
	"github.com/dopamine/market-sim/internal/metrics"
	"github.com/dopamine/market-sim/internal/roster"
	"github.com/dopamine/market-sim/internal/session"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config failed", "err", err)
		os.Exit(1)
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.Logging.Level, File: cfg.Logging.File})
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	store, closeStore, err := kv.Open(ctx, cfg.KVOptions())
	if err != nil {
		slog.Error("open storage failed", "backend", cfg.Storage.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	if cfg.Storage.Backend == kv.BackendMemory {
		slog.Warn("using in-memory storage, accounts will not persist")
	}

	// --- Market ---
	entries := roster.Default()
	if cfg.Market.RosterPath != "" {
		if entries, err = roster.Load(cfg.Market.RosterPath); err != nil {
			slog.Error("load roster failed", "path", cfg.Market.RosterPath, "err", err)
			os.Exit(1)
		}
	}
	instruments := market.Initialize(entries, market.Options{SeedBase: cfg.Market.Seed})

	// --- Admin ---
	var issuer *admin.Issuer
	if cfg.Admin.Secret != "" {
		if issuer, err = admin.NewIssuer(cfg.Admin.Secret, cfg.AdminTokenTTL()); err != nil {
			slog.Error("admin issuer failed", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("ADMIN_SECRET not set, admin routes disabled")
	}

	// --- Session ---
	gate := accounts.NewGate(cfg.Accounts.InviteCodes)
	engine := session.New(instruments, accounts.NewStore(store, gate), session.Config{
		TickInterval:   cfg.TickInterval(),
		AlertThreshold: cfg.Market.AlertThreshold,
		AlertLimit:     cfg.Market.AlertLimit,
	})

	wsHub := api.NewWSHub(issuer)
	engine.Subscribe(wsHub.Publish)
	go wsHub.Run(ctx)

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()

	svc := api.NewService(engine, issuer)

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
		w.Write([]byte(`{"status":"ok","service":"market-sim"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for ticks and the unlock sequence. It sits
		// outside the timeout group because the connection is long-lived.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-sim listening",
			"port", cfg.Server.Port,
			"backend", cfg.Storage.Backend,
			"instruments", len(instruments),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-engineDone:
		slog.Error("session stopped unexpectedly", "err", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down market-sim...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-sim stopped")
}
