package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"broker_go/internal/api"
	"broker_go/internal/app"
	"broker_go/internal/hub"
	"broker_go/internal/infra/redisfeed"
	"broker_go/internal/service"
	"broker_go/internal/worker"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bootstrap.SyncInstruments(ctx); err != nil {
		slog.Error("❌ Instrument sync failed", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := bootstrap.Config
	store := bootstrap.Storage

	// 4. Core Services
	locks := service.NewAccountLocks()
	prices := service.NewPriceCache()
	execution := service.NewExecutionService(store.DB(), locks)
	margin := service.NewMarginService(store.DB(), prices)
	liquidation := service.NewLiquidationService(store.DB(), locks)

	// 5. Realtime Hub (websocket fan-out)
	h := hub.NewHub()
	go h.Run(ctx)
	slog.InfoContext(ctx, "✅ Realtime hub started")

	// 6. Tick Watcher (cache -> liquidations -> pending orders -> broadcast)
	watcher := worker.NewWatcher(store, prices, execution, liquidation, h)
	go watcher.Run(ctx)
	slog.InfoContext(ctx, "✅ Tick watcher started")

	// 7. Redis Price Feed (snapshot seed + pub/sub with backoff)
	feed := redisfeed.NewProvider(cfg.Redis.Addr, cfg.Redis.Password, watcher.Offer)
	feed.Start(ctx)
	defer feed.Stop()
	slog.InfoContext(ctx, "✅ Price feed started", slog.String("addr", cfg.Redis.Addr))

	// 8. API Server
	server := api.NewServer(cfg.Server.ListenAddr, cfg.Server.AllowedOrigins, h, execution, margin, prices)
	go func() {
		if err := server.Start(); err != nil {
			slog.Error("❌ API server failed", slog.Any("error", err))
			stop()
		}
	}()

	slog.InfoContext(ctx, "✨ Broker Go fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("API server shutdown failed", slog.Any("error", err))
	}
}
