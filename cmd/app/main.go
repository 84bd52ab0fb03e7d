package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stealth_twap/internal/app"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Debug Server (pprof + metrics), localhost only
	http.Handle("/metrics", promhttp.HandlerFor(bootstrap.Registry, promhttp.HandlerOpts{}))
	debugSrv := &http.Server{Addr: bootstrap.Config.Debug.Addr, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("🕵️ Debug server started", slog.String("addr", debugSrv.Addr))
		if err := debugSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Debug server failed", slog.Any("error", err))
		}
	}()

	// 4. Market Data
	if err := bootstrap.Start(ctx); err != nil {
		slog.Error("Failed to start feed", slog.Any("error", err))
	}

	slog.InfoContext(ctx, "✨ Stealth TWAP fully operational. Press Ctrl+C to exit.")

	// Wait for shutdown signal
	<-ctx.Done()

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := debugSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Debug server shutdown failed", slog.Any("error", err))
	}
	if err := bootstrap.Shutdown(); err != nil {
		slog.Error("Shutdown failed", slog.Any("error", err))
	}
}
