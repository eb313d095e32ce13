package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	trammonitor "github.com/empsgit/tram-monitor-ekb"
	"github.com/empsgit/tram-monitor-ekb/config"
)

func main() {
	trammonitor.InitLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := trammonitor.NewApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	server := trammonitor.NewServer(app)
	server.Start()

	slog.Info("tram monitor started",
		"poll_interval_s", cfg.Pipeline.PollIntervalSeconds,
		"route_refresh_h", cfg.Pipeline.RouteRefreshHours)

	trammonitor.NewScheduler(app).Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "err", err)
	}
	slog.Info("tram monitor shut down")
}
