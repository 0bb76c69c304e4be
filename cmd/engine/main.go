// Command engine runs the always-on automated trading engine: the
// market-data, strategy, execution, and copy-watch planes, plus the
// out-of-core control surface (spec.md §7).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"craftstrat-engine/internal/config"
	"craftstrat-engine/internal/control"
	"craftstrat-engine/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CRAFT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	var controlServer *control.Server
	if cfg.Control.Enabled {
		controlServer = control.NewServer(cfg.Control.Port, eng, cfg.Control.JWTSecret, logger)
		go func() {
			if err := controlServer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("control server failed", "error", err)
				cancel()
			}
		}()
		logger.Info("control surface started", "addr", fmt.Sprintf(":%d", cfg.Control.Port))
	}

	engineErrCh := make(chan error, 1)
	go func() { engineErrCh <- eng.Run(ctx) }()

	logger.Info("trading engine started",
		"paper_mode", cfg.Execution.PaperMode,
		"copy_watch_enabled", cfg.CopyWatch.Enabled,
		"max_orders_per_day", cfg.Venue.MaxOrdersPerDay,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-engineErrCh
	case err := <-engineErrCh:
		if err != nil && ctx.Err() == nil {
			logger.Error("engine exited unexpectedly", "error", err)
		}
		cancel()
	}

	logger.Info("shutdown complete")
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
