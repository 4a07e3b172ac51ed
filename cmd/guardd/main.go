package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futarchy-guard/internal/config"
	"futarchy-guard/internal/guard"
	"futarchy-guard/internal/logging"
	"futarchy-guard/internal/metrics"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	app, err := guard.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize guard", zap.Error(err))
		os.Exit(1)
	}
	log.Info("guard initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		prom := metrics.NewPrometheus()
		app.UseMetrics(prom.Metrics)
		server := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           prom.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.ListenAddr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	if err := app.Run(ctx); err != nil && err != context.Canceled {
		log.Error("guard terminated", zap.Error(err))
		os.Exit(1)
	}
}
