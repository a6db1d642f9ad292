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

	"golang.org/x/sync/errgroup"

	"github.com/expirystore/expirystore/server/internal/api"
	"github.com/expirystore/expirystore/server/internal/auth"
	"github.com/expirystore/expirystore/server/internal/config"
	"github.com/expirystore/expirystore/server/internal/metrics"
	"github.com/expirystore/expirystore/server/internal/registry"
	"github.com/expirystore/expirystore/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	watch := flag.Bool("watch", true, "reload stores and log level when the config file changes")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("expirystore-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Server.Level())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"log_level", cfg.Server.LogLevel,
		"auth_mode", cfg.Server.Auth.Mode,
		"stores", len(cfg.Server.Stores),
	)

	if err := run(cfg, *configPath, *watch, &level); err != nil {
		slog.Error("expirystore-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, configPath string, watch bool, level *slog.LevelVar) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(slog.Default())
	if err := reg.Apply(cfg.Server.Stores); err != nil {
		return fmt.Errorf("open stores: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			slog.Error("closing stores", "err", err)
		}
	}()

	// Stats every broadcast_interval plus every eviction as it happens.
	hub := ws.New(reg, cfg.Server.BroadcastInterval)

	// Auth is fixed at startup; a reload only touches stores and log level.
	requireKey := auth.APIKey(
		cfg.Server.Auth.Mode,
		cfg.Server.Auth.EffectiveHeader(),
		cfg.Server.Auth.Key(),
	)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", requireKey(api.New(reg)))
	httpMux.Handle("/metrics", metrics.Handler(reg))
	httpMux.Handle("/ws/stream", requireKey(hub))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error { return hub.Run(gctx) })

	if watch {
		g.Go(func() error {
			return config.Watch(gctx, configPath, func(next *config.Config) {
				level.Set(next.Server.Level())
				if err := reg.Apply(next.Server.Stores); err != nil {
					slog.Error("applying reloaded stores", "err", err)
				}
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("expirystore-server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
