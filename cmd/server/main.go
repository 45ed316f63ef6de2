package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/taziji/ChinaRMBSite/internal/auth"
	"github.com/taziji/ChinaRMBSite/internal/config"
	"github.com/taziji/ChinaRMBSite/internal/logging"
	"github.com/taziji/ChinaRMBSite/internal/metrics"
	"github.com/taziji/ChinaRMBSite/internal/server"
	"github.com/taziji/ChinaRMBSite/internal/static"
	"github.com/taziji/ChinaRMBSite/internal/version"
)

const cacheEvictionInterval = 1 * time.Minute

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config) *auth.Store {
	store, err := auth.BuildStore(cfg.BasicAuthFile, cfg.BasicAuthUser, cfg.BasicAuthPassword)
	if err != nil {
		slog.Error("Failed to load credentials", "error", err)
		os.Exit(1)
	}
	if store != nil {
		slog.Info("Basic auth enabled", "users", store.Len())
	}
	return store
}

func setupResolver(cfg *config.Config) *static.Resolver {
	resolver, err := static.NewResolver(cfg.DocumentRoot, cfg.IndexFile)
	if err != nil {
		slog.Error("Failed to open document root", "error", err)
		os.Exit(1)
	}
	return resolver
}

func documentRootCheck(root string) server.HealthCheck {
	return server.HealthCheck{
		Name: "document_root",
		Check: func(_ context.Context) error {
			info, err := os.Stat(root)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}
			return nil
		},
	}
}

func runGracefulShutdown(srv *server.Server, grace time.Duration, cancelWatch context.CancelFunc, stopEviction func()) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, draining...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		if cancelWatch != nil {
			cancelWatch()
		}
		if stopEviction != nil {
			stopEviction()
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	store := setupStore(cfg)
	resolver := setupResolver(cfg)

	registry := metrics.NewRegistry()

	var (
		cache        *static.ContentCache
		cacheMetrics *metrics.CacheMetrics
		stopEviction func()
		cancelWatch  context.CancelFunc
	)
	if cfg.CacheEnabled {
		cacheMetrics = metrics.NewCacheMetrics(registry)
		cache = static.NewContentCache(cfg.CacheTTL, cfg.CacheMaxFileSize, clock)
		stopEviction = cache.StartEvictionTimer(cacheEvictionInterval)

		var watchCtx context.Context
		watchCtx, cancelWatch = context.WithCancel(context.Background())
		go func() {
			if err := static.WatchRoot(watchCtx, resolver.Root(), cache, cacheMetrics); err != nil {
				slog.Error("Document root watcher stopped", "error", err)
			}
		}()

		slog.Info("Content cache enabled", "ttl", cfg.CacheTTL, "max_file_size", cfg.CacheMaxFileSize)
	}

	staticHandler := static.NewHandler(resolver, cache, cacheMetrics)
	healthChecks := []server.HealthCheck{documentRootCheck(resolver.Root())}

	srv := server.New(cfg, staticHandler, store, registry, healthChecks)

	done := runGracefulShutdown(srv, cfg.ShutdownGrace, cancelWatch, stopEviction)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
