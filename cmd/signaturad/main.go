// cmd/signaturad/main.go
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/signatura/signatura-core-go/internal/config"
	"github.com/signatura/signatura-core-go/internal/server"
	"github.com/signatura/signatura-core-go/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}

	handler, err := server.New(cfg, store, logger)
	if err != nil {
		logger.Error("server init failed", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           server.NewMetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("signaturad starting", "addr", srv.Addr, "env", cfg.Env, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	go func() {
		logger.Info("metrics listener starting", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// buildStore selects the storage backend. The postgres backend runs
// migrations at startup; the memory backend serves development and tests.
func buildStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "postgres":
		store, err := storage.NewPostgres(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if pg, ok := store.(interface{ DB() *sql.DB }); ok {
			if err := storage.MigratePostgres(context.Background(), pg.DB()); err != nil {
				return nil, err
			}
		}
		logger.Info("postgres storage ready")
		return store, nil
	default:
		return storage.NewMemory(), nil
	}
}
