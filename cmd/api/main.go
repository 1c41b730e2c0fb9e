package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/internal/backend"
	"github.com/Lucaslls20/Lista-de-Compras/internal/config"
	"github.com/Lucaslls20/Lista-de-Compras/internal/server"
	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

func gracefulShutdown(apiServer *http.Server, b *backend.Backend, stopStreams context.CancelFunc, logger *slog.Logger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	logger.Info("shutting down gracefully, press Ctrl+C again to force")
	stop()

	// The server has 5 seconds to finish the requests it is handling.
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxTimeout); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopStreams()
	if err := b.Close(); err != nil {
		logger.Error("closing backend", "error", err)
	}

	logger.Info("server exiting")
	done <- true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	ctx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()

	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s backend: %v", cfg.Backend, err)
	}
	go func() {
		if err := b.RunStreams(ctx); err != nil {
			logger.Error("change streams stopped, live lists only see local writes", "error", err)
		}
	}()

	// Owners come from the request context, set by the owner middleware.
	cascade := shopping.NewCascadeDeleter(b.Store, shopping.DefaultRegistry(), logger)
	stores := shopping.NewStoreRepository(b.Store, cascade, nil, logger)
	items := shopping.NewItemRepository(b.Store, nil, logger)

	apiServer := server.New(cfg.Port, stores, items, logger).HTTPServer()

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, b, stopStreams, logger, done)

	logger.Info("starting server", "addr", apiServer.Addr, "backend", cfg.Backend)
	err = apiServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("HTTP server ListenAndServe error: %v", err)
	}

	<-done
	logger.Info("graceful shutdown complete")
}
