// Package server exposes the shopping repositories over HTTP/JSON, with
// Server-Sent Events for live lists.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

// Server holds the HTTP handlers' dependencies.
type Server struct {
	port   int
	stores *shopping.StoreRepository
	items  *shopping.ItemRepository
	logger *slog.Logger

	// streamRetry bounds how long a live stream keeps resubscribing after
	// connection errors before giving up.
	streamRetry time.Duration
}

// New creates a server. The repositories must resolve owners from the
// request context (a nil identity does).
func New(port int, stores *shopping.StoreRepository, items *shopping.ItemRepository, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		port:        port,
		stores:      stores,
		items:       items,
		logger:      logger,
		streamRetry: 5 * time.Minute,
	}
}

// HTTPServer returns an *http.Server serving the routes on the configured
// port. Write timeouts are disabled so event streams stay open.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.RegisterRoutes(),
		IdleTimeout:       time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
	}
}
