// Package api exposes the HTTP surface: list, subscriber, and message
// endpoints plus health. Ownership is taken from the X-Owner-ID header;
// authenticating that header is the deployment's reverse proxy's problem.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/maildrip/maildrip/internal/config"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/service/list"
	"github.com/maildrip/maildrip/internal/service/message"
	"github.com/maildrip/maildrip/internal/service/subscription"
)

// Server is the HTTP API server.
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
}

// NewServer wires the services into an HTTP server.
func NewServer(cfg config.ServerConfig, lists *list.Service, subs *subscription.Service, messages *message.Service) *Server {
	handlers := NewHandlers(lists, subs, messages)
	router := SetupRoutes(handlers)

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
