package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/cors"

	"github.com/archon-research/stl-trade/internal/ports/inbound"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	// Addr is the address to listen on (e.g., ":8080").
	Addr string

	// AllowedOrigins lists browser origins allowed to call the API. Empty disables CORS headers.
	AllowedOrigins []string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// ServerConfigDefaults returns a config with default values.
func ServerConfigDefaults() ServerConfig {
	return ServerConfig{
		Addr:         ":8080",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		Logger:       slog.Default(),
	}
}

// Server serves the order API and the health probes on one listener.
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer wires the order API and probes into an http.Server.
func NewServer(config ServerConfig, orders inbound.OrderService, checker inbound.HealthChecker, shuttingDown *atomic.Bool) (*Server, error) {
	if orders == nil {
		return nil, errors.New("order service is required")
	}
	if checker == nil {
		return nil, errors.New("health checker is required")
	}
	defaults := ServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Server{
		server: &http.Server{
			Addr:         config.Addr,
			Handler:      NewRouter(config, orders, checker, shuttingDown),
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		},
		logger: config.Logger.With("component", "api-server"),
	}, nil
}

// NewRouter returns the routed handler, wrapped in CORS when origins are configured.
func NewRouter(config ServerConfig, orders inbound.OrderService, checker inbound.HealthChecker, shuttingDown *atomic.Bool) http.Handler {
	handler := NewHandler(orders, config.Logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	NewHealth(checker, shuttingDown, handler).RegisterRoutes(mux)

	if len(config.AllowedOrigins) == 0 {
		return mux
	}
	return cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", OwnerHeader},
	}).Handler(mux)
}

// Start listens in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting api server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server failed", "error", err)
		}
	}()
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
