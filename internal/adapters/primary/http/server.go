package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/PolycarpusTack/papin-sub003/internal/adapters/secondary/optimization"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/entities"
	"github.com/PolycarpusTack/papin-sub003/internal/domain/ports"
)

const (
	// requestsPerMinute is the per-client budget across all endpoints
	requestsPerMinute = 600

	// maxBodyBytes bounds JSON request bodies
	maxBodyBytes = 64 << 10
)

// Server is the diagnostics HTTP server over an optimization Manager
type Server struct {
	server  *http.Server
	hub     *eventHub
	manager *optimization.Manager
	config  entities.DiagnosticsConfig
	limiter *rateLimiter
	logger  *slog.Logger

	mu        sync.RWMutex
	running   bool
	addr      string
	cancel    context.CancelFunc
	pusherEnd chan struct{}
}

// NewServer creates a new diagnostics server. manager must not be nil.
func NewServer(manager *optimization.Manager, config entities.DiagnosticsConfig, logger *slog.Logger) *Server {
	if manager == nil {
		panic("optimization manager cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		manager: manager,
		hub:     newEventHub(),
		config:  config,
		limiter: newRateLimiter(requestsPerMinute, time.Minute),
		logger:  logger.With(slog.String("component", "diagnostics")),
	}
}

// Start binds the listener and serves in the background. A bind failure is
// returned immediately.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("server already running")
	}

	listener, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.Address(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// The previous hub is finished after a Stop
	s.hub = newEventHub()
	go s.hub.run(runCtx)

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.config.GetReadTimeout(),
		ReadHeaderTimeout: s.config.GetReadTimeout(),
		WriteTimeout:      s.config.GetWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}
	s.addr = listener.Addr().String()
	s.pusherEnd = make(chan struct{})
	s.running = true

	go s.pushStats(runCtx, s.hub, s.config.GetStatsInterval(), s.pusherEnd)

	server := s.server
	go func() {
		s.logger.Info("Diagnostics server listening", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Diagnostics server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop closes every websocket and shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("server not running")
	}

	s.cancel()
	s.hub.disconnectAll()
	<-s.pusherEnd

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.GetShutdownTimeout())
	defer cancel()

	s.running = false
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("Diagnostics server stopped")
	return nil
}

// Broadcast sends an event to all connected websocket clients
func (s *Server) Broadcast(event ports.UpdateEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return errors.New("server not running")
	}

	s.hub.send(event)
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the bound listener address, useful when port 0 was requested
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Handler returns the full middleware chain and routes
func (s *Server) Handler() http.Handler {
	router := s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.GetCORSOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	return c.Handler(router)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	api.HandleFunc("/memory/stats", s.handleMemoryStats).Methods(http.MethodGet)
	api.HandleFunc("/memory/limits", s.handleGetMemoryLimits).Methods(http.MethodGet)
	api.HandleFunc("/memory/limits", s.handleUpdateMemoryLimits).Methods(http.MethodPut)
	api.HandleFunc("/memory/context-tokens", s.handleUpdateContextTokens).Methods(http.MethodPut)
	api.HandleFunc("/memory/gc", s.handleForceGC).Methods(http.MethodPost)

	api.HandleFunc("/caches", s.handleListCaches).Methods(http.MethodGet)
	api.HandleFunc("/caches/{name}/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/caches/{name}/config", s.handleGetCacheConfig).Methods(http.MethodGet)
	api.HandleFunc("/caches/{name}/config", s.handleUpdateCacheConfig).Methods(http.MethodPut)
	api.HandleFunc("/caches/{name}/clear", s.handleClearCache).Methods(http.MethodPost)

	router.HandleFunc("/ws/stats", s.handleWebSocket).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.manager.Gatherer(), promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Apply middleware in order: security -> rate limiting -> logging -> recovery
	handler := securityHeadersMiddleware(router)
	handler = rateLimitMiddleware(handler, s.limiter)
	handler = createLoggingMiddleware(handler, s.logger)
	handler = createRecoveryMiddleware(handler, s.logger)

	return handler
}

// pushStats broadcasts a stats report every interval while clients are connected
func (s *Server) pushStats(ctx context.Context, hub *eventHub, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.size() == 0 {
				continue
			}
			hub.send(s.statsEvent())
		}
	}
}

func (s *Server) statsEvent() ports.UpdateEvent {
	report := s.manager.Report()
	return ports.UpdateEvent{
		Type:      ports.EventTypeStats,
		Timestamp: report.Timestamp,
		Data:      report,
	}
}

// Ensure Server implements ports.DiagnosticsServer
var _ ports.DiagnosticsServer = (*Server)(nil)
