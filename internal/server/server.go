// Package server hosts the JSON API over the experiments ledger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/3leaps/gohat/internal/server/handlers"
	"github.com/3leaps/gohat/internal/server/middleware"
	"github.com/3leaps/gohat/pkg/ledger"
)

const (
	defaultReadTimeout     = 30 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Server owns the router and the HTTP listener.
type Server struct {
	host string
	port int

	router   chi.Router
	health   *handlers.HealthManager
	log      *zap.Logger
	version  handlers.VersionInfo
	ledger   *ledger.Ledger
	root     string
	rps      float64
	burst    int
	timeouts Timeouts

	httpServer *http.Server
	listener   net.Listener
}

// Timeouts bounds connection handling and graceful shutdown.
type Timeouts struct {
	Read     time.Duration
	Write    time.Duration
	Idle     time.Duration
	Shutdown time.Duration
}

// Option customizes a Server.
type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

func WithVersion(info handlers.VersionInfo) Option {
	return func(s *Server) { s.version = info }
}

// WithLedger mounts the /api routes over l, rooted at root.
func WithLedger(l *ledger.Ledger, root string) Option {
	return func(s *Server) {
		s.ledger = l
		s.root = root
	}
}

// WithRateLimit throttles mutating API routes. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		s.rps = rps
		s.burst = burst
	}
}

// WithTimeouts overrides the non-zero fields of t.
func WithTimeouts(t Timeouts) Option {
	return func(s *Server) {
		if t.Read > 0 {
			s.timeouts.Read = t.Read
		}
		if t.Write > 0 {
			s.timeouts.Write = t.Write
		}
		if t.Idle > 0 {
			s.timeouts.Idle = t.Idle
		}
		if t.Shutdown > 0 {
			s.timeouts.Shutdown = t.Shutdown
		}
	}
}

func New(host string, port int, opts ...Option) *Server {
	s := &Server{
		host:    host,
		port:    port,
		log:     zap.NewNop(),
		version: handlers.VersionInfo{Version: "dev"},
		timeouts: Timeouts{
			Read:     defaultReadTimeout,
			Write:    defaultWriteTimeout,
			Idle:     defaultIdleTimeout,
			Shutdown: defaultShutdownTimeout,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.health = handlers.NewHealthManager(s.version.Version)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RecoveryWithLogger(s.log))
	r.Use(middleware.Logger(s.log))

	r.NotFound(handlers.NotFoundHandler)
	r.MethodNotAllowed(handlers.MethodNotAllowedHandler)

	r.Get("/health", s.health.HealthHandler)
	r.Get("/health/live", s.health.LivenessHandler)
	r.Get("/version", handlers.VersionHandler(s.version))

	if s.ledger != nil {
		s.health.RegisterChecker("experiments_dir", handlers.LedgerHealthChecker(s.root))
		limiter := middleware.NewLimiter(s.rps, s.burst)
		jobs := handlers.NewJobsHandler(s.ledger, s.log)
		r.Mount("/api", jobs.Routes(middleware.RateLimit(limiter)))
	}

	s.router = r
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the configured port; see Addr for the bound one.
func (s *Server) Port() int {
	return s.port
}

// Listen binds the configured address. Port 0 picks a free port.
func (s *Server) Listen() (net.Addr, error) {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Serve handles requests until ctx is done, then shuts down gracefully
// within the shutdown timeout. Listen is called first if needed.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.timeouts.Read,
		WriteTimeout: s.timeouts.Write,
		IdleTimeout:  s.timeouts.Idle,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.listener.Addr().String()))
		errCh <- s.httpServer.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeouts.Shutdown)
	defer cancel()

	s.log.Info("Shutting down HTTP server", zap.Duration("timeout", s.timeouts.Shutdown))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
