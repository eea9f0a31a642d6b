// Package server provides the HTTP API for audits and site generation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jonathan/siteforge/internal/audit"
	"github.com/jonathan/siteforge/internal/directives"
	"github.com/jonathan/siteforge/internal/generation"
	"github.com/jonathan/siteforge/internal/logging"
	"github.com/jonathan/siteforge/internal/metrics"
	"github.com/jonathan/siteforge/internal/progress"
	"github.com/jonathan/siteforge/internal/server/ratelimit"
	"github.com/jonathan/siteforge/internal/types"
)

// DefaultStreamPoll is how often streaming endpoints read the event log.
const DefaultStreamPoll = 500 * time.Millisecond

// Audits is the audit surface the API serves.
type Audits interface {
	Start(ctx context.Context, rawURL string) (*types.AuditJob, error)
	Get(ctx context.Context, id uuid.UUID) (*types.AuditJob, error)
	Status(ctx context.Context, id uuid.UUID) (*audit.Status, error)
	Events(ctx context.Context, id uuid.UUID, after int) (*progress.Page, error)
}

// Generations is the generation surface the API serves.
type Generations interface {
	Start(ctx context.Context, req generation.Request) (*generation.Result, error)
	Get(ctx context.Context, id uuid.UUID) (*generation.Result, error)
	Deploy(ctx context.Context, jobID uuid.UUID, version int) (*types.GenerationAttempt, error)
}

// Config holds server configuration and collaborators.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	Audits Audits
	// Generations may be nil, in which case generation endpoints answer 503.
	Generations Generations
	Directives  *directives.Catalog
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	RateLimit   *ratelimit.Config
	// Health is called by GET /health; nil reports healthy.
	Health     func(ctx context.Context) error
	StreamPoll time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	router          chi.Router
	audits          Audits
	generations     Generations
	directives      *directives.Catalog
	metrics         *metrics.Metrics
	logger          *slog.Logger
	rateLimiter     *ratelimit.Limiter
	health          func(ctx context.Context) error
	validate        *validator.Validate
	upgrader        websocket.Upgrader
	streamPoll      time.Duration
	shutdownTimeout time.Duration
}

// New creates a server and registers its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Audits == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	if cfg.Directives == nil {
		catalog, err := directives.Default()
		if err != nil {
			return nil, err
		}
		cfg.Directives = catalog
	}

	s := &Server{
		router:          chi.NewRouter(),
		audits:          cfg.Audits,
		generations:     cfg.Generations,
		directives:      cfg.Directives,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		rateLimiter:     ratelimit.NewLimiter(cfg.RateLimit),
		health:          cfg.Health,
		validate:        newValidator(),
		streamPoll:      cfg.StreamPoll,
		shutdownTimeout: cfg.ShutdownTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	if s.streamPoll <= 0 {
		s.streamPoll = DefaultStreamPoll
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout <= 0 {
		readHeaderTimeout = 10 * time.Second
	}

	s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(s.withLogging)
	r.Use(middleware.Recoverer)
	r.Use(s.withMetrics)
	r.Use(s.withCORS)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/directives", s.handleListDirectives)

	r.Route("/audits", func(r chi.Router) {
		r.With(s.withRateLimit).Post("/", s.handleCreateAudit)
		r.Get("/{id}", s.handleGetAudit)
		r.Get("/{id}/status", s.handleAuditStatus)
		r.Get("/{id}/events", s.handleAuditEvents)
		r.Get("/{id}/stream", s.handleAuditStream)
		r.Get("/{id}/ws", s.handleAuditWebsocket)
	})

	r.Route("/generations", func(r chi.Router) {
		r.With(s.withRateLimit).Post("/", s.handleCreateGeneration)
		r.Get("/{id}", s.handleGetGeneration)
		r.With(s.withRateLimit).Post("/{id}/versions/{version}/deploy", s.handleDeploy)
	})
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	defer s.rateLimiter.Stop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withLogging logs every request with its status and duration.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			logging.Duration(time.Since(start)))
	})
}

// withMetrics records request counts and latency by route pattern.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}

// withRateLimit rejects clients that exceed the configured rate.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(clientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !allowed {
			retryAfter := max(int(info.RetryAfter.Round(time.Second)/time.Second), 1)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			s.logger.Warn("rate limit exceeded", slog.String("client", clientID(r)), slog.String("path", r.URL.Path))
			s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID identifies the caller by the IP address of the connection.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			logging.WithError(s.logger, err).Warn("health check failed")
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDirectives(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"directives": s.directives.All()})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.WithError(s.logger, err).Warn("failed to encode response")
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps err onto a status and writes it. Server errors are logged
// and not echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable && status != http.StatusBadGateway {
		logging.WithError(s.logger, err).Error("request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path))
		s.errorResponse(w, status, http.StatusText(status))
		return
	}

	var verr *ErrValidation
	if errors.As(err, &verr) {
		s.jsonResponse(w, status, map[string]any{"error": verr.Error(), "fields": verr.Fields})
		return
	}
	s.errorResponse(w, status, err.Error())
}
