// Package httpapi serves the read-only operational surface: health,
// Prometheus metrics, engine status, and the recent decision history.
// It is bound to loopback by default and never mutates engine state.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ninjahangover/signalcartel-alien-sub001/internal/engine"
)

// Config holds the observability server tunables.
type Config struct {
	// Host defaults to loopback; this is an ops surface, not a public API.
	Host           string        `yaml:"host" default:"127.0.0.1"`
	Port           int           `yaml:"port" default:"8090" validate:"gte=0,lte=65535"`
	ReadTimeout    time.Duration `yaml:"read_timeout" default:"10s" validate:"gt=0"`
	WriteTimeout   time.Duration `yaml:"write_timeout" default:"10s" validate:"gt=0"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" default:"60s" validate:"gt=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" default:"5s" validate:"gt=0"`
}

// DefaultConfig returns the stock server tunables.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           8090,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

type ctxKey int

const requestIDKey ctxKey = iota

// Server is the read-only HTTP server over one engine instance.
type Server struct {
	cfg     Config
	router  *mux.Router
	server  *http.Server
	engine  *engine.Engine
	version string
	logger  zerolog.Logger
}

// NewServer builds the server and verifies the port is free. A nil config
// uses the defaults.
func NewServer(cfg *Config, eng *engine.Engine, version string) (*Server, error) {
	if cfg == nil {
		c := DefaultConfig()
		cfg = &c
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		cfg:     *cfg,
		router:  mux.NewRouter(),
		engine:  eng,
		version: version,
		logger:  log.With().Str("component", "httpapi").Logger(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	// Prometheus speaks its own content type, so it sits outside the JSON
	// subrouter.
	s.router.Handle("/metrics", s.engine.Metrics().Handler()).Methods("GET")

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.jsonContentTypeMiddleware)

	// OPTIONS is listed so preflights reach the CORS middleware; it answers
	// them before any handler runs.
	api.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	api.HandleFunc("/status", s.handleStatus).Methods("GET", "OPTIONS")
	api.HandleFunc("/decisions", s.handleDecisions).Methods("GET", "OPTIONS")
	api.HandleFunc("/decisions/{id}", s.handleDecision).Methods("GET", "OPTIONS")
	api.HandleFunc("/weights", s.handleWeights).Methods("GET", "OPTIONS")

	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		s.logger.Info().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Loopback origins only; anything else gets no CORS grant.
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("observability server starting")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("observability server shutting down")
	return s.server.Shutdown(ctx)
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.server.Addr
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// responseWrapper captures the status code for request logging.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
