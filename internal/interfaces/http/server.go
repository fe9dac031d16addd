// Package http hosts the API server: routing, request identification,
// authentication, rate limiting and CORS around the dataset endpoints.
package http

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/concentra-hq/concentra/internal/config"
	"github.com/concentra-hq/concentra/internal/errs"
	"github.com/concentra-hq/concentra/internal/interfaces/http/handlers"
	"github.com/concentra-hq/concentra/internal/metrics"
	"github.com/concentra-hq/concentra/internal/net/ratelimit"
	"github.com/concentra-hq/concentra/internal/pipeline"
)

// Idle rate-limiter keys are swept in the background so long-running servers
// do not accumulate buckets for one-off clients.
const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 30 * time.Minute
)

// Server is the HTTP front end over the pipeline controller.
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers.Handlers
	limiter  *ratelimit.Limiter
	cfg      config.Config
	done     chan struct{}
}

// NewServer builds the server and verifies the port is bindable.
func NewServer(cfg config.Config, ctrl *pipeline.Controller) (*Server, error) {
	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		handlers: handlers.NewHandlers(cfg, ctrl),
		limiter:  ratelimit.NewLimiter(cfg.RateLimitPerMinute),
		cfg:      cfg,
		done:     make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures middleware and all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.authMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	// Liveness and scraping stay outside the API prefix and its limits.
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// OPTIONS is routed so CORS preflights reach the middleware chain, which
	// answers them before any handler runs.
	api := s.router.PathPrefix(s.cfg.APIPrefix).Subrouter()
	api.HandleFunc("/datasets/upload", s.handlers.Upload).Methods("POST", "OPTIONS")
	api.HandleFunc("/datasets/{id}/schema", s.handlers.Schema).Methods("GET", "OPTIONS")
	api.HandleFunc("/datasets/{id}/analyze", s.handlers.Analyze).Methods("POST", "OPTIONS")
	api.HandleFunc("/datasets/{id}/export/{format}", s.handlers.Download).Methods("GET", "OPTIONS")
	api.HandleFunc("/datasets/{id}/insights", s.handlers.Insights).Methods("GET", "OPTIONS")
	api.HandleFunc("/datasets/{id}/lineage", s.handlers.Lineage).Methods("GET", "OPTIONS")

	s.router.NotFoundHandler = s.requestIDMiddleware(http.HandlerFunc(s.handlers.NotFound))
}

// exempt reports whether a path bypasses authentication and rate limiting.
func exempt(path string) bool {
	return path == "/health" || path == "/metrics"
}

// requestIDMiddleware echoes the caller's X-Request-ID or generates one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		ctx := handlers.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs every request with its status and latency, and feeds
// the request metrics.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		duration := time.Since(start)

		path := routePath(r)
		metrics.RequestsTotal.WithLabelValues(path, strconv.Itoa(wrapper.statusCode)).Inc()
		metrics.RequestDuration.WithLabelValues(path).Observe(duration.Seconds())

		log.Info().
			Str("request_id", handlers.RequestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

// authMiddleware enforces the configured API key via X-API-Key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey == "" || exempt(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			handlers.WriteError(w, r, errs.Unauthorized("Invalid or missing API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware enforces the per-minute budget per (client, path).
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		client := clientIdentifier(r)
		if !s.limiter.Allow(client, r.URL.Path) {
			retryAfter := s.limiter.RetryAfter(client, r.URL.Path)
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			metrics.RateLimitedTotal.Inc()
			handlers.WriteError(w, r, errs.New(errs.KindRateLimited, "Rate limit exceeded; retry after %d seconds", seconds))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware applies the configured origin allowlist.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// clientIdentifier keys the rate limiter: the API key when supplied,
// otherwise the remote host.
func clientIdentifier(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// routePath returns the route template when one matched, keeping metric
// cardinality bounded.
func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Start runs the server until it is shut down.
func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Addr()).Str("prefix", s.cfg.APIPrefix).Msg("starting HTTP server")
	go s.sweepLimiter(limiterSweepInterval, limiterIdleTTL, s.done)
	return s.server.ListenAndServe()
}

// sweepLimiter periodically evicts idle rate-limiter keys until done closes.
func (s *Server) sweepLimiter(interval, idle time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := s.limiter.EvictIdle(idle); n > 0 {
				log.Debug().Int("evicted", n).Msg("rate limiter idle sweep")
			}
		}
	}
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	close(s.done)
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

// responseWrapper captures status codes for logging and metrics.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
