// Package httpapi serves the query and streaming surface over the cache and
// the egress topic. Handlers are stateless projections; the single writer
// endpoint only produces to the ingress topic, it never computes.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/sawpanic/prospector/internal/cache"
	"github.com/sawpanic/prospector/internal/models"
	"github.com/sawpanic/prospector/internal/telemetry"
)

// CacheReader is the cache surface the API needs.
type CacheReader interface {
	ReadResult(ctx context.Context, portfolioID string) (*cache.CachedResult, error)
	ScanResults(ctx context.Context) ([]cache.CachedResult, error)
	Ping(ctx context.Context) error
}

// Publisher is the producer surface the API needs.
type Publisher interface {
	Produce(ctx context.Context, topic, key string, value []byte, partition int) error
	Healthy() bool
	Ping(ctx context.Context) error
}

// TailReader is one ephemeral egress consumer feeding a streaming client.
type TailReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// TailFactory opens a new tail consumer per streaming connection.
type TailFactory func() TailReader

// Config holds server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	IngressTopic string
	UpdateRPS    float64
	UpdateBurst  int
}

// Server is the HTTP API over the cache and egress topic.
type Server struct {
	router   *mux.Router
	srv      *http.Server
	cfg      Config
	cache    CacheReader
	producer Publisher
	newTail  TailFactory
	tracker  *telemetry.Tracker
	limiter  *rate.Limiter
	log      zerolog.Logger
}

// NewServer wires routes and middleware.
func NewServer(cfg Config, cacheReader CacheReader, producer Publisher, newTail TailFactory,
	tracker *telemetry.Tracker, registry *prometheus.Registry, log zerolog.Logger) *Server {
	if cfg.UpdateRPS <= 0 {
		cfg.UpdateRPS = 100
	}
	if cfg.UpdateBurst <= 0 {
		cfg.UpdateBurst = int(cfg.UpdateRPS) * 2
	}

	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		cache:    cacheReader,
		producer: producer,
		newTail:  newTail,
		tracker:  tracker,
		limiter:  rate.NewLimiter(rate.Limit(cfg.UpdateRPS), cfg.UpdateBurst),
		log:      log,
	}

	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/risk/{portfolio_id}", s.handleRisk).Methods(http.MethodGet)
	s.router.HandleFunc("/portfolios/at-risk", s.handleAtRisk).Methods(http.MethodGet)
	s.router.HandleFunc("/advisor/{advisor_id}/portfolios", s.handleAdvisorPortfolios).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/summary", s.handleMetricsSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/portfolio/update", s.handlePortfolioUpdate).Methods(http.MethodPost)
	s.router.HandleFunc("/portfolio/simulate", s.handleSimulate).Methods(http.MethodPost)
	s.router.HandleFunc("/stream/risk-updates", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/risk-updates", s.handleWebsocket).Methods(http.MethodGet)
	if registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		// WriteTimeout is deliberately unset on the server; the timeout
		// middleware bounds non-streaming requests while SSE/WS stay open.
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("http api listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKeyRequestID struct{}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		requestID, _ := r.Context().Value(ctxKeyRequestID{}).(string)
		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

// timeoutMiddleware bounds ordinary requests; streaming endpoints are
// exempt because they hold the connection open on purpose.
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/stream/") || strings.HasPrefix(r.URL.Path, "/ws/") {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg, detail string) {
	s.writeJSON(w, status, models.NewErrorResponse(msg, detail))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, "not found", r.URL.Path)
}
