package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config configures the counter service.
type Config struct {
	Addr string

	// FailIDs answer 500 instead of recording the click.
	FailIDs []int

	// Latency is added to every counter request.
	Latency time.Duration

	Logger *zap.Logger
}

// Server serves the counter API.
type Server struct {
	store   *Store
	cfg     Config
	log     *zap.Logger
	failIDs map[int]struct{}
	now     func() time.Time

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	handler http.Handler
}

// NewServer builds the service around store.
func NewServer(cfg Config, store *Store) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if store == nil {
		store = NewStore()
	}

	s := &Server{
		store:   store,
		cfg:     cfg,
		log:     cfg.Logger,
		failIDs: make(map[int]struct{}, len(cfg.FailIDs)),
		now:     time.Now,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of request durations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		registry: prometheus.NewRegistry(),
	}
	for _, id := range cfg.FailIDs {
		s.failIDs[id] = struct{}{}
	}
	s.registry.MustRegister(s.requestsTotal, s.requestDuration)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /counter/{id}", s.handleCounter)
	mux.HandleFunc("GET /stats/{id}", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.handler = s.instrument(mux)

	return s
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Registry returns the registry holding the request metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// ListenAndServe serves on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("counter service listening",
			zap.String("addr", ln.Addr().String()),
			zap.Ints("fail_ids", s.cfg.FailIDs),
			zap.Duration("latency", s.cfg.Latency))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down counter service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and duration per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := routePath(r.Pattern)
		elapsed := time.Since(start)
		s.requestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		s.requestDuration.WithLabelValues(r.Method, path).Observe(elapsed.Seconds())

		if ce := s.log.Check(zap.DebugLevel, "request"); ce != nil {
			ce.Write(
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed))
		}
	})
}

// routePath strips the method from a mux pattern such as "POST /counter/{id}".
func routePath(pattern string) string {
	if pattern == "" {
		return "unmatched"
	}
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bannerID"})
		return
	}

	if s.cfg.Latency > 0 {
		timer := time.NewTimer(s.cfg.Latency)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}

	if _, fail := s.failIDs[id]; fail {
		s.log.Debug("injected failure", zap.Int("banner_id", id))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not send message"})
		return
	}

	s.store.Record(id, s.now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "message sent"})
}

type statsRequest struct {
	TsFrom time.Time `json:"tsFrom"`
	TsTo   time.Time `json:"tsTo"`
}

// StatsResponse is the body of a successful GET /stats/{id}.
type StatsResponse struct {
	BannerID int    `json:"bannerID"`
	TsFrom   string `json:"tsFrom"`
	TsTo     string `json:"tsTo"`
	Counts   int64  `json:"Counts"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid bannerID"})
		return
	}

	var req statsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	count, err := s.store.Count(id, req.TsFrom, req.TsTo)
	switch {
	case errors.Is(err, ErrNoData):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, ErrInvalidRange):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		s.log.Error("failed to get stats", zap.Int("banner_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not retrieve stats"})
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		BannerID: id,
		TsFrom:   req.TsFrom.Format(time.RFC3339),
		TsTo:     req.TsTo.Format(time.RFC3339),
		Counts:   count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
