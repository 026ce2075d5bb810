// Package api serves the analyzer and the stored analyses over REST.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"fca_cleaner/internal/batch"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/metrics"
	"fca_cleaner/internal/pipeline"
	"fca_cleaner/internal/storage"
)

const (
	defaultMaxBatch = 100
	maxBodyBytes    = 1 << 20
	maxListLimit    = 1000
	source          = "api"
)

// Config holds configuration for the API server.
type Config struct {
	Port           int
	AuthEnabled    bool
	APIKeys        []string // List of valid API keys.
	RequestTimeout time.Duration
	MaxBatch       int
}

// Server provides REST access to the analyzer.
type Server struct {
	proc        *pipeline.Processor
	metrics     *metrics.Recorder
	logger      logging.Logger
	port        int
	authEnabled bool
	apiKeys     map[string]bool
	timeout     time.Duration
	maxBatch    int
}

// NewServer creates a server. /metrics serves the processor's recorder, if
// it has one. logger may be nil.
func NewServer(proc *pipeline.Processor, logger logging.Logger, cfg Config) *Server {
	keys := make(map[string]bool)
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			keys[k] = true
		}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}

	return &Server{
		proc:        proc,
		metrics:     proc.Metrics(),
		logger:      logger.Named("api"),
		port:        cfg.Port,
		authEnabled: cfg.AuthEnabled,
		apiKeys:     keys,
		timeout:     cfg.RequestTimeout,
		maxBatch:    cfg.MaxBatch,
	}
}

// Handler returns the full router: middleware, /api/v1 and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Mount("/api/v1", s.Router())
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// Router returns the /api/v1 routes for embedding in other servers.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	// Health check (no auth required).
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.authEnabled {
			r.Use(s.authMiddleware)
		}

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/clean", s.handleClean)
		r.Post("/batch", s.handleBatch)

		r.Get("/analyses", s.handleListAnalyses)
		r.Get("/analyses/{id}", s.handleGetAnalysis)
		r.Get("/stats", s.handleStats)

		r.Get("/tables", s.handleTables)
		r.Get("/tables/{kind}", s.handleTableCodes)
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API listening",
			logging.String("addr", srv.Addr),
			logging.Bool("auth", s.authEnabled),
			logging.Bool("storage", s.proc.Store() != nil))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// corsMiddleware adds CORS headers for browser access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates API key authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")

		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		// Query parameter for simple testing.
		if apiKey == "" {
			apiKey = r.URL.Query().Get("api_key")
		}

		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "API key required")
			return
		}

		if !s.apiKeys[apiKey] {
			writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Int("bytes", ww.BytesWritten()),
			logging.Duration("took", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// AnalyzeRequest is the body of POST /analyze.
type AnalyzeRequest struct {
	Pattern string `json:"pattern"`
	Journey string `json:"journey,omitempty"`
	Persist bool   `json:"persist,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	if req.Persist && s.proc.Store() == nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.ErrNoStore.Error())
		return
	}

	out, err := s.proc.Process(r.Context(), source, pipeline.Input{Pattern: req.Pattern, Journey: req.Journey}, req.Persist)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CleanRequest is the body of POST /clean.
type CleanRequest struct {
	Pattern string `json:"pattern"`
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	var req CleanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Pattern) == "" {
		writeError(w, http.StatusBadRequest, "pattern is required")
		return
	}
	writeJSON(w, http.StatusOK, s.proc.Analyzer().Clean(req.Pattern))
}

// BatchRequest is the body of POST /batch. Patterns and Items are analysed
// in that order.
type BatchRequest struct {
	Patterns []string         `json:"patterns,omitempty"`
	Items    []pipeline.Input `json:"items,omitempty"`
	Persist  bool             `json:"persist,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	inputs := make([]pipeline.Input, 0, len(req.Patterns)+len(req.Items))
	for _, p := range req.Patterns {
		inputs = append(inputs, pipeline.Input{Pattern: p})
	}
	inputs = append(inputs, req.Items...)

	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "No patterns specified")
		return
	}
	if len(inputs) > s.maxBatch {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d patterns per batch request", s.maxBatch))
		return
	}
	if req.Persist && s.proc.Store() == nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.ErrNoStore.Error())
		return
	}

	runner := batch.NewRunner(s.proc, batch.Options{Persist: req.Persist, Source: source, Logger: s.logger})
	rep, err := runner.Run(r.Context(), inputs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// ListResponse is the body returned by GET /analyses.
type ListResponse struct {
	Analyses []storage.Record `json:"analyses"`
	Count    int              `json:"count"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

func (s *Server) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	store, ok := s.requireStore(w)
	if !ok {
		return
	}

	p, err := parseQueryParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := store.List(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []storage.Record{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Analyses: records, Count: len(records), Limit: p.Limit, Offset: p.Offset})
}

func parseQueryParams(r *http.Request) (storage.QueryParams, error) {
	q := r.URL.Query()
	p := storage.QueryParams{
		FareStatus: q.Get("fare_status"),
		ErrorCode:  q.Get("error_code"),
		Source:     q.Get("source"),
		FullText:   q.Get("q"),
		Limit:      100,
	}

	if v := q.Get("valid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return p, fmt.Errorf("invalid valid parameter %q", v)
		}
		p.Valid = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid limit %q", v)
		}
		p.Limit = min(n, maxListLimit)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, fmt.Errorf("invalid offset %q", v)
		}
		p.Offset = n
	}
	return p, nil
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	store, ok := s.requireStore(w)
	if !ok {
		return
	}

	rec, err := store.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	store, ok := s.requireStore(w)
	if !ok {
		return
	}

	stats, err := store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.proc.Analyzer().Tables().Sizes())
}

func (s *Server) handleTableCodes(w http.ResponseWriter, r *http.Request) {
	tables := s.proc.Analyzer().Tables()

	var codes []string
	switch chi.URLParam(r, "kind") {
	case "airports":
		codes = tables.Airports()
	case "airlines":
		codes = tables.Airlines()
	case "currencies":
		codes = tables.Currencies()
	default:
		writeError(w, http.StatusNotFound, "Unknown table (use airports, airlines or currencies)")
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

func (s *Server) requireStore(w http.ResponseWriter) (storage.Store, bool) {
	store := s.proc.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, pipeline.ErrNoStore.Error())
		return nil, false
	}
	return store, true
}

// Helper functions.

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
