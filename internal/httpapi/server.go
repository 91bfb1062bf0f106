// Package httpapi exposes the analysis engine over a read-only JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/engine"
)

// Analyzer is the engine surface the API serves.
type Analyzer interface {
	Analyze(ctx context.Context, symbol string) (*engine.Analysis, error)
	Scan(ctx context.Context, symbols []string) (*engine.ScanResult, error)
}

// Options wires the API's collaborators.
type Options struct {
	// Symbols is the scan universe served by /signals.
	Symbols []string
	// Provider names the market data source in /health.
	Provider string
	// BreakerState reports the provider breaker in /health when set.
	BreakerState func() string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

// Server is the read-only HTTP API.
type Server struct {
	router   *mux.Router
	server   *http.Server
	analyzer Analyzer
	opts     Options
	started  time.Time
}

// NewServer builds the API around an analyzer.
func NewServer(addr string, analyzer Analyzer, opts Options) (*Server, error) {
	if analyzer == nil {
		return nil, &domain.InvalidParameterError{Param: "analyzer", Reason: "must not be nil"}
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 30 * time.Second
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 25 * time.Second
	}

	s := &Server{
		router:   mux.NewRouter(),
		analyzer: analyzer,
		opts:     opts,
		started:  time.Now(),
	}
	s.routes()

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("http server started")
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server stopping")
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.Use(s.requestID)
	s.router.Use(s.logRequests)
	s.router.Use(s.timeout)

	api := s.router.PathPrefix("/").Subrouter()
	api.Use(jsonContentType)

	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/analyze/{symbol}", s.handleAnalyze).Methods(http.MethodGet)
	api.HandleFunc("/signals", s.handleSignals).Methods(http.MethodGet)

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Provider  string    `json:"provider,omitempty"`
	Breaker   string    `json:"breaker,omitempty"`
	Symbols   []string  `json:"symbols,omitempty"`
	UptimeSec float64   `json:"uptime_seconds"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Provider:  s.opts.Provider,
		Symbols:   s.opts.Symbols,
		UptimeSec: time.Since(s.started).Seconds(),
		Timestamp: time.Now().UTC(),
	}
	if s.opts.BreakerState != nil {
		resp.Breaker = s.opts.BreakerState()
		if resp.Breaker == "open" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(mux.Vars(r)["symbol"])
	if !validSymbol(symbol) {
		writeError(w, http.StatusBadRequest, "invalid_symbol", "symbol must be 5-20 uppercase letters or digits")
		return
	}

	analysis, err := s.analyzer.Analyze(r.Context(), symbol)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	symbols := s.opts.Symbols
	if q := r.URL.Query().Get("symbols"); q != "" {
		symbols = nil
		for _, sym := range strings.Split(q, ",") {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			if !validSymbol(sym) {
				writeError(w, http.StatusBadRequest, "invalid_symbol", "symbol must be 5-20 uppercase letters or digits")
				return
			}
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		writeError(w, http.StatusBadRequest, "no_symbols", "no symbols configured or requested")
		return
	}

	res, err := s.analyzer.Scan(r.Context(), symbols)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeError(w, http.StatusNotFound, "not_found", "unknown route: "+r.URL.Path)
}

func writeAnalysisError(w http.ResponseWriter, err error) {
	var insufficient *domain.InsufficientDataError
	var invalid *domain.InvalidParameterError
	switch {
	case errors.As(err, &insufficient):
		writeError(w, http.StatusUnprocessableEntity, "insufficient_data", err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_parameter", err.Error())
	default:
		writeError(w, http.StatusBadGateway, "analysis_failed", err.Error())
	}
}

func validSymbol(symbol string) bool {
	if len(symbol) < 5 || len(symbol) > 20 {
		return false
	}
	for _, r := range symbol {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

type ctxKey int

const requestIDKey ctxKey = 0

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		id, _ := r.Context().Value(requestIDKey).(string)
		log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) timeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
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
