package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockrun/stockrun/internal/domain"
	"github.com/stockrun/stockrun/internal/engine"
	"github.com/stockrun/stockrun/internal/filter"
)

type fakeAnalyzer struct {
	analysis *engine.Analysis
	scan     *engine.ScanResult
	err      error

	scanned []string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, symbol string) (*engine.Analysis, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.analysis, nil
}

func (f *fakeAnalyzer) Scan(ctx context.Context, symbols []string) (*engine.ScanResult, error) {
	f.scanned = symbols
	if f.err != nil {
		return nil, f.err
	}
	return f.scan, nil
}

func newTestServer(t *testing.T, analyzer Analyzer, opts Options) *Server {
	t.Helper()
	s, err := NewServer(":0", analyzer, opts)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer_RequiresAnalyzer(t *testing.T) {
	_, err := NewServer(":0", nil, Options{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{
		Provider:     "binance",
		Symbols:      []string{"BTCUSDT"},
		BreakerState: func() string { return "closed" },
	})

	rec := get(t, s, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "binance", resp.Provider)
	assert.Equal(t, "closed", resp.Breaker)
}

func TestHealth_DegradedWhenBreakerOpen(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{
		BreakerState: func() string { return "open" },
	})

	var resp healthResponse
	rec := get(t, s, "/health")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestAnalyze(t *testing.T) {
	analyzer := &fakeAnalyzer{analysis: &engine.Analysis{Symbol: "BTCUSDT"}}
	s := newTestServer(t, analyzer, Options{})

	rec := get(t, s, "/analyze/btcusdt")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp engine.Analysis
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BTCUSDT", resp.Symbol)
}

func TestAnalyze_BadSymbol(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{})

	rec := get(t, s, "/analyze/b!d")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_symbol")
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"insufficient data", &domain.InsufficientDataError{Op: "rsi", Need: 15, Got: 3}, http.StatusUnprocessableEntity},
		{"invalid parameter", &domain.InvalidParameterError{Param: "period", Reason: "must be positive"}, http.StatusBadRequest},
		{"provider failure", errors.New("connection refused"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeAnalyzer{err: tt.err}, Options{})
			rec := get(t, s, "/analyze/BTCUSDT")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestSignals_UsesConfiguredUniverse(t *testing.T) {
	analyzer := &fakeAnalyzer{scan: &engine.ScanResult{Report: &filter.Report{}}}
	s := newTestServer(t, analyzer, Options{Symbols: []string{"BTCUSDT", "ETHUSDT"}})

	rec := get(t, s, "/signals")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, analyzer.scanned)
}

func TestSignals_QueryOverride(t *testing.T) {
	analyzer := &fakeAnalyzer{scan: &engine.ScanResult{}}
	s := newTestServer(t, analyzer, Options{Symbols: []string{"BTCUSDT"}})

	rec := get(t, s, "/signals?symbols=solusdt,%20adausdt")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"SOLUSDT", "ADAUSDT"}, analyzer.scanned)

	rec = get(t, s, "/signals?symbols=b!d")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSignals_NoSymbols(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{})
	rec := get(t, s, "/signals")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_symbols")
}

func TestSignals_ScanFailure(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{err: errors.New("all providers down")}, Options{Symbols: []string{"BTCUSDT"}})
	rec := get(t, s, "/signals")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMetricsMount(t *testing.T) {
	mounted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("metrics ok"))
	})
	s := newTestServer(t, &fakeAnalyzer{}, Options{Metrics: mounted})

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics ok", rec.Body.String())

	bare := newTestServer(t, &fakeAnalyzer{}, Options{})
	rec = get(t, bare, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{})
	rec := get(t, s, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_found")
}

func TestDefaultTimeouts(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, Options{})
	assert.Equal(t, 10*time.Second, s.opts.ReadTimeout)
	assert.Equal(t, 25*time.Second, s.opts.RequestTimeout)
}
