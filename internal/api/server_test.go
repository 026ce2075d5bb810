package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fca_cleaner/internal/metrics"
	"fca_cleaner/internal/pipeline"
	"fca_cleaner/internal/storage"
)

// mockStore keeps records in memory.
type mockStore struct {
	mu      sync.Mutex
	records []storage.Record
	params  storage.QueryParams
}

func (m *mockStore) Save(_ context.Context, r storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *mockStore) Get(_ context.Context, id string) (*storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (m *mockStore) List(_ context.Context, p storage.QueryParams) ([]storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = p
	return append([]storage.Record(nil), m.records...), nil
}

func (m *mockStore) Stats(context.Context) (*storage.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &storage.Stats{Total: int64(len(m.records))}, nil
}

func (m *mockStore) Close() error { return nil }

func newTestServer(store storage.Store, cfg Config) *Server {
	opts := []pipeline.Option{pipeline.WithMetrics(metrics.New(false))}
	if store != nil {
		opts = append(opts, pipeline.WithStore(store))
	}
	return NewServer(pipeline.New(nil, opts...), nil, cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	router := newTestServer(nil, Config{
		AuthEnabled: true,
		APIKeys:     []string{"test-key-123", " another-key "},
	}).Router()

	tests := []struct {
		name       string
		apiKey     string
		keyHeader  string
		wantStatus int
	}{
		{
			name:       "no key",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid key",
			apiKey:     "wrong-key",
			keyHeader:  "X-API-Key",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "valid key via X-API-Key",
			apiKey:     "test-key-123",
			keyHeader:  "X-API-Key",
			wantStatus: http.StatusOK,
		},
		{
			name:       "valid key via Bearer",
			apiKey:     "another-key",
			keyHeader:  "Authorization",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/tables", nil)
			if tt.apiKey != "" {
				if tt.keyHeader == "Authorization" {
					req.Header.Set("Authorization", "Bearer "+tt.apiKey)
				} else {
					req.Header.Set(tt.keyHeader, tt.apiKey)
				}
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestAuthMiddlewareQueryParam(t *testing.T) {
	router := newTestServer(nil, Config{AuthEnabled: true, APIKeys: []string{"query-key"}}).Router()

	rec := do(t, router, http.MethodGet, "/tables?api_key=query-key", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	router := newTestServer(nil, Config{AuthEnabled: true, APIKeys: []string{"k"}}).Router()

	rec := do(t, router, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/analyze", `{"pattern":"DEL AI BO M BA LON 1000.00 NUC 1000.00 END"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ID     string `json:"id"`
		Result struct {
			IsValid      bool     `json:"is_valid"`
			Cleaned      string   `json:"cleaned"`
			SpacingFixes []string `json:"spacing_fixes"`
			Fare         struct {
				Status string `json:"status"`
			} `json:"fare"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.ID)
	assert.True(t, resp.Result.IsValid)
	assert.Equal(t, "DEL AI BOM BA LON 1000.00 NUC 1000.00 END", resp.Result.Cleaned)
	assert.Equal(t, []string{`merged "BO M" into "BOM"`}, resp.Result.SpacingFixes)
	assert.Equal(t, "matched", resp.Result.Fare.Status)
}

func TestAnalyzeEndpoint_Journey(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/analyze",
		`{"pattern":"LON BA PAR WY DOH 800.00 NUC 800.00 END","journey":"LON BA DOH"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result struct {
			JourneyMatch struct {
				IsMatch         bool     `json:"is_match"`
				MissingSegments []string `json:"missing_segments"`
			} `json:"journey_match"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.Result.JourneyMatch.IsMatch)
	assert.Equal(t, []string{"PAR WY"}, resp.Result.JourneyMatch.MissingSegments)
}

func TestAnalyzeEndpoint_Persist(t *testing.T) {
	store := &mockStore{}
	router := newTestServer(store, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/analyze", `{"pattern":"NYC AA LON 250.00 END","persist":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.ID)
	require.Len(t, store.records, 1)
	assert.Equal(t, resp.ID, store.records[0].ID)

	rec = do(t, router, http.MethodGet, "/analyses/"+resp.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got storage.Record
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, "NYC AA LON 250.00 NUC 250.00 END", got.Cleaned)
	assert.True(t, got.Reconstructed)
}

func TestRequestValidation(t *testing.T) {
	router := newTestServer(nil, Config{MaxBatch: 2}).Router()

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"analyze empty body", "/analyze", "", http.StatusBadRequest, "Invalid JSON"},
		{"analyze invalid json", "/analyze", "not json", http.StatusBadRequest, "Invalid JSON"},
		{"analyze no pattern", "/analyze", `{"pattern":"  "}`, http.StatusBadRequest, "pattern is required"},
		{"analyze persist without store", "/analyze", `{"pattern":"LON BA PAR","persist":true}`, http.StatusServiceUnavailable, "storage not configured"},
		{"clean no pattern", "/clean", `{}`, http.StatusBadRequest, "pattern is required"},
		{"batch empty", "/batch", `{"patterns":[]}`, http.StatusBadRequest, "No patterns specified"},
		{"batch too large", "/batch", `{"patterns":["a","b","c"]}`, http.StatusBadRequest, "Maximum 2 patterns per batch request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, tt.path, tt.body)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var resp map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if !strings.Contains(resp["error"], tt.wantError) {
				t.Errorf("expected error containing %q, got %q", tt.wantError, resp["error"])
			}
		})
	}
}

func TestCleanEndpoint(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	rec := do(t, router, http.MethodPost, "/clean", `{"pattern":"BOM WY LON BA PAR OPDQ7LP AI NYC 1000.00 NUC 1000.00 END"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Cleaned       string   `json:"cleaned"`
		GarbageTokens []string `json:"garbage_tokens"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "BOM WY LON BA PAR AI NYC 1000.00 NUC 1000.00 END", resp.Cleaned)
	assert.Equal(t, []string{"OPDQ7LP"}, resp.GarbageTokens)
}

func TestBatchEndpoint(t *testing.T) {
	store := &mockStore{}
	router := newTestServer(store, Config{}).Router()

	body := `{"patterns":["LON BA PAR 100.00 NUC 100.00 END","NYC 250.00 NUC 250.00 END"],
		"items":[{"pattern":"LON BA PAR WY DOH 800.00 NUC 800.00 END","journey":"LON BA DOH"}],
		"persist":true}`
	rec := do(t, router, http.MethodPost, "/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []struct {
			ID     string `json:"id"`
			Result struct {
				Original string `json:"original"`
				IsValid  bool   `json:"is_valid"`
			} `json:"result"`
		} `json:"results"`
		Summary struct {
			Total       int `json:"total"`
			Valid       int `json:"valid"`
			Invalid     int `json:"invalid"`
			JourneyGaps int `json:"journey_gaps"`
		} `json:"summary"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, "LON BA PAR 100.00 NUC 100.00 END", resp.Results[0].Result.Original)
	assert.Equal(t, "LON BA PAR WY DOH 800.00 NUC 800.00 END", resp.Results[2].Result.Original)
	assert.False(t, resp.Results[1].Result.IsValid)
	for _, r := range resp.Results {
		assert.NotEmpty(t, r.ID)
	}
	assert.Equal(t, 3, resp.Summary.Total)
	assert.Equal(t, 2, resp.Summary.Valid)
	assert.Equal(t, 1, resp.Summary.Invalid)
	assert.Equal(t, 1, resp.Summary.JourneyGaps)
	assert.Len(t, store.records, 3)
}

func TestListAnalyses(t *testing.T) {
	store := &mockStore{records: []storage.Record{{ID: "a"}, {ID: "b"}}}
	router := newTestServer(store, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/analyses?valid=false&fare_status=mismatched&q=BOM&limit=5000&offset=3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, maxListLimit, resp.Limit)

	require.NotNil(t, store.params.Valid)
	assert.False(t, *store.params.Valid)
	assert.Equal(t, "mismatched", store.params.FareStatus)
	assert.Equal(t, "BOM", store.params.FullText)
	assert.Equal(t, 3, store.params.Offset)
}

func TestListAnalyses_BadParams(t *testing.T) {
	router := newTestServer(&mockStore{}, Config{}).Router()

	for _, q := range []string{"valid=maybe", "limit=0", "limit=x", "offset=-1"} {
		rec := do(t, router, http.MethodGet, "/analyses?"+q, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected status 400, got %d", q, rec.Code)
		}
	}
}

func TestStoreEndpointsWithoutStore(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	for _, path := range []string{"/analyses", "/analyses/x", "/stats"} {
		rec := do(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", path, rec.Code)
		}
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	router := newTestServer(&mockStore{}, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/analyses/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	router := newTestServer(&mockStore{records: []storage.Record{{ID: "a"}}}, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats storage.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, int64(1), stats.Total)
}

func TestTablesEndpoints(t *testing.T) {
	router := newTestServer(nil, Config{}).Router()

	rec := do(t, router, http.MethodGet, "/tables", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sizes map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sizes))
	assert.Greater(t, sizes["airports"], 0)
	assert.Greater(t, sizes["airlines"], 0)

	rec = do(t, router, http.MethodGet, "/tables/currencies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var codes []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&codes))
	assert.Contains(t, codes, "NUC")

	rec = do(t, router, http.MethodGet, "/tables/cities", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	r.Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 for OPTIONS, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("expected CORS Allow-Origin header")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected CORS Allow-Methods header")
	}
}

func TestHandler_MetricsAndMount(t *testing.T) {
	h := newTestServer(nil, Config{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/analyze", `{"pattern":"LON BA PAR 100.00 NUC 100.00 END"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `fca_analyses_total{result="valid",source="api"} 1`)
}

func TestHandler_MetricsCountBatchItems(t *testing.T) {
	h := newTestServer(nil, Config{}).Handler()

	rec := do(t, h, http.MethodPost, "/api/v1/batch",
		`{"patterns":["LON BA PAR 100.00 NUC 100.00 END","NYC 250.00 NUC 250.00 END"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `fca_analyses_total{result="valid",source="api"} 1`)
	assert.Contains(t, body, `fca_analyses_total{result="invalid",source="api"} 1`)
}

func TestHandler_NoMetricsWithoutRecorder(t *testing.T) {
	h := NewServer(pipeline.New(nil), nil, Config{}).Handler()

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_BodyTooLarge(t *testing.T) {
	h := newTestServer(nil, Config{}).Handler()

	body := `{"pattern":"` + strings.Repeat("A", maxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
