package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fca_cleaner/internal/fca"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecorder_Observe(t *testing.T) {
	r := New(false)

	r.Observe("api", fca.Analyze("BOM WY LON BA PAR OPDQ7LP AI NYC 1000.00 NUC 1000.00 END"), time.Millisecond)
	r.Observe("api", fca.Analyze("NYC AA LON 250.00 END"), time.Millisecond)
	r.Observe("feed", fca.Analyze("NYC 250.00 NUC 250.00 END"), time.Millisecond)
	r.StoreError("feed")

	body := scrape(t, r)
	assert.Contains(t, body, `fca_analyses_total{result="valid",source="api"} 2`)
	assert.Contains(t, body, `fca_analyses_total{result="invalid",source="feed"} 1`)
	assert.Contains(t, body, `fca_garbage_tokens_total{source="api"} 1`)
	assert.Contains(t, body, `fca_reconstructions_total{source="api"} 1`)
	assert.Contains(t, body, `fca_fare_status_total{source="api",status="matched"} 2`)
	assert.Contains(t, body, `fca_structural_errors_total{code="incomplete_segment",source="feed"} 1`)
	assert.Contains(t, body, `fca_store_errors_total{source="feed"} 1`)
	assert.Contains(t, body, `fca_analysis_duration_seconds_count{source="api"} 2`)
}

func TestRecorder_Nil(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.Observe("api", fca.Analyze("LON BA PAR 100.00 NUC 100.00 END"), time.Millisecond)
		r.StoreError("api")
	})
}

func TestRecorder_Runtime(t *testing.T) {
	body := scrape(t, New(true))
	assert.Contains(t, body, "go_goroutines")
}
