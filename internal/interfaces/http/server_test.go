package http

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concentra-hq/concentra/internal/config"
	"github.com/concentra-hq/concentra/internal/llm"
	"github.com/concentra-hq/concentra/internal/pipeline"
	"github.com/concentra-hq/concentra/internal/registry"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.DatasetsPath = filepath.Join(t.TempDir(), "datasets")
	cfg.UseLLM = false
	if mutate != nil {
		mutate(&cfg)
	}

	reg, err := registry.New(cfg.DatasetsPath)
	require.NoError(t, err)
	ctrl := pipeline.New(cfg, reg, llm.New(llm.Config{Enabled: false}))

	s, err := NewServer(cfg, ctrl)
	require.NoError(t, err)
	return s
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func uploadCSV(t *testing.T, s *Server, csv string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "revenue.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return do(s, req)
}

const sampleCSV = "customer,revenue\nACME,1000\nBETA,500\nGAMMA,500\nDELTA,500\n"

func TestHealth(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.APIKey = "secret" })

	rec := do(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health bypasses auth")

	body := decodeEnvelope(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDEcho(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/schema", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := do(s, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "req-42", body["request_id"])
	assert.Equal(t, "NotFound", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestAuth(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.APIKey = "secret" })

	t.Run("missing_key", func(t *testing.T) {
		rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/lineage", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Unauthorized", decodeEnvelope(t, rec)["error"])
	})

	t.Run("wrong_key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/lineage", nil)
		req.Header.Set("X-API-Key", "nope")
		assert.Equal(t, http.StatusUnauthorized, do(s, req).Code)
	})

	t.Run("correct_key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/lineage", nil)
		req.Header.Set("X-API-Key", "secret")
		rec := do(s, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, "auth passes, dataset is absent")
	})
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.RateLimitPerMinute = 2 })

	path := "/api/v1/datasets/ds_0123456789ab/lineage"
	for i := 0; i < 2; i++ {
		rec := do(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, "request %d within budget", i+1)
	}

	rec := do(s, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, retryAfter, 1)
	assert.Equal(t, "RateLimited", decodeEnvelope(t, rec)["error"])

	// A different path for the same client has its own budget.
	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/schema", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAnalyzeFlow(t *testing.T) {
	s := newTestServer(t, nil)

	rec := uploadCSV(t, s, sampleCSV, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upload := decodeEnvelope(t, rec)
	id, _ := upload["dataset_id"].(string)
	require.Regexp(t, `^ds_[0-9a-f]{12}$`, id)
	assert.Equal(t, "success", upload["status"])

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id+"/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec), "columns")

	body := strings.NewReader(`{"group_by": "customer", "value": "revenue", "thresholds": [10, 50]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/"+id+"/analyze", body)
	req.Header.Set("Content-Type", "application/json")
	rec = do(s, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeEnvelope(t, rec)
	assert.Equal(t, id, result["dataset_id"])
	totals, _ := result["totals"].(map[string]any)
	require.NotNil(t, totals)
	assert.InDelta(t, 2500, totals["total"].(float64), 1e-9)
	assert.Contains(t, totals["concentration"], "top_10")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id+"/export/csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "period,threshold,count,value,pct_of_total")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id+"/lineage", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	lineage := decodeEnvelope(t, rec)
	steps, _ := lineage["steps"].([]any)
	assert.GreaterOrEqual(t, len(steps), 4, "create, ingest, normalize, analyze")

	rec = do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/"+id+"/insights", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	insights := decodeEnvelope(t, rec)
	narrative, _ := insights["narrative"].(map[string]any)
	require.NotNil(t, narrative)
	assert.Equal(t, "placeholder", narrative["status"])
	assert.Equal(t, "disabled", narrative["reason"])
}

func TestAnalyze_MalformedBody(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/ds_0123456789ab/analyze",
		strings.NewReader("{not json"))
	rec := do(s, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "ValidationError", decodeEnvelope(t, rec)["error"])
}

func TestAnalyze_MissingFields(t *testing.T) {
	s := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/ds_0123456789ab/analyze",
		strings.NewReader(`{"value": "revenue"}`))
	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec)["message"], "group_by")
}

func TestUpload_MissingFile(t *testing.T) {
	s := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sheet", "Data"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec)["message"], "file")
}

func TestDownload_UnsupportedFormat(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/datasets/ds_0123456789ab/export/pdf", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeEnvelope(t, rec)["message"], "pdf")
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s, httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "NotFound", body["error"])
	assert.NotEmpty(t, body["request_id"], "envelope carries a generated request id")
}

func TestLimiterSweep(t *testing.T) {
	s := newTestServer(t, nil)
	s.limiter.Allow("a", "/p")
	s.limiter.Allow("b", "/q")
	require.Equal(t, 2, s.limiter.Len())

	done := make(chan struct{})
	defer close(done)
	go s.sweepLimiter(time.Millisecond, 0, done)

	assert.Eventually(t, func() bool { return s.limiter.Len() == 0 },
		time.Second, 5*time.Millisecond, "idle keys are swept")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.APIKey = "secret"
		cfg.AllowedOrigins = []string{"https://app.example"}
	})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/datasets/upload", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := do(s, req)

	assert.Equal(t, http.StatusOK, rec.Code, "preflight bypasses auth")
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/datasets/upload", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = do(s, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
