package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newsmesh/internal/aggregator"
	"newsmesh/internal/config"
	"newsmesh/internal/realtime"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *realtime.Processor) {
	t.Helper()
	cfg := config.Default()
	agent := aggregator.New(aggregator.Deps{}, cfg.Aggregator, cfg.Dedup, zerolog.Nop())

	rtCfg := cfg.Realtime
	rtCfg.Workers = 1
	processor := realtime.New(agent, rtCfg, zerolog.Nop())
	require.NoError(t, processor.Start(context.Background()))
	t.Cleanup(func() { _ = processor.Stop() })

	return NewServer(processor, nil, nil, zerolog.Nop()), processor
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestSubmitJobAccepted(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	payload := `{"items":[{"title":"Some story","url":"https://example.com/s"}],"priority":3}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.JobID)
}

func TestSubmitJobRejectsBadPayload(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed json", `{"items":`},
		{"empty items", `{"items":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", "application/json")
			router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSubmitJobWhenProcessorStopped(t *testing.T) {
	server, processor := newTestServer(t)
	router := server.Router()
	require.NoError(t, processor.Stop())

	payload := `{"items":[{"title":"Some story","url":"https://example.com/s"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestClustersEndpointEmpty(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/clusters", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestRecentChunksEndpointEmpty(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chunks/recent", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Count)
}

func TestFeedRefreshWithoutFeeds(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/feeds/refresh", nil))
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestBatchedSubmitAccepted(t *testing.T) {
	server, _ := newTestServer(t)
	router := server.Router()

	payload := `{"items":[{"title":"Another story","url":"https://example.com/b"}]}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/jobs/batched", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
}
