package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yamakatsunamamugi/autoai/internal/driver"
	"github.com/yamakatsunamamugi/autoai/internal/model"
	"github.com/yamakatsunamamugi/autoai/internal/scheduler"
)

func testMux(done <-chan struct{}, summary *model.Summary) http.Handler {
	sched := scheduler.New(scheduler.Config{}, driver.NewRegistry(), nil)
	return buildMux(sched, done, func() *model.Summary { return summary })
}

func TestBuildMux_HealthEndpoint(t *testing.T) {
	mux := testMux(make(chan struct{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	err := json.Unmarshal(rr.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestBuildMux_StatusRunning(t *testing.T) {
	mux := testMux(make(chan struct{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "running", body["state"])
}

func TestBuildMux_StatusFinishedWithSummary(t *testing.T) {
	done := make(chan struct{})
	close(done)
	mux := testMux(done, &model.Summary{Total: 3, Completed: 2, Failed: 1})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "finished", body["state"])

	summary, ok := body["summary"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), summary["total"])
}

func TestBuildMux_CancelAllRetries_Empty(t *testing.T) {
	mux := testMux(make(chan struct{}), nil)

	req := httptest.NewRequest(http.MethodPost, "/retries/cancel", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]int
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, 0, body["cancelled"])
}

func TestBuildMux_CancelChannelRetry_NotFound(t *testing.T) {
	mux := testMux(make(chan struct{}), nil)

	req := httptest.NewRequest(http.MethodPost, "/retries/claude/cancel", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
