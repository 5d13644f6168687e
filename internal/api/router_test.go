package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wsgraph/internal/graphstore"
	"github.com/roach88/wsgraph/internal/metrics"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := get(t, NewRouter(Deps{}), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	ok := graphstore.PingFunc(func(ctx context.Context) error { return nil })
	down := graphstore.PingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	rec := get(t, NewRouter(Deps{Ready: map[string]graphstore.Pinger{"store": ok, "workspace": ok}}), "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, NewRouter(Deps{Ready: map[string]graphstore.Pinger{"store": ok, "workspace": down}}), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Equal(t, "connection refused", body.Checks["workspace"])
}

func TestStatus(t *testing.T) {
	h := NewRouter(Deps{Status: func() any { return map[string]int{"workers": 8} }})
	rec := get(t, h, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"workers":8}`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNew(reg)
	m.EventHandled("NEW_VERSION", "ok")

	rec := get(t, NewRouter(Deps{Gatherer: reg}), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wsgraph_events_handled_total")
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", NewRouter(Deps{}), nil) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
