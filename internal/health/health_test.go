package health

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, path string) int {
	rw := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(rw, req)
	return rw.Code
}

func TestTracker(t *testing.T) {
	var tr Tracker
	assert.ErrorIs(t, tr.Check(), ErrNotReady)

	tr.Record(nil)
	assert.NoError(t, tr.Check())

	boom := errors.New("boom")
	tr.Record(boom)
	assert.ErrorIs(t, tr.Check(), boom)
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	var tr Tracker
	h := NewHandler(reg, "test", 10000, &tr)

	assert.Equal(t, http.StatusOK, serve(h, "/live"))
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/ready"))

	tr.Record(nil)
	assert.Equal(t, http.StatusOK, serve(h, "/ready"))

	tr.Record(errors.New("violations found"))
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/ready"))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestHandlerLivenessThreshold(t *testing.T) {
	var tr Tracker
	h := NewHandler(prometheus.NewRegistry(), "test", 0, &tr)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, "/live"))
}
