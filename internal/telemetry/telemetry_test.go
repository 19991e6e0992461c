package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveAndServe(t *testing.T) {
	m := New()
	m.ObserveWindow(10*time.Millisecond, false)
	m.ObserveWindow(20*time.Millisecond, true)
	m.ObserveRun(false)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "walkforward_windows_evaluated_total 1")
	assert.Contains(t, text, "walkforward_windows_failed_total 1")
	assert.Contains(t, text, "walkforward_runs_completed_total 1")
	assert.Contains(t, text, "walkforward_window_duration_seconds_count 2")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveWindow(time.Millisecond, false)
		m.ObserveRun(true)
	})
}
