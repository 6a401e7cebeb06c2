package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExposesMetrics(t *testing.T) {
	ReportedEventsTotal.WithLabelValues("test").Inc()

	s := NewServer("127.0.0.1:0", "")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `lappd_reported_events_total{reporter="test"}`)
}

func TestServerStopBeforeStart(t *testing.T) {
	assert.NoError(t, NewServer(":0", "/m").Stop(context.Background()))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(IntakeDropsTotal.WithLabelValues("t", ReasonFormat))
	IntakeDropsTotal.WithLabelValues("t", ReasonFormat).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(IntakeDropsTotal.WithLabelValues("t", ReasonFormat)))
}

func TestServerHealthz(t *testing.T) {
	s := NewServer("127.0.0.1:0", "/prom")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + s.Addr() + "/prom")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerPortTaken(t *testing.T) {
	a := NewServer("127.0.0.1:0", "")
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop(context.Background())

	assert.Error(t, NewServer(a.Addr(), "").Start(context.Background()))
}
