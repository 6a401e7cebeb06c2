package pipeline

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lappd/internal/metrics"
	"firestige.xyz/lappd/internal/reco"
	"firestige.xyz/lappd/pkg/models"
	"firestige.xyz/lappd/pkg/plugin"
)

type mockReporter struct {
	name      string
	reportErr error
	startErr  error

	mu      sync.Mutex
	events  []uint16
	started bool
	flushed bool
	stopped bool
}

func (m *mockReporter) Name() string                  { return m.name }
func (m *mockReporter) Init(cfg map[string]any) error { return nil }

func (m *mockReporter) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = m.startErr == nil
	return m.startErr
}

func (m *mockReporter) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func (m *mockReporter) Report(ctx context.Context, rec *models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reportErr != nil {
		return m.reportErr
	}
	m.events = append(m.events, rec.EvtNumber)
	return nil
}

func (m *mockReporter) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed = true
	return nil
}

func (m *mockReporter) reported() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uint16(nil), m.events...)
}

func event(n uint16) *reco.Event {
	return &reco.Event{
		Tag:       reco.Tag{Addr: netip.MustParseAddr("10.0.0.1"), TimestampLow: uint32(n)},
		EvtNumber: n,
		Created:   time.Now(),
		Channels:  map[uint8][]int64{0: {1, 2, 3}},
		Offsets:   map[uint8]uint16{0: 1},
	}
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDispatcherReports(t *testing.T) {
	rep := &mockReporter{name: "mock"}
	d := New(Config{QueueSize: 8, Reporters: []plugin.Reporter{rep}})
	require.NoError(t, d.Start(context.Background()))
	assert.True(t, rep.started)

	for i := uint16(1); i <= 3; i++ {
		assert.True(t, d.Process(event(i)))
	}
	assert.True(t, d.Process(nil))
	require.NoError(t, d.Wait(waitCtx(t)))

	assert.Equal(t, []uint16{1, 2, 3}, rep.reported())
	require.NoError(t, d.Stop(waitCtx(t)))
	assert.True(t, rep.flushed)
	assert.True(t, rep.stopped)
	assert.Equal(t, Stats{Accepted: 3, Reported: 3}, d.Stats())
}

func TestDispatcherQueueFull(t *testing.T) {
	before := testutil.ToFloat64(metrics.HandoffDropsTotal)

	d := New(Config{QueueSize: 2})
	assert.True(t, d.Process(event(1)))
	assert.True(t, d.Process(event(2)))
	assert.False(t, d.Process(event(3)), "full queue never blocks the intake loop")

	assert.Equal(t, uint64(1), d.Stats().Dropped)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.HandoffDropsTotal))
}

func TestDispatcherProducers(t *testing.T) {
	rep := &mockReporter{name: "mock"}
	d := New(Config{Producers: 2, Reporters: []plugin.Reporter{rep}})
	require.NoError(t, d.Start(context.Background()))

	assert.True(t, d.Process(event(1)))
	d.Process(nil)
	assert.True(t, d.Process(event(2)), "queue stays open until every producer is done")
	d.Process(nil)
	require.NoError(t, d.Wait(waitCtx(t)))

	assert.False(t, d.Process(event(3)))
	d.Process(nil) // extra shutdown signals are ignored
	assert.ElementsMatch(t, []uint16{1, 2}, rep.reported())
}

type stampTiming struct{}

func (stampTiming) Apply(ev *reco.Event) {
	ev.Timed = map[uint8][]reco.TimedSample{0: {{T: 1, A: 2}}}
}

func TestDispatcherAppliesTiming(t *testing.T) {
	d := New(Config{Timing: stampTiming{}})
	ev := event(1)
	require.True(t, d.Process(ev))
	assert.Len(t, ev.Timed[0], 1)
}

func TestDispatcherReporterError(t *testing.T) {
	failing := &mockReporter{name: "failing", reportErr: errors.New("down")}
	ok := &mockReporter{name: "ok"}
	before := testutil.ToFloat64(metrics.ReporterErrorsTotal.WithLabelValues("failing"))

	d := New(Config{Workers: 2, Reporters: []plugin.Reporter{failing, ok}})
	require.NoError(t, d.Start(context.Background()))
	d.Process(event(1))
	d.Process(event(2))
	require.NoError(t, d.Stop(waitCtx(t)))

	assert.ElementsMatch(t, []uint16{1, 2}, ok.reported())
	assert.Equal(t, uint64(2), d.Stats().ReportErrors)
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ReporterErrorsTotal.WithLabelValues("failing")))
}

func TestDispatcherStartFailure(t *testing.T) {
	first := &mockReporter{name: "first"}
	second := &mockReporter{name: "second", startErr: errors.New("no broker")}

	d := New(Config{Reporters: []plugin.Reporter{first, second}})
	assert.Error(t, d.Start(context.Background()))
	assert.True(t, first.stopped)
	assert.False(t, second.stopped)
}

func TestDispatcherStopBeforeStart(t *testing.T) {
	d := New(Config{})
	require.NoError(t, d.Stop(waitCtx(t)))
	assert.False(t, d.Process(event(1)))
}

func TestDispatcherDrainsAfterCancel(t *testing.T) {
	rep := &mockReporter{name: "mock"}
	d := New(Config{Reporters: []plugin.Reporter{rep}})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	d.Process(event(1))
	cancel()
	d.Process(event(2))
	require.NoError(t, d.Stop(waitCtx(t)))

	assert.Equal(t, []uint16{1, 2}, rep.reported())
}
