package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/pkg/models"
)

type mockReporter struct {
	name    string
	initErr error
	cfg     map[string]any
}

func (m *mockReporter) Name() string { return m.name }

func (m *mockReporter) Init(cfg map[string]any) error {
	m.cfg = cfg
	return m.initErr
}

func (m *mockReporter) Start(context.Context) error                       { return nil }
func (m *mockReporter) Stop(context.Context) error                        { return nil }
func (m *mockReporter) Report(context.Context, *models.EventRecord) error { return nil }
func (m *mockReporter) Flush(context.Context) error                       { return nil }

func TestRegisterAndGetReporter(t *testing.T) {
	reporterReg.Reset()
	t.Cleanup(reporterReg.Reset)

	RegisterReporter("test_rep", func() Reporter { return &mockReporter{name: "test_rep"} })

	factory, err := GetReporterFactory("test_rep")
	require.NoError(t, err)
	assert.Equal(t, "test_rep", factory().Name())

	_, err = GetReporterFactory("missing")
	assert.True(t, errors.Is(err, core.ErrReporterNotFound))
}

func TestRegisterTwicePanics(t *testing.T) {
	reporterReg.Reset()
	t.Cleanup(reporterReg.Reset)

	f := func() Reporter { return &mockReporter{} }
	RegisterReporter("dup", f)
	assert.Panics(t, func() { RegisterReporter("dup", f) })
}

func TestListReporters(t *testing.T) {
	reporterReg.Reset()
	t.Cleanup(reporterReg.Reset)

	for _, name := range []string{"kafka", "console", "file"} {
		RegisterReporter(name, func() Reporter { return &mockReporter{name: name} })
	}
	assert.Equal(t, []string{"console", "file", "kafka"}, ListReporters())
}

func TestNewReporter(t *testing.T) {
	reporterReg.Reset()
	t.Cleanup(reporterReg.Reset)

	RegisterReporter("ok", func() Reporter { return &mockReporter{name: "ok"} })
	RegisterReporter("bad", func() Reporter { return &mockReporter{initErr: errors.New("boom")} })

	r, err := NewReporter("ok", map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": 1}, r.(*mockReporter).cfg)

	_, err = NewReporter("bad", nil)
	assert.ErrorIs(t, err, core.ErrReporterInitFailed)
	assert.ErrorContains(t, err, "boom")

	_, err = NewReporter("nope", nil)
	assert.ErrorIs(t, err, core.ErrReporterNotFound)
}
