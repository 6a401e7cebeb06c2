package console

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lappd/pkg/models"
)

func TestConsoleReporter_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  map[string]any
		wantErr bool
		wantFmt string
	}{
		{name: "nil config defaults to text", config: nil, wantFmt: "text"},
		{name: "json format", config: map[string]any{"format": "json"}, wantFmt: "json"},
		{name: "samples", config: map[string]any{"samples": 4}, wantFmt: "text"},
		{name: "invalid format", config: map[string]any{"format": "xml"}, wantErr: true},
		{name: "unknown option", config: map[string]any{"colour": true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewConsoleReporter().(*ConsoleReporter)
			err := r.Init(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFmt, r.config.Format)
		})
	}
}

func record() *models.EventRecord {
	return &models.EventRecord{
		Board:      "00:01:02:03:04:05",
		Source:     "10.0.0.7",
		EvtNumber:  42,
		Resolution: 4,
		Timestamp:  0xfedcba9800000001,
		NotData:    models.NotData,
		Channels: []models.ChannelRecord{
			{Channel: 0, Offset: 17, Amplitudes: []int64{models.NotData, 5, 6, 7}},
			{Channel: 3, Offset: 2, Amplitudes: []int64{1, 2}, Times: []float64{0, 0.2}, TimedAmplitudes: []int64{1, 2}},
		},
	}
}

func TestConsoleReporter_ReportText(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter().(*ConsoleReporter)
	r.out = &buf
	require.NoError(t, r.Init(map[string]any{"samples": 3}))

	require.NoError(t, r.Report(context.Background(), record()))
	out := buf.String()
	assert.Contains(t, out, "board=00:01:02:03:04:05 evt=42 res=4")
	assert.Contains(t, out, "channels=2")
	assert.Contains(t, out, "[- 5 6]")
	assert.Contains(t, out, "timed=2")
	assert.Equal(t, 3, strings.Count(out, "\n"))
	assert.Equal(t, uint64(1), r.reportedCount.Load())
}

func TestConsoleReporter_ReportJSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter().(*ConsoleReporter)
	r.out = &buf
	require.NoError(t, r.Init(map[string]any{"format": "json"}))

	require.NoError(t, r.Report(context.Background(), record()))
	var got models.EventRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, uint16(42), got.EvtNumber)
	assert.Len(t, got.Channels, 2)
}

func TestConsoleReporter_ReportNil(t *testing.T) {
	r := NewConsoleReporter()
	assert.Error(t, r.Report(context.Background(), nil))
}
