// Package console implements a reporter that prints events, for debugging
// and bench work.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/pkg/models"
	"firestige.xyz/lappd/pkg/plugin"
)

// Name is the registry name of the console reporter.
const Name = "console"

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
	// Samples limits how many amplitudes per channel are printed in text
	// format; 0 prints none.
	Samples int `mapstructure:"samples"`
}

// ConsoleReporter writes one line per event.
type ConsoleReporter struct {
	config Config

	mu  sync.Mutex
	out io.Writer

	reportedCount atomic.Uint64
}

// NewConsoleReporter creates a new console reporter writing to stdout.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{config: Config{Format: "text"}, out: os.Stdout}
}

// Name returns the plugin name.
func (r *ConsoleReporter) Name() string { return Name }

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	if err := plugin.DecodeConfig(config, &r.config); err != nil {
		return err
	}
	if r.config.Format != "json" && r.config.Format != "text" {
		return fmt.Errorf("invalid format %q, must be json or text", r.config.Format)
	}
	return nil
}

// Start starts the reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	log.GetLogger().WithField("format", r.config.Format).Info("console reporter started")
	return nil
}

// Stop stops the reporter.
func (r *ConsoleReporter) Stop(ctx context.Context) error {
	log.GetLogger().WithField("total_reported", r.reportedCount.Load()).Info("console reporter stopped")
	return nil
}

// Report prints an event.
func (r *ConsoleReporter) Report(ctx context.Context, rec *models.EventRecord) error {
	if rec == nil {
		return fmt.Errorf("nil event")
	}

	var line []byte
	if r.config.Format == "json" {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(r.text(rec))
	}

	r.mu.Lock()
	_, err := r.out.Write(line)
	r.mu.Unlock()
	if err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

func (r *ConsoleReporter) text(rec *models.EventRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] board=%s evt=%d res=%d ts=%#x from=%s channels=%d",
		time.Unix(0, rec.CreatedNs).Format("15:04:05.000"),
		rec.Board, rec.EvtNumber, rec.Resolution, rec.Timestamp, rec.Source, len(rec.Channels))
	for _, ch := range rec.Channels {
		fmt.Fprintf(&sb, "\n  ch%-3d stop=%-4d n=%d", ch.Channel, ch.Offset, len(ch.Amplitudes))
		if len(ch.Times) > 0 {
			fmt.Fprintf(&sb, " timed=%d", len(ch.Times))
		}
		if r.config.Samples > 0 {
			sb.WriteString(" [")
			for i, a := range ch.Amplitudes[:min(r.config.Samples, len(ch.Amplitudes))] {
				if i > 0 {
					sb.WriteByte(' ')
				}
				if a == models.NotData {
					sb.WriteByte('-')
				} else {
					fmt.Fprint(&sb, a)
				}
			}
			sb.WriteByte(']')
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

// Flush is a no-op for console reporter (stdout auto-flushes).
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}
