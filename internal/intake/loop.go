// Package intake runs the receive loop that turns datagrams into events.
package intake

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/metrics"
	"firestige.xyz/lappd/internal/reco"
	"firestige.xyz/lappd/internal/source"
	"firestige.xyz/lappd/internal/wire"
)

// Hook receives every completed event. The loop calls it synchronously and
// hands over ownership of the event. A nil event signals that the loop is
// shutting down. The result reports whether the event was accepted.
type Hook interface {
	Process(ev *reco.Event) bool
}

// HookFunc adapts a function to Hook.
type HookFunc func(ev *reco.Event) bool

func (f HookFunc) Process(ev *reco.Event) bool { return f(ev) }

// Stats is a snapshot of loop counters.
type Stats struct {
	Datagrams    uint64
	Hits         uint64
	Headers      uint64
	Unrecognized uint64
	Errors       uint64
	Completed    uint64
	Accepted     uint64
	Rejected     uint64
}

type counters struct {
	datagrams    atomic.Uint64
	hits         atomic.Uint64
	headers      atomic.Uint64
	unrecognized atomic.Uint64
	errors       atomic.Uint64
	completed    atomic.Uint64
	accepted     atomic.Uint64
	rejected     atomic.Uint64
}

// Loop owns one source and one tracker. Everything but Stats runs on the
// goroutine calling Run.
type Loop struct {
	name    string
	src     source.Source
	tracker *reco.Tracker
	hook    Hook
	log     log.Logger
	c       counters
}

// New creates a loop reading from src. name labels logs and metrics.
func New(name string, src source.Source, tracker *reco.Tracker, hook Hook) *Loop {
	return &Loop{
		name:    name,
		src:     src,
		tracker: tracker,
		hook:    hook,
		log:     log.GetLogger().WithField("listener", name),
	}
}

// Run receives until ctx is done or the source is exhausted. Per-datagram
// errors are logged and counted; only source failures are returned. The
// hook always receives the final nil event.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("intake started")
	defer l.shutdown()

	for {
		batch, err := l.src.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			l.log.WithError(err).Error("intake source failed")
			return err
		}
		for _, d := range batch {
			l.handle(d)
		}
	}
}

// Stats returns a snapshot of the loop counters. Safe for concurrent use.
func (l *Loop) Stats() Stats {
	return Stats{
		Datagrams:    l.c.datagrams.Load(),
		Hits:         l.c.hits.Load(),
		Headers:      l.c.headers.Load(),
		Unrecognized: l.c.unrecognized.Load(),
		Errors:       l.c.errors.Load(),
		Completed:    l.c.completed.Load(),
		Accepted:     l.c.accepted.Load(),
		Rejected:     l.c.rejected.Load(),
	}
}

func (l *Loop) handle(d source.Datagram) {
	l.c.datagrams.Add(1)

	var (
		ev  *reco.Event
		err error
	)
	switch p := wire.Classify(d.Data).(type) {
	case *wire.HitFragment:
		l.c.hits.Add(1)
		metrics.IntakeDatagramsTotal.WithLabelValues(l.name, "hit").Inc()
		ev, err = l.tracker.HandleHit(reco.Tag{Addr: d.Addr, TimestampLow: p.TimestampLow}, p)

	case *wire.EventHeader:
		l.c.headers.Add(1)
		metrics.IntakeDatagramsTotal.WithLabelValues(l.name, "event").Inc()
		evicted := l.tracker.Stats().Evicted
		ev, err = l.tracker.HandleEvent(reco.Tag{Addr: d.Addr, TimestampLow: p.TimestampLow}, p)
		if n := l.tracker.Stats().Evicted - evicted; n > 0 {
			l.log.Warnf("evicted %d incomplete event(s), table holds %d", n, l.tracker.Len())
		}

	case *wire.Unrecognized:
		l.c.unrecognized.Add(1)
		metrics.IntakeDatagramsTotal.WithLabelValues(l.name, "unrecognized").Inc()
		err = p.Err
	}

	if err != nil {
		l.c.errors.Add(1)
		metrics.IntakeDropsTotal.WithLabelValues(l.name, reason(err)).Inc()
		if l.log.IsDebugEnabled() {
			l.log.WithError(err).WithField("from", d.Addr).Debug("datagram dropped")
		}
	}
	if ev != nil {
		l.complete(ev)
	}
}

func (l *Loop) complete(ev *reco.Event) {
	l.c.completed.Add(1)
	metrics.EventsCompletedTotal.WithLabelValues(l.name).Inc()
	metrics.EventLatencySeconds.Observe(time.Since(ev.Created).Seconds())

	if l.hook == nil {
		return
	}
	if l.hook.Process(ev) {
		l.c.accepted.Add(1)
	} else {
		l.c.rejected.Add(1)
	}
}

func (l *Loop) shutdown() {
	events, orphans := l.tracker.Drain()
	s := l.Stats()
	l.log.Infof("intake stopping: %d events in flight, %d orphans discarded; %d datagrams, %d events completed",
		events, orphans, s.Datagrams, s.Completed)
	if l.hook != nil {
		l.hook.Process(nil)
	}
}

// reason maps a reconstruction error to its drop metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, core.ErrDuplicateFragment):
		return metrics.ReasonDuplicate
	case errors.Is(err, core.ErrDuplicateEvent):
		return metrics.ReasonDupHeader
	case errors.Is(err, core.ErrEmptyPayload):
		return metrics.ReasonEmpty
	case errors.Is(err, core.ErrInconsistentHit), errors.Is(err, core.ErrOffsetRange):
		return metrics.ReasonInconsistent
	case errors.Is(err, core.ErrFormat), errors.Is(err, core.ErrShortBuffer), errors.Is(err, core.ErrResolution):
		return metrics.ReasonFormat
	default:
		return metrics.ReasonOther
	}
}
