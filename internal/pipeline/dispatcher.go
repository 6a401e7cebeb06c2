// Package pipeline hands completed events from the intake loops to the
// reporters.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/metrics"
	"firestige.xyz/lappd/internal/reco"
	"firestige.xyz/lappd/pkg/models"
	"firestige.xyz/lappd/pkg/plugin"
)

// Timing places amplitudes on a calibrated time axis.
type Timing interface {
	Apply(ev *reco.Event)
}

// Config contains dispatcher configuration.
type Config struct {
	QueueSize int // Completed-event queue length (default 1024)
	Workers   int // Reporting goroutines (default 1)
	// Producers is the number of intake loops feeding the dispatcher. The
	// queue closes after each of them has signalled shutdown.
	Producers int
	Timing    Timing
	Reporters []plugin.Reporter
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	Accepted     uint64
	Dropped      uint64
	Reported     uint64
	ReportErrors uint64
}

// Dispatcher queues completed events and reports them from worker
// goroutines. Its Process method is the intake hook.
type Dispatcher struct {
	cfg   Config
	queue chan *reco.Event
	log   log.Logger

	mu        sync.RWMutex
	started   bool
	closed    bool
	producers int

	wg   sync.WaitGroup
	done chan struct{}

	accepted     atomic.Uint64
	dropped      atomic.Uint64
	reported     atomic.Uint64
	reportErrors atomic.Uint64
}

// New creates a new dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Producers <= 0 {
		cfg.Producers = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		queue:     make(chan *reco.Event, cfg.QueueSize),
		log:       log.GetLogger().WithField("component", "dispatcher"),
		producers: cfg.Producers,
		done:      make(chan struct{}),
	}
}

// Start starts the reporters and the workers. Reporters started before a
// failing one are stopped again. Workers keep reporting after ctx is
// cancelled so that queued events are drained on shutdown.
func (d *Dispatcher) Start(ctx context.Context) error {
	for i, r := range d.cfg.Reporters {
		if err := r.Start(ctx); err != nil {
			for _, started := range d.cfg.Reporters[:i] {
				_ = started.Stop(ctx)
			}
			return err
		}
	}

	d.mu.Lock()
	d.started = true
	d.mu.Unlock()

	workCtx := context.WithoutCancel(ctx)
	d.wg.Add(d.cfg.Workers)
	for i := 0; i < d.cfg.Workers; i++ {
		go d.worker(workCtx)
	}
	go func() {
		d.wg.Wait()
		close(d.done)
	}()

	d.log.Infof("dispatcher started: %d worker(s), queue %d, %d reporter(s)",
		d.cfg.Workers, d.cfg.QueueSize, len(d.cfg.Reporters))
	return nil
}

// Process accepts a completed event. It never blocks: when the queue is
// full the event is dropped and Process returns false. A nil event signals
// that one producer has shut down.
func (d *Dispatcher) Process(ev *reco.Event) bool {
	if ev == nil {
		d.release()
		return true
	}

	if d.cfg.Timing != nil {
		d.cfg.Timing.Apply(ev)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		metrics.HandoffDropsTotal.Inc()
		return false
	}

	select {
	case d.queue <- ev:
		d.accepted.Add(1)
		return true
	default:
		d.dropped.Add(1)
		metrics.HandoffDropsTotal.Inc()
		d.log.Warnf("queue full, dropped event %d from %s", ev.EvtNumber, ev.Tag)
		return false
	}
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.producers--
	if d.producers <= 0 {
		d.closeLocked()
	}
}

func (d *Dispatcher) closeLocked() {
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for ev := range d.queue {
		rec := models.FromEvent(ev)
		for _, r := range d.cfg.Reporters {
			if err := r.Report(ctx, rec); err != nil {
				d.reportErrors.Add(1)
				metrics.ReporterErrorsTotal.WithLabelValues(r.Name()).Inc()
				d.log.WithError(err).WithField("reporter", r.Name()).Error("reporter failed")
				continue
			}
			metrics.ReportedEventsTotal.WithLabelValues(r.Name()).Inc()
		}
		d.reported.Add(1)
	}
}

// Wait blocks until every producer has shut down and the queue is drained,
// or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.RLock()
	started := d.started
	d.mu.RUnlock()
	if !started {
		return nil
	}
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue if producers have not, waits for the workers to
// drain it, then flushes and stops every reporter. Events still queued when
// ctx expires are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closeLocked()
	}
	d.mu.Unlock()

	err := d.Wait(ctx)
	if err != nil {
		d.log.WithError(err).Warnf("stopped with %d event(s) queued", len(d.queue))
	}

	for _, r := range d.cfg.Reporters {
		if ferr := r.Flush(ctx); ferr != nil {
			d.log.WithError(ferr).WithField("reporter", r.Name()).Error("reporter flush failed")
		}
		if serr := r.Stop(ctx); serr != nil {
			d.log.WithError(serr).WithField("reporter", r.Name()).Error("reporter stop failed")
		}
	}

	s := d.Stats()
	d.log.Infof("dispatcher stopped: %d accepted, %d dropped, %d reported, %d reporter errors",
		s.Accepted, s.Dropped, s.Reported, s.ReportErrors)
	return err
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Accepted:     d.accepted.Load(),
		Dropped:      d.dropped.Load(),
		Reported:     d.reported.Load(),
		ReportErrors: d.reportErrors.Load(),
	}
}
