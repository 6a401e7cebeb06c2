package reco

import (
	"container/list"
	"errors"
	"fmt"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/metrics"
	"firestige.xyz/lappd/internal/sample"
	"firestige.xyz/lappd/internal/wire"
)

// TrackerConfig contains configuration for event tracking.
type TrackerConfig struct {
	Capacity   int    // Maximum in-flight events (default 100)
	MaxOrphans int    // Maximum orphan fragments, 0 = unbounded
	Listener   string // Metrics label
	Assembler  Assembler
}

// TrackerStats is a snapshot of tracker counters.
type TrackerStats struct {
	Registered       uint64
	Completed        uint64
	Evicted          uint64
	DuplicateHeaders uint64
	Orphaned         uint64
	OrphansClaimed   uint64
	OrphansDropped   uint64
}

type orphan struct {
	tag  Tag
	frag *wire.HitFragment
}

// Tracker demultiplexes fragments into events by tag. It is owned by a
// single intake loop and is not safe for concurrent use.
type Tracker struct {
	cfg     TrackerConfig
	codecs  [core.MaxResolution + 1]*sample.Codec
	events  map[Tag]*list.Element // of *Event, insertion ordered
	order   list.List
	orphans []orphan
	stats   TrackerStats
}

// NewTracker creates a new event tracker.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100
	}
	if cfg.MaxOrphans < 0 {
		cfg.MaxOrphans = 0
	}
	return &Tracker{
		cfg:    cfg,
		codecs: sample.Codecs(),
		events: make(map[Tag]*list.Element),
	}
}

// Len returns the number of in-flight events.
func (t *Tracker) Len() int { return len(t.events) }

// Orphans returns the number of fragments waiting for an event header.
func (t *Tracker) Orphans() int { return len(t.orphans) }

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() TrackerStats { return t.stats }

// Lookup returns the in-flight event for tag, if any.
func (t *Tracker) Lookup(tag Tag) (*Event, bool) {
	el, ok := t.events[tag]
	if !ok {
		return nil, false
	}
	return el.Value.(*Event), true
}

// HandleHit routes a fragment to its event, or parks it as an orphan when
// no event with the same tag is tracked. It returns the event if this
// fragment completed it; the event is no longer tracked.
func (t *Tracker) HandleHit(tag Tag, f *wire.HitFragment) (*Event, error) {
	el, ok := t.events[tag]
	if !ok {
		t.park(tag, f)
		return nil, nil
	}
	ev := el.Value.(*Event)
	err := ev.Claim(f)
	if ev.Complete() {
		return t.finish(tag, el), err
	}
	return nil, err
}

// HandleEvent registers a new event and claims every matching orphan. A
// header whose tag is already tracked is dropped with ErrDuplicateEvent.
// Claim failures of individual orphans are joined into the returned error.
func (t *Tracker) HandleEvent(tag Tag, h *wire.EventHeader) (*Event, error) {
	if _, dup := t.events[tag]; dup {
		t.stats.DuplicateHeaders++
		return nil, fmt.Errorf("reco: event %d from %s: %w", h.EvtNumber, tag, core.ErrDuplicateEvent)
	}
	codec := t.codecs[h.Resolution]
	if codec == nil {
		return nil, fmt.Errorf("reco: event %d resolution %d: %w", h.EvtNumber, h.Resolution, core.ErrResolution)
	}

	ev := newEvent(tag, h, codec, &t.cfg.Assembler)
	el := t.order.PushBack(ev)
	t.events[tag] = el
	t.stats.Registered++

	if len(t.events) > t.cfg.Capacity {
		t.evictOldest()
	}

	var errs []error
	kept := t.orphans[:0]
	for _, o := range t.orphans {
		if o.tag != tag {
			kept = append(kept, o)
			continue
		}
		t.stats.OrphansClaimed++
		if err := ev.Claim(o.frag); err != nil {
			errs = append(errs, err)
		}
	}
	clear(t.orphans[len(kept):])
	t.orphans = kept
	t.updateGauges()

	if ev.Complete() {
		return t.finish(tag, el), errors.Join(errs...)
	}
	return nil, errors.Join(errs...)
}

// Drain discards every tracked event and orphan and reports how many there were.
func (t *Tracker) Drain() (events, orphans int) {
	events, orphans = len(t.events), len(t.orphans)
	for _, el := range t.events {
		el.Value.(*Event).release()
	}
	clear(t.events)
	t.order.Init()
	t.orphans = nil
	t.updateGauges()
	return events, orphans
}

func (t *Tracker) park(tag Tag, f *wire.HitFragment) {
	if t.cfg.MaxOrphans > 0 && len(t.orphans) >= t.cfg.MaxOrphans {
		t.orphans[0] = orphan{}
		t.orphans = t.orphans[1:]
		t.stats.OrphansDropped++
		metrics.IntakeDropsTotal.WithLabelValues(t.cfg.Listener, metrics.ReasonOrphanLimit).Inc()
	}
	// The datagram buffer may be reused by the source.
	cp := *f
	cp.Payload = append([]byte(nil), f.Payload...)
	t.orphans = append(t.orphans, orphan{tag: tag, frag: &cp})
	t.stats.Orphaned++
	metrics.OrphanFragments.WithLabelValues(t.cfg.Listener).Set(float64(len(t.orphans)))
}

func (t *Tracker) finish(tag Tag, el *list.Element) *Event {
	ev := t.remove(tag, el)
	t.stats.Completed++
	t.updateGauges()
	return ev
}

func (t *Tracker) evictOldest() {
	el := t.order.Front()
	if el == nil {
		return
	}
	ev := el.Value.(*Event)
	t.remove(ev.Tag, el)
	t.stats.Evicted++
	metrics.EventsEvictedTotal.WithLabelValues(t.cfg.Listener).Inc()
}

func (t *Tracker) remove(tag Tag, el *list.Element) *Event {
	ev := t.order.Remove(el).(*Event)
	delete(t.events, tag)
	ev.release()
	return ev
}

func (t *Tracker) updateGauges() {
	metrics.EventsInFlight.WithLabelValues(t.cfg.Listener).Set(float64(len(t.events)))
	metrics.OrphanFragments.WithLabelValues(t.cfg.Listener).Set(float64(len(t.orphans)))
}

func isDuplicate(err error) bool {
	return errors.Is(err, core.ErrDuplicateFragment)
}
