package reco

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/sample"
	"firestige.xyz/lappd/internal/wire"
)

// Tag correlates hit fragments with the event header of the same trigger.
type Tag struct {
	Addr         netip.Addr
	TimestampLow uint32
}

func (t Tag) String() string {
	return fmt.Sprintf("%s@%d", t.Addr, t.TimestampLow)
}

// TimedSample is one amplitude placed on a calibrated time axis.
type TimedSample struct {
	T float64 // nanoseconds after the stop sample
	A int64
}

// Event is a reconstructed trigger. Until it completes it is owned by the
// Tracker; once handed off the receiver owns it outright.
type Event struct {
	Tag           Tag
	BoardID       uint64
	EvtNumber     uint16
	Resolution    uint8
	TimestampHigh uint32
	Created       time.Time

	// Channels holds the assembled amplitude array of every completed hit.
	Channels map[uint8][]int64
	// Offsets holds the stop offset observed for every completed hit.
	Offsets map[uint8]uint16
	// Calibrated holds the gain-scaled waveform of every channel with a gain,
	// indexed like Channels. NotData samples are NaN.
	Calibrated map[uint8][]float64
	// Timed is filled by a timing calibration, if one is applied.
	Timed map[uint8][]TimedSample
	// TimeOrdered is set when index 0 of every channel is its stop sample
	// rather than capacitor 0.
	TimeOrdered bool

	remainingHits  int
	remainingBytes int
	complete       bool
	stashes        map[uint8]*HitStash
	codec          *sample.Codec
	asm            *Assembler
}

func newEvent(tag Tag, h *wire.EventHeader, codec *sample.Codec, asm *Assembler) *Event {
	ev := &Event{
		Tag:            tag,
		BoardID:        h.BoardID,
		EvtNumber:      h.EvtNumber,
		Resolution:     h.Resolution,
		TimestampHigh:  h.TimestampHigh,
		Created:        time.Now(),
		TimeOrdered:    !asm.KeepOffset,
		Channels:       make(map[uint8][]int64, h.NumHits),
		Offsets:        make(map[uint8]uint16, h.NumHits),
		remainingHits:  int(h.NumHits),
		remainingBytes: int(h.EvtSize),
		stashes:        make(map[uint8]*HitStash),
		codec:          codec,
		asm:            asm,
	}
	// An event that announces no hits has nothing to wait for.
	ev.complete = ev.remainingHits == 0
	return ev
}

// Timestamp returns the 64-bit trigger timestamp.
func (ev *Event) Timestamp() uint64 {
	return uint64(ev.TimestampHigh)<<32 | uint64(ev.Tag.TimestampLow)
}

// Complete reports whether all announced hits (or bytes) were received.
func (ev *Event) Complete() bool { return ev.complete }

// RemainingHits returns the number of hits still expected.
func (ev *Event) RemainingHits() int { return ev.remainingHits }

// RemainingBytes returns the number of hit payload bytes still expected.
func (ev *Event) RemainingBytes() int { return ev.remainingBytes }

// Pending returns the number of channels with a partial hit.
func (ev *Event) Pending() int { return len(ev.stashes) }

// Claim routes a fragment to its channel. When the fragment completes the
// hit, the hit is assembled and its stash released.
//
// Duplicate fragments are dropped and leave the stash untouched; an
// inconsistent fragment abandons the whole hit.
func (ev *Event) Claim(f *wire.HitFragment) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("reco: event %d channel %d seq %d: %w", ev.EvtNumber, f.Channel, f.Seq, core.ErrEmptyPayload)
	}
	if _, done := ev.Channels[f.Channel]; done {
		return fmt.Errorf("reco: event %d channel %d already assembled, seq %d: %w",
			ev.EvtNumber, f.Channel, f.Seq, core.ErrDuplicateFragment)
	}

	stash, ok := ev.stashes[f.Channel]
	if !ok {
		var err error
		stash, err = NewHitStash(f)
		if err != nil {
			return err
		}
		ev.stashes[f.Channel] = stash
	} else if err := stash.Stash(f); err != nil {
		if !isDuplicate(err) {
			delete(ev.stashes, f.Channel)
		}
		return err
	}

	if stash.Completed() {
		delete(ev.stashes, f.Channel)
		ev.remainingBytes -= stash.Received()

		amps, stop, err := ev.asm.Assemble(stash, ev.codec)
		if err != nil {
			return fmt.Errorf("reco: event %d: %w", ev.EvtNumber, err)
		}
		ev.Channels[f.Channel] = amps
		ev.Offsets[f.Channel] = stop
		if volts := ev.asm.Calibrate(amps, stop, f.Channel); volts != nil {
			if ev.Calibrated == nil {
				ev.Calibrated = make(map[uint8][]float64, len(ev.Channels))
			}
			ev.Calibrated[f.Channel] = volts
		}
		ev.remainingHits--
	}

	if ev.remainingHits <= 0 || ev.remainingBytes <= 0 {
		ev.complete = true
	}
	return nil
}

// release drops the reassembly state once the event leaves the tracker.
func (ev *Event) release() {
	ev.stashes = nil
	ev.codec = nil
	ev.asm = nil
}
