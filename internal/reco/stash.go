// Package reco reconstructs events from hit fragments and event headers.
package reco

import (
	"fmt"
	"sort"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/wire"
)

// Subhit is a contiguous run of raw sample bytes starting at a capacitor offset.
type Subhit struct {
	Seq     uint8
	Offset  uint16
	Payload []byte
}

type slot struct {
	offset uint16
	start  int
	end    int
}

// HitStash collects the fragments of one channel of one event. Payloads are
// copied into a single arena sized by the declared hit length, so a stash
// never holds on to datagram buffers.
type HitStash struct {
	channel    uint8
	target     int
	received   int
	maxSamples uint16
	arena      []byte
	slots      map[uint8]slot
}

// NewHitStash starts a stash from the first fragment seen for a channel.
func NewHitStash(f *wire.HitFragment) (*HitStash, error) {
	s := &HitStash{
		channel:    f.Channel,
		target:     int(f.HitSize),
		maxSamples: f.MaxSamples,
		arena:      make([]byte, 0, int(f.HitSize)),
		slots:      make(map[uint8]slot),
	}
	if err := s.Stash(f); err != nil {
		return nil, err
	}
	return s, nil
}

// Stash adds one fragment. A rejected fragment leaves the stash unchanged.
func (s *HitStash) Stash(f *wire.HitFragment) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("reco: channel %d seq %d: %w", f.Channel, f.Seq, core.ErrEmptyPayload)
	}
	// A re-delivered sequence is a duplicate whatever its header says.
	if _, dup := s.slots[f.Seq]; dup {
		return fmt.Errorf("reco: channel %d seq %d: %w", f.Channel, f.Seq, core.ErrDuplicateFragment)
	}
	if int(f.HitSize) != s.target {
		return fmt.Errorf("reco: channel %d hit size %d, stash expects %d: %w",
			f.Channel, f.HitSize, s.target, core.ErrInconsistentHit)
	}
	if f.MaxSamples != s.maxSamples {
		return fmt.Errorf("reco: channel %d max samples %d, stash expects %d: %w",
			f.Channel, f.MaxSamples, s.maxSamples, core.ErrInconsistentHit)
	}
	if s.received+len(f.Payload) > s.target {
		return fmt.Errorf("reco: channel %d received %d of %d bytes: %w",
			f.Channel, s.received+len(f.Payload), s.target, core.ErrInconsistentHit)
	}

	start := len(s.arena)
	s.arena = append(s.arena, f.Payload...)
	s.slots[f.Seq] = slot{offset: f.Offset, start: start, end: len(s.arena)}
	s.received += len(f.Payload)
	return nil
}

// Completed reports whether every declared byte of the hit arrived.
func (s *HitStash) Completed() bool { return s.received == s.target }

// Channel returns the channel the stash belongs to.
func (s *HitStash) Channel() uint8 { return s.channel }

// Received returns the number of payload bytes stashed so far.
func (s *HitStash) Received() int { return s.received }

// Target returns the declared hit length in bytes.
func (s *HitStash) Target() int { return s.target }

// MaxSamples returns the sample buffer capacity announced by the trailer.
func (s *HitStash) MaxSamples() int { return int(s.maxSamples) }

// Drain returns the stashed subhits ordered by sequence number. Offsets may
// wrap, so sequence order is the only reliable reconstruction order.
func (s *HitStash) Drain() []Subhit {
	out := make([]Subhit, 0, len(s.slots))
	for seq, sl := range s.slots {
		out = append(out, Subhit{Seq: seq, Offset: sl.offset, Payload: s.arena[sl.start:sl.end]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}
