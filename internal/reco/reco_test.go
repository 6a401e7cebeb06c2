package reco

import (
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/sample"
	"firestige.xyz/lappd/internal/wire"
)

var testAddr = netip.MustParseAddr("10.0.6.212")

func codec(t *testing.T, res uint8) *sample.Codec {
	t.Helper()
	c, err := sample.NewCodec(res)
	require.NoError(t, err)
	return c
}

// ramp returns n amplitudes starting at base.
func ramp(base int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = base + int64(i)
	}
	return out
}

func buildFragment(t *testing.T, c *sample.Codec, channel, seq uint8, offset uint16, hitSize int, amps []int64) *wire.HitFragment {
	t.Helper()
	payload, err := c.Encode(nil, amps)
	require.NoError(t, err)
	return &wire.HitFragment{
		HitHeader: wire.HitHeader{
			Channel:      channel,
			Offset:       offset,
			Seq:          seq,
			HitSize:      uint16(hitSize),
			TimestampLow: 42,
		},
		Payload:    payload,
		MaxSamples: core.MaxSamples,
	}
}

func TestHitStash(t *testing.T) {
	c := codec(t, 4)
	f0 := buildFragment(t, c, 3, 0, 10, 12, ramp(0, 3))
	f1 := buildFragment(t, c, 3, 1, 13, 12, ramp(3, 3))

	s, err := NewHitStash(f1)
	require.NoError(t, err)
	assert.False(t, s.Completed())
	assert.Equal(t, 6, s.Received())

	require.NoError(t, s.Stash(f0))
	assert.True(t, s.Completed())

	subhits := s.Drain()
	require.Len(t, subhits, 2)
	assert.Equal(t, uint8(0), subhits[0].Seq)
	assert.Equal(t, uint16(10), subhits[0].Offset)
	assert.Equal(t, f0.Payload, subhits[0].Payload)
	assert.Equal(t, f1.Payload, subhits[1].Payload)
}

func TestHitStashDuplicate(t *testing.T) {
	c := codec(t, 4)
	s, err := NewHitStash(buildFragment(t, c, 1, 0, 0, 12, ramp(0, 3)))
	require.NoError(t, err)

	dup := buildFragment(t, c, 1, 0, 0, 12, ramp(100, 3))
	err = s.Stash(dup)
	assert.ErrorIs(t, err, core.ErrDuplicateFragment)
	assert.Equal(t, 6, s.Received())

	subhits := s.Drain()
	require.Len(t, subhits, 1)
	got, err := c.Decode(nil, subhits[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, ramp(0, 3), got)
}

func TestHitStashInconsistent(t *testing.T) {
	c := codec(t, 4)
	s, err := NewHitStash(buildFragment(t, c, 1, 0, 0, 12, ramp(0, 3)))
	require.NoError(t, err)

	wrongSize := buildFragment(t, c, 1, 1, 3, 14, ramp(3, 3))
	assert.ErrorIs(t, s.Stash(wrongSize), core.ErrInconsistentHit)

	wrongMax := buildFragment(t, c, 1, 1, 3, 12, ramp(3, 3))
	wrongMax.MaxSamples = 512
	assert.ErrorIs(t, s.Stash(wrongMax), core.ErrInconsistentHit)

	overrun := buildFragment(t, c, 1, 1, 3, 12, ramp(3, 4))
	assert.ErrorIs(t, s.Stash(overrun), core.ErrInconsistentHit)

	empty := buildFragment(t, c, 1, 2, 3, 12, nil)
	assert.ErrorIs(t, s.Stash(empty), core.ErrEmptyPayload)

	assert.Equal(t, 6, s.Received())
}

func TestHitStashDuplicateWithBadHeader(t *testing.T) {
	c := codec(t, 4)
	s, err := NewHitStash(buildFragment(t, c, 1, 0, 0, 12, ramp(0, 3)))
	require.NoError(t, err)

	dup := buildFragment(t, c, 1, 0, 0, 14, ramp(0, 3))
	dup.MaxSamples = 512
	assert.ErrorIs(t, s.Stash(dup), core.ErrDuplicateFragment)
	assert.Equal(t, 6, s.Received())
}

func TestPlaceRunWraparound(t *testing.T) {
	buf := make([]int64, core.MaxSamples)
	for i := range buf {
		buf[i] = core.NotData
	}
	placeRun(buf, core.MaxSamples-5, ramp(1, 10))

	for i, v := range buf {
		populated := i >= core.MaxSamples-5 || i < 5
		assert.Equal(t, populated, !core.IsNotData(v), "index %d", i)
	}
	assert.Equal(t, int64(1), buf[core.MaxSamples-5])
	assert.Equal(t, int64(5), buf[core.MaxSamples-1])
	assert.Equal(t, int64(6), buf[0])
	assert.Equal(t, int64(10), buf[4])
}

func TestAssembleCapacitorOrder(t *testing.T) {
	c := codec(t, 4)
	amps := ramp(1, 20)
	s, err := NewHitStash(buildFragment(t, c, 0, 0, 100, 40, amps))
	require.NoError(t, err)

	a := Assembler{KeepOffset: true, LeftMask: 3}
	got, stop, err := a.Assemble(s, c)
	require.NoError(t, err)
	assert.Equal(t, uint16(100), stop)
	require.Len(t, got, core.MaxSamples)

	for i := 97; i < 105; i++ {
		assert.True(t, core.IsNotData(got[i]), "index %d should be masked", i)
	}
	assert.Equal(t, amps[5:], got[105:120])
	assert.True(t, core.IsNotData(got[120]))
}

func TestAssembleTimeOrder(t *testing.T) {
	c := codec(t, 3)
	s, err := NewHitStash(buildFragment(t, c, 0, 0, 1020, 10, ramp(1, 10)))
	require.NoError(t, err)

	a := Assembler{}
	got, stop, err := a.Assemble(s, c)
	require.NoError(t, err)
	assert.Equal(t, uint16(1020), stop)

	for i := 0; i < core.RightMask; i++ {
		assert.True(t, core.IsNotData(got[i]))
	}
	assert.Equal(t, []int64{6, 7, 8, 9, 10}, got[5:10])
	assert.True(t, core.IsNotData(got[10]))
}

func TestAssembleMaskWholeBuffer(t *testing.T) {
	c := codec(t, 4)
	s, err := NewHitStash(buildFragment(t, c, 0, 0, 3, 40, ramp(1, 20)))
	require.NoError(t, err)

	for _, keep := range []bool{true, false} {
		a := Assembler{KeepOffset: keep, LeftMask: 5 * core.MaxSamples}
		got, _, err := a.Assemble(s, c)
		require.NoError(t, err)
		require.Len(t, got, core.MaxSamples)
		for i, v := range got {
			require.True(t, core.IsNotData(v), "index %d", i)
		}
	}
}

type offsetPedestal struct {
	seen []int64
}

func (p *offsetPedestal) Subtract(amps []int64, channel uint8) []int64 {
	p.seen = append([]int64(nil), amps...)
	out := make([]int64, len(amps))
	for i, v := range amps {
		if core.IsNotData(v) {
			out[i] = v
			continue
		}
		out[i] = v - int64(i)
	}
	return out
}

func TestAssemblePedestalIsCapacitorIndexed(t *testing.T) {
	c := codec(t, 4)
	// amplitude at capacitor i is 1000+i, so subtracting i leaves 1000
	s, err := NewHitStash(buildFragment(t, c, 2, 0, 500, 200, ramp(1500, 100)))
	require.NoError(t, err)

	ped := &offsetPedestal{}
	a := Assembler{Pedestal: ped}
	got, _, err := a.Assemble(s, c)
	require.NoError(t, err)

	assert.Equal(t, int64(1505), ped.seen[505])
	for i := core.RightMask; i < 100; i++ {
		assert.Equal(t, int64(1000), got[i], "time index %d", i)
	}
}

func TestAssembleBadOffset(t *testing.T) {
	c := codec(t, 4)
	f := buildFragment(t, c, 0, 0, 2000, 4, ramp(0, 2))
	s, err := NewHitStash(f)
	require.NoError(t, err)

	_, _, err = (&Assembler{}).Assemble(s, c)
	assert.ErrorIs(t, err, core.ErrOffsetRange)
}

func header(ts uint32, hits uint8, size int) *wire.EventHeader {
	return &wire.EventHeader{
		BoardID:      0x0a0b0c0d0e0f,
		Resolution:   4,
		EvtNumber:    uint16(ts),
		EvtSize:      uint16(size),
		NumHits:      hits,
		TimestampLow: ts,
	}
}

func TestTrackerOrphanClaim(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{Assembler: Assembler{KeepOffset: true}})
	tag := Tag{Addr: testAddr, TimestampLow: 42}
	other := Tag{Addr: testAddr, TimestampLow: 43}

	f0 := buildFragment(t, c, 1, 0, 0, 20, ramp(1, 5))
	f1 := buildFragment(t, c, 1, 1, 5, 20, ramp(6, 5))
	stray := buildFragment(t, c, 1, 0, 0, 20, ramp(1, 5))

	for _, f := range []struct {
		tag Tag
		f   *wire.HitFragment
	}{{tag, f1}, {other, stray}, {tag, f0}} {
		ev, err := tr.HandleHit(f.tag, f.f)
		require.NoError(t, err)
		assert.Nil(t, ev)
	}
	assert.Equal(t, 3, tr.Orphans())

	ev, err := tr.HandleEvent(tag, header(42, 1, 20))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.True(t, ev.Complete())
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 1, tr.Orphans(), "orphan with another tag must stay parked")

	require.Contains(t, ev.Channels, uint8(1))
	got := ev.Channels[1]
	assert.Equal(t, ramp(6, 5), got[5:10])
	assert.Equal(t, uint16(0), ev.Offsets[1])
	assert.Equal(t, uint64(2), tr.Stats().OrphansClaimed)
}

func TestTrackerRoutesToTrackedEvent(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{})
	tag := Tag{Addr: testAddr, TimestampLow: 42}

	ev, err := tr.HandleEvent(tag, header(42, 2, 16))
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, 1, tr.Len())

	ev, err = tr.HandleHit(tag, buildFragment(t, c, 0, 0, 10, 8, ramp(0, 4)))
	require.NoError(t, err)
	assert.Nil(t, ev)

	tracked, ok := tr.Lookup(tag)
	require.True(t, ok)
	assert.Equal(t, 1, tracked.RemainingHits())
	assert.Equal(t, 8, tracked.RemainingBytes())

	ev, err = tr.HandleHit(tag, buildFragment(t, c, 5, 0, 10, 8, ramp(0, 4)))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Len(t, ev.Channels, 2)
	assert.Equal(t, 0, tr.Len())
}

func TestTrackerDuplicateHeader(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	tag := Tag{Addr: testAddr, TimestampLow: 7}

	_, err := tr.HandleEvent(tag, header(7, 1, 8))
	require.NoError(t, err)

	second := header(7, 3, 100)
	second.EvtNumber = 99
	_, err = tr.HandleEvent(tag, second)
	assert.ErrorIs(t, err, core.ErrDuplicateEvent)

	ev, ok := tr.Lookup(tag)
	require.True(t, ok)
	assert.Equal(t, uint16(7), ev.EvtNumber)
	assert.Equal(t, 1, ev.RemainingHits())
	assert.Equal(t, uint64(1), tr.Stats().DuplicateHeaders)
}

func TestTrackerEviction(t *testing.T) {
	const capacity = 4
	tr := NewTracker(TrackerConfig{Capacity: capacity})

	for i := 0; i <= capacity; i++ {
		_, err := tr.HandleEvent(Tag{Addr: testAddr, TimestampLow: uint32(i)}, header(uint32(i), 1, 8))
		require.NoError(t, err)
		assert.LessOrEqual(t, tr.Len(), capacity)
	}

	assert.Equal(t, capacity, tr.Len())
	assert.Equal(t, uint64(1), tr.Stats().Evicted)

	_, ok := tr.Lookup(Tag{Addr: testAddr, TimestampLow: 0})
	assert.False(t, ok, "oldest event must be evicted")
	for i := 1; i <= capacity; i++ {
		_, ok := tr.Lookup(Tag{Addr: testAddr, TimestampLow: uint32(i)})
		assert.True(t, ok, "event %d must be kept", i)
	}
}

func TestTrackerOrphanLimit(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{MaxOrphans: 2})

	for i := 0; i < 3; i++ {
		_, err := tr.HandleHit(Tag{Addr: testAddr, TimestampLow: uint32(i)},
			buildFragment(t, c, 0, 0, 0, 4, ramp(0, 2)))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, tr.Orphans())
	assert.Equal(t, uint64(1), tr.Stats().OrphansDropped)
}

func TestTrackerZeroHitEvent(t *testing.T) {
	tr := NewTracker(TrackerConfig{})
	ev, err := tr.HandleEvent(Tag{Addr: testAddr, TimestampLow: 1}, header(1, 0, 0))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Empty(t, ev.Channels)
}

func TestEventClaimAfterAssembly(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{})
	tag := Tag{Addr: testAddr, TimestampLow: 9}

	_, err := tr.HandleEvent(tag, header(9, 2, 16))
	require.NoError(t, err)
	_, err = tr.HandleHit(tag, buildFragment(t, c, 0, 0, 0, 8, ramp(0, 4)))
	require.NoError(t, err)

	_, err = tr.HandleHit(tag, buildFragment(t, c, 0, 1, 4, 8, ramp(0, 4)))
	assert.ErrorIs(t, err, core.ErrDuplicateFragment)

	_, err = tr.HandleHit(tag, buildFragment(t, c, 1, 0, 0, 8, nil))
	assert.ErrorIs(t, err, core.ErrEmptyPayload)
}

func TestEventInconsistentFragmentAbandonsHit(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{})
	tag := Tag{Addr: testAddr, TimestampLow: 11}

	_, err := tr.HandleEvent(tag, header(11, 1, 12))
	require.NoError(t, err)
	_, err = tr.HandleHit(tag, buildFragment(t, c, 2, 0, 0, 12, ramp(0, 3)))
	require.NoError(t, err)

	ev, ok := tr.Lookup(tag)
	require.True(t, ok)
	require.Equal(t, 1, ev.Pending())

	// a plain re-delivery, and one with a corrupted header, keep the stash
	done, err := tr.HandleHit(tag, buildFragment(t, c, 2, 0, 0, 12, ramp(0, 3)))
	assert.ErrorIs(t, err, core.ErrDuplicateFragment)
	assert.Nil(t, done)
	assert.Equal(t, 1, ev.Pending())

	corrupt := buildFragment(t, c, 2, 0, 0, 14, ramp(0, 3))
	_, err = tr.HandleHit(tag, corrupt)
	assert.ErrorIs(t, err, core.ErrDuplicateFragment)
	assert.Equal(t, 1, ev.Pending())

	done, err = tr.HandleHit(tag, buildFragment(t, c, 2, 1, 3, 14, ramp(3, 3)))
	assert.ErrorIs(t, err, core.ErrInconsistentHit)
	assert.Nil(t, done)
	assert.Equal(t, 0, ev.Pending(), "the whole hit is abandoned")
	assert.False(t, ev.Complete())
	assert.Equal(t, 1, ev.RemainingHits())
	assert.Empty(t, ev.Channels)

	_, ok = tr.Lookup(tag)
	assert.True(t, ok, "event stays open")
}

type voltsPerCount float64

func (g voltsPerCount) Scale(amps []int64, _ uint8) []float64 {
	out := make([]float64, len(amps))
	for i, v := range amps {
		if core.IsNotData(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = float64(v) * float64(g)
	}
	return out
}

func TestTrackerGainKeepsCounts(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{Assembler: Assembler{Gain: voltsPerCount(0.0005)}})
	tag := Tag{Addr: testAddr, TimestampLow: 12}

	_, err := tr.HandleEvent(tag, header(12, 1, 20))
	require.NoError(t, err)
	ev, err := tr.HandleHit(tag, buildFragment(t, c, 4, 0, 1000, 20, ramp(1500, 10)))
	require.NoError(t, err)
	require.NotNil(t, ev)

	amps := ev.Channels[4]
	volts := ev.Calibrated[4]
	require.Len(t, volts, len(amps))
	assert.True(t, math.IsNaN(volts[0]), "masked stop sample")
	assert.Equal(t, int64(1505), amps[core.RightMask])
	assert.InDelta(t, 0.7525, volts[core.RightMask], 1e-12)
	assert.True(t, math.IsNaN(volts[10]))
}

func TestTrackerDrain(t *testing.T) {
	c := codec(t, 4)
	tr := NewTracker(TrackerConfig{})
	_, err := tr.HandleEvent(Tag{Addr: testAddr, TimestampLow: 1}, header(1, 1, 8))
	require.NoError(t, err)
	_, err = tr.HandleHit(Tag{Addr: testAddr, TimestampLow: 2}, buildFragment(t, c, 0, 0, 0, 8, ramp(0, 4)))
	require.NoError(t, err)

	events, orphans := tr.Drain()
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, orphans)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, 0, tr.Orphans())
}
