package reco

import (
	"fmt"
	"math"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/sample"
)

// maxBuffer bounds the sample buffer a trailer may ask for; offsets are
// 12-bit so larger buffers could never be addressed.
const maxBuffer = 1 << 12

// Pedestal removes the per-capacitor baseline of a channel. Amplitudes are
// in capacitor order and NotData slots must be preserved.
type Pedestal interface {
	Subtract(amps []int64, channel uint8) []int64
}

// Gain converts the counts of each capacitor of a channel to physical units.
// Amplitudes are in capacitor order; NotData slots come back as NaN. A nil
// result means the channel has no gain.
type Gain interface {
	Scale(amps []int64, channel uint8) []float64
}

// Assembler turns a completed HitStash into an amplitude array.
type Assembler struct {
	// LeftMask is the number of samples before the stop offset to discard.
	// The stop sample itself is never covered by it.
	LeftMask int
	// KeepOffset leaves the array in capacitor order instead of rotating the
	// stop offset to index 0. Pedestal runs need capacitor order.
	KeepOffset bool
	Pedestal   Pedestal
	Gain       Gain
}

// Assemble decodes every subhit of s, places it at its capacitor offset and
// applies calibration, masking and time ordering. It returns the amplitudes
// and the stop offset, which is the offset of the first subhit.
func (a *Assembler) Assemble(s *HitStash, codec *sample.Codec) ([]int64, uint16, error) {
	n := s.MaxSamples()
	if n <= 0 || n > maxBuffer {
		return nil, 0, fmt.Errorf("reco: channel %d max samples %d: %w", s.Channel(), n, core.ErrOffsetRange)
	}
	subhits := s.Drain()
	if len(subhits) == 0 {
		return nil, 0, fmt.Errorf("reco: channel %d has no subhits: %w", s.Channel(), core.ErrEmptyPayload)
	}

	amps := make([]int64, n)
	for i := range amps {
		amps[i] = core.NotData
	}

	var (
		run []int64
		err error
	)
	for _, sh := range subhits {
		off := int(sh.Offset)
		if off >= n {
			return nil, 0, fmt.Errorf("reco: channel %d seq %d offset %d beyond %d samples: %w",
				s.Channel(), sh.Seq, off, n, core.ErrOffsetRange)
		}
		run, err = codec.Decode(run[:0], sh.Payload)
		if err != nil {
			return nil, 0, fmt.Errorf("reco: channel %d seq %d: %w", s.Channel(), sh.Seq, err)
		}
		placeRun(amps, off, run)
	}

	stop := int(subhits[0].Offset)

	if a.Pedestal != nil {
		amps = a.Pedestal.Subtract(amps, s.Channel())
	}
	maskRight(amps, stop, core.RightMask)
	maskLeft(amps, stop, a.LeftMask)

	if !a.KeepOffset {
		amps = rotate(amps, stop)
	}
	return amps, uint16(stop), nil
}

// Calibrate applies the gain to an array returned by Assemble. The result is
// indexed like amps; masked and missing samples are NaN. It returns nil when
// no gain applies to channel.
func (a *Assembler) Calibrate(amps []int64, stop uint16, channel uint8) []float64 {
	if a.Gain == nil || len(amps) == 0 {
		return nil
	}
	n := len(amps)
	start := int(stop) % n
	if !a.KeepOffset {
		// back to capacitor order, where the gain is indexed
		amps = rotate(amps, (n-start)%n)
	}
	volts := a.Gain.Scale(amps, channel)
	if volts == nil {
		return nil
	}
	if len(volts) != n {
		out := make([]float64, n)
		for i := range out {
			out[i] = math.NaN()
		}
		copy(out, volts)
		volts = out
	}
	if a.KeepOffset {
		return volts
	}
	return rotate(volts, start)
}

// placeRun writes run into the circular buffer starting at off. A run that
// passes the end continues at index 0; anything beyond one full turn is dropped.
func placeRun(buf []int64, off int, run []int64) {
	fit := copy(buf[off:], run)
	copy(buf[:off], run[fit:])
}

func maskRight(buf []int64, stop, count int) {
	n := len(buf)
	count = min(count, n)
	for i := 0; i < count; i++ {
		buf[(stop+i)%n] = core.NotData
	}
}

func maskLeft(buf []int64, stop, count int) {
	n := len(buf)
	count = min(count, n)
	for i := 1; i <= count; i++ {
		buf[((stop-i)%n+n)%n] = core.NotData
	}
}

// rotate returns buf reordered so that index 0 holds buf[stop].
func rotate[T any](buf []T, stop int) []T {
	out := make([]T, len(buf))
	k := copy(out, buf[stop:])
	copy(out[k:], buf[:stop])
	return out
}
