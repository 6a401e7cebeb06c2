// Package fragment splits channel waveforms into wire fragments the way a
// board emits them. It drives the traffic generator and is the reference
// the decode path is checked against.
package fragment

import (
	"fmt"

	"firestige.xyz/lappd/internal/core"
	"firestige.xyz/lappd/internal/sample"
	"firestige.xyz/lappd/internal/wire"
)

// maxFragments is the number of distinct 4-bit sequence numbers.
const maxFragments = 16

// Subhit is a contiguous run of samples starting at a capacitor offset.
type Subhit struct {
	Offset     uint16
	Amplitudes []int64
}

// Hit is the waveform of one channel, possibly split into several subhits.
type Hit struct {
	Channel uint8
	Subhits []Subhit
}

// Encoder produces wire fragments. The zero value uses the production MTU
// and sample buffer size.
type Encoder struct {
	// MTU is the largest fragment payload in bytes.
	MTU int
	// MaxSamples is the sample buffer size written to every trailer.
	MaxSamples uint16
}

func (e *Encoder) mtu(codec *sample.Codec) int {
	mtu := e.MTU
	if mtu <= 0 {
		mtu = core.DefaultMTU
	}
	// A fragment is decoded on its own, so it must hold whole samples.
	if !codec.Packed() {
		width := int(codec.Bits() / 8)
		mtu -= mtu % width
	}
	return mtu
}

func (e *Encoder) maxSamples() uint16 {
	if e.MaxSamples == 0 {
		return core.MaxSamples
	}
	return e.MaxSamples
}

// EncodeHit splits every subhit of h into fragments no larger than the MTU.
// Sequence numbers run across subhit boundaries and continuation fragments
// advance the offset by the samples already sent, modulo MaxSamples. It
// returns the fragments and the payload size of the whole hit.
func (e *Encoder) EncodeHit(codec *sample.Codec, tsLow uint32, h Hit) ([]*wire.HitFragment, int, error) {
	var (
		mtu   = e.mtu(codec)
		ms    = int(e.maxSamples())
		frags []*wire.HitFragment
		size  int
	)
	if mtu <= 0 {
		return nil, 0, fmt.Errorf("fragment: mtu %d cannot hold a %d-bit sample: %w", e.MTU, codec.Bits(), core.ErrConfigInvalid)
	}
	for _, sh := range h.Subhits {
		if int(sh.Offset) >= ms {
			return nil, 0, fmt.Errorf("fragment: channel %d offset %d beyond %d samples: %w",
				h.Channel, sh.Offset, ms, core.ErrOffsetRange)
		}
		payload, err := codec.Encode(nil, sh.Amplitudes)
		if err != nil {
			return nil, 0, fmt.Errorf("fragment: channel %d: %w", h.Channel, err)
		}
		size += len(payload)

		offset := int(sh.Offset)
		for start := 0; start < len(payload); start += mtu {
			end := min(start+mtu, len(payload))
			if len(frags) == maxFragments {
				return nil, 0, fmt.Errorf("fragment: channel %d needs more than %d fragments: %w",
					h.Channel, maxFragments, core.ErrOffsetRange)
			}
			frags = append(frags, &wire.HitFragment{
				HitHeader: wire.HitHeader{
					Channel:      h.Channel,
					Offset:       uint16(offset),
					Seq:          uint8(len(frags)),
					TimestampLow: tsLow,
				},
				Payload:    payload[start:end],
				MaxSamples: uint16(ms),
			})
			offset = (offset + codec.SamplesIn(end-start)) % ms
		}
	}
	if size > 0xffff {
		return nil, 0, fmt.Errorf("fragment: channel %d hit of %d bytes: %w", h.Channel, size, core.ErrOffsetRange)
	}
	for _, f := range frags {
		f.HitSize = uint16(size)
	}
	return frags, size, nil
}

// EncodeEvent serializes hdr and hits into datagrams. Hit fragments come
// first and the event header last, so a receiver sees every fragment as an
// orphan before the header claims them. NumHits and EvtSize of hdr are
// filled in.
func (e *Encoder) EncodeEvent(hdr *wire.EventHeader, hits []Hit) ([][]byte, error) {
	codec, err := sample.NewCodec(hdr.Resolution)
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	if len(hits) > 0xff {
		return nil, fmt.Errorf("fragment: %d hits do not fit one event: %w", len(hits), core.ErrOffsetRange)
	}

	var (
		out   [][]byte
		total int
	)
	for _, h := range hits {
		frags, size, err := e.EncodeHit(codec, hdr.TimestampLow, h)
		if err != nil {
			return nil, err
		}
		total += size
		for _, f := range frags {
			raw, err := f.Encode(make([]byte, 0, wire.HitHeaderSize+len(f.Payload)+wire.HitTrailerSize))
			if err != nil {
				return nil, fmt.Errorf("fragment: %w", err)
			}
			out = append(out, raw)
		}
	}
	if total > 0xffff {
		return nil, fmt.Errorf("fragment: event of %d bytes: %w", total, core.ErrOffsetRange)
	}

	hdr.NumHits = uint8(len(hits))
	hdr.EvtSize = uint16(total)
	raw, err := hdr.Encode(make([]byte, 0, wire.EventHeaderSize))
	if err != nil {
		return nil, fmt.Errorf("fragment: %w", err)
	}
	return append(out, raw), nil
}
