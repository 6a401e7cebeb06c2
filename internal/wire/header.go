package wire

import (
	"fmt"

	"firestige.xyz/lappd/internal/core"
)

const (
	// HitMagic opens every hit fragment.
	HitMagic uint16 = 0x039a
	// EventMagic opens every event header.
	EventMagic uint16 = 0x39ab

	// HitHeaderSize is the fixed hit fragment header length.
	HitHeaderSize = 11
	// HitTrailerSize is the max-samples trailer following the payload.
	HitTrailerSize = 2
	// EventHeaderSize is the fixed event header length.
	EventHeaderSize = 31

	maxOffset = 1<<12 - 1
	maxSeq    = 1<<4 - 1
	maxBoard  = 1<<48 - 1
)

// HitHeader is the fixed part of a hit fragment.
type HitHeader struct {
	Channel      uint8
	Offset       uint16 // 12-bit capacitor offset of the first sample in this fragment
	Seq          uint8  // 4-bit sequence number within the hit
	HitSize      uint16 // payload bytes of the whole hit, all fragments combined
	TimestampLow uint32
}

// HitFragment is one datagram of a channel's waveform.
type HitFragment struct {
	HitHeader
	Payload    []byte
	MaxSamples uint16 // trailer: capacity of the channel's sample buffer
}

// EventHeader announces an event and how much hit data belongs to it.
type EventHeader struct {
	BoardID       uint64 // low 48 bits of the device DNA
	Resolution    uint8  // sample width is 1<<Resolution bits
	EvtNumber     uint16
	EvtSize       uint16 // payload bytes of all hits
	NumHits       uint8
	TimestampHigh uint32
	TimestampLow  uint32
}

// DecodeHitHeader decodes the fixed hit header at the start of p.
func DecodeHitHeader(p []byte) (HitHeader, error) {
	r := reader{p: p}
	magic := r.readU16()
	var h HitHeader
	h.Channel = r.readU8()
	word := r.readU16()
	h.Offset = word >> 4
	h.Seq = uint8(word & 0x0f)
	h.HitSize = r.readU16()
	h.TimestampLow = r.readU32()
	if r.err != nil {
		return HitHeader{}, fmt.Errorf("wire: could not decode hit header: %w", r.err)
	}
	if magic != HitMagic {
		return HitHeader{}, fmt.Errorf("wire: hit magic 0x%04x: %w", magic, core.ErrFormat)
	}
	return h, nil
}

// DecodeHitFragment decodes a whole hit datagram: header, payload and trailer.
// The returned payload aliases p.
func DecodeHitFragment(p []byte) (*HitFragment, error) {
	h, err := DecodeHitHeader(p)
	if err != nil {
		return nil, err
	}
	if len(p) < HitHeaderSize+HitTrailerSize {
		return nil, fmt.Errorf("wire: hit datagram of %d bytes has no trailer: %w",
			len(p), core.ErrShortBuffer)
	}
	end := len(p) - HitTrailerSize
	r := reader{p: p, pos: end}
	frag := &HitFragment{
		HitHeader:  h,
		Payload:    p[HitHeaderSize:end],
		MaxSamples: r.readU16(),
	}
	return frag, nil
}

// Encode appends the wire form of the fragment to dst.
func (f *HitFragment) Encode(dst []byte) ([]byte, error) {
	if f.Offset > maxOffset {
		return dst, fmt.Errorf("wire: offset %d does not fit 12 bits: %w", f.Offset, core.ErrOffsetRange)
	}
	if f.Seq > maxSeq {
		return dst, fmt.Errorf("wire: sequence %d does not fit 4 bits: %w", f.Seq, core.ErrOffsetRange)
	}
	w := writer{p: dst}
	w.writeU16(HitMagic)
	w.writeU8(f.Channel)
	w.writeU16(f.Offset<<4 | uint16(f.Seq))
	w.writeU16(f.HitSize)
	w.writeU32(f.TimestampLow)
	w.write(f.Payload)
	w.writeU16(f.MaxSamples)
	return w.p, nil
}

// DecodeEventHeader decodes an event header from p. Trailing bytes are ignored.
func DecodeEventHeader(p []byte) (*EventHeader, error) {
	r := reader{p: p}
	magic := r.readU16()
	var h EventHeader
	h.BoardID = r.readU48()
	h.Resolution = r.readU8() >> 5
	h.EvtNumber = r.readU16()
	h.EvtSize = r.readU16()
	h.NumHits = r.readU8()
	r.skip(1)
	h.TimestampHigh = r.readU32()
	h.TimestampLow = r.readU32()
	r.skip(8)
	if r.err != nil {
		return nil, fmt.Errorf("wire: could not decode event header: %w", r.err)
	}
	if magic != EventMagic {
		return nil, fmt.Errorf("wire: event magic 0x%04x: %w", magic, core.ErrFormat)
	}
	if h.Resolution > core.MaxResolution {
		return nil, fmt.Errorf("wire: resolution code %d: %w", h.Resolution, core.ErrResolution)
	}
	return &h, nil
}

// Encode appends the wire form of the header to dst.
func (h *EventHeader) Encode(dst []byte) ([]byte, error) {
	if h.Resolution > core.MaxResolution {
		return dst, fmt.Errorf("wire: resolution code %d: %w", h.Resolution, core.ErrResolution)
	}
	if h.BoardID > maxBoard {
		return dst, fmt.Errorf("wire: board id 0x%x does not fit 48 bits: %w", h.BoardID, core.ErrOffsetRange)
	}
	w := writer{p: dst}
	w.writeU16(EventMagic)
	w.writeU48(h.BoardID)
	w.writeU8(h.Resolution << 5)
	w.writeU16(h.EvtNumber)
	w.writeU16(h.EvtSize)
	w.writeU8(h.NumHits)
	w.zero(1)
	w.writeU32(h.TimestampHigh)
	w.writeU32(h.TimestampLow)
	w.zero(8)
	return w.p, nil
}

// BoardMAC formats a board id the way the board's MAC address is printed.
func BoardMAC(id uint64) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		byte(id>>40), byte(id>>32), byte(id>>24), byte(id>>16), byte(id>>8), byte(id))
}
