// Package wire implements the binary layout of the two packet kinds a board
// emits: per-channel hit fragments and the trailing event header.
//
// All fields are big-endian; bit-fields are packed MSB first.
package wire

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/lappd/internal/core"
)

// reader walks a datagram. The first failure sticks: later reads are no-ops
// and return zero values, so decoders check err once at the end.
type reader struct {
	p   []byte
	pos int
	err error
}

func (r *reader) load(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.p)-r.pos < n {
		r.err = fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, r.pos, len(r.p)-r.pos, core.ErrShortBuffer)
		return nil
	}
	b := r.p[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) readU8() uint8 {
	b := r.load(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) readU16() uint16 {
	b := r.load(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) readU32() uint32 {
	b := r.load(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) readU48() uint64 {
	b := r.load(6)
	if b == nil {
		return 0
	}
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func (r *reader) skip(n int) { r.load(n) }

// writer appends to a byte slice.
type writer struct {
	p []byte
}

func (w *writer) writeU8(v uint8) { w.p = append(w.p, v) }

func (w *writer) writeU16(v uint16) { w.p = binary.BigEndian.AppendUint16(w.p, v) }

func (w *writer) writeU32(v uint32) { w.p = binary.BigEndian.AppendUint32(w.p, v) }

func (w *writer) writeU48(v uint64) {
	w.p = append(w.p,
		byte(v>>40), byte(v>>32), byte(v>>24),
		byte(v>>16), byte(v>>8), byte(v),
	)
}

func (w *writer) write(p []byte) { w.p = append(w.p, p...) }

func (w *writer) zero(n int) {
	for i := 0; i < n; i++ {
		w.p = append(w.p, 0)
	}
}
