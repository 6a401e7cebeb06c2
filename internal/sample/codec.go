// Package sample converts hit payload bytes to signed amplitudes and back.
//
// The resolution code r gives a sample width of 1<<r bits. Widths of a byte
// or more are big-endian two's complement; narrower widths are packed
// 8>>r fields per byte, most significant field first.
package sample

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/lappd/internal/core"
)

// Padding fills the last byte of a sub-byte payload when the amplitude
// count is not a multiple of the packing factor.
const Padding int64 = -1

// Codec is immutable once built and safe for concurrent use.
type Codec struct {
	res     uint8
	bits    uint
	width   int // bytes per sample, 0 when packed
	perByte int // samples per byte, 0 when byte aligned
	min     int64
	max     int64
}

// NewCodec builds the codec for resolution code res.
func NewCodec(res uint8) (*Codec, error) {
	if res > core.MaxResolution {
		return nil, fmt.Errorf("sample: resolution code %d: %w", res, core.ErrResolution)
	}
	c := &Codec{res: res, bits: 1 << res}
	if res >= 3 {
		c.width = 1 << (res - 3)
	} else {
		c.perByte = 1 << (3 - res)
	}
	if c.bits == 64 {
		c.min, c.max = -1<<63, 1<<63-1
	} else {
		c.min, c.max = -1<<(c.bits-1), 1<<(c.bits-1)-1
	}
	return c, nil
}

// Codecs builds one codec per supported resolution code.
func Codecs() [core.MaxResolution + 1]*Codec {
	var out [core.MaxResolution + 1]*Codec
	for r := range out {
		out[r], _ = NewCodec(uint8(r))
	}
	return out
}

// Resolution returns the resolution code.
func (c *Codec) Resolution() uint8 { return c.res }

// Bits returns the sample width in bits.
func (c *Codec) Bits() uint { return c.bits }

// Packed reports whether several samples share one byte.
func (c *Codec) Packed() bool { return c.perByte > 0 }

// Range returns the smallest and largest encodable amplitude.
func (c *Codec) Range() (lo, hi int64) { return c.min, c.max }

// PayloadSize returns the byte length of n encoded samples, padding included.
func (c *Codec) PayloadSize(n int) int {
	if c.perByte > 0 {
		return (n + c.perByte - 1) / c.perByte
	}
	return n * c.width
}

// SamplesIn returns how many samples nbytes of payload hold.
func (c *Codec) SamplesIn(nbytes int) int {
	if c.perByte > 0 {
		return nbytes * c.perByte
	}
	return nbytes / c.width
}

// Decode appends the amplitudes held in payload to dst.
func (c *Codec) Decode(dst []int64, payload []byte) ([]int64, error) {
	if c.perByte > 0 {
		return c.unpack(dst, payload), nil
	}
	if len(payload)%c.width != 0 {
		return dst, fmt.Errorf("sample: payload of %d bytes is not a multiple of %d-byte samples: %w",
			len(payload), c.width, core.ErrInconsistentHit)
	}
	return c.glue(dst, payload), nil
}

func (c *Codec) glue(dst []int64, payload []byte) []int64 {
	switch c.width {
	case 1:
		for _, b := range payload {
			dst = append(dst, int64(int8(b)))
		}
	case 2:
		for i := 0; i < len(payload); i += 2 {
			dst = append(dst, int64(int16(binary.BigEndian.Uint16(payload[i:]))))
		}
	case 4:
		for i := 0; i < len(payload); i += 4 {
			dst = append(dst, int64(int32(binary.BigEndian.Uint32(payload[i:]))))
		}
	case 8:
		for i := 0; i < len(payload); i += 8 {
			dst = append(dst, int64(binary.BigEndian.Uint64(payload[i:])))
		}
	}
	return dst
}

func (c *Codec) unpack(dst []int64, payload []byte) []int64 {
	var (
		bits = c.bits
		mask = byte(1<<bits - 1)
		ext  = 8 - bits
	)
	for _, b := range payload {
		for k := 1; k <= c.perByte; k++ {
			v := (b >> (8 - bits*uint(k))) & mask
			dst = append(dst, int64(int8(v<<ext)>>ext))
		}
	}
	return dst
}

// Encode appends the wire form of amps to dst. Amplitudes outside the
// representable range are rejected; a short final group of packed samples
// is completed with Padding.
func (c *Codec) Encode(dst []byte, amps []int64) ([]byte, error) {
	for i, v := range amps {
		if v < c.min || v > c.max {
			return dst, fmt.Errorf("sample: amplitude %d at index %d outside %d-bit range: %w",
				v, i, c.bits, core.ErrOffsetRange)
		}
	}
	if c.perByte > 0 {
		return c.pack(dst, amps), nil
	}
	for _, v := range amps {
		switch c.width {
		case 1:
			dst = append(dst, byte(v))
		case 2:
			dst = binary.BigEndian.AppendUint16(dst, uint16(v))
		case 4:
			dst = binary.BigEndian.AppendUint32(dst, uint32(v))
		case 8:
			dst = binary.BigEndian.AppendUint64(dst, uint64(v))
		}
	}
	return dst, nil
}

func (c *Codec) pack(dst []byte, amps []int64) []byte {
	var (
		bits = c.bits
		mask = int64(1<<bits - 1)
	)
	for i := 0; i < len(amps); i += c.perByte {
		var b byte
		for k := 0; k < c.perByte; k++ {
			v := Padding
			if i+k < len(amps) {
				v = amps[i+k]
			}
			b |= byte(v&mask) << (8 - bits*uint(k+1))
		}
		dst = append(dst, b)
	}
	return dst
}
