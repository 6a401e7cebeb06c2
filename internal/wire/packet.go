package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"firestige.xyz/lappd/internal/core"
)

// Packet is the result of classifying one datagram. It is one of
// *HitFragment, *EventHeader or *Unrecognized.
type Packet interface {
	packet()
}

// Unrecognized is a datagram that decoded as neither packet kind.
type Unrecognized struct {
	Size int
	Err  error
}

func (*HitFragment) packet()  {}
func (*EventHeader) packet()  {}
func (*Unrecognized) packet() {}

// Classify probes p as a hit fragment first and then as an event header.
// It never fails: noise comes back as *Unrecognized carrying the reason,
// which always matches core.ErrFormat.
func Classify(p []byte) Packet {
	hit, herr := DecodeHitFragment(p)
	if herr == nil {
		return hit
	}
	ev, eerr := DecodeEventHeader(p)
	if eerr == nil {
		return ev
	}
	err := eerr
	if len(p) >= 2 && binary.BigEndian.Uint16(p) == HitMagic {
		err = herr
	}
	if !errors.Is(err, core.ErrFormat) {
		err = fmt.Errorf("%w: %w", core.ErrFormat, err)
	}
	return &Unrecognized{Size: len(p), Err: err}
}
