// Package source delivers raw datagrams to the intake loop, either from a
// live UDP socket or from a capture file.
package source

import (
	"context"
	"net/netip"
)

// Datagram is one UDP payload and the address of the board that sent it.
type Datagram struct {
	Addr netip.Addr
	Data []byte
}

// Source yields batches of datagrams. The returned slice and the Data it
// points to are only valid until the next call to Read. Read returns
// io.EOF once no more datagrams will arrive and ctx.Err() when ctx is done.
type Source interface {
	Read(ctx context.Context) ([]Datagram, error)
	Close() error
}
