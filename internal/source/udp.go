package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"time"

	"golang.org/x/net/ipv4"
)

// UDPConfig configures a listening socket.
type UDPConfig struct {
	Addr       string        // host:port to bind
	Batch      int           // datagrams per read, default 32
	BufferSize int           // bytes per datagram buffer, default 9000
	ReadBuffer int           // SO_RCVBUF in bytes, 0 keeps the system default
	Poll       time.Duration // how often cancellation is checked, default 250ms
}

// UDP reads datagrams from a socket in batches.
type UDP struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	msgs []ipv4.Message
	out  []Datagram
	poll time.Duration
}

// ListenUDP binds cfg.Addr.
func ListenUDP(cfg UDPConfig) (*UDP, error) {
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 9000
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 250 * time.Millisecond
	}

	laddr, err := net.ResolveUDPAddr("udp4", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("source: could not resolve %q: %w", cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("source: could not listen on %q: %w", cfg.Addr, err)
	}
	if cfg.ReadBuffer > 0 {
		if err := conn.SetReadBuffer(cfg.ReadBuffer); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("source: could not set read buffer: %w", err)
		}
	}

	msgs := make([]ipv4.Message, cfg.Batch)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, cfg.BufferSize)}
	}
	return &UDP{
		conn: conn,
		pc:   ipv4.NewPacketConn(conn),
		msgs: msgs,
		out:  make([]Datagram, 0, cfg.Batch),
		poll: cfg.Poll,
	}, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (u *UDP) Read(ctx context.Context) ([]Datagram, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(u.poll)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("source: could not set deadline: %w", err)
		}
		n, err := u.pc.ReadBatch(u.msgs, 0)
		if err != nil {
			switch {
			case errors.Is(err, os.ErrDeadlineExceeded):
				continue
			case errors.Is(err, net.ErrClosed):
				return nil, io.EOF
			default:
				return nil, fmt.Errorf("source: could not read batch: %w", err)
			}
		}

		u.out = u.out[:0]
		for _, m := range u.msgs[:n] {
			var addr netip.Addr
			if ua, ok := m.Addr.(*net.UDPAddr); ok {
				addr = ua.AddrPort().Addr().Unmap()
			}
			u.out = append(u.out, Datagram{Addr: addr, Data: m.Buffers[0][:m.N]})
		}
		return u.out, nil
	}
}

func (u *UDP) Close() error {
	return u.conn.Close()
}
