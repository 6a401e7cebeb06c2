package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"slices"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"golang.org/x/net/bpf"
)

var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PcapConfig configures a capture file replay.
type PcapConfig struct {
	Path  string
	Port  uint16 // UDP destination port to keep, 0 keeps every UDP datagram
	Batch int    // datagrams per read, default 32
}

// Pcap replays the UDP datagrams of a pcap or pcapng file.
type Pcap struct {
	f      *os.File
	r      packetReader
	filter *bpf.VM
	batch  int
	out    []Datagram

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
	eth     layers.Ethernet
	ip4     layers.IPv4
	udp     layers.UDP
	payload gopacket.Payload

	skipped uint64
}

// OpenPcap opens a capture file. Ethernet and raw IPv4 link types are supported.
func OpenPcap(cfg PcapConfig) (*Pcap, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("source: could not open %s: %w", cfg.Path, err)
	}
	p, err := newPcap(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.f = f
	return p, nil
}

func newPcap(r io.Reader, cfg PcapConfig) (*Pcap, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("source: could not read capture header: %w", err)
	}

	var pr packetReader
	if bytes.Equal(magic, ngMagic) {
		pr, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		pr, err = pcapgo.NewReader(br)
	}
	if err != nil {
		return nil, fmt.Errorf("source: could not read capture header: %w", err)
	}

	p := &Pcap{r: pr, batch: cfg.Batch}
	if p.batch <= 0 {
		p.batch = 32
	}

	var (
		first   gopacket.LayerType
		linkLen uint32
	)
	switch pr.LinkType() {
	case layers.LinkTypeEthernet:
		first, linkLen = layers.LayerTypeEthernet, 14
	case layers.LinkTypeRaw, layers.LinkTypeIPv4:
		first, linkLen = layers.LayerTypeIPv4, 0
	default:
		return nil, fmt.Errorf("source: unsupported link type %s", pr.LinkType())
	}
	p.parser = gopacket.NewDecodingLayerParser(first, &p.eth, &p.ip4, &p.udp, &p.payload)
	p.parser.IgnoreUnsupported = true

	if cfg.Port != 0 {
		p.filter, err = compilePortFilter(cfg.Port, linkLen)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Skipped returns the number of packets that were not UDP or were filtered out.
func (p *Pcap) Skipped() uint64 { return p.skipped }

func (p *Pcap) Read(ctx context.Context) ([]Datagram, error) {
	p.out = p.out[:0]
	for len(p.out) < p.batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, _, err := p.r.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("source: could not read packet: %w", err)
		}
		if p.filter != nil {
			if n, err := p.filter.Run(data); err != nil || n == 0 {
				p.skipped++
				continue
			}
		}
		d, ok := p.decode(data)
		if !ok {
			p.skipped++
			continue
		}
		p.out = append(p.out, d)
	}
	if len(p.out) == 0 {
		return nil, io.EOF
	}
	return p.out, nil
}

func (p *Pcap) decode(data []byte) (Datagram, bool) {
	_ = p.parser.DecodeLayers(data, &p.decoded)
	if !slices.Contains(p.decoded, layers.LayerTypeUDP) || !slices.Contains(p.decoded, layers.LayerTypeIPv4) {
		return Datagram{}, false
	}
	addr, ok := netip.AddrFromSlice(p.ip4.SrcIP)
	if !ok {
		return Datagram{}, false
	}
	return Datagram{Addr: addr.Unmap(), Data: p.udp.Payload}, true
}

func (p *Pcap) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}
