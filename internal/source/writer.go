package source

import (
	"fmt"
	"io"
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65536

// PcapWriter records datagrams as Ethernet/IPv4/UDP frames.
type PcapWriter struct {
	w        *pcapgo.Writer
	src, dst netip.AddrPort
	buf      gopacket.SerializeBuffer
	eth      layers.Ethernet
}

// NewPcapWriter writes the file header to w. Frames appear sent from src to dst.
func NewPcapWriter(w io.Writer, src, dst netip.AddrPort) (*PcapWriter, error) {
	if !src.Addr().Is4() || !dst.Addr().Is4() {
		return nil, fmt.Errorf("source: pcap writer needs IPv4 endpoints, got %s and %s", src, dst)
	}
	pw := &PcapWriter{
		w:   pcapgo.NewWriter(w),
		src: src,
		dst: dst,
		buf: gopacket.NewSerializeBuffer(),
		eth: layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
			DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
			EthernetType: layers.EthernetTypeIPv4,
		},
	}
	if err := pw.w.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("source: could not write pcap header: %w", err)
	}
	return pw, nil
}

// Write appends one datagram captured at ts.
func (pw *PcapWriter) Write(payload []byte, ts time.Time) error {
	src, dst := pw.src.Addr().As4(), pw.dst.Addr().As4()
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Flags:    layers.IPv4DontFragment,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(src[:]),
		DstIP:    net.IP(dst[:]),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(pw.src.Port()),
		DstPort: layers.UDPPort(pw.dst.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(pw.buf, opts, &pw.eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return fmt.Errorf("source: could not serialize frame: %w", err)
	}
	frame := pw.buf.Bytes()
	ci := gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}
	if err := pw.w.WritePacket(ci, frame); err != nil {
		return fmt.Errorf("source: could not write frame: %w", err)
	}
	return nil
}
