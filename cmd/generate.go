package cmd

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/internal/fragment"
	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/source"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Send synthetic board traffic",
	Long: `Build events whose hits are linear ramps, split them into fragments the
way a board does, and send them over UDP or write them to a pcap file.
The event header of every event is sent after its hits.

Examples:
  lappd generate --events 100 --channels 0,1,2 --res 4
  lappd generate --pcap ramps.pcap --samples 300 --offset 575 --mtu 90 --shuffle`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyGenerateFlags(cmd, &cfg.Generator)
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out, err := newSender(cfg.Generator, generatePcap)
		if err != nil {
			return err
		}
		n, err := runGenerate(ctx, cfg.Generator, out)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d events in %d datagrams\n", cfg.Generator.Events, n)
		return nil
	},
}

var (
	generatePcap  string
	generateFlags config.GeneratorConfig
)

func init() {
	f := generateCmd.Flags()
	f.StringVar(&generatePcap, "pcap", "", "write to this pcap file instead of sending")
	f.StringVarP(&generateFlags.Target, "target", "t", "", "destination host:port")
	f.IntVar(&generateFlags.MTU, "mtu", 0, "largest fragment payload in bytes")
	f.IntVar(&generateFlags.Resolution, "res", 0, "resolution code, 0-6")
	f.IntSliceVar(&generateFlags.Channels, "channels", nil, "channels with a hit")
	f.IntVar(&generateFlags.Subhits, "subhits", 0, "subhits per hit")
	f.IntVar(&generateFlags.Samples, "samples", 0, "samples per subhit")
	f.IntVar(&generateFlags.Offset, "offset", 0, "stop offset of the first subhit")
	f.IntVarP(&generateFlags.Events, "events", "n", 0, "number of events")
	f.DurationVar(&generateFlags.Interval, "interval", 0, "pause between events")
	f.BoolVar(&generateFlags.Shuffle, "shuffle", false, "send the datagrams of each event in random order")
}

func applyGenerateFlags(cmd *cobra.Command, g *config.GeneratorConfig) {
	f := cmd.Flags()
	if f.Changed("target") {
		g.Target = generateFlags.Target
	}
	if f.Changed("mtu") {
		g.MTU = generateFlags.MTU
	}
	if f.Changed("res") {
		g.Resolution = generateFlags.Resolution
	}
	if f.Changed("channels") {
		g.Channels = generateFlags.Channels
	}
	if f.Changed("subhits") {
		g.Subhits = generateFlags.Subhits
	}
	if f.Changed("samples") {
		g.Samples = generateFlags.Samples
	}
	if f.Changed("offset") {
		g.Offset = generateFlags.Offset
	}
	if f.Changed("events") {
		g.Events = generateFlags.Events
	}
	if f.Changed("interval") {
		g.Interval = generateFlags.Interval
	}
	if f.Changed("shuffle") {
		g.Shuffle = generateFlags.Shuffle
	}
}

// sender delivers generated datagrams.
type sender interface {
	Send(p []byte) error
	Close() error
}

type udpSender struct {
	conn *net.UDPConn
}

func (s *udpSender) Send(p []byte) error {
	_, err := s.conn.Write(p)
	return err
}

func (s *udpSender) Close() error { return s.conn.Close() }

// pcapSender timestamps datagrams one microsecond apart.
type pcapSender struct {
	f  *os.File
	w  *source.PcapWriter
	ts time.Time
}

func (s *pcapSender) Send(p []byte) error {
	s.ts = s.ts.Add(time.Microsecond)
	return s.w.Write(p, s.ts)
}

func (s *pcapSender) Close() error { return s.f.Close() }

// generatorSource is the board address written to generated captures.
var generatorSource = netip.MustParseAddrPort("10.0.0.2:1338")

func newSender(g config.GeneratorConfig, pcapPath string) (sender, error) {
	if pcapPath != "" {
		dst, err := netip.ParseAddrPort(g.Target)
		if err != nil {
			return nil, fmt.Errorf("invalid generator target %q: %w", g.Target, err)
		}
		f, err := os.Create(pcapPath)
		if err != nil {
			return nil, err
		}
		w, err := source.NewPcapWriter(f, generatorSource, dst)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		return &pcapSender{f: f, w: w, ts: time.Now()}, nil
	}

	raddr, err := net.ResolveUDPAddr("udp4", g.Target)
	if err != nil {
		return nil, fmt.Errorf("invalid generator target %q: %w", g.Target, err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	return &udpSender{conn: conn}, nil
}

// runGenerate sends g.Events events and returns the number of datagrams.
func runGenerate(ctx context.Context, g config.GeneratorConfig, out sender) (int, error) {
	enc := fragment.Encoder{MTU: g.MTU}
	channels := make([]uint8, len(g.Channels))
	for i, ch := range g.Channels {
		channels[i] = uint8(ch)
	}

	var timer *time.Timer
	sent := 0
	for i := 0; i < g.Events; i++ {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		hdr, raw, err := enc.GenerateEvent(uint16(i), uint8(g.Resolution), channels, g.Subhits, g.Samples, uint16(g.Offset))
		if err != nil {
			return sent, fmt.Errorf("event %d: %w", i, err)
		}
		if g.Shuffle {
			rand.Shuffle(len(raw), func(a, b int) { raw[a], raw[b] = raw[b], raw[a] })
		}
		for _, p := range raw {
			if err := out.Send(p); err != nil {
				return sent, err
			}
			sent++
		}
		log.GetLogger().Debugf("event %d ts_low %#x: %d datagram(s)", hdr.EvtNumber, hdr.TimestampLow, len(raw))

		if g.Interval > 0 && i < g.Events-1 {
			if timer == nil {
				timer = time.NewTimer(g.Interval)
				defer timer.Stop()
			} else {
				timer.Reset(g.Interval)
			}
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return sent, nil
}
