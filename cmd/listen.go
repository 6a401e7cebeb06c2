package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/metrics"
	"firestige.xyz/lappd/internal/source"
)

const shutdownTimeout = 10 * time.Second

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive board traffic and reconstruct events",
	Long: `Bind one UDP socket per configured intake port, reconstruct events from
the hit fragments and event headers received on each, and hand completed
events to the configured reporters.

SIGINT or SIGTERM stops the listeners; queued events are reported before exit.

Examples:
  lappd listen -c /etc/lappd/config.yml
  lappd listen --port 1338 --port 1339 --keep-offset`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Intake.Ports = listenPorts
		}
		if cmd.Flags().Changed("keep-offset") {
			cfg.Intake.KeepOffset = listenKeepOffset
		}
		if err := cfg.ValidateAndApplyDefaults(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runListen(ctx, cfg, nil)
	},
}

var (
	listenPorts      []int
	listenKeepOffset bool
)

func init() {
	listenCmd.Flags().IntSliceVarP(&listenPorts, "port", "p", nil,
		"UDP port to listen on, repeatable (overrides intake.ports)")
	listenCmd.Flags().BoolVar(&listenKeepOffset, "keep-offset", false,
		"keep capacitor order instead of rotating the stop sample to index 0")
}

// runListen serves until ctx is cancelled or a listener fails. ready, if
// non-nil, receives the bound addresses once every socket is open.
func runListen(ctx context.Context, cfg *config.GlobalConfig, ready chan<- []string) error {
	logger := log.GetLogger()

	sources := make([]*source.UDP, 0, len(cfg.Intake.Ports))
	closeSources := func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}
	for _, port := range cfg.Intake.Ports {
		src, err := source.ListenUDP(source.UDPConfig{
			Addr:       net.JoinHostPort(cfg.Intake.Address, strconv.Itoa(port)),
			Batch:      cfg.Intake.BatchSize,
			BufferSize: cfg.Intake.BufferSize,
			ReadBuffer: cfg.Intake.ReadBuffer,
			Poll:       cfg.Intake.ReadTimeout,
		})
		if err != nil {
			closeSources()
			return err
		}
		sources = append(sources, src)
	}
	defer closeSources()

	e, err := newEngine(ctx, cfg, len(sources))
	if err != nil {
		return err
	}

	var ms *metrics.Server
	if cfg.Metrics.Enabled {
		ms = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := ms.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = e.stop(stopCtx)
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	addrs := make([]string, 0, len(sources))
	for _, src := range sources {
		addr := src.LocalAddr().String()
		addrs = append(addrs, addr)
		loop := e.loop(fmt.Sprintf("udp:%d", src.LocalAddr().Port()), src)
		g.Go(func() error { return loop.Run(gctx) })
	}
	logger.Infof("listening on %v", addrs)
	if ready != nil {
		ready <- addrs
	}

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.stop(stopCtx); err != nil {
		logger.WithError(err).Warn("dispatcher did not drain before the shutdown timeout")
	}
	if ms != nil {
		if err := ms.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("metrics server stop failed")
		}
	}
	return runErr
}
