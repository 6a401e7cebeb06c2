package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/internal/intake"
	"firestige.xyz/lappd/internal/log"
	"firestige.xyz/lappd/internal/pipeline"
	"firestige.xyz/lappd/internal/source"
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Reconstruct events from a pcap capture",
	Long: `Read a pcap or pcapng capture, keep the UDP datagrams sent to the given
port and feed them through the same reconstruction path as listen.

Examples:
  lappd replay run42.pcap
  lappd replay --port 1339 -c config.yml run42.pcapng`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port := replayPort
		if !cmd.Flags().Changed("port") {
			port = cfg.Intake.Ports[0]
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		in, out, err := runReplay(ctx, cfg, args[0], uint16(port))
		if err != nil {
			return err
		}
		printReplayStats(cmd.OutOrStdout(), in, out)
		return nil
	},
}

var replayPort int

func init() {
	replayCmd.Flags().IntVarP(&replayPort, "port", "p", 0,
		"UDP destination port to keep, 0 keeps all (default: first intake port)")
}

// runReplay reconstructs every event of a capture file and waits until the
// reporters have seen them.
func runReplay(ctx context.Context, cfg *config.GlobalConfig, path string, port uint16) (intake.Stats, pipeline.Stats, error) {
	src, err := source.OpenPcap(source.PcapConfig{Path: path, Port: port, Batch: cfg.Intake.BatchSize})
	if err != nil {
		return intake.Stats{}, pipeline.Stats{}, err
	}
	defer src.Close()

	e, err := newEngine(ctx, cfg, 1)
	if err != nil {
		return intake.Stats{}, pipeline.Stats{}, err
	}
	loop := e.loop("replay", src)
	runErr := loop.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	if n := src.Skipped(); n > 0 {
		log.GetLogger().Infof("skipped %d frame(s) that were not UDP to port %d", n, port)
	}
	return loop.Stats(), e.disp.Stats(), runErr
}

func printReplayStats(w io.Writer, in intake.Stats, out pipeline.Stats) {
	fmt.Fprintf(w, "datagrams:    %d (%d hit fragments, %d headers, %d unrecognized)\n",
		in.Datagrams, in.Hits, in.Headers, in.Unrecognized)
	fmt.Fprintf(w, "errors:       %d\n", in.Errors)
	fmt.Fprintf(w, "events:       %d completed, %d reported, %d dropped\n",
		in.Completed, out.Reported, out.Dropped)
	if out.ReportErrors > 0 {
		fmt.Fprintf(w, "report errors: %d\n", out.ReportErrors)
	}
}
