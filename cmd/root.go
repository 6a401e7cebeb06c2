// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/internal/log"
	_ "firestige.xyz/lappd/plugins" // built-in reporters
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lappd",
	Short: "lappd - event reconstruction for LAPPD readout boards",
	Long: `lappd receives the UDP data stream of LAPPD digitizer boards, reassembles
hit fragments into per-channel waveforms, groups hits into trigger events
and hands the events to reporters (console, Kafka).

It can also generate synthetic board traffic and replay pcap captures
through the same reconstruction path.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults only when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (debug|info|warn|error)")

	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the configuration named by --config and initialises
// logging from it.
func loadConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := log.Init(cfg.Log); err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}
	return cfg, nil
}
