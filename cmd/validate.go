package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/lappd/internal/config"
	"firestige.xyz/lappd/pkg/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and check every section,
including that each configured reporter exists and accepts its options.

Examples:
  lappd validate -c /etc/lappd/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			return err
		}
		if err := validateReporters(cfg.Reporters); err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "VALID: %d port(s) %v, %d reporter(s), queue %d\n",
			len(cfg.Intake.Ports), cfg.Intake.Ports, len(cfg.Reporters), cfg.Pipeline.QueueSize)
		return nil
	},
}

// validateReporters initialises each configured reporter without starting it.
func validateReporters(cfgs []config.ReporterConfig) error {
	for _, rc := range cfgs {
		r, err := plugin.NewReporter(rc.Name, rc.Options)
		if err != nil {
			return err
		}
		_ = r.Stop(context.Background())
	}
	return nil
}
