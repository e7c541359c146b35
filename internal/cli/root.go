package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = NewRootCmd()

// NewRootCmd builds the command tree with fresh flag state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "surge",
		Short:   "An MQTT load generator for brokers",
		Version: version,
		Long: `Surge drives an MQTT broker with many concurrent publisher and
subscriber sessions and reports throughput, end-to-end latency and
per-publisher sequence gaps.

  surge pub --publishers 50 --messages 100 --interval 50ms
  surge sub --subscribers 10 --expected 5000
  surge run --transport memory --publishers 5 --subscribers 2`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			// If no subcommand is provided, print help
			cmd.Help()
		},
	}

	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "Configuration file (default: ./surge.yaml when present)")
	pf.String("log-level", "info", "Log level: trace, debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console or json")
	pf.BoolP("quiet", "q", false, "Disable live progress output, print a one-line summary")
	pf.String("json-out", "", "Also write the result as JSON to this file")
	pf.String("metrics-listen", "", "Serve Prometheus metrics on this address (e.g. :9100)")
	pf.String("transport", "mqtt", "Transport: mqtt for a real broker, memory for an in-process one")
	pf.StringP("output", "o", "text", "Report format on stdout: text, json or yaml")

	root.AddCommand(newPubCmd())
	root.AddCommand(newSubCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
