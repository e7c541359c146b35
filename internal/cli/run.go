package cli

import (
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/engine"
)

func newPubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pub",
		Short: "Run publisher sessions against a broker",
		Long: `Connect the configured number of publisher sessions and have each send
its messages to <topic prefix>/<client id>, paced by --interval.

  surge pub --publishers 50 --messages 100 --interval 50ms --qos 1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, engine.ModePublish)
		},
	}
	addBrokerFlags(cmd.Flags())
	addPublisherFlags(cmd.Flags())
	addRunFlags(cmd.Flags())
	return cmd
}

func newSubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sub",
		Short: "Run subscriber sessions and measure latency",
		Long: `Connect the configured number of subscriber sessions to the topic filter
and monitor arrivals until --expected messages arrived, the drain timeout
expires or the run is interrupted.

  surge sub --subscribers 10 --expected 5000 --drain-timeout 2m`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, engine.ModeSubscribe)
		},
	}
	addBrokerFlags(cmd.Flags())
	addSubscriberFlags(cmd.Flags())
	cmd.Flags().String("topic-prefix", "sensors/data", "Topic prefix the default filter is built from")
	addRunFlags(cmd.Flags())
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run publishers and subscribers in one process",
		Long: `Connect the subscribers first, then start the publishers and monitor until
every subscriber received every message or the drain timeout after the
publishers finished expires.

  surge run --transport memory --publishers 5 --messages 20 --subscribers 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return executeRun(cmd, engine.ModeRun)
		},
	}
	addBrokerFlags(cmd.Flags())
	addPublisherFlags(cmd.Flags())
	addSubscriberFlags(cmd.Flags())
	addRunFlags(cmd.Flags())
	return cmd
}
