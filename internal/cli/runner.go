package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/logger"
	"github.com/wesleyorama2/surge/internal/output"
	"github.com/wesleyorama2/surge/internal/session"
	"github.com/wesleyorama2/surge/internal/telemetry"
	"github.com/wesleyorama2/surge/internal/transport"
)

// loadConfig resolves the configuration for cmd and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	return cfg, nil
}

// newFactory returns the transport factory selected by cfg.Run.Transport.
func newFactory(cfg *config.Config) (session.Factory, error) {
	switch cfg.Run.Transport {
	case "memory":
		return transport.NewMemoryBroker().Factory(), nil
	case "mqtt", "":
		opts := transport.DefaultPahoOptions()
		opts.Scheme = cfg.Broker.Scheme
		opts.Username = cfg.Broker.Username
		opts.Password = cfg.Broker.Password
		opts.ConnectTimeout = cfg.Broker.ConnectTimeout.Std()
		opts.SubscribeTimeout = cfg.Broker.ConnectTimeout.Std()
		opts.AutoReconnect = cfg.Broker.AutoReconnect
		opts.InsecureSkipVerify = cfg.Broker.InsecureSkipVerify
		opts.Logger = logger.Get("transport")
		return transport.PahoFactory(opts), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Run.Transport)
	}
}

// executeRun runs one load test in mode and reports the result.
//
// Only setup problems are returned as errors. An interrupted or partial
// run still prints its summary and succeeds.
func executeRun(cmd *cobra.Command, mode engine.Mode) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	formatName, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(formatName)
	if err != nil {
		return err
	}
	quiet, _ := cmd.Flags().GetBool("quiet")
	jsonOut, _ := cmd.Flags().GetString("json-out")

	factory, err := newFactory(cfg)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{
		Title:  "surge",
		Writer: cmd.OutOrStdout(),
		// machine-readable reports own stdout
		Quiet: quiet || format != output.FormatText,
	})

	eng, err := engine.New(cfg, factory, engine.WithProgress(console.Update))
	if err != nil {
		return err
	}

	stop := eng.ShutdownOnInterrupt()
	defer stop()

	if cfg.Metrics.Listen != "" {
		exp, err := telemetry.NewExporter(eng.Aggregator(), eng.Pool(), eng.RunID(), logger.Get("telemetry"))
		if err != nil {
			return err
		}
		if err := exp.Start(cfg.Metrics.Listen); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = exp.Shutdown(ctx)
		}()
	}

	console.PrintHeader(cfg, mode, eng.RunID())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var res *engine.Result
	switch mode {
	case engine.ModePublish:
		res, err = eng.RunPublishers(ctx)
	case engine.ModeSubscribe:
		res, err = eng.RunSubscribers(ctx)
	default:
		res, err = eng.Run(ctx)
	}
	if err != nil {
		return err
	}

	if format == output.FormatText {
		console.PrintSummary(res)
	} else if err := output.WriteResult(cmd.OutOrStdout(), res, format); err != nil {
		return err
	}

	if jsonOut != "" {
		if err := output.WriteJSONFile(jsonOut, res); err != nil {
			return err
		}
	}
	return nil
}
