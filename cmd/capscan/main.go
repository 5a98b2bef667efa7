package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/cjeanneret/capscan/internal/config"
	"github.com/cjeanneret/capscan/internal/debug"
	"github.com/cjeanneret/capscan/internal/env"
	"github.com/cjeanneret/capscan/internal/telemetry"
)

// rootOptions carries the persistent flags and what PersistentPreRunE
// derives from them.
type rootOptions struct {
	configPath string
	debugLevel int
	trace      bool

	cfg      *config.Config
	shutdown func(context.Context) error
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "capscan",
		Short:         "Camera capture and barcode scanning sessions",
		Long:          "capscan acquires a camera for one photo or one code at a time, releases it as soon as the result is in, and serves the same session over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.Context())
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	cmd.PersistentFlags().IntVar(&opts.debugLevel, "debug-level", -1, "debug level 0-4, overrides the config file")
	cmd.PersistentFlags().BoolVar(&opts.trace, "trace", false, "export OpenTelemetry spans to stdout")

	cmd.AddCommand(
		newServeCmd(opts),
		newScanCmd(opts),
		newSnapCmd(opts),
		newDecodeCmd(opts),
		newDevicesCmd(opts),
	)
	return cmd, opts
}

func (o *rootOptions) load(ctx context.Context) error {
	if err := config.ValidateConfigPath(o.configPath); err != nil {
		return err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if o.debugLevel >= 0 {
		cfg.Defaults.DebugLevel = o.debugLevel
	}
	o.cfg = cfg

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", o.configPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	if p := env.LoadedPath(); p != "" {
		debug.Value("Dotenv", p)
	}

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:  o.trace || cfg.Tracing.Enabled,
		Exporter: cfg.Tracing.Exporter,
	})
	if err != nil {
		return errors.Wrap(err, "setup tracing")
	}
	o.shutdown = shutdown
	return nil
}

func (o *rootOptions) close() {
	if o.shutdown == nil {
		return
	}
	if err := o.shutdown(context.Background()); err != nil {
		debug.Error(errors.Wrap(err, "flush traces"))
	}
}

func main() {
	_ = env.Ensure()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd, opts := newRootCmd()
	err := cmd.ExecuteContext(ctx)
	opts.close()
	if err != nil {
		log.Fatal().Err(err).Msg("capscan command failed")
	}
}
