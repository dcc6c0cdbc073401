// Command lanrace discovers, joins and hosts LAN racing sessions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"lanrace/config"
	"lanrace/logging"
	"lanrace/tracing"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	v          *viper.Viper
	cfg        config.Config
	logger     *zap.Logger
	shutdown   tracing.Shutdown
}

// bind ties a flag to a configuration key so flags override file and env.
func (a *app) bind(flags *pflag.FlagSet, name, key string) {
	if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

func (a *app) load(cmd *cobra.Command, _ []string) error {
	if a.configPath != "" {
		a.v.SetConfigFile(a.configPath)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}
	cfg, err := config.LoadFromViper(a.v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	shutdown, err := tracing.Setup(cfg.Tracing, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	a.cfg = cfg
	a.logger = logger.With(zap.String("cmd", cmd.Name()))
	a.shutdown = shutdown
	return nil
}

func (a *app) finish(cmd *cobra.Command, _ []string) {
	if a.shutdown != nil {
		if err := a.shutdown(context.WithoutCancel(cmd.Context())); err != nil {
			a.logger.Warn("flushing traces", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.NewViper()}
	root := &cobra.Command{
		Use:   "lanrace",
		Short: "LAN multiplayer racing: find, join or host a session",
		Long: `lanrace finds racing sessions on the local network with a UDP
broadcast probe, joins them over a newline-delimited JSON stream and
can host sessions itself.`,
		PersistentPreRunE: a.load,
		PersistentPostRun: a.finish,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "console", "log format: json or console")
	pf.String("log-file", "", "write logs to this file with rotation instead of stderr")
	a.bind(pf, "log-level", "logging.level")
	a.bind(pf, "log-format", "logging.format")
	a.bind(pf, "log-file", "logging.file")
	pf.String("trace", "none", "span exporter: none, or stdout to print spans as JSON on stderr")
	a.bind(pf, "trace", "tracing.exporter")

	root.AddCommand(
		hostCmd(a),
		discoverCmd(a),
		joinCmd(a),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
