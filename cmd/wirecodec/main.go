package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/route-beacon/wirecodec/internal/logging"
	"github.com/route-beacon/wirecodec/internal/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wirecodec",
		Short:         "Extensible BMP, BGP, PCEP and RSVP codecs with an OpenBMP ingester",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&o.configPath, "config", "", "Path to configuration YAML file")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(o),
		newMigrateCmd(o),
		newMaintenanceCmd(o),
		newDecodeCmd(o),
		newDumpCmd(o),
		newRegistryCmd(o),
	)
	return cmd
}

// loadService loads and validates the configuration and builds the JSON
// service logger.
func (o *rootOptions) loadService() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if o.logLevel != "" {
		cfg.Service.LogLevel = o.logLevel
	}
	logger, err := logging.New(cfg.Service.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadTool loads the configuration without validation and builds a console
// logger on stderr. Tools log at warn unless --log-level says otherwise.
func (o *rootOptions) loadTool() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadUnvalidated(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	level := o.logLevel
	if level == "" {
		level = "warn"
	}
	logger, err := logging.NewConsole(level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// reportRegistrations publishes the per-activator registration counts.
func reportRegistrations(p *extension.Provider) {
	metrics.Registrations.Reset()
	for _, a := range p.Activators() {
		metrics.Registrations.WithLabelValues(a.Name).Set(float64(a.Registrations))
	}
}
