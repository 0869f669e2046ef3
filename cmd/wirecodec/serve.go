package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/route-beacon/wirecodec/internal/db"
	"github.com/route-beacon/wirecodec/internal/extension"
	wchttp "github.com/route-beacon/wirecodec/internal/http"
	"github.com/route-beacon/wirecodec/internal/ingest"
	"github.com/route-beacon/wirecodec/internal/kafka"
	"github.com/route-beacon/wirecodec/internal/maintenance"
	"github.com/route-beacon/wirecodec/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

const maintenanceInterval = 6 * time.Hour

func newServeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ingestion service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := o.loadService()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := runServe(cmd.Context(), cfg, logger); err != nil {
				logger.Error("serve failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics.Register()

	logger.Info("starting wirecodec",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	provider, err := extension.NewDefault(logger.Named("extension"))
	if err != nil {
		return fmt.Errorf("starting activators: %w", err)
	}
	defer provider.Close()
	reportRegistrations(provider)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(runCtx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Ensure partitions exist on startup.
	pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger.Named("maintenance"))
	if err := pm.CreatePartitions(runCtx); err != nil {
		return fmt.Errorf("creating partitions on startup: %w", err)
	}

	writer := ingest.NewWriter(pool, logger.Named("ingest.writer"), cfg.Ingest.StoreRawBytesCompress)
	pipeline := ingest.NewPipeline(provider.BMP, writer, ingest.Options{
		BatchSize:       cfg.Ingest.BatchSize,
		FlushInterval:   time.Duration(cfg.Ingest.FlushIntervalMs) * time.Millisecond,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes,
		StoreRawBytes:   cfg.Ingest.StoreRawBytes,
		RouteEvents:     cfg.Ingest.RouteEvents,
		CurrentRIB:      cfg.Ingest.CurrentRIB,
		RouterMeta:      cfg.Routers,
	}, logger.Named("ingest.pipeline"))

	consumer, err := kafka.NewConsumer(&cfg.Kafka, logger.Named("kafka"))
	if err != nil {
		return fmt.Errorf("creating consumer: %w", err)
	}
	defer consumer.Close()

	records := make(chan []*kgo.Record, cfg.Ingest.ChannelBufferSize)
	flushed := make(chan []*kgo.Record, cfg.Ingest.ChannelBufferSize)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); consumer.Run(runCtx, records, flushed) }()
	go func() { defer wg.Done(); pipeline.Run(runCtx, records, flushed) }()
	go func() { defer wg.Done(); maintenanceLoop(runCtx, pm, logger.Named("maintenance")) }()

	logger.Info("pipeline started",
		zap.Strings("topics", cfg.Kafka.Raw.Topics),
		zap.String("group_id", cfg.Kafka.Raw.GroupID),
	)

	httpServer := wchttp.NewServer(cfg.Service.HTTPListen, pool, consumer, provider, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("starting HTTP server: %w", err)
	}

	<-ctx.Done()
	logger.Info("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Service.ShutdownTimeoutSeconds)*time.Second)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("pipeline stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("wirecodec stopped")
	return nil
}

func maintenanceLoop(ctx context.Context, pm *maintenance.PartitionManager, logger *zap.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pm.Run(ctx); err != nil {
				logger.Error("partition maintenance failed", zap.Error(err))
			}
		}
	}
}
