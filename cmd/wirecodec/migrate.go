package main

import (
	"github.com/route-beacon/wirecodec/internal/db"
	"github.com/route-beacon/wirecodec/internal/maintenance"
	"github.com/route-beacon/wirecodec/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := o.loadService()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("running migrations", zap.String("dsn", db.RedactDSN(cfg.Postgres.DSN)))

			pool, err := db.NewPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.RunMigrations(cmd.Context(), pool, migrations.FS, logger); err != nil {
				logger.Error("migration failed", zap.Error(err))
				return err
			}
			logger.Info("migrations complete")
			return nil
		},
	}
}

func newMaintenanceCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "maintenance",
		Short: "Run partition maintenance (create new, drop old)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := o.loadService()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("running partition maintenance",
				zap.Int("retention_days", cfg.Retention.Days),
				zap.String("timezone", cfg.Retention.Timezone),
			)

			pool, err := db.NewPool(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger)
			if err := pm.Run(cmd.Context()); err != nil {
				logger.Error("maintenance failed", zap.Error(err))
				return err
			}
			logger.Info("partition maintenance complete")
			return nil
		},
	}
}
