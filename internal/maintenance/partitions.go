package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/route-beacon/wirecodec/internal/metrics"
	"go.uber.org/zap"
)

// PartitionedTables are the tables partitioned by day on ingest_time.
var PartitionedTables = []string{"bmp_messages", "route_events"}

var validPartitionName = regexp.MustCompile(`^(bmp_messages|route_events)_\d{8}$`)

// DB is the part of a pgx pool the partition manager needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PartitionManager struct {
	db            DB
	retentionDays int
	timezone      string
	logger        *zap.Logger
	now           func() time.Time
}

func NewPartitionManager(db DB, retentionDays int, timezone string, logger *zap.Logger) *PartitionManager {
	return &PartitionManager{
		db:            db,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
		now:           time.Now,
	}
}

func (pm *PartitionManager) Run(ctx context.Context) error {
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating partitions: %w", err)
	}
	if err := pm.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("dropping old partitions: %w", err)
	}
	return nil
}

// CreatePartitions creates daily partitions for today and tomorrow using
// the configured timezone.
func (pm *PartitionManager) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	today := startOfDay(pm.now(), loc)
	for _, table := range PartitionedTables {
		for day := 0; day < 2; day++ {
			from := today.AddDate(0, 0, day)
			if err := pm.createPartition(ctx, table, from, from.AddDate(0, 0, 1)); err != nil {
				return err
			}
		}
	}
	return nil
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func partitionName(table string, from time.Time) string {
	return fmt.Sprintf("%s_%s", table, from.Format("20060102"))
}

// partitionDDL returns the CREATE TABLE and per-partition index statements
// for one day of table.
func partitionDDL(table string, from, to time.Time) []string {
	name := partitionName(table, from)
	safeName := pgx.Identifier{name}.Sanitize()
	stmts := []string{fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES FROM ('%s') TO ('%s')`,
		safeName, pgx.Identifier{table}.Sanitize(),
		from.UTC().Format("2006-01-02 15:04:05+00"), to.UTC().Format("2006-01-02 15:04:05+00"),
	)}

	switch table {
	case "route_events":
		stmts = append(stmts,
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (router_id, table_name, afi, prefix, ingest_time DESC)`,
				pgx.Identifier{"idx_" + name + "_prefix_history"}.Sanitize(), safeName),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (router_id, table_name, afi, ingest_time DESC)`,
				pgx.Identifier{"idx_" + name + "_router_churn"}.Sanitize(), safeName),
		)
	case "bmp_messages":
		stmts = append(stmts,
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (router_id, msg_type, ingest_time DESC)`,
				pgx.Identifier{"idx_" + name + "_router_type"}.Sanitize(), safeName),
		)
	}
	return stmts
}

func (pm *PartitionManager) createPartition(ctx context.Context, table string, from, to time.Time) error {
	name := partitionName(table, from)
	for _, stmt := range partitionDDL(table, from, to) {
		if _, err := pm.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating partition %s: %w", name, err)
		}
	}
	pm.logger.Info("partition ensured", zap.String("partition", name))
	return nil
}

// expired reports whether the partition name is for a day before cutoff.
// ok is false for names that are not daily partitions.
func expired(name string, cutoff time.Time, loc *time.Location) (old bool, ok bool) {
	if !validPartitionName.MatchString(name) {
		return false, false
	}
	partDate, err := time.ParseInLocation("20060102", name[len(name)-8:], loc)
	if err != nil {
		return false, false
	}
	return partDate.Before(cutoff), true
}

// DropOldPartitions drops partitions older than the configured retention
// period.
func (pm *PartitionManager) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	cutoff := startOfDay(pm.now().In(loc).AddDate(0, 0, -pm.retentionDays), loc)

	for _, table := range PartitionedTables {
		partitions, err := pm.listPartitions(ctx, table)
		if err != nil {
			return err
		}
		for _, name := range partitions {
			old, ok := expired(name, cutoff, loc)
			if !ok {
				pm.logger.Warn("skipping partition with unexpected name", zap.String("partition", name))
				continue
			}
			if !old {
				continue
			}
			if _, err := pm.db.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
				return fmt.Errorf("dropping partition %s: %w", name, err)
			}
			metrics.PartitionsDroppedTotal.Inc()
			pm.logger.Info("dropped old partition", zap.String("partition", name), zap.Time("cutoff", cutoff))
		}
	}
	return nil
}

func (pm *PartitionManager) listPartitions(ctx context.Context, table string) ([]string, error) {
	rows, err := pm.db.Query(ctx,
		`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = $1::regclass`, table)
	if err != nil {
		return nil, fmt.Errorf("listing partitions of %s: %w", table, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning partitions of %s: %w", table, err)
	}
	return names, nil
}
