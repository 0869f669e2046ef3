package maintenance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestValidPartitionName(t *testing.T) {
	for _, name := range []string{"route_events_20250115", "bmp_messages_20250115"} {
		require.True(t, validPartitionName.MatchString(name), name)
	}
	for _, name := range []string{
		"route_events_abc",
		"other_table_20250115",
		"route_events_2025011",
		"bmp_stats_20250115",
		"route_events_20250115; DROP TABLE x",
		"",
	} {
		require.False(t, validPartitionName.MatchString(name), name)
	}
}

func TestExpired(t *testing.T) {
	cutoff := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	old, ok := expired("route_events_20250114", cutoff, time.UTC)
	require.True(t, ok)
	require.True(t, old)

	old, ok = expired("bmp_messages_20250115", cutoff, time.UTC)
	require.True(t, ok)
	require.False(t, old)

	_, ok = expired("route_events_default", cutoff, time.UTC)
	require.False(t, ok)

	// Matches the pattern but is not a date.
	_, ok = expired("route_events_20251399", cutoff, time.UTC)
	require.False(t, ok)
}

func TestPartitionDDL(t *testing.T) {
	from := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	stmts := partitionDDL("route_events", from, from.AddDate(0, 0, 1))
	require.Len(t, stmts, 3)
	require.Equal(t,
		`CREATE TABLE IF NOT EXISTS "route_events_20250115" PARTITION OF "route_events" FOR VALUES FROM ('2025-01-15 00:00:00+00') TO ('2025-01-16 00:00:00+00')`,
		stmts[0])

	stmts = partitionDDL("bmp_messages", from, from.AddDate(0, 0, 1))
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[1], `"idx_bmp_messages_20250115_router_type"`)
}

func TestPartitionDDL_TimezoneBoundsInUTC(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Belgrade")
	require.NoError(t, err)
	from := startOfDay(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC), loc)
	stmts := partitionDDL("route_events", from, from.AddDate(0, 0, 1))
	require.Contains(t, stmts[0], "FROM ('2025-06-30 22:00:00+00') TO ('2025-07-01 22:00:00+00')")
}

type fakeDB struct {
	execs []string
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not used")
}

func TestCreatePartitions_TodayAndTomorrowForEachTable(t *testing.T) {
	db := &fakeDB{}
	pm := NewPartitionManager(db, 30, "UTC", zap.NewNop())
	pm.now = func() time.Time { return time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC) }

	require.NoError(t, pm.CreatePartitions(context.Background()))

	var tables []string
	for _, s := range db.execs {
		if strings.HasPrefix(s, "CREATE TABLE") {
			tables = append(tables, strings.Fields(s)[5])
		}
	}
	require.Equal(t, []string{
		`"bmp_messages_20251231"`, `"bmp_messages_20260101"`,
		`"route_events_20251231"`, `"route_events_20260101"`,
	}, tables)
}

func TestCreatePartitions_BadTimezone(t *testing.T) {
	pm := NewPartitionManager(&fakeDB{}, 30, "Mars/Olympus", zap.NewNop())
	require.ErrorContains(t, pm.CreatePartitions(context.Background()), "loading timezone")
}
