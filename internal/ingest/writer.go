package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/metrics"
	"go.uber.org/zap"
)

var zstdEncoder, _ = zstd.NewWriter(nil)

// DB is the part of a pgx pool the writer needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	insertMessageSQL = `
INSERT INTO bmp_messages (event_id, ingest_time, router_id, router_ip, msg_type,
	peer_address, peer_as, peer_bgp_id, is_loc_rib, is_post_policy, table_name,
	peer_time, topic, bmp_raw)
VALUES ($1, date_trunc('day', now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (event_id, ingest_time) DO NOTHING`

	insertPeerEventSQL = `
INSERT INTO peer_events (event_id, router_id, peer_address, peer_as, peer_bgp_id,
	state, reason, local_address, table_name, peer_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (event_id) DO NOTHING`

	insertStatSQL = `
INSERT INTO bmp_stats (event_id, stat_type, afi, safi, router_id, peer_address, stat_name, value)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (event_id, stat_type, afi, safi) DO NOTHING`

	upsertRouterSQL = `
INSERT INTO routers (router_id, router_ip, hostname, as_number, description, name, location, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
ON CONFLICT (router_id) DO UPDATE SET
    router_ip   = COALESCE(EXCLUDED.router_ip, routers.router_ip),
    hostname    = COALESCE(EXCLUDED.hostname, routers.hostname),
    as_number   = COALESCE(EXCLUDED.as_number, routers.as_number),
    description = COALESCE(EXCLUDED.description, routers.description),
    name        = COALESCE(EXCLUDED.name, routers.name),
    location    = COALESCE(EXCLUDED.location, routers.location),
    last_seen   = now()`

	insertRouteSQL = `
INSERT INTO route_events (event_id, ingest_time, router_id, table_name, peer_address,
	is_loc_rib, is_post_policy, afi, prefix, path_id, action, nexthop, as_path, origin,
	localpref, med, communities_std, communities_ext, communities_large, attrs)
VALUES ($1, date_trunc('day', now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (event_id, ingest_time, afi, prefix, path_id, action) DO NOTHING`

	upsertCurrentRouteSQL = `
INSERT INTO current_routes (router_id, table_name, peer_address, afi, prefix, path_id,
	is_post_policy, nexthop, as_path, origin, localpref, med, origin_asn,
	communities_std, communities_ext, communities_large, attrs, first_seen, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, now(), now())
ON CONFLICT (router_id, table_name, peer_address, afi, prefix, path_id) DO UPDATE SET
    is_post_policy    = EXCLUDED.is_post_policy,
    nexthop           = EXCLUDED.nexthop,
    as_path           = EXCLUDED.as_path,
    origin            = EXCLUDED.origin,
    localpref         = EXCLUDED.localpref,
    med               = EXCLUDED.med,
    origin_asn        = EXCLUDED.origin_asn,
    communities_std   = EXCLUDED.communities_std,
    communities_ext   = EXCLUDED.communities_ext,
    communities_large = EXCLUDED.communities_large,
    attrs             = EXCLUDED.attrs,
    updated_at        = now()`

	deleteCurrentRouteSQL = `
DELETE FROM current_routes
WHERE router_id = $1 AND table_name = $2 AND peer_address = $3 AND afi = $4 AND prefix = $5 AND path_id = $6`

	clearPeerRoutesSQL = `
DELETE FROM current_routes WHERE router_id = $1 AND peer_address = $2`
)

type Writer struct {
	db          DB
	logger      *zap.Logger
	compressRaw bool
}

func NewWriter(db DB, logger *zap.Logger, compressRaw bool) *Writer {
	return &Writer{db: db, logger: logger, compressRaw: compressRaw}
}

// queued records which table and operation each statement of a pgx.Batch
// performs.
type queued struct {
	batch  *pgx.Batch
	tables []string
	ops    []string
}

func (q *queued) add(table, sql string, args ...any) {
	q.addOp(table, "insert", sql, args...)
}

func (q *queued) addOp(table, op, sql string, args ...any) {
	q.batch.Queue(sql, args...)
	q.tables = append(q.tables, table)
	q.ops = append(q.ops, op)
}

// queue builds the statements for b in dependency order: routers first so
// later rows can refer to them.
func (w *Writer) queue(b *Batch) (*queued, error) {
	q := &queued{batch: &pgx.Batch{}}
	for _, r := range b.Routers {
		var as any
		if r.AS != 0 {
			as = int64(r.AS)
		}
		q.add("routers", upsertRouterSQL,
			r.RouterID, nilIfEmpty(r.RouterIP), nilIfEmpty(r.Hostname), as,
			nilIfEmpty(r.Description), nilIfEmpty(r.Name), nilIfEmpty(r.Location),
		)
	}
	for _, m := range b.Messages {
		var raw []byte
		if m.BMPRaw != nil {
			raw = m.BMPRaw
			if w.compressRaw {
				raw = zstdEncoder.EncodeAll(m.BMPRaw, nil)
			}
		}
		q.add("bmp_messages", insertMessageSQL,
			m.EventID, m.RouterID, nilIfEmpty(m.RouterIP), m.MsgType,
			nilIfEmpty(m.PeerAddress), nilIfZero(int64(m.PeerAS)), nilIfEmpty(m.PeerBGPID),
			m.IsLocRIB, m.IsPostPolicy, nilIfEmpty(m.TableName), nilIfZeroTime(m.PeerTime),
			m.Topic, raw,
		)
	}
	for _, e := range b.PeerEvents {
		var reason any
		if e.Reason != nil {
			reason = int16(*e.Reason)
		}
		q.add("peer_events", insertPeerEventSQL,
			e.EventID, e.RouterID, nilIfEmpty(e.PeerAddress), nilIfZero(int64(e.PeerAS)),
			nilIfEmpty(e.PeerBGPID), e.State, reason, nilIfEmpty(e.LocalAddress),
			nilIfEmpty(e.TableName), nilIfZeroTime(e.PeerTime),
		)
	}
	for _, s := range b.Stats {
		q.add("bmp_stats", insertStatSQL,
			s.EventID, int32(s.StatType), int32(s.AFI), int16(s.SAFI),
			s.RouterID, nilIfEmpty(s.PeerAddress), s.StatName, int64(s.Value),
		)
	}
	for _, r := range b.Routes {
		attrsJSON, err := attrsJSON(r)
		if err != nil {
			return nil, err
		}
		q.add("route_events", insertRouteSQL,
			r.EventID, r.RouterID, r.TableName, nilIfEmpty(r.PeerAddress),
			r.IsLocRIB, r.IsPostPolicy, r.Event.AFI, r.Event.Prefix, r.Event.PathID,
			r.Event.Action, nilIfEmpty(r.Event.Nexthop), nilIfEmpty(r.Event.ASPath),
			nilIfEmpty(r.Event.Origin), r.Event.LocalPref, r.Event.MED,
			r.Event.CommStd, r.Event.CommExt, r.Event.CommLarge, attrsJSON,
		)
	}
	for _, c := range b.RIB {
		if err := queueRIBChange(q, c); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func attrsJSON(r *RouteRow) ([]byte, error) {
	if len(r.Event.Attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(r.Event.Attrs)
	if err != nil {
		return nil, fmt.Errorf("encoding attrs: %w", err)
	}
	return b, nil
}

// queueRIBChange applies one change to current_routes. Withdrawals and
// peer downs delete; announcements upsert the latest attributes.
func queueRIBChange(q *queued, c RIBChange) error {
	switch {
	case c.PeerDown != nil:
		q.addOp("current_routes", "delete", clearPeerRoutesSQL, c.PeerDown.RouterID, c.PeerDown.PeerAddress)
	case c.Route != nil && c.Route.Event.Action == "D":
		r := c.Route
		q.addOp("current_routes", "delete", deleteCurrentRouteSQL,
			r.RouterID, r.TableName, r.PeerAddress, r.Event.AFI, r.Event.Prefix, r.Event.PathID)
	case c.Route != nil:
		r := c.Route
		attrs, err := attrsJSON(r)
		if err != nil {
			return err
		}
		q.addOp("current_routes", "upsert", upsertCurrentRouteSQL,
			r.RouterID, r.TableName, r.PeerAddress, r.Event.AFI, r.Event.Prefix, r.Event.PathID,
			r.IsPostPolicy, nilIfEmpty(r.Event.Nexthop), nilIfEmpty(r.Event.ASPath),
			nilIfEmpty(r.Event.Origin), r.Event.LocalPref, r.Event.MED, bgp.OriginASN(r.Event.ASPath),
			r.Event.CommStd, r.Event.CommExt, r.Event.CommLarge, attrs,
		)
	}
	return nil
}

// FlushBatch writes b in one transaction. It returns the number of BMP
// messages actually inserted (after dedup).
func (w *Writer) FlushBatch(ctx context.Context, b *Batch) (int64, error) {
	if b.Len() == 0 {
		return 0, nil
	}

	start := time.Now()
	q, err := w.queue(b)
	if err != nil {
		return 0, err
	}

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	type key struct{ table, op string }
	affected := make(map[key]int64)
	conflicts := make(map[string]int64)
	br := tx.SendBatch(ctx, q.batch)
	for i, table := range q.tables {
		op := q.ops[i]
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("%s %s: %w", op, table, err)
		}
		affected[key{table, op}] += tag.RowsAffected()
		if op == "insert" && tag.RowsAffected() == 0 {
			conflicts[table]++
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("closing batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	metrics.DBWriteDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	metrics.BatchSize.Observe(float64(b.Len()))
	for k, n := range affected {
		metrics.DBRowsAffectedTotal.WithLabelValues(k.table, k.op).Add(float64(n))
	}
	for table, n := range conflicts {
		if table != "routers" {
			metrics.DedupConflictsTotal.WithLabelValues(table).Add(float64(n))
		}
	}
	return affected[key{"bmp_messages", "insert"}], nil
}

func nilIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
