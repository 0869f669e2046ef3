package ingest

import (
	"context"
	"time"

	"github.com/route-beacon/wirecodec/internal/bmp"
	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/route-beacon/wirecodec/internal/logging"
	"github.com/route-beacon/wirecodec/internal/metrics"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// BatchWriter persists a batch and returns the number of BMP messages that
// were new.
type BatchWriter interface {
	FlushBatch(ctx context.Context, b *Batch) (int64, error)
}

const finalFlushTimeout = 5 * time.Second

// Options tunes a Pipeline.
type Options struct {
	BatchSize       int
	FlushInterval   time.Duration
	MaxPayloadBytes int
	StoreRawBytes   bool
	RouteEvents     bool
	CurrentRIB      bool
	RouterMeta      map[string]config.RouterMeta
}

// Pipeline decodes OpenBMP records with the BMP registry and batches the
// resulting rows to a BatchWriter.
type Pipeline struct {
	x      *bmp.Extensions
	writer BatchWriter
	opts   Options
	logger *zap.Logger

	// asnCache maps router ID to the last AS written to routers, so a
	// router row is only written when it changes.
	asnCache   map[string]uint32
	routerMeta map[string]config.RouterMeta
}

func NewPipeline(x *bmp.Extensions, writer BatchWriter, opts Options, logger *zap.Logger) *Pipeline {
	meta := opts.RouterMeta
	if meta == nil {
		meta = map[string]config.RouterMeta{}
	}
	return &Pipeline{
		x:          x,
		writer:     writer,
		opts:       opts,
		logger:     logger,
		asnCache:   make(map[string]uint32),
		routerMeta: meta,
	}
}

// Run processes records from the channel until context is cancelled.
// Records are sent on flushed once their rows are committed.
func (p *Pipeline) Run(ctx context.Context, records <-chan []*kgo.Record, flushed chan<- []*kgo.Record) {
	batch := &Batch{}
	var batchRecords []*kgo.Record
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.finalFlush(ctx, batch, batchRecords, flushed)
			return

		case recs, ok := <-records:
			if !ok {
				p.finalFlush(ctx, batch, batchRecords, flushed)
				return
			}

			for _, rec := range recs {
				metrics.KafkaRecordsTotal.WithLabelValues(rec.Topic).Inc()
				batch.Append(p.processRecord(rec))
				batchRecords = append(batchRecords, rec)
			}

			if len(batchRecords) >= p.opts.BatchSize {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = &Batch{}
					batchRecords = nil
				}
			}

			// Cap memory: if repeated flush failures cause the batch to
			// grow beyond 10x the configured size, drop it to prevent
			// unbounded memory growth during prolonged DB outages.
			if len(batchRecords) >= p.opts.BatchSize*10 {
				p.logger.Error("dropping oversized batch after repeated flush failures",
					zap.Int("dropped_records", len(batchRecords)),
					zap.Int("dropped_rows", batch.Len()),
				)
				batch = &Batch{}
				batchRecords = nil
			}

		case <-ticker.C:
			if len(batchRecords) > 0 {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = &Batch{}
					batchRecords = nil
				}
			}
		}
	}
}

// finalFlush writes what is left on shutdown. Once the run context is gone
// the write gets its own.
func (p *Pipeline) finalFlush(ctx context.Context, batch *Batch, records []*kgo.Record, flushed chan<- []*kgo.Record) {
	if len(records) == 0 {
		return
	}
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), finalFlushTimeout)
		defer cancel()
	}
	p.flush(ctx, batch, records, flushed)
}

func (p *Pipeline) processRecord(rec *kgo.Record) *Batch {
	frame, err := bmp.DecodeOpenBMPFrame(rec.Value, p.opts.MaxPayloadBytes)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("openbmp", "decode").Inc()
		p.logger.Warn("failed to decode OpenBMP frame",
			zap.String("topic", rec.Topic),
			zap.Error(err),
		)
		return nil
	}

	// goBMP may bundle several BMP messages in one record. Messages that
	// fail are reported and the rest are kept.
	decoded, err := p.x.ParseAll(frame.BMP)
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("bmp", "parse").Inc()
		p.logger.Warn("failed to parse BMP message",
			zap.String("topic", rec.Topic),
			zap.String("router_ip", frame.RouterIP),
			zap.Error(err),
		)
	}

	out := &Batch{}
	for _, d := range decoded {
		p.processMessage(out, rec.Topic, frame, d)
	}
	return out
}

func (p *Pipeline) processMessage(out *Batch, topic string, frame bmp.Frame, d bmp.Decoded) {
	typeName := logging.BMPTypeName(d.Message.MsgType())
	metrics.MessagesDecodedTotal.WithLabelValues("bmp", typeName).Inc()
	p.logger.Debug("decoded BMP message", zap.String("topic", topic), logging.BMPMessage(d.Message))

	eventID := ComputeEventID(d.Raw)
	row := &MessageRow{
		EventID:  eventID,
		RouterID: frame.RouterIP,
		RouterIP: frame.RouterIP,
		MsgType:  typeName,
		Topic:    topic,
	}
	if p.opts.StoreRawBytes {
		row.BMPRaw = d.Raw
	}
	peer, hasPeer := bmp.PeerOf(d.Message)
	if hasPeer {
		if row.RouterID == "" || peer.IsLocRIB() {
			row.RouterID = peer.RouterID()
		}
		row.PeerAddress = addrString(peer)
		row.PeerAS = uint32(peer.AS)
		if peer.BGPID.IsValid() {
			row.PeerBGPID = peer.BGPID.String()
		}
		row.IsLocRIB = peer.IsLocRIB()
		row.IsPostPolicy = peer.PostPolicy()
		row.PeerTime = peer.Timestamp
	}
	if row.RouterID != "" {
		metrics.LastMsgTimestamp.WithLabelValues(row.RouterID).SetToCurrentTime()
	}

	switch m := d.Message.(type) {
	case *bmp.RouteMonitoring:
		row.TableName = m.TableName()
		p.routeRows(out, row, m)
	case *bmp.PeerUp:
		row.TableName = m.TableName()
		p.peerUp(out, row, m)
	case *bmp.PeerDown:
		reason := m.Reason
		ev := &PeerEventRow{
			EventID:     eventID,
			RouterID:    row.RouterID,
			PeerAddress: row.PeerAddress,
			PeerAS:      row.PeerAS,
			PeerBGPID:   row.PeerBGPID,
			State:       "down",
			Reason:      &reason,
			PeerTime:    row.PeerTime,
		}
		out.PeerEvents = append(out.PeerEvents, ev)
		if p.currentRIB() {
			out.RIB = append(out.RIB, RIBChange{PeerDown: ev})
		}
	case *bmp.StatisticsReport:
		out.Stats = append(out.Stats, statRows(row, m)...)
	case *bmp.Initiation:
		if row.RouterID != "" {
			r := p.router(row.RouterID)
			r.RouterIP = row.RouterIP
			if m.SysName != nil {
				r.Hostname = *m.SysName
			}
			if m.SysDescr != nil {
				r.Description = *m.SysDescr
			}
			out.Routers = append(out.Routers, r)
		}
	}
	out.Messages = append(out.Messages, row)
}

func (p *Pipeline) routeRows(out *Batch, row *MessageRow, m *bmp.RouteMonitoring) {
	if !p.opts.RouteEvents || m.Update == nil {
		return
	}
	events, err := p.x.BGP.Routes(m.Update, m.Peer.AddPath())
	if err != nil {
		metrics.ParseErrorsTotal.WithLabelValues("bgp", "parse").Inc()
		p.logger.Warn("failed to parse BGP UPDATE",
			zap.String("topic", row.Topic),
			zap.String("router_id", row.RouterID),
			zap.Error(err),
		)
		return
	}
	for _, ev := range events {
		metrics.MessagesDecodedTotal.WithLabelValues("bgp", "route_"+ev.Action).Inc()
		rr := &RouteRow{
			EventID:      row.EventID,
			RouterID:     row.RouterID,
			TableName:    row.TableName,
			PeerAddress:  row.PeerAddress,
			IsLocRIB:     row.IsLocRIB,
			IsPostPolicy: row.IsPostPolicy,
			Event:        ev,
			Topic:        row.Topic,
		}
		out.Routes = append(out.Routes, rr)
		if p.currentRIB() {
			out.RIB = append(out.RIB, RIBChange{Route: rr})
		}
	}
}

func (p *Pipeline) currentRIB() bool {
	return p.opts.RouteEvents && p.opts.CurrentRIB
}

// peerUp records the peer event and, when the router's identity or AS
// changed, a router row. For non Loc-RIB peers the sent OPEN identifies the
// monitored router; the OpenBMP header may carry the peer's address.
func (p *Pipeline) peerUp(out *Batch, row *MessageRow, m *bmp.PeerUp) {
	ev := &PeerEventRow{
		EventID:     row.EventID,
		RouterID:    row.RouterID,
		PeerAddress: row.PeerAddress,
		PeerAS:      row.PeerAS,
		PeerBGPID:   row.PeerBGPID,
		State:       "up",
		TableName:   row.TableName,
		PeerTime:    row.PeerTime,
	}
	if m.LocalAddress.IsValid() {
		ev.LocalAddress = m.LocalAddress.String()
	}
	out.PeerEvents = append(out.PeerEvents, ev)

	var routerID string
	var asn uint32
	switch {
	case m.Peer.IsLocRIB():
		routerID = m.Peer.RouterID()
	case m.SentOpen != nil && m.SentOpen.BGPID.IsValid():
		routerID = m.SentOpen.BGPID.String()
		asn = uint32(m.SentOpen.ASN())
	}
	if routerID == "" {
		return
	}
	if cached, ok := p.asnCache[routerID]; ok && cached == asn {
		return
	}
	p.asnCache[routerID] = asn
	r := p.router(routerID)
	r.AS = asn
	out.Routers = append(out.Routers, r)
}

func (p *Pipeline) router(id string) *RouterRow {
	r := &RouterRow{RouterID: id}
	if meta, ok := p.routerMeta[id]; ok {
		r.Name = meta.Name
		r.Location = meta.Location
	}
	return r
}

func statRows(row *MessageRow, m *bmp.StatisticsReport) []*StatRow {
	rows := make([]*StatRow, 0, len(m.Stats))
	for _, t := range m.Stats {
		sr := &StatRow{
			EventID:     row.EventID,
			RouterID:    row.RouterID,
			PeerAddress: row.PeerAddress,
			StatType:    t.Code(),
			StatName:    bmp.StatName(t.Code()),
		}
		switch s := t.(type) {
		case *bmp.CounterStat:
			sr.Value = uint64(s.Value)
		case *bmp.GaugeStat:
			sr.Value = uint64(s.Value)
		case *bmp.FamilyGaugeStat:
			sr.AFI, sr.SAFI = s.AFI, s.SAFI
			sr.Value = uint64(s.Value)
		default:
			continue
		}
		rows = append(rows, sr)
	}
	return rows
}

func addrString(h *bmp.PeerHeader) string {
	if !h.Address.IsValid() || h.Address.IsUnspecified() {
		return ""
	}
	return h.Address.String()
}

func (p *Pipeline) flush(ctx context.Context, batch *Batch, records []*kgo.Record, flushed chan<- []*kgo.Record) bool {
	inserted, err := p.writer.FlushBatch(ctx, batch)
	if err != nil {
		p.logger.Error("batch flush failed", zap.Error(err))
		return false
	}

	p.logger.Debug("batch flushed",
		zap.Int("records", len(records)),
		zap.Int("rows", batch.Len()),
		zap.Int64("inserted", inserted),
		zap.Int64("deduped", int64(len(batch.Messages))-inserted),
	)

	// Signal successful flush for offset commit.
	select {
	case flushed <- records:
	case <-ctx.Done():
	}

	return true
}
