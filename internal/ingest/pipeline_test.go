package ingest

import (
	"context"
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/bmp"
	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/config"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// --- Test helpers for building OpenBMP / BMP / BGP frames ---

func newTestProvider(t *testing.T) *extension.Provider {
	t.Helper()
	p, err := extension.NewDefault(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func newTestPipeline(t *testing.T, meta map[string]config.RouterMeta) *Pipeline {
	t.Helper()
	return NewPipeline(newTestProvider(t).BMP, nil, Options{
		BatchSize:       1000,
		FlushInterval:   200 * time.Millisecond,
		MaxPayloadBytes: 16 * 1024 * 1024,
		StoreRawBytes:   true,
		RouteEvents:     true,
		CurrentRIB:      true,
		RouterMeta:      meta,
	}, zap.NewNop())
}

// wrapOpenBMP wraps BMP bytes in an OpenBMP v2 frame.
func wrapOpenBMP(bmpMsg []byte) []byte {
	frame := make([]byte, bmp.OpenBMPHeaderSize+len(bmpMsg))
	binary.BigEndian.PutUint16(frame[0:2], 2)                    // version = 2
	binary.BigEndian.PutUint32(frame[2:6], 0)                    // collector_hash
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(bmpMsg))) // msg_len
	copy(frame[bmp.OpenBMPHeaderSize:], bmpMsg)
	return frame
}

// wrapOpenBMPV17 wraps BMP bytes in an OpenBMP v1.7 frame with a router IP.
func wrapOpenBMPV17(bmpMsg []byte, routerIP [4]byte) []byte {
	hdrLen := uint16(78)
	frame := make([]byte, int(hdrLen)+len(bmpMsg))
	binary.BigEndian.PutUint32(frame[0:4], 0x4F424D50) // "OBMP" magic
	frame[4] = 1                                       // major version
	frame[5] = 7                                       // minor version
	binary.BigEndian.PutUint16(frame[6:8], hdrLen)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(bmpMsg)))
	frame[12] = 0x80 // flags
	frame[13] = 12   // message type: BMP_RAW
	copy(frame[56:60], routerIP[:])
	binary.BigEndian.PutUint32(frame[74:78], 1) // row count
	copy(frame[hdrLen:], bmpMsg)
	return frame
}

func serialize(t *testing.T, p *Pipeline, m bmp.Message) []byte {
	t.Helper()
	raw, err := p.x.SerializeMessage(m)
	require.NoError(t, err)
	return raw
}

func globalPeer() bmp.PeerHeader {
	return bmp.PeerHeader{
		Type:      bmp.PeerTypeGlobal,
		Flags:     bmp.PeerFlagPostPolicy,
		Address:   netip.MustParseAddr("192.0.2.1"),
		AS:        65001,
		BGPID:     netip.MustParseAddr("10.0.0.1"),
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func locRIBPeer() bmp.PeerHeader {
	return bmp.PeerHeader{
		Type:  bmp.PeerTypeLocRIB,
		BGPID: netip.MustParseAddr("10.0.0.2"),
	}
}

// basicUpdate announces 10.0.0.0/24 with origin IGP, AS path 65001 65002
// and next hop 192.168.1.1.
func basicUpdate() *bgp.Update {
	return &bgp.Update{
		Attributes: []byte{
			0x40, bgp.AttrTypeOrigin, 1, 0,
			0x40, bgp.AttrTypeASPath, 10, bgp.ASPathSegmentSequence, 2,
			0, 0, 0xfd, 0xe9,
			0, 0, 0xfd, 0xea,
			0x40, bgp.AttrTypeNextHop, 4, 192, 168, 1, 1,
		},
		NLRI: []byte{24, 10, 0, 0},
	}
}

func record(frame []byte) *kgo.Record {
	return &kgo.Record{Value: frame, Topic: "gobmp.raw"}
}

func TestProcessRecord_RouteMonitoring(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.RouteMonitoring{
		Peer:   locRIBPeer(),
		Update: basicUpdate(),
		TLVs:   []bmp.TLV{&bmp.TableNameTLV{Name: "locrib"}},
	})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.Messages, 1)
	require.Len(t, b.Routes, 1)

	msg := b.Messages[0]
	require.Equal(t, ComputeEventID(raw), msg.EventID)
	require.Equal(t, "route_monitoring", msg.MsgType)
	require.Equal(t, "10.0.0.2", msg.RouterID)
	require.True(t, msg.IsLocRIB)
	require.Equal(t, "locrib", msg.TableName)
	require.Equal(t, raw, msg.BMPRaw)
	require.Empty(t, msg.PeerAddress)

	route := b.Routes[0]
	require.Equal(t, msg.EventID, route.EventID)
	require.Equal(t, "locrib", route.TableName)
	require.Equal(t, "10.0.0.0/24", route.Event.Prefix)
	require.Equal(t, 4, route.Event.AFI)
	require.Equal(t, "A", route.Event.Action)
	require.Equal(t, "192.168.1.1", route.Event.Nexthop)
	require.Equal(t, "65001 65002", route.Event.ASPath)
	require.Equal(t, "IGP", route.Event.Origin)
}

func TestProcessRecord_NonLocRIBPeerFields(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: globalPeer(), Update: basicUpdate()})

	b := p.processRecord(record(wrapOpenBMPV17(raw, [4]byte{10, 0, 0, 9})))
	require.Len(t, b.Routes, 1)
	msg := b.Messages[0]
	require.Equal(t, "10.0.0.9", msg.RouterID)
	require.Equal(t, "10.0.0.9", msg.RouterIP)
	require.Equal(t, "192.0.2.1", msg.PeerAddress)
	require.Equal(t, uint32(65001), msg.PeerAS)
	require.Equal(t, "10.0.0.1", msg.PeerBGPID)
	require.False(t, msg.IsLocRIB)
	require.True(t, msg.IsPostPolicy)
	require.Equal(t, bmp.DefaultTableName, msg.TableName)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), msg.PeerTime)
	require.True(t, b.Routes[0].IsPostPolicy)
}

func TestProcessRecord_RIBChangesKeepMessageOrder(t *testing.T) {
	p := newTestPipeline(t, nil)
	withdraw := &bgp.Update{Withdrawn: []byte{24, 10, 0, 0}}
	var payload []byte
	payload = append(payload, serialize(t, p, &bmp.RouteMonitoring{Peer: globalPeer(), Update: basicUpdate()})...)
	payload = append(payload, serialize(t, p, &bmp.PeerDown{Peer: globalPeer(), Reason: bmp.PeerDownRemoteNoData})...)
	payload = append(payload, serialize(t, p, &bmp.RouteMonitoring{Peer: globalPeer(), Update: withdraw})...)

	b := p.processRecord(record(wrapOpenBMP(payload)))
	require.Len(t, b.RIB, 3)
	require.Equal(t, "A", b.RIB[0].Route.Event.Action)
	require.Nil(t, b.RIB[0].PeerDown)
	require.Equal(t, "down", b.RIB[1].PeerDown.State)
	require.Nil(t, b.RIB[1].Route)
	require.Equal(t, "D", b.RIB[2].Route.Event.Action)
	require.Equal(t, "10.0.0.0/24", b.RIB[2].Route.Event.Prefix)
}

func TestProcessRecord_CurrentRIBDisabled(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.opts.CurrentRIB = false
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: globalPeer(), Update: basicUpdate()})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.Routes, 1)
	require.Empty(t, b.RIB)
}

func TestProcessRecord_RouteEventsDisabled(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.opts.RouteEvents = false
	p.opts.StoreRawBytes = false
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: globalPeer(), Update: basicUpdate()})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.Messages, 1)
	require.Empty(t, b.Routes)
	require.Empty(t, b.RIB)
	require.Nil(t, b.Messages[0].BMPRaw)
}

func TestProcessRecord_EndOfRIB(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: &bgp.Update{}})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.Messages, 1)
	require.Empty(t, b.Routes)
}

func TestProcessRecord_MultiMessage(t *testing.T) {
	p := newTestPipeline(t, nil)
	second := basicUpdate()
	second.NLRI = []byte{16, 172, 16}
	var payload []byte
	payload = append(payload, serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})...)
	payload = append(payload, serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: second})...)

	b := p.processRecord(record(wrapOpenBMP(payload)))
	require.Len(t, b.Messages, 2)
	require.NotEqual(t, b.Messages[0].EventID, b.Messages[1].EventID)
	prefixes := []string{b.Routes[0].Event.Prefix, b.Routes[1].Event.Prefix}
	require.ElementsMatch(t, []string{"10.0.0.0/24", "172.16.0.0/16"}, prefixes)
}

func TestProcessRecord_PartialFailureKeepsGoodMessages(t *testing.T) {
	p := newTestPipeline(t, nil)
	good := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})
	// Termination without a reason TLV is rejected but framing survives.
	bad := []byte{bmp.BMPVersion, 0, 0, 0, 6, bmp.MsgTypeTermination}

	b := p.processRecord(record(wrapOpenBMP(append(append([]byte{}, bad...), good...))))
	require.Len(t, b.Messages, 1)
	require.Len(t, b.Routes, 1)
}

func TestProcessRecord_Malformed(t *testing.T) {
	p := newTestPipeline(t, nil)
	require.Zero(t, p.processRecord(record([]byte{0x00, 0x02, 0x00})).Len())

	// Unsupported BMP version inside a valid frame.
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})
	raw[0] = 1
	require.Zero(t, p.processRecord(record(wrapOpenBMP(raw))).Len())
}

func TestProcessRecord_OversizedPayload(t *testing.T) {
	p := newTestPipeline(t, nil)
	p.opts.MaxPayloadBytes = 16
	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})
	require.Zero(t, p.processRecord(record(wrapOpenBMP(raw))).Len())
}

func openMsg(as codec.ASNumber, id string) *bgp.Open {
	return &bgp.Open{
		Version:      4,
		MyAS:         codec.ASTrans,
		HoldTime:     180,
		BGPID:        netip.MustParseAddr(id),
		Capabilities: []bgp.Capability{&bgp.FourOctetASCapability{AS: as}},
	}
}

func peerUp(as codec.ASNumber) *bmp.PeerUp {
	return &bmp.PeerUp{
		Peer:         globalPeer(),
		LocalAddress: netip.MustParseAddr("192.0.2.254"),
		LocalPort:    179,
		RemotePort:   40000,
		SentOpen:     openMsg(as, "10.0.0.1"),
		ReceivedOpen: openMsg(65002, "192.0.2.1"),
	}
}

func TestProcessRecord_PeerUpRegistersRouter(t *testing.T) {
	meta := map[string]config.RouterMeta{"10.0.0.1": {Name: "edge-1", Location: "lab"}}
	p := newTestPipeline(t, meta)
	// The OpenBMP header carries the monitored peer's address; the sent
	// OPEN's BGP ID is the speaker.
	frame := wrapOpenBMPV17(serialize(t, p, peerUp(400000)), [4]byte{172, 30, 0, 30})

	b := p.processRecord(record(frame))
	require.Len(t, b.PeerEvents, 1)
	ev := b.PeerEvents[0]
	require.Equal(t, "up", ev.State)
	require.Equal(t, "192.0.2.254", ev.LocalAddress)
	require.Equal(t, "192.0.2.1", ev.PeerAddress)
	require.Nil(t, ev.Reason)

	require.Equal(t, []*RouterRow{{RouterID: "10.0.0.1", AS: 400000, Name: "edge-1", Location: "lab"}}, b.Routers)
	require.Equal(t, uint32(400000), p.asnCache["10.0.0.1"])
	_, cachedPeerIP := p.asnCache["172.30.0.30"]
	require.False(t, cachedPeerIP)

	// Same AS again: no router row.
	b = p.processRecord(record(frame))
	require.Empty(t, b.Routers)

	// AS migration: router row again.
	b = p.processRecord(record(wrapOpenBMPV17(serialize(t, p, peerUp(65100)), [4]byte{172, 30, 0, 30})))
	require.Len(t, b.Routers, 1)
	require.Equal(t, uint32(65100), b.Routers[0].AS)
}

func TestProcessRecord_LocRIBPeerUpUsesBGPID(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.PeerUp{
		Peer: locRIBPeer(),
		Info: []bmp.TLV{&bmp.TableNameTLV{Name: "locrib"}},
	})

	b := p.processRecord(record(wrapOpenBMPV17(raw, [4]byte{0, 0, 0, 0})))
	require.Len(t, b.PeerEvents, 1)
	require.Equal(t, "locrib", b.PeerEvents[0].TableName)
	require.Equal(t, []*RouterRow{{RouterID: "10.0.0.2"}}, b.Routers)
}

func TestProcessRecord_PeerDown(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.PeerDown{
		Peer:   globalPeer(),
		Reason: bmp.PeerDownRemoteNoData,
	})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.PeerEvents, 1)
	ev := b.PeerEvents[0]
	require.Equal(t, "down", ev.State)
	require.Equal(t, bmp.PeerDownRemoteNoData, *ev.Reason)
	require.Equal(t, "192.0.2.1", ev.RouterID)
}

func TestProcessRecord_Statistics(t *testing.T) {
	p := newTestPipeline(t, nil)
	raw := serialize(t, p, &bmp.StatisticsReport{
		Peer: globalPeer(),
		Stats: []bmp.TLV{
			&bmp.CounterStat{Type: bmp.StatRejectedPrefixes, Value: 7},
			&bmp.GaugeStat{Type: bmp.StatAdjRIBInRoutes, Value: 1 << 40},
			&bmp.FamilyGaugeStat{Type: bmp.StatLocRIBPerAFISAFI, AFI: bgp.AFIIPv6, SAFI: bgp.SAFIUnicast, Value: 12},
		},
	})

	b := p.processRecord(record(wrapOpenBMP(raw)))
	require.Len(t, b.Stats, 3)
	require.Equal(t, uint64(7), b.Stats[0].Value)
	require.Equal(t, bmp.StatName(bmp.StatRejectedPrefixes), b.Stats[0].StatName)
	require.Equal(t, uint64(1<<40), b.Stats[1].Value)
	require.Equal(t, bgp.AFIIPv6, b.Stats[2].AFI)
	require.Equal(t, bgp.SAFIUnicast, b.Stats[2].SAFI)
}

func TestProcessRecord_InitiationRouter(t *testing.T) {
	meta := map[string]config.RouterMeta{"10.0.0.9": {Name: "core-9"}}
	p := newTestPipeline(t, meta)
	name, descr := "core9.example", "Example OS 1.0"
	raw := serialize(t, p, &bmp.Initiation{SysName: &name, SysDescr: &descr})

	b := p.processRecord(record(wrapOpenBMPV17(raw, [4]byte{10, 0, 0, 9})))
	require.Equal(t, []*RouterRow{{
		RouterID:    "10.0.0.9",
		RouterIP:    "10.0.0.9",
		Hostname:    "core9.example",
		Description: "Example OS 1.0",
		Name:        "core-9",
	}}, b.Routers)

	// Without a router IP in the frame there is nothing to key the row on.
	b = p.processRecord(record(wrapOpenBMP(raw)))
	require.Empty(t, b.Routers)
	require.Len(t, b.Messages, 1)
}

func TestNewPipeline_NilRouterMetaDefaultsToEmptyMap(t *testing.T) {
	p := NewPipeline(nil, nil, Options{}, zap.NewNop())
	require.NotNil(t, p.routerMeta)
	require.Empty(t, p.routerMeta)
}

type fakeWriter struct {
	mu      sync.Mutex
	fail    bool
	batches []*Batch
}

func (w *fakeWriter) FlushBatch(_ context.Context, b *Batch) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("db down")
	}
	w.batches = append(w.batches, b)
	return int64(len(b.Messages)), nil
}

func TestPipelineRun_FlushesAndSignalsCommit(t *testing.T) {
	p := newTestPipeline(t, nil)
	w := &fakeWriter{}
	p.writer = w
	p.opts.BatchSize = 2

	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})
	records := make(chan []*kgo.Record, 1)
	flushed := make(chan []*kgo.Record, 1)
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), records, flushed)
		close(done)
	}()

	recs := []*kgo.Record{record(wrapOpenBMP(raw)), record(wrapOpenBMP(raw))}
	records <- recs
	require.Equal(t, recs, <-flushed)

	close(records)
	<-done
	require.Len(t, w.batches, 1)
	require.Len(t, w.batches[0].Messages, 2)
	require.Len(t, w.batches[0].Routes, 2)
}

func TestPipelineRun_FailedFlushKeepsRecords(t *testing.T) {
	p := newTestPipeline(t, nil)
	w := &fakeWriter{fail: true}
	p.writer = w
	p.opts.BatchSize = 1

	raw := serialize(t, p, &bmp.RouteMonitoring{Peer: locRIBPeer(), Update: basicUpdate()})
	records := make(chan []*kgo.Record, 1)
	flushed := make(chan []*kgo.Record, 2)
	done := make(chan struct{})
	go func() {
		p.Run(context.Background(), records, flushed)
		close(done)
	}()

	records <- []*kgo.Record{record(wrapOpenBMP(raw))}
	// Let the failed flush happen, then recover the writer; the retry on
	// close flushes the kept record.
	time.Sleep(50 * time.Millisecond)
	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	close(records)
	<-done

	require.Len(t, flushed, 1)
	require.Len(t, w.batches, 1)
	require.Len(t, w.batches[0].Messages, 1)
}
