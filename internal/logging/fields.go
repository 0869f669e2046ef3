package logging

import (
	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/bmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var bmpTypeNames = map[uint8]string{
	bmp.MsgTypeRouteMonitoring:  "route_monitoring",
	bmp.MsgTypeStatisticsReport: "statistics_report",
	bmp.MsgTypePeerDown:         "peer_down",
	bmp.MsgTypePeerUp:           "peer_up",
	bmp.MsgTypeInitiation:       "initiation",
	bmp.MsgTypeTermination:      "termination",
	bmp.MsgTypeRouteMirroring:   "route_mirroring",
}

// BMPTypeName returns the snake_case name of a BMP message type, used as a
// log field and metric label.
func BMPTypeName(t uint8) string {
	if n, ok := bmpTypeNames[t]; ok {
		return n
	}
	return "unknown"
}

type peerHeader struct{ h *bmp.PeerHeader }

func (p peerHeader) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint8("type", p.h.Type)
	enc.AddUint8("flags", p.h.Flags)
	if p.h.Address.IsValid() {
		enc.AddString("address", p.h.Address.String())
	}
	enc.AddUint32("as", uint32(p.h.AS))
	if p.h.BGPID.IsValid() {
		enc.AddString("bgp_id", p.h.BGPID.String())
	}
	if p.h.Distinguisher != 0 {
		enc.AddUint64("distinguisher", p.h.Distinguisher)
	}
	enc.AddTime("timestamp", p.h.Timestamp)
	return nil
}

type bmpMessage struct{ m bmp.Message }

func (b bmpMessage) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("type", BMPTypeName(b.m.MsgType()))
	if h, ok := bmp.PeerOf(b.m); ok {
		if err := enc.AddObject("peer", peerHeader{h}); err != nil {
			return err
		}
	}
	switch m := b.m.(type) {
	case *bmp.RouteMonitoring:
		enc.AddString("table", m.TableName())
		if m.Update != nil {
			enc.AddInt("withdrawn_bytes", len(m.Update.Withdrawn))
			enc.AddInt("attribute_bytes", len(m.Update.Attributes))
			enc.AddInt("nlri_bytes", len(m.Update.NLRI))
		}
	case *bmp.StatisticsReport:
		enc.AddInt("stats", len(m.Stats))
	case *bmp.PeerDown:
		enc.AddUint8("reason", m.Reason)
	case *bmp.PeerUp:
		enc.AddString("table", m.TableName())
		if m.LocalAddress.IsValid() {
			enc.AddString("local_address", m.LocalAddress.String())
		}
	case *bmp.Initiation:
		if m.SysName != nil {
			enc.AddString("sys_name", *m.SysName)
		}
	case *bmp.Termination:
		if m.Reason != nil {
			enc.AddUint16("reason", *m.Reason)
		}
	}
	return nil
}

// BMPMessage returns a structured field describing a decoded BMP message.
func BMPMessage(m bmp.Message) zap.Field {
	return zap.Object("bmp", bmpMessage{m})
}

type routeEvent struct{ e *bgp.RouteEvent }

func (r routeEvent) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("action", r.e.Action)
	enc.AddString("prefix", r.e.Prefix)
	if r.e.PathID != 0 {
		enc.AddInt64("path_id", r.e.PathID)
	}
	if r.e.Nexthop != "" {
		enc.AddString("nexthop", r.e.Nexthop)
	}
	if r.e.ASPath != "" {
		enc.AddString("as_path", r.e.ASPath)
	}
	return nil
}

// RouteEvent returns a structured field describing one route event.
func RouteEvent(e *bgp.RouteEvent) zap.Field {
	return zap.Object("route", routeEvent{e})
}
