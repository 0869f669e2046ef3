package bmp

import (
	"net/netip"
	"time"

	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/codec"
)

// BMP message type codes (RFC 7854).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6
)

// BMP peer types.
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
	PeerTypeLocRIB uint8 = 3 // RFC 9069
)

// BMP header sizes.
const (
	CommonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	PerPeerHeaderSize = 42 // peer_type(1) + flags(1) + distinguisher(8) + addr(16) + AS(4) + BGPID(4) + ts_sec(4) + ts_usec(4)
)

// BMPVersion is the expected BMP protocol version.
const BMPVersion uint8 = 3

// Per-peer header flags (RFC 7854 §4.2, RFC 8671).
const (
	PeerFlagIPv6       uint8 = 0x80 // V
	PeerFlagPostPolicy uint8 = 0x40 // L
	PeerFlagLegacyAS   uint8 = 0x20 // A: AS_PATH uses 2-octet ASNs
	PeerFlagAdjRIBOut  uint8 = 0x10 // O
)

// PeerFlagAddPath is the F-bit in Loc-RIB peer_flags (RFC 9069 Section 4.2).
// It shares bit 0 with the V flag of the other peer types.
const PeerFlagAddPath uint8 = 0x80

// Information TLV type codes. The same code means different things in each
// message family, so every family has its own registry.
const (
	TLVTypeString     uint16 = 0 // initiation, termination, peer up
	TLVTypeSysDescr   uint16 = 1 // initiation
	TLVTypeSysName    uint16 = 2 // initiation
	TLVTypeReason     uint16 = 1 // termination
	TLVTypeTableName  uint16 = 3 // peer up, route monitoring (RFC 9069)
	TLVTypeBGPMessage uint16 = 0 // route mirroring
	TLVTypeMirrorInfo uint16 = 1 // route mirroring

	// Some speakers put the Loc-RIB table name in a type 0 TLV trailing the
	// route monitoring message.
	TLVTypeLegacyTableName uint16 = 0
)

// DefaultTableName is reported when a message carries no table name TLV.
const DefaultTableName = "UNKNOWN"

// Peer down reason codes (RFC 7854 §4.9, RFC 9069 §5.5).
const (
	PeerDownLocalNotification   uint8 = 1
	PeerDownLocalNoNotification uint8 = 2
	PeerDownRemoteNotification  uint8 = 3
	PeerDownRemoteNoData        uint8 = 4
	PeerDownDeconfigured        uint8 = 5
	PeerDownLocalSystemClosed   uint8 = 6
)

// Termination reason codes (RFC 7854 §4.5).
const (
	TermReasonAdminClose     uint16 = 0
	TermReasonUnspecified    uint16 = 1
	TermReasonOutOfResources uint16 = 2
	TermReasonRedundant      uint16 = 3
	TermReasonPermAdminClose uint16 = 4
)

// Message is one decoded BMP message, without its common header.
type Message interface {
	MsgType() uint8
}

// PeerHeader is the per-peer header shared by the peer-scoped messages.
type PeerHeader struct {
	Type          uint8
	Flags         uint8
	Distinguisher uint64
	Address       netip.Addr
	AS            codec.ASNumber
	BGPID         netip.Addr
	Timestamp     time.Time
}

func (h *PeerHeader) IsLocRIB() bool     { return h.Type == PeerTypeLocRIB }
func (h *PeerHeader) IsIPv6() bool       { return !h.IsLocRIB() && h.Flags&PeerFlagIPv6 != 0 }
func (h *PeerHeader) PostPolicy() bool   { return h.Flags&PeerFlagPostPolicy != 0 }
func (h *PeerHeader) LegacyASPath() bool { return h.Flags&PeerFlagLegacyAS != 0 }

// AddPath reports the Loc-RIB F flag. Other peer types signal Add-Path
// through the OPEN messages of their peer up.
func (h *PeerHeader) AddPath() bool {
	return h.IsLocRIB() && h.Flags&PeerFlagAddPath != 0
}

// RouterID identifies the router a peer-scoped message describes. For
// Loc-RIB (RFC 9069 Section 4.1) the peer address is zero and the BGP ID
// holds the local router's identifier.
func (h *PeerHeader) RouterID() string {
	if h.Address.IsValid() && !h.Address.IsUnspecified() {
		return h.Address.String()
	}
	if h.BGPID.IsValid() && !h.BGPID.IsUnspecified() {
		return h.BGPID.String()
	}
	return ""
}

// RouteMonitoring carries one BGP UPDATE (RFC 7854 §4.6) plus any trailing
// TLVs.
type RouteMonitoring struct {
	Peer   PeerHeader
	Update *bgp.Update
	TLVs   []TLV
}

func (*RouteMonitoring) MsgType() uint8 { return MsgTypeRouteMonitoring }

// TableName returns the Loc-RIB table name, or DefaultTableName.
func (m *RouteMonitoring) TableName() string { return tableName(m.TLVs) }

// StatisticsReport (RFC 7854 §4.8).
type StatisticsReport struct {
	Peer  PeerHeader
	Stats []TLV
}

func (*StatisticsReport) MsgType() uint8 { return MsgTypeStatisticsReport }

// PeerDown (RFC 7854 §4.9). Notification is set for reasons 1 and 3,
// FSMEvent for reason 2. Data keeps the payload of any other reason.
type PeerDown struct {
	Peer         PeerHeader
	Reason       uint8
	Notification *bgp.Notification
	FSMEvent     uint16
	Data         []byte
}

func (*PeerDown) MsgType() uint8 { return MsgTypePeerDown }

// PeerUp (RFC 7854 §4.10). Loc-RIB peer ups may omit the session fields and
// both OPENs, in which case SentOpen and ReceivedOpen are nil.
type PeerUp struct {
	Peer         PeerHeader
	LocalAddress netip.Addr
	LocalPort    uint16
	RemotePort   uint16
	SentOpen     *bgp.Open
	ReceivedOpen *bgp.Open
	Info         []TLV
}

func (*PeerUp) MsgType() uint8 { return MsgTypePeerUp }

// TableName returns the Loc-RIB table name, or DefaultTableName.
func (m *PeerUp) TableName() string { return tableName(m.Info) }

// Initiation (RFC 7854 §4.3). SysName and SysDescr are mandatory.
type Initiation struct {
	SysName  *string
	SysDescr *string
	Strings  []string
	Extra    []TLV
}

func (*Initiation) MsgType() uint8 { return MsgTypeInitiation }

// Termination (RFC 7854 §4.5). Reason is mandatory.
type Termination struct {
	Reason  *uint16
	Strings []string
	Extra   []TLV
}

func (*Termination) MsgType() uint8 { return MsgTypeTermination }

// RouteMirroring (RFC 7854 §4.7).
type RouteMirroring struct {
	Peer PeerHeader
	TLVs []TLV
}

func (*RouteMirroring) MsgType() uint8 { return MsgTypeRouteMirroring }

// PeerOf returns the per-peer header of a peer-scoped message.
func PeerOf(m Message) (*PeerHeader, bool) {
	switch v := m.(type) {
	case *RouteMonitoring:
		return &v.Peer, true
	case *StatisticsReport:
		return &v.Peer, true
	case *PeerDown:
		return &v.Peer, true
	case *PeerUp:
		return &v.Peer, true
	case *RouteMirroring:
		return &v.Peer, true
	}
	return nil, false
}
