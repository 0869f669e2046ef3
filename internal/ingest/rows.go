package ingest

import (
	"time"

	"github.com/route-beacon/wirecodec/internal/bgp"
)

// MessageRow is one decoded BMP message for bmp_messages.
type MessageRow struct {
	EventID      []byte // 32-byte SHA256 of the BMP message
	RouterID     string
	RouterIP     string
	MsgType      string
	PeerAddress  string
	PeerAS       uint32
	PeerBGPID    string
	IsLocRIB     bool
	IsPostPolicy bool
	TableName    string
	PeerTime     time.Time
	BMPRaw       []byte
	Topic        string
}

// PeerEventRow is a peer up or peer down for peer_events.
type PeerEventRow struct {
	EventID      []byte
	RouterID     string
	PeerAddress  string
	PeerAS       uint32
	PeerBGPID    string
	State        string // "up" or "down"
	Reason       *uint8 // peer down only
	LocalAddress string // peer up only
	TableName    string
	PeerTime     time.Time
}

// StatRow is one statistics report counter for bmp_stats. AFI and SAFI are
// zero for statistics that are not scoped to an address family.
type StatRow struct {
	EventID     []byte
	RouterID    string
	PeerAddress string
	StatType    uint16
	StatName    string
	AFI         uint16
	SAFI        uint8
	Value       uint64
}

// RouterRow carries router metadata for routers. Empty fields do not
// overwrite stored values.
type RouterRow struct {
	RouterID    string
	RouterIP    string
	Hostname    string
	Description string
	Name        string
	Location    string
	AS          uint32
}

// RouteRow is one prefix event of a route monitoring UPDATE for
// route_events.
type RouteRow struct {
	EventID      []byte
	RouterID     string
	TableName    string
	PeerAddress  string
	IsLocRIB     bool
	IsPostPolicy bool
	Event        *bgp.RouteEvent
	Topic        string
}

// RIBChange is one change to current_routes. Exactly one field is set: a
// route event announces or withdraws a path, a peer down clears every path
// learned from the peer.
type RIBChange struct {
	Route    *RouteRow
	PeerDown *PeerEventRow
}

// Batch groups the rows of one or more records for a single transaction.
// RIB changes keep message order.
type Batch struct {
	Messages   []*MessageRow
	PeerEvents []*PeerEventRow
	Stats      []*StatRow
	Routers    []*RouterRow
	Routes     []*RouteRow
	RIB        []RIBChange
}

// Len returns the total number of rows.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Messages) + len(b.PeerEvents) + len(b.Stats) + len(b.Routers) + len(b.Routes) + len(b.RIB)
}

// Append moves the rows of o onto b.
func (b *Batch) Append(o *Batch) {
	if o == nil {
		return
	}
	b.Messages = append(b.Messages, o.Messages...)
	b.PeerEvents = append(b.PeerEvents, o.PeerEvents...)
	b.Stats = append(b.Stats, o.Stats...)
	b.Routers = append(b.Routers, o.Routers...)
	b.Routes = append(b.Routes, o.Routes...)
	b.RIB = append(b.RIB, o.RIB...)
}
