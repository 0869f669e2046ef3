package bgp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Update is a BGP UPDATE kept as its three raw sections so it re-encodes
// byte for byte. Routes expands it into route events.
type Update struct {
	Withdrawn  []byte
	Attributes []byte
	NLRI       []byte
}

func (*Update) MessageType() uint8 { return MsgTypeUpdate }

func parseUpdate(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	var withdrawn, attrs cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&withdrawn) {
		return nil, fmt.Errorf("bgp: withdrawn length exceeds data")
	}
	if !s.ReadUint16LengthPrefixed(&attrs) {
		return nil, fmt.Errorf("bgp: path attr length exceeds data")
	}
	return &Update{
		Withdrawn:  codec.Clone(withdrawn),
		Attributes: codec.Clone(attrs),
		NLRI:       codec.Clone(s),
	}, nil
}

func serializeUpdate(m Message, b *cryptobyte.Builder) error {
	u, ok := m.(*Update)
	if !ok {
		return codec.Mismatch("*bgp.Update", m)
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(u.Withdrawn) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(u.Attributes) })
	b.AddBytes(u.NLRI)
	return nil
}

// ParseUpdate parses a BGP UPDATE message (including the 19-byte BGP header).
// Returns a list of route events, one per prefix found in the UPDATE.
func (x *Extensions) ParseUpdate(data []byte, hasAddPath bool) ([]*RouteEvent, error) {
	if len(data) < BGPHeaderSize {
		return nil, fmt.Errorf("bgp: update too short (%d bytes)", len(data))
	}

	msgType := data[18]
	if msgType != MsgTypeUpdate {
		return nil, nil // Not an UPDATE message; skip.
	}

	m, err := parseUpdate(data[BGPHeaderSize:])
	if err != nil {
		return nil, err
	}
	return x.Routes(m.(*Update), hasAddPath)
}

// Routes expands an UPDATE into one route event per prefix.
func (x *Extensions) Routes(u *Update, hasAddPath bool) ([]*RouteEvent, error) {
	// Parse IPv4 withdrawn routes → action 'D'.
	withdrawnPrefixes, err := parsePrefixes(u.Withdrawn, AFIIPv4, hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: withdrawn routes: %w", err)
	}

	// Parse path attributes.
	attrs, err := x.ParsePathAttributes(u.Attributes, hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: parse path attrs: %w", err)
	}

	// Parse IPv4 NLRI → action 'A'.
	nlriPrefixes, err := parsePrefixes(u.NLRI, AFIIPv4, hasAddPath)
	if err != nil {
		return nil, fmt.Errorf("bgp: nlri: %w", err)
	}

	var events []*RouteEvent

	// Build withdrawal events.
	for _, p := range withdrawnPrefixes {
		events = append(events, &RouteEvent{
			AFI:    4,
			Prefix: p.Prefix,
			PathID: p.PathID,
			Action: "D",
		})
	}

	// Build announcement events with attributes.
	for _, p := range nlriPrefixes {
		events = append(events, announcement(4, p, attrs.Nexthop, attrs))
	}

	// MP_REACH_NLRI announcements (IPv4/IPv6).
	if afi := afiVersion(attrs.MPReachAFI); afi != 0 {
		for _, p := range attrs.MPReachNLRI {
			events = append(events, announcement(afi, p, attrs.MPReachNexthop, attrs))
		}
	}

	// MP_UNREACH_NLRI withdrawals (IPv4/IPv6).
	if afi := afiVersion(attrs.MPUnreachAFI); afi != 0 {
		for _, p := range attrs.MPUnreachNLRI {
			events = append(events, &RouteEvent{
				AFI:    afi,
				Prefix: p.Prefix,
				PathID: p.PathID,
				Action: "D",
			})
		}
	}

	return events, nil
}

func announcement(afi int, p PrefixInfo, nexthop string, attrs *PathAttributes) *RouteEvent {
	return &RouteEvent{
		AFI:       afi,
		Prefix:    p.Prefix,
		PathID:    p.PathID,
		Action:    "A",
		Nexthop:   nexthop,
		ASPath:    attrs.ASPath,
		Origin:    attrs.Origin,
		LocalPref: attrs.LocalPref,
		MED:       attrs.MED,
		CommStd:   attrs.CommStd,
		CommExt:   attrs.CommExt,
		CommLarge: attrs.CommLarge,
		Attrs:     attrs.Attrs,
	}
}

// DetectEORAFI returns the IP version of an End-of-RIB UPDATE: 6 when it
// carries an IPv6 MP_UNREACH_NLRI, otherwise 4. Only meaningful when
// ParseUpdate returned no events and no error.
func DetectEORAFI(data []byte) int {
	if len(data) < BGPHeaderSize+4 {
		return 4
	}
	m, err := parseUpdate(data[BGPHeaderSize:])
	if err != nil {
		return 4
	}
	version := 4
	_ = walkAttributes(m.(*Update).Attributes, func(a pathAttr) error {
		s := cryptobyte.String(a.Value)
		var afi uint16
		if a.Type == AttrTypeMPUnreachNLRI && s.ReadUint16(&afi) && afi == AFIIPv6 {
			version = 6
		}
		return nil
	})
	return version
}
