package bgp

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

const attrFlagExtendedLength = 0x10

// PathAttributes holds parsed path attributes from a BGP UPDATE.
type PathAttributes struct {
	Origin    string
	ASPath    string
	Nexthop   string
	MED       *uint32
	LocalPref *uint32
	CommStd   []string
	CommExt   []string
	CommLarge []string
	Attrs     map[string]string // unknown attributes keyed by type code, hex value

	MPReachAFI     uint16
	MPReachNLRI    []PrefixInfo
	MPReachNexthop string
	MPUnreachAFI   uint16
	MPUnreachNLRI  []PrefixInfo
}

// PrefixInfo is one NLRI prefix and its Add-Path identifier.
type PrefixInfo struct {
	Prefix string
	PathID int64
}

// pathAttr is one attribute as found on the wire. Value aliases the UPDATE.
type pathAttr struct {
	Flags uint8
	Type  uint8
	Value []byte
}

// walkAttributes calls fn for each attribute of an UPDATE's path attribute
// section, stopping at the first malformed header.
func walkAttributes(data []byte, fn func(pathAttr) error) error {
	s := cryptobyte.String(data)
	for !s.Empty() {
		off := len(data) - len(s)
		var a pathAttr
		if !s.ReadUint8(&a.Flags) || !s.ReadUint8(&a.Type) {
			return fmt.Errorf("bgp: attr header truncated at offset %d", off)
		}
		var n int
		if a.Flags&attrFlagExtendedLength != 0 {
			var l uint16
			if !s.ReadUint16(&l) {
				return fmt.Errorf("bgp: extended attr length truncated at offset %d", off)
			}
			n = int(l)
		} else {
			var l uint8
			if !s.ReadUint8(&l) {
				return fmt.Errorf("bgp: attr length truncated at offset %d", off)
			}
			n = int(l)
		}
		if !s.ReadBytes(&a.Value, n) {
			return fmt.Errorf("bgp: attr type %d: %w", a.Type, codec.Truncated("path attribute", n, len(s)))
		}
		if err := fn(a); err != nil {
			return err
		}
	}
	return nil
}

type attrDecoder func(x *Extensions, v []byte, attrs *PathAttributes, addPath bool) error

var attrDecoders = map[uint8]attrDecoder{
	AttrTypeOrigin:         decodeOrigin,
	AttrTypeASPath:         decodeASPath,
	AttrTypeNextHop:        decodeNextHop,
	AttrTypeMED:            decodeMED,
	AttrTypeLocalPref:      decodeLocalPref,
	AttrTypeCommunity:      decodeCommunities,
	AttrTypeMPReachNLRI:    decodeMPReach,
	AttrTypeMPUnreachNLRI:  decodeMPUnreach,
	AttrTypeExtCommunity:   decodeExtCommunities,
	AttrTypeLargeCommunity: decodeLargeCommunities,
}

// ParsePathAttributes parses the path attributes section of a BGP UPDATE.
// Attributes without a decoder are kept as hex in Attrs. Attributes with a
// bad length are ignored; only a malformed attribute header is an error.
func (x *Extensions) ParsePathAttributes(data []byte, addPath bool) (*PathAttributes, error) {
	attrs := &PathAttributes{Attrs: make(map[string]string)}
	err := walkAttributes(data, func(a pathAttr) error {
		dec, ok := attrDecoders[a.Type]
		if !ok {
			attrs.Attrs[strconv.Itoa(int(a.Type))] = hex.EncodeToString(a.Value)
			return nil
		}
		return dec(x, a.Value, attrs, addPath)
	})
	return attrs, err
}

func decodeOrigin(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	if len(v) == 0 {
		return nil
	}
	if name, ok := OriginValues[v[0]]; ok {
		attrs.Origin = name
	} else {
		attrs.Origin = fmt.Sprintf("UNKNOWN(%d)", v[0])
	}
	return nil
}

// decodeASPath renders 4-octet AS_PATH segments: sequences space separated,
// sets as {a,b}. A truncated trailing segment is dropped.
func decodeASPath(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	s := cryptobyte.String(v)
	var segments []string
	for {
		var typ, count uint8
		var raw []byte
		if !s.ReadUint8(&typ) || !s.ReadUint8(&count) || !s.ReadBytes(&raw, int(count)*4) {
			break
		}
		body := cryptobyte.String(raw)
		asns := make([]string, count)
		for i := range asns {
			var as uint32
			body.ReadUint32(&as)
			asns[i] = strconv.FormatUint(uint64(as), 10)
		}
		switch typ {
		case ASPathSegmentSequence:
			segments = append(segments, strings.Join(asns, " "))
		case ASPathSegmentSet:
			segments = append(segments, "{"+strings.Join(asns, ",")+"}")
		}
	}
	attrs.ASPath = strings.Join(segments, " ")
	return nil
}

func decodeNextHop(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	if len(v) == 4 {
		attrs.Nexthop = netip.AddrFrom4([4]byte(v)).String()
	}
	return nil
}

func readUint32Attr(v []byte) *uint32 {
	s := cryptobyte.String(v)
	var n uint32
	if len(v) != 4 || !s.ReadUint32(&n) {
		return nil
	}
	return &n
}

func decodeMED(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	if n := readUint32Attr(v); n != nil {
		attrs.MED = n
	}
	return nil
}

func decodeLocalPref(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	if n := readUint32Attr(v); n != nil {
		attrs.LocalPref = n
	}
	return nil
}

func decodeCommunities(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	s := cryptobyte.String(v)
	var hi, lo uint16
	for s.ReadUint16(&hi) && s.ReadUint16(&lo) {
		attrs.CommStd = append(attrs.CommStd, fmt.Sprintf("%d:%d", hi, lo))
	}
	return nil
}

// decodeExtCommunities resolves each 8-byte community through the extended
// community registry; unregistered ones come back opaque.
func decodeExtCommunities(x *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	s := cryptobyte.String(v)
	var raw []byte
	for s.ReadBytes(&raw, extCommunityLen) {
		c, err := x.ParseExtendedCommunity(raw)
		if err != nil {
			return fmt.Errorf("bgp: %w", err)
		}
		attrs.CommExt = append(attrs.CommExt, c.String())
	}
	return nil
}

func decodeLargeCommunities(_ *Extensions, v []byte, attrs *PathAttributes, _ bool) error {
	s := cryptobyte.String(v)
	var global, d1, d2 uint32
	for s.ReadUint32(&global) && s.ReadUint32(&d1) && s.ReadUint32(&d2) {
		attrs.CommLarge = append(attrs.CommLarge, fmt.Sprintf("%d:%d:%d", global, d1, d2))
	}
	return nil
}

// decodeMPReach extracts the next hop and unicast NLRI of MP_REACH_NLRI
// (RFC 4760). Other SAFIs are ignored. A bad NLRI keeps the prefixes read
// before it.
func decodeMPReach(_ *Extensions, v []byte, attrs *PathAttributes, addPath bool) error {
	s := cryptobyte.String(v)
	var afi uint16
	var safi uint8
	if len(v) < 5 || !s.ReadUint16(&afi) || !s.ReadUint8(&safi) || safi != SAFIUnicast {
		return nil
	}
	attrs.MPReachAFI = afi

	var nh cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&nh) {
		return nil
	}
	switch len(nh) {
	case 4:
		attrs.MPReachNexthop = netip.AddrFrom4([4]byte(nh)).String()
	case 16, 32:
		// A 32-byte next hop is global then link-local; keep the global.
		attrs.MPReachNexthop = netip.AddrFrom16([16]byte(nh[:16])).String()
	}
	if attrs.Nexthop == "" {
		attrs.Nexthop = attrs.MPReachNexthop
	}

	// SNPAs: a count, then length-in-semi-octets prefixed entries.
	var count uint8
	if !s.ReadUint8(&count) {
		return nil
	}
	for range int(count) {
		var n uint8
		if !s.ReadUint8(&n) || !s.Skip((int(n)+1)/2) {
			return nil
		}
	}

	if afiVersion(afi) != 0 {
		attrs.MPReachNLRI, _ = parsePrefixes(s, afi, addPath)
	}
	return nil
}

func decodeMPUnreach(_ *Extensions, v []byte, attrs *PathAttributes, addPath bool) error {
	s := cryptobyte.String(v)
	var afi uint16
	var safi uint8
	if !s.ReadUint16(&afi) || !s.ReadUint8(&safi) || safi != SAFIUnicast {
		return nil
	}
	attrs.MPUnreachAFI = afi
	if afiVersion(afi) != 0 {
		attrs.MPUnreachNLRI, _ = parsePrefixes(s, afi, addPath)
	}
	return nil
}

// parsePrefixes decodes a run of NLRI prefixes of the given AFI, each
// optionally preceded by a 4-byte Add-Path identifier. On error it returns
// the prefixes decoded so far. Host bits past the prefix length are cleared.
func parsePrefixes(data []byte, afi uint16, addPath bool) ([]PrefixInfo, error) {
	size := 16
	if afi == AFIIPv4 {
		size = 4
	}
	s := cryptobyte.String(data)
	var prefixes []PrefixInfo
	for !s.Empty() {
		off := len(data) - len(s)
		var p PrefixInfo
		if addPath {
			var id uint32
			if !s.ReadUint32(&id) {
				return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", off)
			}
			p.PathID = int64(id)
		}
		var bits uint8
		var raw []byte
		if !s.ReadUint8(&bits) || int(bits) > size*8 || !s.ReadBytes(&raw, (int(bits)+7)/8) {
			return prefixes, fmt.Errorf("bgp: prefix data truncated at offset %d", off)
		}
		var buf [16]byte
		copy(buf[:], raw)
		addr := netip.AddrFrom16(buf)
		if size == 4 {
			addr = netip.AddrFrom4([4]byte(buf[:4]))
		}
		p.Prefix = netip.PrefixFrom(addr, int(bits)).Masked().String()
		prefixes = append(prefixes, p)
	}
	return prefixes, nil
}

// afiVersion maps an AFI to the IP version used in route events, or 0 when
// the family is not tracked.
func afiVersion(afi uint16) int {
	switch afi {
	case AFIIPv4:
		return 4
	case AFIIPv6:
		return 6
	default:
		return 0
	}
}

// OriginASN returns the last ASN of a rendered AS path, or nil when the path
// is empty or ends in an AS_SET such as "{64497,64498}".
func OriginASN(asPath string) *int {
	fields := strings.Fields(asPath)
	if len(fields) == 0 {
		return nil
	}
	last := fields[len(fields)-1]
	if strings.HasPrefix(last, "{") {
		return nil
	}
	asn, err := strconv.Atoi(last)
	if err != nil {
		return nil
	}
	return &asn
}
