package bgp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Extended community type and subtype codes (RFC 4360, RFC 5668, RFC 9012).
const (
	ExtTypeAS2           uint8 = 0x00
	ExtTypeIPv4          uint8 = 0x01
	ExtTypeAS4           uint8 = 0x02
	ExtTypeOpaque        uint8 = 0x03
	ExtTypeNonTransitive uint8 = 0x40

	ExtSubtypeRouteTarget   uint8 = 0x02
	ExtSubtypeRouteOrigin   uint8 = 0x03
	ExtSubtypeLinkBandwidth uint8 = 0x04
	ExtSubtypeEncapsulation uint8 = 0x0c
)

const (
	extCommunityLen      = 8
	extCommunityValueLen = 6
)

// ExtCommunityKey is the registry key of an extended community: the high
// type octet, transitivity bit included, and the subtype.
type ExtCommunityKey struct {
	Type    uint8
	Subtype uint8
}

func (k ExtCommunityKey) String() string {
	return fmt.Sprintf("0x%02x/0x%02x", k.Type, k.Subtype)
}

// ExtendedCommunity is one decoded 8-byte extended community.
type ExtendedCommunity interface {
	Key() ExtCommunityKey
	String() string
}

func extType(base uint8, nonTransitive bool) uint8 {
	if nonTransitive {
		return base | ExtTypeNonTransitive
	}
	return base
}

func subtypeLabel(sub uint8) string {
	switch sub {
	case ExtSubtypeRouteTarget:
		return "RT"
	case ExtSubtypeRouteOrigin:
		return "SOO"
	}
	return fmt.Sprintf("0x%02x", sub)
}

// AS2Specific is a two-octet AS specific community such as a route target.
type AS2Specific struct {
	NonTransitive bool
	Subtype       uint8
	AS            codec.ASNumber
	LocalAdmin    [4]byte
}

func (c *AS2Specific) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: extType(ExtTypeAS2, c.NonTransitive), Subtype: c.Subtype}
}

func (c *AS2Specific) String() string {
	return fmt.Sprintf("%s:%d:%d", subtypeLabel(c.Subtype), c.AS, binary.BigEndian.Uint32(c.LocalAdmin[:]))
}

// IPv4Specific is an IPv4 address specific community.
type IPv4Specific struct {
	NonTransitive bool
	Subtype       uint8
	Global        netip.Addr
	LocalAdmin    uint16
}

func (c *IPv4Specific) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: extType(ExtTypeIPv4, c.NonTransitive), Subtype: c.Subtype}
}

func (c *IPv4Specific) String() string {
	return fmt.Sprintf("%s:%s:%d", subtypeLabel(c.Subtype), c.Global, c.LocalAdmin)
}

// AS4Specific is a four-octet AS specific community (RFC 5668).
type AS4Specific struct {
	NonTransitive bool
	Subtype       uint8
	AS            codec.ASNumber
	LocalAdmin    uint16
}

func (c *AS4Specific) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: extType(ExtTypeAS4, c.NonTransitive), Subtype: c.Subtype}
}

func (c *AS4Specific) String() string {
	return fmt.Sprintf("%s:%d:%d", subtypeLabel(c.Subtype), c.AS, c.LocalAdmin)
}

// LinkBandwidth carries the bandwidth of the link to a peer AS.
type LinkBandwidth struct {
	NonTransitive bool
	AS            codec.ASNumber
	Bandwidth     codec.Bandwidth
}

func (c *LinkBandwidth) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: extType(ExtTypeAS2, c.NonTransitive), Subtype: ExtSubtypeLinkBandwidth}
}

func (c *LinkBandwidth) String() string {
	return fmt.Sprintf("LB:%d:%g", c.AS, float32(c.Bandwidth))
}

// Encapsulation is the opaque encapsulation community (RFC 9012 §4.1).
type Encapsulation struct {
	TunnelType uint16
}

func (c *Encapsulation) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: ExtTypeOpaque, Subtype: ExtSubtypeEncapsulation}
}

func (c *Encapsulation) String() string {
	return fmt.Sprintf("ENCAP:%d", c.TunnelType)
}

// OpaqueExtCommunity is an extended community without a registered codec.
// It re-encodes byte for byte.
type OpaqueExtCommunity struct {
	Type    uint8
	Subtype uint8
	Value   [6]byte
}

func (c *OpaqueExtCommunity) Key() ExtCommunityKey {
	return ExtCommunityKey{Type: c.Type, Subtype: c.Subtype}
}

func (c *OpaqueExtCommunity) String() string {
	return hex.EncodeToString(append([]byte{c.Type, c.Subtype}, c.Value[:]...))
}

// ParseExtendedCommunity decodes one 8-byte community. Unregistered
// type/subtype pairs decode to *OpaqueExtCommunity.
func (x *Extensions) ParseExtendedCommunity(b []byte) (ExtendedCommunity, error) {
	if len(b) != extCommunityLen {
		return nil, &codec.LengthError{What: "extended community", Want: extCommunityLen, Have: len(b)}
	}
	key := ExtCommunityKey{Type: b[0], Subtype: b[1]}
	p, ok := x.ExtCommunities.Parser(key)
	if !ok {
		c := &OpaqueExtCommunity{Type: b[0], Subtype: b[1]}
		copy(c.Value[:], b[2:])
		return c, nil
	}
	c, err := p.Parse(b[2:])
	if err != nil {
		return nil, fmt.Errorf("extended community %s: %w", key, err)
	}
	return c, nil
}

// AppendExtendedCommunity writes the 8-byte encoding of c.
func (x *Extensions) AppendExtendedCommunity(b *cryptobyte.Builder, c ExtendedCommunity) error {
	key := c.Key()
	if o, ok := c.(*OpaqueExtCommunity); ok {
		b.AddUint8(o.Type)
		b.AddUint8(o.Subtype)
		b.AddBytes(o.Value[:])
		return nil
	}
	s, ok := x.ExtCommunities.Serializer(key)
	if !ok {
		return fmt.Errorf("extended community %s: %w", key, codec.ErrUnknownType)
	}
	body := cryptobyte.NewBuilder(make([]byte, 0, extCommunityValueLen))
	if err := s.Serialize(c, body); err != nil {
		return fmt.Errorf("extended community %s: %w", key, err)
	}
	value, err := body.Bytes()
	if err != nil {
		return fmt.Errorf("extended community %s: %w", key, err)
	}
	if len(value) != extCommunityValueLen {
		return &codec.LengthError{What: "extended community " + key.String() + " value", Want: extCommunityValueLen, Have: len(value)}
	}
	b.AddUint8(key.Type)
	b.AddUint8(key.Subtype)
	b.AddBytes(value)
	return nil
}

// SerializeExtendedCommunity returns the 8-byte encoding of c.
func (x *Extensions) SerializeExtendedCommunity(c ExtendedCommunity) ([]byte, error) {
	b := cryptobyte.NewBuilder(make([]byte, 0, extCommunityLen))
	if err := x.AppendExtendedCommunity(b, c); err != nil {
		return nil, err
	}
	return b.Bytes()
}

func checkValueLen(what string, v []byte) error {
	if len(v) != extCommunityValueLen {
		return &codec.LengthError{What: what, Want: extCommunityValueLen, Have: len(v)}
	}
	return nil
}

type extParser = codec.ParserFunc[ExtendedCommunity]
type extSerializer = codec.SerializerFunc[ExtendedCommunity]

func as2SpecificParser(nonTransitive bool, sub uint8) codec.Parser[ExtendedCommunity] {
	return extParser(func(v []byte) (ExtendedCommunity, error) {
		if err := checkValueLen("as2 specific community", v); err != nil {
			return nil, err
		}
		s := cryptobyte.String(v)
		c := &AS2Specific{NonTransitive: nonTransitive, Subtype: sub}
		codec.ReadAS2(&s, &c.AS)
		s.CopyBytes(c.LocalAdmin[:])
		return c, nil
	})
}

var as2SpecificSerializer = extSerializer(func(ec ExtendedCommunity, b *cryptobyte.Builder) error {
	c, ok := ec.(*AS2Specific)
	if !ok {
		return codec.Mismatch("*bgp.AS2Specific", ec)
	}
	codec.AppendAS2(b, c.AS)
	b.AddBytes(c.LocalAdmin[:])
	return nil
})

func ipv4SpecificParser(nonTransitive bool, sub uint8) codec.Parser[ExtendedCommunity] {
	return extParser(func(v []byte) (ExtendedCommunity, error) {
		if err := checkValueLen("ipv4 specific community", v); err != nil {
			return nil, err
		}
		s := cryptobyte.String(v)
		c := &IPv4Specific{NonTransitive: nonTransitive, Subtype: sub}
		codec.ReadIPv4(&s, &c.Global)
		s.ReadUint16(&c.LocalAdmin)
		return c, nil
	})
}

var ipv4SpecificSerializer = extSerializer(func(ec ExtendedCommunity, b *cryptobyte.Builder) error {
	c, ok := ec.(*IPv4Specific)
	if !ok {
		return codec.Mismatch("*bgp.IPv4Specific", ec)
	}
	codec.AppendIPv4(b, c.Global)
	b.AddUint16(c.LocalAdmin)
	return nil
})

func as4SpecificParser(nonTransitive bool, sub uint8) codec.Parser[ExtendedCommunity] {
	return extParser(func(v []byte) (ExtendedCommunity, error) {
		if err := checkValueLen("as4 specific community", v); err != nil {
			return nil, err
		}
		s := cryptobyte.String(v)
		c := &AS4Specific{NonTransitive: nonTransitive, Subtype: sub}
		codec.ReadAS4(&s, &c.AS)
		s.ReadUint16(&c.LocalAdmin)
		return c, nil
	})
}

var as4SpecificSerializer = extSerializer(func(ec ExtendedCommunity, b *cryptobyte.Builder) error {
	c, ok := ec.(*AS4Specific)
	if !ok {
		return codec.Mismatch("*bgp.AS4Specific", ec)
	}
	codec.AppendAS4(b, c.AS)
	b.AddUint16(c.LocalAdmin)
	return nil
})

func linkBandwidthParser(nonTransitive bool) codec.Parser[ExtendedCommunity] {
	return extParser(func(v []byte) (ExtendedCommunity, error) {
		if err := checkValueLen("link bandwidth community", v); err != nil {
			return nil, err
		}
		s := cryptobyte.String(v)
		c := &LinkBandwidth{NonTransitive: nonTransitive}
		codec.ReadAS2(&s, &c.AS)
		codec.ReadBandwidth(&s, &c.Bandwidth)
		return c, nil
	})
}

var linkBandwidthSerializer = extSerializer(func(ec ExtendedCommunity, b *cryptobyte.Builder) error {
	c, ok := ec.(*LinkBandwidth)
	if !ok {
		return codec.Mismatch("*bgp.LinkBandwidth", ec)
	}
	codec.AppendAS2(b, c.AS)
	codec.AppendBandwidth(b, &c.Bandwidth)
	return nil
})

var encapsulationParser = extParser(func(v []byte) (ExtendedCommunity, error) {
	if err := checkValueLen("encapsulation community", v); err != nil {
		return nil, err
	}
	return &Encapsulation{TunnelType: binary.BigEndian.Uint16(v[4:6])}, nil
})

var encapsulationSerializer = extSerializer(func(ec ExtendedCommunity, b *cryptobyte.Builder) error {
	c, ok := ec.(*Encapsulation)
	if !ok {
		return codec.Mismatch("*bgp.Encapsulation", ec)
	}
	b.AddUint32(0)
	b.AddUint16(c.TunnelType)
	return nil
})
