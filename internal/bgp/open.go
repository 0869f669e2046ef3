package bgp

import (
	"fmt"
	"net/netip"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Capability codes (RFC 5492 registry).
const (
	CapMultiprotocol uint8 = 1
	CapRouteRefresh  uint8 = 2
	CapFourOctetAS   uint8 = 65
	CapAddPath       uint8 = 69
)

const (
	bgpVersion          = 4
	optParamCapability  = 2
	optParamExtendedLen = 255
)

// Open is a BGP OPEN message (RFC 4271 §4.2).
type Open struct {
	Version      uint8
	MyAS         codec.ASNumber
	HoldTime     uint16
	BGPID        netip.Addr
	Capabilities []Capability
}

func (*Open) MessageType() uint8 { return MsgTypeOpen }

// ASN returns the speaker's AS, preferring the 4-octet AS capability when
// the 2-octet field carries AS_TRANS.
func (o *Open) ASN() codec.ASNumber {
	if o.MyAS == codec.ASTrans {
		for _, c := range o.Capabilities {
			if as4, ok := c.(*FourOctetASCapability); ok {
				return as4.AS
			}
		}
	}
	return o.MyAS
}

// AddPath reports whether the OPEN advertises receiving Add-Path for the
// family.
func (o *Open) AddPath(afi uint16, safi uint8) bool {
	for _, c := range o.Capabilities {
		ap, ok := c.(*AddPathCapability)
		if !ok {
			continue
		}
		for _, e := range ap.Families {
			if e.AFI == afi && e.SAFI == safi && e.SendReceive&AddPathReceive != 0 {
				return true
			}
		}
	}
	return false
}

// Capability is one advertised capability.
type Capability interface {
	CapabilityCode() uint8
}

// CapabilityCodec parses and serializes one capability code. Codecs live in
// a MultiRegistry, so Class identifies the implementation.
type CapabilityCodec interface {
	Class() string
	ParseCapability(value []byte) (Capability, error)
	SerializeCapability(c Capability, b *cryptobyte.Builder) error
}

type MultiprotocolCapability struct {
	AFI  uint16
	SAFI uint8
}

func (*MultiprotocolCapability) CapabilityCode() uint8 { return CapMultiprotocol }

type RouteRefreshCapability struct{}

func (*RouteRefreshCapability) CapabilityCode() uint8 { return CapRouteRefresh }

type FourOctetASCapability struct {
	AS codec.ASNumber
}

func (*FourOctetASCapability) CapabilityCode() uint8 { return CapFourOctetAS }

// Add-Path send/receive values (RFC 7911 §4).
const (
	AddPathReceive uint8 = 1
	AddPathSend    uint8 = 2
)

type AddPathFamily struct {
	AFI         uint16
	SAFI        uint8
	SendReceive uint8
}

type AddPathCapability struct {
	Families []AddPathFamily
}

func (*AddPathCapability) CapabilityCode() uint8 { return CapAddPath }

// UnknownCapability preserves a capability without a registered codec.
type UnknownCapability struct {
	Code  uint8
	Value []byte
}

func (c *UnknownCapability) CapabilityCode() uint8 { return c.Code }

type multiprotocolCodec struct{}

func (multiprotocolCodec) Class() string { return "multiprotocol" }

func (multiprotocolCodec) ParseCapability(v []byte) (Capability, error) {
	s := cryptobyte.String(v)
	c := &MultiprotocolCapability{}
	if len(v) != 4 || !s.ReadUint16(&c.AFI) || !s.Skip(1) || !s.ReadUint8(&c.SAFI) {
		return nil, &codec.LengthError{What: "multiprotocol capability", Want: 4, Have: len(v)}
	}
	return c, nil
}

func (multiprotocolCodec) SerializeCapability(c Capability, b *cryptobyte.Builder) error {
	mp, ok := c.(*MultiprotocolCapability)
	if !ok {
		return codec.Mismatch("*bgp.MultiprotocolCapability", c)
	}
	b.AddUint16(mp.AFI)
	b.AddUint8(0)
	b.AddUint8(mp.SAFI)
	return nil
}

type routeRefreshCodec struct{}

func (routeRefreshCodec) Class() string { return "route-refresh" }

func (routeRefreshCodec) ParseCapability(v []byte) (Capability, error) {
	if len(v) != 0 {
		return nil, &codec.LengthError{What: "route refresh capability", Want: 0, Have: len(v)}
	}
	return &RouteRefreshCapability{}, nil
}

func (routeRefreshCodec) SerializeCapability(c Capability, _ *cryptobyte.Builder) error {
	if _, ok := c.(*RouteRefreshCapability); !ok {
		return codec.Mismatch("*bgp.RouteRefreshCapability", c)
	}
	return nil
}

type fourOctetASCodec struct{}

func (fourOctetASCodec) Class() string { return "as4" }

func (fourOctetASCodec) ParseCapability(v []byte) (Capability, error) {
	s := cryptobyte.String(v)
	c := &FourOctetASCapability{}
	if len(v) != 4 || !codec.ReadAS4(&s, &c.AS) {
		return nil, &codec.LengthError{What: "4-octet AS capability", Want: 4, Have: len(v)}
	}
	return c, nil
}

func (fourOctetASCodec) SerializeCapability(c Capability, b *cryptobyte.Builder) error {
	as4, ok := c.(*FourOctetASCapability)
	if !ok {
		return codec.Mismatch("*bgp.FourOctetASCapability", c)
	}
	codec.AppendAS4(b, as4.AS)
	return nil
}

type addPathCodec struct{}

func (addPathCodec) Class() string { return "add-path" }

func (addPathCodec) ParseCapability(v []byte) (Capability, error) {
	if len(v)%4 != 0 {
		return nil, fmt.Errorf("add-path capability: length %d is not a multiple of 4", len(v))
	}
	s := cryptobyte.String(v)
	c := &AddPathCapability{}
	for !s.Empty() {
		var f AddPathFamily
		s.ReadUint16(&f.AFI)
		s.ReadUint8(&f.SAFI)
		s.ReadUint8(&f.SendReceive)
		c.Families = append(c.Families, f)
	}
	return c, nil
}

func (addPathCodec) SerializeCapability(c Capability, b *cryptobyte.Builder) error {
	ap, ok := c.(*AddPathCapability)
	if !ok {
		return codec.Mismatch("*bgp.AddPathCapability", c)
	}
	for _, f := range ap.Families {
		b.AddUint16(f.AFI)
		b.AddUint8(f.SAFI)
		b.AddUint8(f.SendReceive)
	}
	return nil
}

func (x *Extensions) parseOpen(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	o := &Open{}
	var optLen uint8
	if !s.ReadUint8(&o.Version) || !codec.ReadAS2(&s, &o.MyAS) || !s.ReadUint16(&o.HoldTime) ||
		!codec.ReadIPv4(&s, &o.BGPID) || !s.ReadUint8(&optLen) {
		return nil, codec.Truncated("bgp open", 10, len(body))
	}
	if o.Version != bgpVersion {
		return nil, fmt.Errorf("bgp open: unsupported version %d", o.Version)
	}

	// RFC 9072 extended optional parameters.
	extended := optLen == optParamExtendedLen && len(s) > 0 && s[0] == optParamExtendedLen
	var params cryptobyte.String
	if extended {
		if !s.Skip(1) || !s.ReadUint16LengthPrefixed(&params) {
			return nil, codec.Truncated("bgp open extended parameters", 3, len(s))
		}
	} else {
		var raw []byte
		if !s.ReadBytes(&raw, int(optLen)) {
			return nil, codec.Truncated("bgp open parameters", int(optLen), len(s))
		}
		params = raw
	}

	for !params.Empty() {
		var typ uint8
		var value cryptobyte.String
		ok := params.ReadUint8(&typ)
		if extended {
			ok = ok && params.ReadUint16LengthPrefixed(&value)
		} else {
			ok = ok && params.ReadUint8LengthPrefixed(&value)
		}
		if !ok {
			return nil, codec.Truncated("bgp open parameter", 2, len(params))
		}
		if typ != optParamCapability {
			continue
		}
		for !value.Empty() {
			var code uint8
			var cv cryptobyte.String
			if !value.ReadUint8(&code) || !value.ReadUint8LengthPrefixed(&cv) {
				return nil, codec.Truncated("bgp capability", 2, len(value))
			}
			c, err := x.parseCapability(code, cv)
			if err != nil {
				return nil, err
			}
			o.Capabilities = append(o.Capabilities, c)
		}
	}
	return o, nil
}

func (x *Extensions) parseCapability(code uint8, value []byte) (Capability, error) {
	c, ok := x.Capabilities.Get(code)
	if !ok {
		return &UnknownCapability{Code: code, Value: codec.Clone(value)}, nil
	}
	capability, err := c.ParseCapability(value)
	if err != nil {
		return nil, fmt.Errorf("bgp capability %d: %w", code, err)
	}
	return capability, nil
}

func (x *Extensions) serializeOpen(m Message, b *cryptobyte.Builder) error {
	o, ok := m.(*Open)
	if !ok {
		return codec.Mismatch("*bgp.Open", m)
	}
	caps := cryptobyte.NewBuilder(nil)
	for _, c := range o.Capabilities {
		if err := x.appendCapability(caps, c); err != nil {
			return err
		}
	}
	capBytes, err := caps.Bytes()
	if err != nil {
		return err
	}

	version := o.Version
	if version == 0 {
		version = bgpVersion
	}
	b.AddUint8(version)
	codec.AppendAS2(b, o.MyAS)
	b.AddUint16(o.HoldTime)
	codec.AppendIPv4(b, o.BGPID)
	switch {
	case len(capBytes) == 0:
		b.AddUint8(0)
	case len(capBytes)+2 < optParamExtendedLen:
		b.AddUint8(uint8(len(capBytes) + 2))
		b.AddUint8(optParamCapability)
		b.AddUint8(uint8(len(capBytes)))
		b.AddBytes(capBytes)
	default:
		b.AddUint8(optParamExtendedLen)
		b.AddUint8(optParamExtendedLen)
		b.AddUint16(uint16(len(capBytes) + 3))
		b.AddUint8(optParamCapability)
		b.AddUint16(uint16(len(capBytes)))
		b.AddBytes(capBytes)
	}
	return nil
}

func (x *Extensions) appendCapability(b *cryptobyte.Builder, c Capability) error {
	code := c.CapabilityCode()
	body := cryptobyte.NewBuilder(nil)
	if u, ok := c.(*UnknownCapability); ok {
		body.AddBytes(u.Value)
	} else {
		cc, ok := x.Capabilities.Get(code)
		if !ok {
			return fmt.Errorf("bgp capability %d: %w", code, codec.ErrUnknownType)
		}
		if err := cc.SerializeCapability(c, body); err != nil {
			return fmt.Errorf("bgp capability %d: %w", code, err)
		}
	}
	value, err := body.Bytes()
	if err != nil {
		return err
	}
	if len(value) > 255 {
		return fmt.Errorf("bgp capability %d: value of %d bytes too long", code, len(value))
	}
	b.AddUint8(code)
	b.AddUint8(uint8(len(value)))
	b.AddBytes(value)
	return nil
}
