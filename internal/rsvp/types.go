// Package rsvp decodes and encodes the sub-objects of RSVP-TE explicit and
// recorded routes (RFC 3209 §4.3 and §4.4, RFC 3473, RFC 4090).
package rsvp

import (
	"net/netip"

	"github.com/route-beacon/wirecodec/internal/codec"
)

// Sub-object types. The high bit of an ERO type byte is the loose flag and
// is not part of the type.
const (
	SubobjectIPv4Prefix uint16 = 1
	SubobjectIPv6Prefix uint16 = 2
	SubobjectLabel      uint16 = 3
	SubobjectUnnumbered uint16 = 4
	SubobjectASNumber   uint16 = 32
)

const (
	eroLooseBit = 0x80
	eroTypeMask = 0x7f

	// RRO flag offsets (RFC 3209 §4.4.1, RFC 4090 §7.1).
	protectionFlagsSize = 8
	protectionNode      = 4
	protectionBandwidth = 5
	protectionInUse     = 6
	protectionAvailable = 7
)

// Label C-types.
const (
	LabelCTypeType1       uint8 = 1
	LabelCTypeGeneralized uint8 = 2
	LabelCTypeWaveband    uint8 = 3
)

// Subobject is one element of an explicit or recorded route.
type Subobject interface {
	codec.Coded
}

// EROSubobject is an explicit route hop with its loose flag.
type EROSubobject struct {
	Loose     bool
	Subobject Subobject
}

// ProtectionFlags are the RRO flags of an address or interface sub-object.
// Bandwidth and Node are only defined for address sub-objects.
type ProtectionFlags struct {
	Available bool
	InUse     bool
	Bandwidth bool
	Node      bool
}

// IPPrefix is an IPv4 (type 1) or IPv6 (type 2) prefix hop. Flags are only
// carried in recorded routes.
type IPPrefix struct {
	Prefix netip.Prefix
	Flags  ProtectionFlags
}

func (s *IPPrefix) Code() uint16 {
	if s.Prefix.Addr().Is6() {
		return SubobjectIPv6Prefix
	}
	return SubobjectIPv4Prefix
}

// Unnumbered identifies an unnumbered interface by router ID and interface
// ID (RFC 3477).
type Unnumbered struct {
	RouterID    uint32
	InterfaceID uint32
	Flags       ProtectionFlags
}

func (*Unnumbered) Code() uint16 { return SubobjectUnnumbered }

// ASNumber is an explicit route hop through an autonomous system.
type ASNumber struct {
	AS codec.ASNumber
}

func (*ASNumber) Code() uint16 { return SubobjectASNumber }

// Label is a label hop (RFC 3473 §5.1). Value is decoded by the label
// registry using its C-type.
type Label struct {
	Upstream bool
	Global   bool // recorded routes only
	Value    LabelValue
}

func (*Label) Code() uint16 { return SubobjectLabel }

// LabelValue is the C-type specific label contents.
type LabelValue interface {
	CType() uint8
}

// Type1Label is a plain 32-bit label.
type Type1Label struct{ Label uint32 }

func (*Type1Label) CType() uint8 { return LabelCTypeType1 }

// GeneralizedLabel is an opaque generalized label (RFC 3471 §3.2).
type GeneralizedLabel struct{ Label []byte }

func (*GeneralizedLabel) CType() uint8 { return LabelCTypeGeneralized }

// WavebandLabel selects a contiguous range of wavelengths (RFC 3471 §3.3).
type WavebandLabel struct {
	WavebandID uint32
	StartLabel uint32
	EndLabel   uint32
}

func (*WavebandLabel) CType() uint8 { return LabelCTypeWaveband }
