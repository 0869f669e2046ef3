package pcep

import (
	"fmt"
	"net/netip"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Binding types of the TE-PATH-BINDING TLV (RFC 9604 §4).
const (
	BindingMPLSLabel      uint8 = 0
	BindingMPLSLabelEntry uint8 = 1
	BindingSRv6           uint8 = 2
	BindingSRv6Behavior   uint8 = 3
)

const (
	bindingFlagsSize     = 8
	bindingFlagRemoval   = 0 // R
	bindingFlagSpecified = 1 // S
	bindingMinLen        = 7
)

// SRv6SIDStructure describes how an SRv6 SID splits into locator block,
// node, function and argument bits.
type SRv6SIDStructure struct {
	BlockLength    uint8
	NodeLength     uint8
	FunctionLength uint8
	ArgumentLength uint8
}

// PathBinding binds an LSP to a label or SRv6 SID. Which value fields are
// meaningful depends on BindingType.
type PathBinding struct {
	BindingType uint8
	Removal     bool
	Specified   bool

	// MPLS label and label stack entry.
	Label         uint32
	TrafficClass  uint8
	BottomOfStack bool
	TTL           uint8

	// SRv6.
	SID       netip.Addr
	Behavior  uint16
	Structure SRv6SIDStructure
}

func (*PathBinding) Code() uint16 { return TLVTypePathBinding }

var pathBindingParser = tlvParser(func(v []byte) (TLV, error) {
	if len(v) < bindingMinLen {
		return nil, &codec.LengthError{What: "path binding", Want: bindingMinLen, Have: len(v)}
	}
	s := cryptobyte.String(v)
	t := &PathBinding{}
	s.ReadUint8(&t.BindingType)
	flags, _ := codec.ReadBitArray(&s, bindingFlagsSize)
	t.Removal = flags.Get(bindingFlagRemoval)
	t.Specified = flags.Get(bindingFlagSpecified)
	s.Skip(2)

	switch t.BindingType {
	case BindingMPLSLabel:
		var label uint32
		if !s.ReadUint24(&label) {
			return nil, codec.Truncated("mpls label binding", 3, len(s))
		}
		t.Label = label >> 4
	case BindingMPLSLabelEntry:
		var entry uint32
		if !s.ReadUint32(&entry) {
			return nil, codec.Truncated("mpls label entry binding", 4, len(s))
		}
		t.Label = entry >> 12
		t.TrafficClass = uint8(entry>>9) & 0x07
		t.BottomOfStack = entry&0x100 != 0
		t.TTL = uint8(entry)
	case BindingSRv6:
		if !codec.ReadIPv6(&s, &t.SID) {
			return nil, codec.Truncated("srv6 binding", 16, len(s))
		}
	case BindingSRv6Behavior:
		if len(s) < 24 {
			return nil, codec.Truncated("srv6 behavior binding", 24, len(s))
		}
		codec.ReadIPv6(&s, &t.SID)
		s.Skip(2)
		s.ReadUint16(&t.Behavior)
		st := &t.Structure
		s.ReadUint8(&st.BlockLength)
		s.ReadUint8(&st.NodeLength)
		s.ReadUint8(&st.FunctionLength)
		s.ReadUint8(&st.ArgumentLength)
	default:
		return nil, fmt.Errorf("path binding type %d: %w", t.BindingType, codec.ErrUnknownType)
	}
	return t, nil
})

var pathBindingSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*PathBinding)
	if !ok {
		return codec.Mismatch("*pcep.PathBinding", v)
	}
	if t.Label > 0xfffff {
		return fmt.Errorf("path binding: label %d exceeds 20 bits", t.Label)
	}
	flags := codec.NewBitArray(bindingFlagsSize)
	flags.SetBool(bindingFlagRemoval, t.Removal)
	flags.SetBool(bindingFlagSpecified, t.Specified)

	b.AddUint8(t.BindingType)
	flags.AppendTo(b)
	b.AddUint16(0)
	switch t.BindingType {
	case BindingMPLSLabel:
		b.AddUint24(t.Label << 4)
	case BindingMPLSLabelEntry:
		entry := t.Label<<12 | uint32(t.TrafficClass&0x07)<<9 | uint32(t.TTL)
		if t.BottomOfStack {
			entry |= 0x100
		}
		b.AddUint32(entry)
	case BindingSRv6:
		codec.AppendIPv6(b, t.SID)
	case BindingSRv6Behavior:
		codec.AppendIPv6(b, t.SID)
		b.AddUint16(0)
		b.AddUint16(t.Behavior)
		st := t.Structure
		b.AddBytes([]byte{st.BlockLength, st.NodeLength, st.FunctionLength, st.ArgumentLength})
	default:
		return fmt.Errorf("path binding type %d: %w", t.BindingType, codec.ErrUnknownType)
	}
	return nil
})
