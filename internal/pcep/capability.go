package pcep

import (
	"fmt"
	"slices"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Stateful capability flag offsets within the 32-bit flags field
// (RFC 8231 §7.1.1, RFC 8232, RFC 8281).
const (
	statefulFlagsSize   = 32
	statefulFullSync    = 26 // F
	statefulDeltaSync   = 27 // D
	statefulTriggered   = 28 // T
	statefulInstantiate = 29 // I
	statefulIncludeDB   = 30 // S
	statefulUpdate      = 31 // U
)

// StatefulCapability is advertised in the OPEN object.
type StatefulCapability struct {
	LSPUpdate        bool
	IncludeDBVersion bool
	Instantiation    bool
	TriggeredResync  bool
	DeltaLSPSync     bool
	TriggeredInitial bool
}

func (*StatefulCapability) Code() uint16 { return TLVTypeStatefulCapability }

var statefulCapabilityParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("stateful pce capability", v, statefulFlagsSize/8); err != nil {
		return nil, err
	}
	flags, err := codec.BitArrayFrom(v, statefulFlagsSize)
	if err != nil {
		return nil, err
	}
	return &StatefulCapability{
		LSPUpdate:        flags.Get(statefulUpdate),
		IncludeDBVersion: flags.Get(statefulIncludeDB),
		Instantiation:    flags.Get(statefulInstantiate),
		TriggeredResync:  flags.Get(statefulTriggered),
		DeltaLSPSync:     flags.Get(statefulDeltaSync),
		TriggeredInitial: flags.Get(statefulFullSync),
	}, nil
})

var statefulCapabilitySerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*StatefulCapability)
	if !ok {
		return codec.Mismatch("*pcep.StatefulCapability", v)
	}
	flags := codec.NewBitArray(statefulFlagsSize)
	flags.SetBool(statefulUpdate, t.LSPUpdate)
	flags.SetBool(statefulIncludeDB, t.IncludeDBVersion)
	flags.SetBool(statefulInstantiate, t.Instantiation)
	flags.SetBool(statefulTriggered, t.TriggeredResync)
	flags.SetBool(statefulDeltaSync, t.DeltaLSPSync)
	flags.SetBool(statefulFullSync, t.TriggeredInitial)
	flags.AppendTo(b)
	return nil
})

// SR-PCE capability flags (RFC 8664 §4.1.2).
const (
	srFlagsSize   = 8
	srFlagNAI     = 6 // N
	srFlagNoLimit = 7 // X
)

// SRPCECapability announces segment routing support and the maximum SID
// depth. It appears as a top-level OPEN TLV and nested in a path setup
// type capability.
type SRPCECapability struct {
	NAIToSID   bool
	NoMSDLimit bool
	MSD        uint8
}

func (*SRPCECapability) Code() uint16 { return TLVTypeSRPCECapability }

var srPCECapabilityParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("sr pce capability", v, 4); err != nil {
		return nil, err
	}
	s := cryptobyte.String(v)
	s.Skip(2)
	flags, _ := codec.ReadBitArray(&s, srFlagsSize)
	t := &SRPCECapability{
		NAIToSID:   flags.Get(srFlagNAI),
		NoMSDLimit: flags.Get(srFlagNoLimit),
	}
	s.ReadUint8(&t.MSD)
	return t, nil
})

var srPCECapabilitySerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*SRPCECapability)
	if !ok {
		return codec.Mismatch("*pcep.SRPCECapability", v)
	}
	flags := codec.NewBitArray(srFlagsSize)
	flags.SetBool(srFlagNAI, t.NAIToSID)
	flags.SetBool(srFlagNoLimit, t.NoMSDLimit)
	b.AddUint16(0)
	flags.AppendTo(b)
	b.AddUint8(t.MSD)
	return nil
})

// PathSetupTypeCapability lists the supported path setup types followed by
// per-type sub-TLVs (RFC 8408 §4).
type PathSetupTypeCapability struct {
	PSTs    []uint8
	SubTLVs []TLV
}

func (*PathSetupTypeCapability) Code() uint16 { return TLVTypePathSetupTypeCapability }

// SR returns the nested segment routing capability, if any.
func (t *PathSetupTypeCapability) SR() *SRPCECapability {
	for _, st := range t.SubTLVs {
		if sr, ok := st.(*SRPCECapability); ok {
			return sr
		}
	}
	return nil
}

// pstSubTLVRequires maps a nested sub-TLV type to the path setup type that
// must be listed before it may appear.
var pstSubTLVRequires = map[uint16]uint8{
	TLVTypeSRPCECapability: PSTSegmentRouting,
}

// The PST list is padded to a four byte boundary before the sub-TLVs.
func pstPadding(n int) int { return (4 - n%4) % 4 }

func (x *Extensions) parsePathSetupTypeCapability(v []byte) (TLV, error) {
	s := cryptobyte.String(v)
	var count uint8
	if !s.Skip(3) || !s.ReadUint8(&count) {
		return nil, codec.Truncated("path setup type capability", 4, len(v))
	}
	t := &PathSetupTypeCapability{}
	if !s.ReadBytes(&t.PSTs, int(count)) {
		return nil, codec.Truncated("path setup type list", int(count), len(s))
	}
	t.PSTs = codec.Clone(t.PSTs)
	pad := pstPadding(int(count))
	if pad > len(s) {
		pad = len(s)
	}
	s.Skip(pad)

	err := codec.PCEPFormat.Walk(s, func(st codec.TLV) error {
		if pst, ok := pstSubTLVRequires[st.Type]; ok && !slices.Contains(t.PSTs, pst) {
			return &codec.MissingPrerequisiteError{
				What:     fmt.Sprintf("sub-tlv %d", st.Type),
				Requires: fmt.Sprintf("path setup type %d", pst),
			}
		}
		p, ok := x.PathSetupSubTLVs.Parser(st.Type)
		if !ok {
			codec.NotifySkipped("pcep path setup sub-tlv", st.Type)
			return nil
		}
		sub, err := p.Parse(st.Value)
		if err != nil {
			return fmt.Errorf("sub-tlv %d: %w", st.Type, err)
		}
		t.SubTLVs = append(t.SubTLVs, sub)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (x *Extensions) serializePathSetupTypeCapability(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*PathSetupTypeCapability)
	if !ok {
		return codec.Mismatch("*pcep.PathSetupTypeCapability", v)
	}
	if len(t.PSTs) > 0xff {
		return fmt.Errorf("path setup type capability: %d types do not fit in one byte", len(t.PSTs))
	}
	for _, sub := range t.SubTLVs {
		if pst, ok := pstSubTLVRequires[sub.Code()]; ok && !slices.Contains(t.PSTs, pst) {
			return &codec.MissingPrerequisiteError{
				What:     fmt.Sprintf("sub-tlv %d", sub.Code()),
				Requires: fmt.Sprintf("path setup type %d", pst),
			}
		}
	}
	b.AddBytes([]byte{0, 0, 0, uint8(len(t.PSTs))})
	b.AddBytes(t.PSTs)
	if pad := pstPadding(len(t.PSTs)); pad > 0 {
		b.AddBytes(make([]byte, pad))
	}
	enc := codec.TLVEncoder[TLV]{Format: codec.PCEPFormat, Serializers: x.PathSetupSubTLVs}
	return enc.AppendAll(b, t.SubTLVs)
}

// AutoBandwidthCapability announces auto-bandwidth support (RFC 8733 §4.1).
type AutoBandwidthCapability struct {
	Multiplier bool // M: overflow and underflow count multipliers supported
}

func (*AutoBandwidthCapability) Code() uint16 { return TLVTypeAutoBandwidthCapability }

const autoBandwidthFlagM = 31

var autoBandwidthCapabilityParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("auto-bandwidth capability", v, 4); err != nil {
		return nil, err
	}
	flags, err := codec.BitArrayFrom(v, 32)
	if err != nil {
		return nil, err
	}
	return &AutoBandwidthCapability{Multiplier: flags.Get(autoBandwidthFlagM)}, nil
})

var autoBandwidthCapabilitySerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*AutoBandwidthCapability)
	if !ok {
		return codec.Mismatch("*pcep.AutoBandwidthCapability", v)
	}
	flags := codec.NewBitArray(32)
	flags.SetBool(autoBandwidthFlagM, t.Multiplier)
	flags.AppendTo(b)
	return nil
})
