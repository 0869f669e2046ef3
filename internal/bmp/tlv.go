package bmp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// TLV is one decoded information or statistics TLV.
type TLV interface {
	codec.Coded
}

// StringTLV is free-form UTF-8 text (type 0 in several families).
type StringTLV struct{ Value string }

func (*StringTLV) Code() uint16 { return TLVTypeString }

// SysDescrTLV is the sysDescr of the monitored router.
type SysDescrTLV struct{ Value string }

func (*SysDescrTLV) Code() uint16 { return TLVTypeSysDescr }

// SysNameTLV is the sysName of the monitored router.
type SysNameTLV struct{ Value string }

func (*SysNameTLV) Code() uint16 { return TLVTypeSysName }

// ReasonTLV carries the termination reason.
type ReasonTLV struct{ Reason uint16 }

func (*ReasonTLV) Code() uint16 { return TLVTypeReason }

// TableNameTLV names a Loc-RIB table or VRF (RFC 9069 §5.3).
type TableNameTLV struct{ Name string }

func (*TableNameTLV) Code() uint16 { return TLVTypeTableName }

// BGPMessageTLV carries a mirrored BGP PDU. It may be errored, so it is
// kept raw.
type BGPMessageTLV struct{ Raw []byte }

func (*BGPMessageTLV) Code() uint16 { return TLVTypeBGPMessage }

// Mirroring information codes (RFC 7854 §4.7).
const (
	MirrorErroredPDU   uint16 = 0
	MirrorMessagesLost uint16 = 1
)

// MirrorInfoTLV is the route mirroring information TLV.
type MirrorInfoTLV struct{ Info uint16 }

func (*MirrorInfoTLV) Code() uint16 { return TLVTypeMirrorInfo }

func tableName(tlvs []TLV) string {
	for _, t := range tlvs {
		if tn, ok := t.(*TableNameTLV); ok && tn.Name != "" {
			return tn.Name
		}
	}
	return DefaultTableName
}

type tlvParser = codec.ParserFunc[TLV]
type tlvSerializer = codec.SerializerFunc[TLV]

var stringParser = tlvParser(func(v []byte) (TLV, error) {
	return &StringTLV{Value: string(v)}, nil
})

var stringSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	s, ok := t.(*StringTLV)
	if !ok {
		return codec.Mismatch("*bmp.StringTLV", t)
	}
	b.AddBytes([]byte(s.Value))
	return nil
})

var sysDescrParser = tlvParser(func(v []byte) (TLV, error) {
	return &SysDescrTLV{Value: string(v)}, nil
})

var sysDescrSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	s, ok := t.(*SysDescrTLV)
	if !ok {
		return codec.Mismatch("*bmp.SysDescrTLV", t)
	}
	b.AddBytes([]byte(s.Value))
	return nil
})

var sysNameParser = tlvParser(func(v []byte) (TLV, error) {
	return &SysNameTLV{Value: string(v)}, nil
})

var sysNameSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	s, ok := t.(*SysNameTLV)
	if !ok {
		return codec.Mismatch("*bmp.SysNameTLV", t)
	}
	b.AddBytes([]byte(s.Value))
	return nil
})

var reasonParser = tlvParser(func(v []byte) (TLV, error) {
	s := cryptobyte.String(v)
	r := &ReasonTLV{}
	if len(v) != 2 || !s.ReadUint16(&r.Reason) {
		return nil, &codec.LengthError{What: "termination reason", Want: 2, Have: len(v)}
	}
	return r, nil
})

var reasonSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	r, ok := t.(*ReasonTLV)
	if !ok {
		return codec.Mismatch("*bmp.ReasonTLV", t)
	}
	b.AddUint16(r.Reason)
	return nil
})

var tableNameParser = tlvParser(func(v []byte) (TLV, error) {
	return &TableNameTLV{Name: string(v)}, nil
})

var tableNameSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	tn, ok := t.(*TableNameTLV)
	if !ok {
		return codec.Mismatch("*bmp.TableNameTLV", t)
	}
	b.AddBytes([]byte(tn.Name))
	return nil
})

var bgpMessageParser = tlvParser(func(v []byte) (TLV, error) {
	return &BGPMessageTLV{Raw: codec.Clone(v)}, nil
})

var bgpMessageSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	m, ok := t.(*BGPMessageTLV)
	if !ok {
		return codec.Mismatch("*bmp.BGPMessageTLV", t)
	}
	b.AddBytes(m.Raw)
	return nil
})

var mirrorInfoParser = tlvParser(func(v []byte) (TLV, error) {
	s := cryptobyte.String(v)
	m := &MirrorInfoTLV{}
	if len(v) != 2 || !s.ReadUint16(&m.Info) {
		return nil, &codec.LengthError{What: "mirroring information", Want: 2, Have: len(v)}
	}
	return m, nil
})

var mirrorInfoSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	m, ok := t.(*MirrorInfoTLV)
	if !ok {
		return codec.Mismatch("*bmp.MirrorInfoTLV", t)
	}
	b.AddUint16(m.Info)
	return nil
})

// Statistics types (RFC 7854 §4.8 and the IANA BMP statistics registry).
const (
	StatRejectedPrefixes       uint16 = 0
	StatDuplicateAdvertisement uint16 = 1
	StatDuplicateWithdraw      uint16 = 2
	StatClusterListLoop        uint16 = 3
	StatASPathLoop             uint16 = 4
	StatOriginatorIDLoop       uint16 = 5
	StatASConfedLoop           uint16 = 6
	StatAdjRIBInRoutes         uint16 = 7
	StatLocRIBRoutes           uint16 = 8
	StatAdjRIBInPerAFISAFI     uint16 = 9
	StatLocRIBPerAFISAFI       uint16 = 10
	StatUpdateTreatAsWithdraw  uint16 = 11
	StatPrefixTreatAsWithdraw  uint16 = 12
	StatDuplicateUpdate        uint16 = 13
)

var statNames = map[uint16]string{
	StatRejectedPrefixes:       "rejected-prefixes",
	StatDuplicateAdvertisement: "duplicate-prefix-advertisements",
	StatDuplicateWithdraw:      "duplicate-withdraws",
	StatClusterListLoop:        "invalidated-cluster-list-loop",
	StatASPathLoop:             "invalidated-as-path-loop",
	StatOriginatorIDLoop:       "invalidated-originator-id",
	StatASConfedLoop:           "invalidated-as-confed-loop",
	StatAdjRIBInRoutes:         "adj-rib-in-routes",
	StatLocRIBRoutes:           "loc-rib-routes",
	StatAdjRIBInPerAFISAFI:     "per-afi-safi-adj-rib-in-routes",
	StatLocRIBPerAFISAFI:       "per-afi-safi-loc-rib-routes",
	StatUpdateTreatAsWithdraw:  "updates-treated-as-withdraw",
	StatPrefixTreatAsWithdraw:  "prefixes-treated-as-withdraw",
	StatDuplicateUpdate:        "duplicate-updates",
}

// StatName returns a stable name for a statistics type.
func StatName(typ uint16) string {
	if n, ok := statNames[typ]; ok {
		return n
	}
	return fmt.Sprintf("stat-%d", typ)
}

// CounterStat is a 32-bit counter statistic.
type CounterStat struct {
	Type  uint16
	Value codec.Counter32
}

func (s *CounterStat) Code() uint16 { return s.Type }

// GaugeStat is a 64-bit gauge statistic.
type GaugeStat struct {
	Type  uint16
	Value codec.Gauge64
}

func (s *GaugeStat) Code() uint16 { return s.Type }

// FamilyGaugeStat is a 64-bit gauge scoped to one address family.
type FamilyGaugeStat struct {
	Type  uint16
	AFI   uint16
	SAFI  uint8
	Value codec.Gauge64
}

func (s *FamilyGaugeStat) Code() uint16 { return s.Type }

func counterStatParser(typ uint16) codec.Parser[TLV] {
	return tlvParser(func(v []byte) (TLV, error) {
		s := cryptobyte.String(v)
		st := &CounterStat{Type: typ}
		if len(v) != 4 || !codec.ReadCounter32(&s, &st.Value) {
			return nil, &codec.LengthError{What: StatName(typ), Want: 4, Have: len(v)}
		}
		return st, nil
	})
}

var counterStatSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	st, ok := t.(*CounterStat)
	if !ok {
		return codec.Mismatch("*bmp.CounterStat", t)
	}
	b.AddUint32(uint32(st.Value))
	return nil
})

func gaugeStatParser(typ uint16) codec.Parser[TLV] {
	return tlvParser(func(v []byte) (TLV, error) {
		s := cryptobyte.String(v)
		st := &GaugeStat{Type: typ}
		if len(v) != 8 || !codec.ReadGauge64(&s, &st.Value) {
			return nil, &codec.LengthError{What: StatName(typ), Want: 8, Have: len(v)}
		}
		return st, nil
	})
}

var gaugeStatSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	st, ok := t.(*GaugeStat)
	if !ok {
		return codec.Mismatch("*bmp.GaugeStat", t)
	}
	b.AddUint64(uint64(st.Value))
	return nil
})

func familyGaugeStatParser(typ uint16) codec.Parser[TLV] {
	return tlvParser(func(v []byte) (TLV, error) {
		s := cryptobyte.String(v)
		st := &FamilyGaugeStat{Type: typ}
		if len(v) != 11 || !s.ReadUint16(&st.AFI) || !s.ReadUint8(&st.SAFI) || !codec.ReadGauge64(&s, &st.Value) {
			return nil, &codec.LengthError{What: StatName(typ), Want: 11, Have: len(v)}
		}
		return st, nil
	})
}

var familyGaugeStatSerializer = tlvSerializer(func(t TLV, b *cryptobyte.Builder) error {
	st, ok := t.(*FamilyGaugeStat)
	if !ok {
		return codec.Mismatch("*bmp.FamilyGaugeStat", t)
	}
	b.AddUint16(st.AFI)
	b.AddUint8(st.SAFI)
	b.AddUint64(uint64(st.Value))
	return nil
})
