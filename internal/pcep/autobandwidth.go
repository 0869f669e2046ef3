package pcep

import (
	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Auto-bandwidth attribute sub-TLV types (RFC 8733 §5.2).
const (
	AutoBWSampleInterval uint16 = iota + 1
	AutoBWAdjustmentInterval
	AutoBWDownAdjustmentInterval
	AutoBWAdjustmentThreshold
	AutoBWAdjustmentThresholdPercentage
	AutoBWDownAdjustmentThreshold
	AutoBWDownAdjustmentThresholdPercentage
	AutoBWMinimumBandwidth
	AutoBWMaximumBandwidth
	AutoBWOverflowThreshold
	AutoBWOverflowThresholdPercentage
	AutoBWUnderflowThreshold
	AutoBWUnderflowThresholdPercentage
)

// ThresholdPercentage is a percentage threshold with an absolute floor.
type ThresholdPercentage struct {
	Percentage uint8
	Minimum    codec.Bandwidth
}

// CountThreshold triggers after Count consecutive samples cross Threshold.
type CountThreshold struct {
	Count     uint8
	Threshold codec.Bandwidth
}

// CountThresholdPercentage is the percentage form of CountThreshold.
type CountThresholdPercentage struct {
	Percentage uint8
	Count      uint8
	Minimum    codec.Bandwidth
}

// AutoBandwidthAttributes groups the optional auto-bandwidth parameters of
// an LSP. Every field is carried by its own sub-TLV and is nil when absent.
type AutoBandwidthAttributes struct {
	SampleInterval                    *uint32
	AdjustmentInterval                *uint32
	DownAdjustmentInterval            *uint32
	AdjustmentThreshold               *codec.Bandwidth
	AdjustmentThresholdPercentage     *ThresholdPercentage
	DownAdjustmentThreshold           *codec.Bandwidth
	DownAdjustmentThresholdPercentage *ThresholdPercentage
	MinimumBandwidth                  *codec.Bandwidth
	MaximumBandwidth                  *codec.Bandwidth
	OverflowThreshold                 *CountThreshold
	OverflowThresholdPercentage       *CountThresholdPercentage
	UnderflowThreshold                *CountThreshold
	UnderflowThresholdPercentage      *CountThresholdPercentage
}

func (*AutoBandwidthAttributes) Code() uint16 { return TLVTypeAutoBandwidthAttributes }

type autoBWField struct {
	typ  uint16
	size int
	// read fills the field from a value of exactly size bytes.
	read func(a *AutoBandwidthAttributes, s *cryptobyte.String)
	// write reports false when the field is absent.
	write func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool
}

func uint32Field(typ uint16, f func(*AutoBandwidthAttributes) **uint32) autoBWField {
	return autoBWField{typ, 4,
		func(a *AutoBandwidthAttributes, s *cryptobyte.String) {
			var v uint32
			s.ReadUint32(&v)
			*f(a) = &v
		},
		func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool {
			v := *f(a)
			if v == nil {
				return false
			}
			b.AddUint32(*v)
			return true
		},
	}
}

func bandwidthField(typ uint16, f func(*AutoBandwidthAttributes) **codec.Bandwidth) autoBWField {
	return autoBWField{typ, 4,
		func(a *AutoBandwidthAttributes, s *cryptobyte.String) {
			var v codec.Bandwidth
			codec.ReadBandwidth(s, &v)
			*f(a) = &v
		},
		func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool {
			v := *f(a)
			if v == nil {
				return false
			}
			codec.AppendBandwidth(b, v)
			return true
		},
	}
}

func percentageField(typ uint16, f func(*AutoBandwidthAttributes) **ThresholdPercentage) autoBWField {
	return autoBWField{typ, 8,
		func(a *AutoBandwidthAttributes, s *cryptobyte.String) {
			v := &ThresholdPercentage{}
			s.Skip(3)
			s.ReadUint8(&v.Percentage)
			codec.ReadBandwidth(s, &v.Minimum)
			*f(a) = v
		},
		func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool {
			v := *f(a)
			if v == nil {
				return false
			}
			b.AddBytes([]byte{0, 0, 0, v.Percentage})
			codec.AppendBandwidth(b, &v.Minimum)
			return true
		},
	}
}

func countField(typ uint16, f func(*AutoBandwidthAttributes) **CountThreshold) autoBWField {
	return autoBWField{typ, 8,
		func(a *AutoBandwidthAttributes, s *cryptobyte.String) {
			v := &CountThreshold{}
			s.Skip(3)
			s.ReadUint8(&v.Count)
			codec.ReadBandwidth(s, &v.Threshold)
			*f(a) = v
		},
		func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool {
			v := *f(a)
			if v == nil {
				return false
			}
			b.AddBytes([]byte{0, 0, 0, v.Count})
			codec.AppendBandwidth(b, &v.Threshold)
			return true
		},
	}
}

// The percentage occupies the high seven bits of the first byte.
func countPercentageField(typ uint16, f func(*AutoBandwidthAttributes) **CountThresholdPercentage) autoBWField {
	return autoBWField{typ, 8,
		func(a *AutoBandwidthAttributes, s *cryptobyte.String) {
			v := &CountThresholdPercentage{}
			var pct uint8
			s.ReadUint8(&pct)
			v.Percentage = pct >> 1
			s.Skip(2)
			s.ReadUint8(&v.Count)
			codec.ReadBandwidth(s, &v.Minimum)
			*f(a) = v
		},
		func(a *AutoBandwidthAttributes, b *cryptobyte.Builder) bool {
			v := *f(a)
			if v == nil {
				return false
			}
			b.AddBytes([]byte{v.Percentage << 1, 0, 0, v.Count})
			codec.AppendBandwidth(b, &v.Minimum)
			return true
		},
	}
}

// autoBWFields is the sub-TLV type table, in wire order.
var autoBWFields = []autoBWField{
	uint32Field(AutoBWSampleInterval, func(a *AutoBandwidthAttributes) **uint32 { return &a.SampleInterval }),
	uint32Field(AutoBWAdjustmentInterval, func(a *AutoBandwidthAttributes) **uint32 { return &a.AdjustmentInterval }),
	uint32Field(AutoBWDownAdjustmentInterval, func(a *AutoBandwidthAttributes) **uint32 { return &a.DownAdjustmentInterval }),
	bandwidthField(AutoBWAdjustmentThreshold, func(a *AutoBandwidthAttributes) **codec.Bandwidth { return &a.AdjustmentThreshold }),
	percentageField(AutoBWAdjustmentThresholdPercentage, func(a *AutoBandwidthAttributes) **ThresholdPercentage {
		return &a.AdjustmentThresholdPercentage
	}),
	bandwidthField(AutoBWDownAdjustmentThreshold, func(a *AutoBandwidthAttributes) **codec.Bandwidth { return &a.DownAdjustmentThreshold }),
	percentageField(AutoBWDownAdjustmentThresholdPercentage, func(a *AutoBandwidthAttributes) **ThresholdPercentage {
		return &a.DownAdjustmentThresholdPercentage
	}),
	bandwidthField(AutoBWMinimumBandwidth, func(a *AutoBandwidthAttributes) **codec.Bandwidth { return &a.MinimumBandwidth }),
	bandwidthField(AutoBWMaximumBandwidth, func(a *AutoBandwidthAttributes) **codec.Bandwidth { return &a.MaximumBandwidth }),
	countField(AutoBWOverflowThreshold, func(a *AutoBandwidthAttributes) **CountThreshold { return &a.OverflowThreshold }),
	countPercentageField(AutoBWOverflowThresholdPercentage, func(a *AutoBandwidthAttributes) **CountThresholdPercentage {
		return &a.OverflowThresholdPercentage
	}),
	countField(AutoBWUnderflowThreshold, func(a *AutoBandwidthAttributes) **CountThreshold { return &a.UnderflowThreshold }),
	countPercentageField(AutoBWUnderflowThresholdPercentage, func(a *AutoBandwidthAttributes) **CountThresholdPercentage {
		return &a.UnderflowThresholdPercentage
	}),
}

func autoBWFieldFor(typ uint16) (autoBWField, bool) {
	if typ == 0 || int(typ) > len(autoBWFields) {
		return autoBWField{}, false
	}
	return autoBWFields[typ-1], true
}

// Sub-TLVs of an unknown type or with the wrong length are skipped.
var autoBandwidthAttributesParser = tlvParser(func(v []byte) (TLV, error) {
	a := &AutoBandwidthAttributes{}
	err := codec.PCEPFormat.Walk(v, func(st codec.TLV) error {
		f, ok := autoBWFieldFor(st.Type)
		if !ok || len(st.Value) != f.size {
			codec.NotifySkipped("pcep auto-bandwidth sub-tlv", st.Type)
			return nil
		}
		s := cryptobyte.String(st.Value)
		f.read(a, &s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
})

var autoBandwidthAttributesSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	a, ok := v.(*AutoBandwidthAttributes)
	if !ok {
		return codec.Mismatch("*pcep.AutoBandwidthAttributes", v)
	}
	for _, f := range autoBWFields {
		value := cryptobyte.NewBuilder(make([]byte, 0, f.size))
		if !f.write(a, value) {
			continue
		}
		raw, err := value.Bytes()
		if err != nil {
			return err
		}
		if err := codec.PCEPFormat.AppendTLV(b, f.typ, raw); err != nil {
			return err
		}
	}
	return nil
})
