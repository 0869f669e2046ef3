package rsvp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

const (
	labelFlagsSize  = 8
	labelUpstream   = 0 // U
	labelGlobal     = 7 // G, recorded routes only
	labelHeaderSize = 2
)

// labelParser decodes the flags and C-type of a label sub-object and hands
// the contents to the label registry.
func (x *Extensions) labelParser(recorded bool) codec.Parser[Subobject] {
	return subParser(func(v []byte) (Subobject, error) {
		if len(v) < labelHeaderSize {
			return nil, codec.Truncated("label sub-object", labelHeaderSize, len(v))
		}
		flags, err := codec.BitArrayFrom(v[:1], labelFlagsSize)
		if err != nil {
			return nil, err
		}
		ctype := v[1]
		p, ok := x.Labels.Parser(ctype)
		if !ok {
			return nil, fmt.Errorf("label c-type %d: %w", ctype, codec.ErrUnknownType)
		}
		value, err := p.Parse(v[labelHeaderSize:])
		if err != nil {
			return nil, fmt.Errorf("label c-type %d: %w", ctype, err)
		}
		sub := &Label{Upstream: flags.Get(labelUpstream), Value: value}
		if recorded {
			sub.Global = flags.Get(labelGlobal)
		}
		return sub, nil
	})
}

func (x *Extensions) labelSerializer(recorded bool) codec.Serializer[Subobject] {
	return subSerializer(func(v Subobject, b *cryptobyte.Builder) error {
		sub, ok := v.(*Label)
		if !ok {
			return codec.Mismatch("*rsvp.Label", v)
		}
		if sub.Value == nil {
			return &codec.MandatoryFieldError{Field: "label"}
		}
		ctype := sub.Value.CType()
		s, ok := x.Labels.Serializer(ctype)
		if !ok {
			return fmt.Errorf("label c-type %d: %w", ctype, codec.ErrUnknownType)
		}
		flags := codec.NewBitArray(labelFlagsSize)
		flags.SetBool(labelUpstream, sub.Upstream)
		if recorded {
			flags.SetBool(labelGlobal, sub.Global)
		}
		flags.AppendTo(b)
		b.AddUint8(ctype)
		return s.Serialize(sub.Value, b)
	})
}

type labelParser = codec.ParserFunc[LabelValue]
type labelSerializer = codec.SerializerFunc[LabelValue]

var type1LabelParser = labelParser(func(v []byte) (LabelValue, error) {
	if len(v) != 4 {
		return nil, &codec.LengthError{What: "type 1 label", Want: 4, Have: len(v)}
	}
	s := cryptobyte.String(v)
	l := &Type1Label{}
	s.ReadUint32(&l.Label)
	return l, nil
})

var type1LabelSerializer = labelSerializer(func(v LabelValue, b *cryptobyte.Builder) error {
	l, ok := v.(*Type1Label)
	if !ok {
		return codec.Mismatch("*rsvp.Type1Label", v)
	}
	b.AddUint32(l.Label)
	return nil
})

var generalizedLabelParser = labelParser(func(v []byte) (LabelValue, error) {
	if len(v) == 0 {
		return nil, &codec.LengthError{What: "generalized label", Want: 1, Have: 0}
	}
	return &GeneralizedLabel{Label: codec.Clone(v)}, nil
})

var generalizedLabelSerializer = labelSerializer(func(v LabelValue, b *cryptobyte.Builder) error {
	l, ok := v.(*GeneralizedLabel)
	if !ok {
		return codec.Mismatch("*rsvp.GeneralizedLabel", v)
	}
	if len(l.Label) == 0 {
		return &codec.MandatoryFieldError{Field: "generalized label"}
	}
	b.AddBytes(l.Label)
	return nil
})

var wavebandLabelParser = labelParser(func(v []byte) (LabelValue, error) {
	if len(v) != 12 {
		return nil, &codec.LengthError{What: "waveband label", Want: 12, Have: len(v)}
	}
	s := cryptobyte.String(v)
	l := &WavebandLabel{}
	s.ReadUint32(&l.WavebandID)
	s.ReadUint32(&l.StartLabel)
	s.ReadUint32(&l.EndLabel)
	return l, nil
})

var wavebandLabelSerializer = labelSerializer(func(v LabelValue, b *cryptobyte.Builder) error {
	l, ok := v.(*WavebandLabel)
	if !ok {
		return codec.Mismatch("*rsvp.WavebandLabel", v)
	}
	b.AddUint32(l.WavebandID)
	b.AddUint32(l.StartLabel)
	b.AddUint32(l.EndLabel)
	return nil
})
