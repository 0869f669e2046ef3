package rsvp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
	"golang.org/x/crypto/cryptobyte"
)

type (
	SubobjectRegistry = registry.Registry[uint16, uint16, codec.Parser[Subobject], codec.Serializer[Subobject]]
	LabelRegistry     = registry.Registry[uint8, uint8, codec.Parser[LabelValue], codec.Serializer[LabelValue]]
)

// Extensions holds the sub-object registries of recorded and explicit
// routes and the label registry keyed by C-type.
type Extensions struct {
	RRO    *SubobjectRegistry
	ERO    *SubobjectRegistry
	Labels *LabelRegistry
}

func NewExtensions() *Extensions {
	return &Extensions{
		RRO:    registry.New[uint16, uint16, codec.Parser[Subobject], codec.Serializer[Subobject]](),
		ERO:    registry.New[uint16, uint16, codec.Parser[Subobject], codec.Serializer[Subobject]](),
		Labels: registry.New[uint8, uint8, codec.Parser[LabelValue], codec.Serializer[LabelValue]](),
	}
}

// ParseRRO decodes the body of a RECORD_ROUTE object. Unknown sub-objects
// are skipped.
func (x *Extensions) ParseRRO(data []byte) ([]Subobject, error) {
	return codec.TLVDecoder[Subobject]{Format: codec.RSVPFormat, Parsers: x.RRO}.Decode(data)
}

// AppendRRO writes subs as a RECORD_ROUTE body.
func (x *Extensions) AppendRRO(b *cryptobyte.Builder, subs []Subobject) error {
	return codec.TLVEncoder[Subobject]{Format: codec.RSVPFormat, Serializers: x.RRO}.AppendAll(b, subs)
}

func (x *Extensions) SerializeRRO(subs []Subobject) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendRRO(b, subs); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// ParseERO decodes the body of an EXPLICIT_ROUTE object. A hop that cannot
// be decoded cannot be followed, so unknown sub-objects are an error.
func (x *Extensions) ParseERO(data []byte) ([]EROSubobject, error) {
	var out []EROSubobject
	err := codec.RSVPFormat.Walk(data, func(t codec.TLV) error {
		typ := t.Type & eroTypeMask
		p, ok := x.ERO.Parser(typ)
		if !ok {
			return fmt.Errorf("rsvp ero sub-object %d: %w", typ, codec.ErrUnknownType)
		}
		sub, err := p.Parse(t.Value)
		if err != nil {
			return fmt.Errorf("rsvp ero sub-object %d: %w", typ, err)
		}
		out = append(out, EROSubobject{Loose: t.Type&eroLooseBit != 0, Subobject: sub})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendERO writes hops as an EXPLICIT_ROUTE body.
func (x *Extensions) AppendERO(b *cryptobyte.Builder, hops []EROSubobject) error {
	for _, h := range hops {
		if h.Subobject == nil {
			return &codec.MandatoryFieldError{Field: "subobject type"}
		}
		typ := h.Subobject.Code()
		s, ok := x.ERO.Serializer(typ)
		if !ok {
			return fmt.Errorf("rsvp ero sub-object %d: %w", typ, codec.ErrUnknownType)
		}
		body := cryptobyte.NewBuilder(nil)
		if err := s.Serialize(h.Subobject, body); err != nil {
			return fmt.Errorf("rsvp ero sub-object %d: %w", typ, err)
		}
		value, err := body.Bytes()
		if err != nil {
			return fmt.Errorf("rsvp ero sub-object %d: %w", typ, err)
		}
		if h.Loose {
			typ |= eroLooseBit
		}
		if err := codec.RSVPFormat.AppendTLV(b, typ, value); err != nil {
			return err
		}
	}
	return nil
}

func (x *Extensions) SerializeERO(hops []EROSubobject) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendERO(b, hops); err != nil {
		return nil, err
	}
	return b.Bytes()
}
