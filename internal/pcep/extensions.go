package pcep

import (
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
	"golang.org/x/crypto/cryptobyte"
)

type (
	TLVRegistry    = registry.Registry[uint16, uint16, codec.Parser[TLV], codec.Serializer[TLV]]
	ObjectRegistry = registry.Registry[uint16, uint16, ObjectParser, ObjectSerializer]
)

// ObjectParser decodes an object body, common header excluded. x gives
// access to the TLV registry for trailing TLVs.
type ObjectParser interface {
	ParseObject(x *Extensions, body []byte) (Object, error)
}

// ObjectSerializer writes an object body without the common header.
type ObjectSerializer interface {
	SerializeObject(x *Extensions, o Object, b *cryptobyte.Builder) error
}

// Extensions holds the PCEP object and TLV registries. PathSetupSubTLVs is
// the type table of sub-TLVs nested in a path setup type capability.
type Extensions struct {
	Objects          *ObjectRegistry
	TLVs             *TLVRegistry
	PathSetupSubTLVs *TLVRegistry
}

func NewExtensions() *Extensions {
	return &Extensions{
		Objects:          registry.New[uint16, uint16, ObjectParser, ObjectSerializer](),
		TLVs:             registry.New[uint16, uint16, codec.Parser[TLV], codec.Serializer[TLV]](),
		PathSetupSubTLVs: registry.New[uint16, uint16, codec.Parser[TLV], codec.Serializer[TLV]](),
	}
}

// ParseTLVs decodes a TLV list. Unknown types are skipped.
func (x *Extensions) ParseTLVs(data []byte) ([]TLV, error) {
	return codec.TLVDecoder[TLV]{Format: codec.PCEPFormat, Parsers: x.TLVs}.Decode(data)
}

// AppendTLVs writes tlvs, each padded to four bytes.
func (x *Extensions) AppendTLVs(b *cryptobyte.Builder, tlvs []TLV) error {
	return codec.TLVEncoder[TLV]{Format: codec.PCEPFormat, Serializers: x.TLVs}.AppendAll(b, tlvs)
}

// SerializeTLV returns the framed encoding of t.
func (x *Extensions) SerializeTLV(t TLV) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendTLVs(b, []TLV{t}); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// ObjectLength validates the common header at the start of data and returns
// the declared object length.
func ObjectLength(data []byte) (int, error) {
	if len(data) < ObjectHeaderSize {
		return 0, codec.Truncated("pcep object header", ObjectHeaderSize, len(data))
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < ObjectHeaderSize || length%4 != 0 {
		return 0, fmt.Errorf("pcep: object %d/%d: invalid length %d", data[0], data[1]>>4, length)
	}
	if length > len(data) {
		return 0, &codec.LengthError{What: "pcep object", Want: length, Have: len(data)}
	}
	return length, nil
}

// ParseObject decodes the object at the start of data and returns it with
// the number of bytes consumed. An unknown object with the I flag set
// yields a nil object and no error.
func (x *Extensions) ParseObject(data []byte) (Object, int, error) {
	length, err := ObjectLength(data)
	if err != nil {
		return nil, 0, err
	}
	key := ObjectKey{Class: data[0], Type: (data[1] & objectTypeMask) >> 4}
	hdr := ObjectHeader{
		Processing: data[1]&objectFlagProcess != 0,
		Ignore:     data[1]&objectFlagIgnore != 0,
	}
	p, ok := x.Objects.Parser(key.Code())
	if !ok {
		if hdr.Ignore {
			codec.NotifySkipped("pcep object", key.Code())
			return nil, length, nil
		}
		return nil, 0, fmt.Errorf("pcep: object %s: %w", key, codec.ErrUnknownType)
	}
	o, err := p.ParseObject(x, data[ObjectHeaderSize:length])
	if err != nil {
		return nil, 0, fmt.Errorf("pcep: object %s: %w", key, err)
	}
	*o.Header() = hdr
	return o, length, nil
}

// ParseObjects decodes a sequence of objects, such as a message body.
func (x *Extensions) ParseObjects(data []byte) ([]Object, error) {
	var out []Object
	for len(data) > 0 {
		o, n, err := x.ParseObject(data)
		if err != nil {
			return out, err
		}
		if o != nil {
			out = append(out, o)
		}
		data = data[n:]
	}
	return out, nil
}

// AppendObject writes o with its common header.
func (x *Extensions) AppendObject(b *cryptobyte.Builder, o Object) error {
	key := o.Key()
	s, ok := x.Objects.Serializer(key.Code())
	if !ok {
		return fmt.Errorf("pcep: object %s: %w", key, codec.ErrUnknownType)
	}
	body := cryptobyte.NewBuilder(nil)
	if err := s.SerializeObject(x, o, body); err != nil {
		return fmt.Errorf("pcep: object %s: %w", key, err)
	}
	raw, err := body.Bytes()
	if err != nil {
		return fmt.Errorf("pcep: object %s: %w", key, err)
	}
	length := ObjectHeaderSize + len(raw)
	if length > 0xffff {
		return fmt.Errorf("pcep: object %s: length %d overflows", key, length)
	}
	flags := key.Type << 4
	h := o.Header()
	if h.Processing {
		flags |= objectFlagProcess
	}
	if h.Ignore {
		flags |= objectFlagIgnore
	}
	b.AddUint8(key.Class)
	b.AddUint8(flags)
	b.AddUint16(uint16(length))
	b.AddBytes(raw)
	return nil
}

// SerializeObject returns o encoded with its common header.
func (x *Extensions) SerializeObject(o Object) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendObject(b, o); err != nil {
		return nil, err
	}
	return b.Bytes()
}
