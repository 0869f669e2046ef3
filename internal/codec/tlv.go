package codec

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/cryptobyte"
)

// TLVFormat describes one protocol's type-length-value framing. Protocols
// disagree on field widths, on whether the length counts the header, and on
// alignment, so each keeps its own descriptor.
type TLVFormat struct {
	Name                 string
	TypeSize             int // 1 or 2 bytes
	LengthSize           int // 1 or 2 bytes
	LengthIncludesHeader bool
	Alignment            int // 0 or 1 disables padding
}

var (
	// BMPFormat frames BMP information TLVs (RFC 7854 §4.4).
	BMPFormat = TLVFormat{Name: "bmp", TypeSize: 2, LengthSize: 2}
	// PCEPFormat frames PCEP TLVs (RFC 5440 §7.1), padded to 4 bytes.
	PCEPFormat = TLVFormat{Name: "pcep", TypeSize: 2, LengthSize: 2, Alignment: 4}
	// RSVPFormat frames RSVP-TE route sub-objects (RFC 3209 §4.3.3).
	RSVPFormat = TLVFormat{Name: "rsvp", TypeSize: 1, LengthSize: 1, LengthIncludesHeader: true}
)

// TLV is one decoded element. Value aliases the buffer it was read from.
type TLV struct {
	Type  uint16
	Value []byte
}

func (f TLVFormat) HeaderSize() int { return f.TypeSize + f.LengthSize }

// Padding returns the number of zero bytes that follow a value of n bytes.
func (f TLVFormat) Padding(n int) int {
	if f.Alignment <= 1 {
		return 0
	}
	return (f.Alignment - (f.HeaderSize()+n)%f.Alignment) % f.Alignment
}

// EncodedLen is the total on-wire size of a TLV carrying n value bytes.
func (f TLVFormat) EncodedLen(n int) int {
	return f.HeaderSize() + n + f.Padding(n)
}

// AppendTLV writes header, value and padding to b.
func (f TLVFormat) AppendTLV(b *cryptobyte.Builder, typ uint16, value []byte) error {
	length := len(value)
	if f.LengthIncludesHeader {
		length += f.HeaderSize()
	}
	if uint64(typ) > maxUint(f.TypeSize) {
		return fmt.Errorf("%s tlv: type %d does not fit in %d bytes", f.Name, typ, f.TypeSize)
	}
	if uint64(length) > maxUint(f.LengthSize) {
		return fmt.Errorf("%s tlv %d: length %d does not fit in %d bytes", f.Name, typ, length, f.LengthSize)
	}
	addUint(b, f.TypeSize, uint16(typ))
	addUint(b, f.LengthSize, uint16(length))
	b.AddBytes(value)
	if pad := f.Padding(len(value)); pad > 0 {
		b.AddBytes(make([]byte, pad))
	}
	return nil
}

// Encode returns a single framed TLV.
func (f TLVFormat) Encode(typ uint16, value []byte) ([]byte, error) {
	b := cryptobyte.NewBuilder(make([]byte, 0, f.EncodedLen(len(value))))
	if err := f.AppendTLV(b, typ, value); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// ReadTLV consumes one TLV and its padding from s. Missing trailing padding
// at the very end of the buffer is tolerated.
func (f TLVFormat) ReadTLV(s *cryptobyte.String) (TLV, error) {
	avail := len(*s)
	var typ, length uint16
	if !readUint(s, f.TypeSize, &typ) || !readUint(s, f.LengthSize, &length) {
		return TLV{}, Truncated(f.Name+" tlv header", f.HeaderSize(), avail)
	}
	n := int(length)
	if f.LengthIncludesHeader {
		n -= f.HeaderSize()
		if n < 0 {
			return TLV{}, &LengthError{What: fmt.Sprintf("%s tlv %d length", f.Name, typ), Want: f.HeaderSize(), Have: int(length)}
		}
	}
	var value []byte
	if !s.ReadBytes(&value, n) {
		return TLV{}, Truncated(fmt.Sprintf("%s tlv %d", f.Name, typ), n, len(*s))
	}
	pad := f.Padding(n)
	if pad > len(*s) {
		pad = len(*s)
	}
	s.Skip(pad)
	return TLV{Type: typ, Value: value}, nil
}

// Walk calls fn for every TLV in data, in wire order, stopping at the first
// error.
func (f TLVFormat) Walk(data []byte, fn func(TLV) error) error {
	s := cryptobyte.String(data)
	for !s.Empty() {
		t, err := f.ReadTLV(&s)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return nil
}

func maxUint(size int) uint64 {
	return 1<<(8*uint(size)) - 1
}

func addUint(b *cryptobyte.Builder, size int, v uint16) {
	if size == 1 {
		b.AddUint8(uint8(v))
		return
	}
	b.AddUint16(v)
}

func readUint(s *cryptobyte.String, size int, out *uint16) bool {
	if size == 1 {
		var v uint8
		if !s.ReadUint8(&v) {
			return false
		}
		*out = uint16(v)
		return true
	}
	return s.ReadUint16(out)
}

// Parser decodes the value of one registered element. Implementations must
// copy any bytes they keep.
type Parser[V any] interface {
	Parse(value []byte) (V, error)
}

// Serializer writes the value of one registered element, without header.
type Serializer[V any] interface {
	Serialize(v V, b *cryptobyte.Builder) error
}

type ParserFunc[V any] func(value []byte) (V, error)

func (f ParserFunc[V]) Parse(value []byte) (V, error) { return f(value) }

type SerializerFunc[V any] func(v V, b *cryptobyte.Builder) error

func (f SerializerFunc[V]) Serialize(v V, b *cryptobyte.Builder) error { return f(v, b) }

// ParserSource resolves parsers by key. registry.Registry satisfies it.
type ParserSource[K comparable, V any] interface {
	Parser(key K) (Parser[V], bool)
}

// SerializerSource resolves serializers by discriminant.
type SerializerSource[D comparable, V any] interface {
	Serializer(d D) (Serializer[V], bool)
}

// Coded values carry the type code they are framed with.
type Coded interface {
	Code() uint16
}

// TLVDecoder dispatches each TLV of a list to the parser registered for its
// type. TLVs without a parser are skipped.
type TLVDecoder[V any] struct {
	Format  TLVFormat
	Parsers ParserSource[uint16, V]
}

func (d TLVDecoder[V]) Decode(data []byte) ([]V, error) {
	var out []V
	err := d.Format.Walk(data, func(t TLV) error {
		p, ok := d.Parsers.Parser(t.Type)
		if !ok {
			notifySkipped(d.Format.Name, t.Type)
			return nil
		}
		v, err := p.Parse(t.Value)
		if err != nil {
			return fmt.Errorf("%s tlv %d: %w", d.Format.Name, t.Type, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// TLVEncoder frames values with the serializer registered for their code.
type TLVEncoder[V Coded] struct {
	Format      TLVFormat
	Serializers SerializerSource[uint16, V]
}

func (e TLVEncoder[V]) Append(b *cryptobyte.Builder, v V) error {
	code := v.Code()
	s, ok := e.Serializers.Serializer(code)
	if !ok {
		return fmt.Errorf("%s tlv %d: no serializer: %w", e.Format.Name, code, ErrUnknownType)
	}
	body := cryptobyte.NewBuilder(nil)
	if err := s.Serialize(v, body); err != nil {
		return fmt.Errorf("%s tlv %d: %w", e.Format.Name, code, err)
	}
	value, err := body.Bytes()
	if err != nil {
		return fmt.Errorf("%s tlv %d: %w", e.Format.Name, code, err)
	}
	return e.Format.AppendTLV(b, code, value)
}

func (e TLVEncoder[V]) AppendAll(b *cryptobyte.Builder, vs []V) error {
	for _, v := range vs {
		if err := e.Append(b, v); err != nil {
			return err
		}
	}
	return nil
}

// SkipObserver is notified of every TLV skipped for lack of a parser.
type SkipObserver func(format string, typ uint16)

var skipObserver atomic.Pointer[SkipObserver]

// SetSkipObserver installs fn process-wide. A nil fn removes the observer.
func SetSkipObserver(fn SkipObserver) {
	if fn == nil {
		skipObserver.Store(nil)
		return
	}
	skipObserver.Store(&fn)
}

func notifySkipped(format string, typ uint16) {
	if fn := skipObserver.Load(); fn != nil {
		(*fn)(format, typ)
	}
}

// NotifySkipped reports a skipped element from a dispatcher outside this
// package.
func NotifySkipped(format string, typ uint16) { notifySkipped(format, typ) }
