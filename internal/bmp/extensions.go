package bmp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
	"golang.org/x/crypto/cryptobyte"
)

type (
	MessageRegistry = registry.Registry[uint8, uint8, codec.Parser[Message], codec.Serializer[Message]]
	TLVRegistry     = registry.Registry[uint16, uint16, codec.Parser[TLV], codec.Serializer[TLV]]
)

func newTLVRegistry() *TLVRegistry {
	return registry.New[uint16, uint16, codec.Parser[TLV], codec.Serializer[TLV]]()
}

// Extensions holds the BMP message registry and one TLV registry per
// message family. Embedded BGP PDUs are decoded with BGP.
type Extensions struct {
	BGP *bgp.Extensions

	Messages            *MessageRegistry
	InitiationTLVs      *TLVRegistry
	TerminationTLVs     *TLVRegistry
	PeerUpTLVs          *TLVRegistry
	RouteMonitoringTLVs *TLVRegistry
	MirroringTLVs       *TLVRegistry
	StatisticsTLVs      *TLVRegistry
}

func NewExtensions(b *bgp.Extensions) *Extensions {
	return &Extensions{
		BGP:                 b,
		Messages:            registry.New[uint8, uint8, codec.Parser[Message], codec.Serializer[Message]](),
		InitiationTLVs:      newTLVRegistry(),
		TerminationTLVs:     newTLVRegistry(),
		PeerUpTLVs:          newTLVRegistry(),
		RouteMonitoringTLVs: newTLVRegistry(),
		MirroringTLVs:       newTLVRegistry(),
		StatisticsTLVs:      newTLVRegistry(),
	}
}

func decoder(r *TLVRegistry) codec.TLVDecoder[TLV] {
	return codec.TLVDecoder[TLV]{Format: codec.BMPFormat, Parsers: r}
}

func encoder(r *TLVRegistry) codec.TLVEncoder[TLV] {
	return codec.TLVEncoder[TLV]{Format: codec.BMPFormat, Serializers: r}
}

// MessageLength validates the common header at the start of data and
// returns the declared message length. data may extend past the message.
func MessageLength(data []byte) (int, error) {
	if len(data) < CommonHeaderSize {
		return 0, codec.Truncated("bmp common header", CommonHeaderSize, len(data))
	}
	if data[0] != BMPVersion {
		return 0, fmt.Errorf("bmp: unsupported version %d (expected %d)", data[0], BMPVersion)
	}
	msgLength := binary.BigEndian.Uint32(data[1:5])
	if msgLength < uint32(CommonHeaderSize) {
		return 0, fmt.Errorf("bmp: declared msg_length %d smaller than common header size %d", msgLength, CommonHeaderSize)
	}
	if uint64(msgLength) > uint64(len(data)) {
		return 0, &codec.LengthError{What: "bmp message", Want: int(msgLength), Have: len(data)}
	}
	return int(msgLength), nil
}

// ParseMessage decodes one complete BMP message, common header included.
func (x *Extensions) ParseMessage(data []byte) (Message, error) {
	length, err := MessageLength(data)
	if err != nil {
		return nil, err
	}
	typ := data[5]
	p, ok := x.Messages.Parser(typ)
	if !ok {
		return nil, fmt.Errorf("bmp: message type %d: %w", typ, codec.ErrUnknownType)
	}
	m, err := p.Parse(data[CommonHeaderSize:length])
	if err != nil {
		return nil, fmt.Errorf("bmp: message type %d: %w", typ, err)
	}
	return m, nil
}

// AppendMessage writes m with its common header.
func (x *Extensions) AppendMessage(b *cryptobyte.Builder, m Message) error {
	typ := m.MsgType()
	s, ok := x.Messages.Serializer(typ)
	if !ok {
		return fmt.Errorf("bmp: message type %d: %w", typ, codec.ErrUnknownType)
	}
	body := cryptobyte.NewBuilder(nil)
	if err := s.Serialize(m, body); err != nil {
		return fmt.Errorf("bmp: message type %d: %w", typ, err)
	}
	raw, err := body.Bytes()
	if err != nil {
		return fmt.Errorf("bmp: message type %d: %w", typ, err)
	}
	b.AddUint8(BMPVersion)
	b.AddUint32(uint32(CommonHeaderSize + len(raw)))
	b.AddUint8(typ)
	b.AddBytes(raw)
	return nil
}

// SerializeMessage returns m encoded with its common header.
func (x *Extensions) SerializeMessage(m Message) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendMessage(b, m); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// Decoded is one message found by ParseAll.
type Decoded struct {
	Message Message
	Offset  int    // byte offset of the message within the payload
	Raw     []byte // the message bytes, common header included; aliases the payload
}

// ParseAll parses all concatenated BMP messages from raw bytes.
// goBMP may bundle multiple BMP messages in a single raw Kafka record
// (one per TCP read). Messages that fail to decode are skipped and their
// errors joined into the returned error alongside the successful results.
func (x *Extensions) ParseAll(data []byte) ([]Decoded, error) {
	var results []Decoded
	var errs []error
	offset := 0
	for offset < len(data) {
		remaining := data[offset:]
		msgLength, err := MessageLength(remaining)
		if err != nil {
			// The framing is lost; nothing after this point can be trusted.
			errs = append(errs, fmt.Errorf("offset %d: %w", offset, err))
			break
		}
		raw := remaining[:msgLength]
		m, err := x.ParseMessage(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("offset %d: %w", offset, err))
		} else {
			results = append(results, Decoded{Message: m, Offset: offset, Raw: raw})
		}
		offset += msgLength
	}
	if len(results) == 0 && len(errs) == 0 {
		return nil, fmt.Errorf("bmp: no valid messages found in %d bytes", len(data))
	}
	return results, errors.Join(errs...)
}
