package bgp

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
	"golang.org/x/crypto/cryptobyte"
)

// Message is a decoded BGP message body.
type Message interface {
	MessageType() uint8
}

type (
	MessageRegistry      = registry.Registry[uint8, uint8, codec.Parser[Message], codec.Serializer[Message]]
	ExtCommunityRegistry = registry.Registry[ExtCommunityKey, ExtCommunityKey, codec.Parser[ExtendedCommunity], codec.Serializer[ExtendedCommunity]]
	AFIRegistry          = registry.Registry[uint16, string, string, uint16]
	SAFIRegistry         = registry.Registry[uint8, string, string, uint8]
)

// Extensions holds the BGP registries. BMP and the ingest pipeline share a
// single instance populated by Activator.
type Extensions struct {
	Messages       *MessageRegistry
	Capabilities   *registry.MultiRegistry[uint8, CapabilityCodec]
	ExtCommunities *ExtCommunityRegistry
	AFIs           *AFIRegistry
	SAFIs          *SAFIRegistry
}

func NewExtensions() *Extensions {
	return &Extensions{
		Messages:       registry.New[uint8, uint8, codec.Parser[Message], codec.Serializer[Message]](),
		Capabilities:   registry.NewMulti[uint8, CapabilityCodec](),
		ExtCommunities: registry.New[ExtCommunityKey, ExtCommunityKey, codec.Parser[ExtendedCommunity], codec.Serializer[ExtendedCommunity]](),
		AFIs:           registry.New[uint16, string, string, uint16](),
		SAFIs:          registry.New[uint8, string, string, uint8](),
	}
}

var marker = bytes.Repeat([]byte{0xff}, BGPMarkerSize)

// MessageLength validates the BGP header at the start of data and returns
// the declared message length. data may extend past the message.
func MessageLength(data []byte) (int, error) {
	if len(data) < BGPHeaderSize {
		return 0, codec.Truncated("bgp header", BGPHeaderSize, len(data))
	}
	for i := 0; i < BGPMarkerSize; i++ {
		if data[i] != 0xFF {
			return 0, fmt.Errorf("bgp: invalid marker at byte %d", i)
		}
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < BGPHeaderSize {
		return 0, fmt.Errorf("bgp: invalid message length %d", length)
	}
	if length > BGPMaxMessageLen {
		return 0, fmt.Errorf("bgp: message length %d exceeds maximum %d", length, BGPMaxMessageLen)
	}
	return length, nil
}

// ParseMessage decodes one complete BGP message, header included.
func (x *Extensions) ParseMessage(data []byte) (Message, error) {
	length, err := MessageLength(data)
	if err != nil {
		return nil, err
	}
	if length > len(data) {
		return nil, codec.Truncated("bgp message", length, len(data))
	}
	typ := data[18]
	p, ok := x.Messages.Parser(typ)
	if !ok {
		return nil, fmt.Errorf("bgp: message type %d: %w", typ, codec.ErrUnknownType)
	}
	m, err := p.Parse(data[BGPHeaderSize:length])
	if err != nil {
		return nil, fmt.Errorf("bgp: message type %d: %w", typ, err)
	}
	return m, nil
}

// AppendMessage writes m with its BGP header.
func (x *Extensions) AppendMessage(b *cryptobyte.Builder, m Message) error {
	typ := m.MessageType()
	s, ok := x.Messages.Serializer(typ)
	if !ok {
		return fmt.Errorf("bgp: message type %d: %w", typ, codec.ErrUnknownType)
	}
	body := cryptobyte.NewBuilder(nil)
	if err := s.Serialize(m, body); err != nil {
		return fmt.Errorf("bgp: message type %d: %w", typ, err)
	}
	raw, err := body.Bytes()
	if err != nil {
		return fmt.Errorf("bgp: message type %d: %w", typ, err)
	}
	length := BGPHeaderSize + len(raw)
	if length > BGPMaxMessageLen {
		return fmt.Errorf("bgp: message length %d exceeds maximum %d", length, BGPMaxMessageLen)
	}
	b.AddBytes(marker)
	b.AddUint16(uint16(length))
	b.AddUint8(typ)
	b.AddBytes(raw)
	return nil
}

// SerializeMessage returns m encoded with its BGP header.
func (x *Extensions) SerializeMessage(m Message) ([]byte, error) {
	b := cryptobyte.NewBuilder(nil)
	if err := x.AppendMessage(b, m); err != nil {
		return nil, err
	}
	return b.Bytes()
}

// FamilyName renders an AFI/SAFI pair using the registered names, falling
// back to the numeric codes.
func (x *Extensions) FamilyName(afi uint16, safi uint8) string {
	a, ok := x.AFIs.Parser(afi)
	if !ok {
		a = fmt.Sprintf("afi-%d", afi)
	}
	s, ok := x.SAFIs.Parser(safi)
	if !ok {
		s = fmt.Sprintf("safi-%d", safi)
	}
	return a + "/" + s
}

// Notification is a BGP NOTIFICATION (RFC 4271 §4.5).
type Notification struct {
	Code    uint8
	Subcode uint8
	Data    []byte
}

func (*Notification) MessageType() uint8 { return MsgTypeNotification }

func parseNotification(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	n := &Notification{}
	if !s.ReadUint8(&n.Code) || !s.ReadUint8(&n.Subcode) {
		return nil, codec.Truncated("bgp notification", 2, len(body))
	}
	n.Data = codec.Clone(s)
	return n, nil
}

func serializeNotification(m Message, b *cryptobyte.Builder) error {
	n, ok := m.(*Notification)
	if !ok {
		return codec.Mismatch("*bgp.Notification", m)
	}
	b.AddUint8(n.Code)
	b.AddUint8(n.Subcode)
	b.AddBytes(n.Data)
	return nil
}

// Keepalive carries no body.
type Keepalive struct{}

func (*Keepalive) MessageType() uint8 { return MsgTypeKeepalive }

func parseKeepalive(body []byte) (Message, error) {
	if len(body) != 0 {
		return nil, &codec.LengthError{What: "bgp keepalive", Want: 0, Have: len(body)}
	}
	return &Keepalive{}, nil
}

func serializeKeepalive(m Message, _ *cryptobyte.Builder) error {
	if _, ok := m.(*Keepalive); !ok {
		return codec.Mismatch("*bgp.Keepalive", m)
	}
	return nil
}
