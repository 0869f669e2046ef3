package bmp

import (
	"bytes"
	"fmt"
	"net/netip"
	"time"

	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// Per-peer header layout (RFC 7854 Section 4.2):
//
//	Offset  0: Peer Type (1 byte)
//	Offset  1: Peer Flags (1 byte)
//	Offset  2: Peer Distinguisher (8 bytes)
//	Offset 10: Peer Address (16 bytes)
//	Offset 26: Peer AS (4 bytes)
//	Offset 30: Peer BGP ID (4 bytes)
//	Offset 34: Timestamp seconds (4 bytes)
//	Offset 38: Timestamp microseconds (4 bytes)
func readPeerHeader(s *cryptobyte.String) (PeerHeader, error) {
	var h PeerHeader
	if len(*s) < PerPeerHeaderSize {
		return h, codec.Truncated("bmp per-peer header", PerPeerHeaderSize, len(*s))
	}
	var sec, usec uint32
	s.ReadUint8(&h.Type)
	s.ReadUint8(&h.Flags)
	s.ReadUint64(&h.Distinguisher)
	if h.IsIPv6() {
		codec.ReadIPv6(s, &h.Address)
	} else {
		s.Skip(12)
		codec.ReadIPv4(s, &h.Address)
	}
	codec.ReadAS4(s, &h.AS)
	codec.ReadIPv4(s, &h.BGPID)
	s.ReadUint32(&sec)
	s.ReadUint32(&usec)
	if sec != 0 || usec != 0 {
		h.Timestamp = time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)).UTC()
	}
	return h, nil
}

func appendPeerHeader(b *cryptobyte.Builder, h *PeerHeader) {
	b.AddUint8(h.Type)
	b.AddUint8(h.Flags)
	b.AddUint64(h.Distinguisher)
	if h.IsIPv6() {
		codec.AppendIPv6(b, h.Address)
	} else {
		b.AddBytes(make([]byte, 12))
		codec.AppendIPv4(b, h.Address)
	}
	codec.AppendAS4(b, h.AS)
	codec.AppendIPv4(b, h.BGPID)
	if h.Timestamp.IsZero() {
		b.AddUint32(0)
		b.AddUint32(0)
		return
	}
	b.AddUint32(uint32(h.Timestamp.Unix()))
	b.AddUint32(uint32(h.Timestamp.Nanosecond() / int(time.Microsecond)))
}

// readAddr16 reads a 16-byte address field. IPv4 is encoded as 12 zero bytes
// followed by the address, so an all-zero prefix means IPv4.
func readAddr16(s *cryptobyte.String, out *netip.Addr) bool {
	var raw []byte
	if !s.ReadBytes(&raw, 16) {
		return false
	}
	a := netip.AddrFrom16([16]byte(raw))
	if bytes.Equal(raw[:12], make([]byte, 12)) {
		a = netip.AddrFrom4([4]byte(raw[12:]))
	}
	*out = a
	return true
}

func appendAddr16(b *cryptobyte.Builder, a netip.Addr) {
	if !a.IsValid() || a.Is4() {
		b.AddBytes(make([]byte, 12))
		codec.AppendIPv4(b, a)
		return
	}
	codec.AppendIPv6(b, a)
}

func mismatch(expected string, m Message) error { return codec.Mismatch(expected, m) }

// readBGP consumes one BGP message from s and decodes it.
func (x *Extensions) readBGP(s *cryptobyte.String, what string) (bgp.Message, error) {
	n, err := bgp.MessageLength(*s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	var raw []byte
	if !s.ReadBytes(&raw, n) {
		return nil, codec.Truncated(what, n, len(*s))
	}
	m, err := x.BGP.ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return m, nil
}

func (x *Extensions) appendBGP(b *cryptobyte.Builder, m bgp.Message, what string) error {
	if err := x.BGP.AppendMessage(b, m); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (x *Extensions) parseRouteMonitoring(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	peer, err := readPeerHeader(&s)
	if err != nil {
		return nil, err
	}
	if s.Empty() {
		return nil, fmt.Errorf("bmp: no data after per-peer header")
	}
	m, err := x.readBGP(&s, "route monitoring update")
	if err != nil {
		return nil, err
	}
	u, ok := m.(*bgp.Update)
	if !ok {
		return nil, fmt.Errorf("bmp: route monitoring carries bgp message type %d, want UPDATE", m.MessageType())
	}
	tlvs, err := decoder(x.RouteMonitoringTLVs).Decode(s)
	if err != nil {
		return nil, fmt.Errorf("route monitoring tlvs: %w", err)
	}
	return &RouteMonitoring{Peer: peer, Update: u, TLVs: tlvs}, nil
}

func (x *Extensions) serializeRouteMonitoring(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*RouteMonitoring)
	if !ok {
		return mismatch("*bmp.RouteMonitoring", msg)
	}
	update, err := codec.Mandatory(m.Update, "update")
	if err != nil {
		return err
	}
	appendPeerHeader(b, &m.Peer)
	if err := x.appendBGP(b, &update, "route monitoring update"); err != nil {
		return err
	}
	return encoder(x.RouteMonitoringTLVs).AppendAll(b, m.TLVs)
}

func (x *Extensions) parseStatisticsReport(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	peer, err := readPeerHeader(&s)
	if err != nil {
		return nil, err
	}
	var count uint32
	if !s.ReadUint32(&count) {
		return nil, codec.Truncated("bmp stats count", 4, len(s))
	}
	m := &StatisticsReport{Peer: peer}
	var seen uint32
	err = codec.BMPFormat.Walk(s, func(t codec.TLV) error {
		seen++
		p, ok := x.StatisticsTLVs.Parser(t.Type)
		if !ok {
			codec.NotifySkipped(codec.BMPFormat.Name, t.Type)
			return nil
		}
		v, err := p.Parse(t.Value)
		if err != nil {
			return fmt.Errorf("bmp stat %d: %w", t.Type, err)
		}
		m.Stats = append(m.Stats, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if seen != count {
		return nil, fmt.Errorf("bmp: stats count %d but %d entries present", count, seen)
	}
	return m, nil
}

func (x *Extensions) serializeStatisticsReport(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*StatisticsReport)
	if !ok {
		return mismatch("*bmp.StatisticsReport", msg)
	}
	appendPeerHeader(b, &m.Peer)
	b.AddUint32(uint32(len(m.Stats)))
	return encoder(x.StatisticsTLVs).AppendAll(b, m.Stats)
}

func (x *Extensions) parsePeerDown(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	peer, err := readPeerHeader(&s)
	if err != nil {
		return nil, err
	}
	m := &PeerDown{Peer: peer}
	if !s.ReadUint8(&m.Reason) {
		return nil, codec.Truncated("bmp peer down reason", 1, 0)
	}
	switch m.Reason {
	case PeerDownLocalNotification, PeerDownRemoteNotification:
		msg, err := x.readBGP(&s, "peer down notification")
		if err != nil {
			return nil, err
		}
		n, ok := msg.(*bgp.Notification)
		if !ok {
			return nil, fmt.Errorf("bmp: peer down carries bgp message type %d, want NOTIFICATION", msg.MessageType())
		}
		m.Notification = n
	case PeerDownLocalNoNotification:
		if !s.ReadUint16(&m.FSMEvent) {
			return nil, codec.Truncated("bmp peer down fsm event", 2, len(s))
		}
	default:
		m.Data = codec.Clone(s)
	}
	return m, nil
}

func (x *Extensions) serializePeerDown(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*PeerDown)
	if !ok {
		return mismatch("*bmp.PeerDown", msg)
	}
	appendPeerHeader(b, &m.Peer)
	b.AddUint8(m.Reason)
	switch m.Reason {
	case PeerDownLocalNotification, PeerDownRemoteNotification:
		n, err := codec.Mandatory(m.Notification, "notification")
		if err != nil {
			return err
		}
		return x.appendBGP(b, &n, "peer down notification")
	case PeerDownLocalNoNotification:
		b.AddUint16(m.FSMEvent)
	default:
		b.AddBytes(m.Data)
	}
	return nil
}

// hasSessionFields reports whether a peer up body, positioned after the
// per-peer header, carries the local address, ports and OPEN messages.
// Loc-RIB speakers may send the information TLVs directly.
func hasSessionFields(s cryptobyte.String) bool {
	const sentOpenOffset = 16 + 2 + 2
	return len(s) >= sentOpenOffset+bgp.BGPHeaderSize &&
		bytes.Equal(s[sentOpenOffset:sentOpenOffset+bgp.BGPMarkerSize], bytes.Repeat([]byte{0xff}, bgp.BGPMarkerSize))
}

func (x *Extensions) parsePeerUp(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	peer, err := readPeerHeader(&s)
	if err != nil {
		return nil, err
	}
	m := &PeerUp{Peer: peer}
	if !peer.IsLocRIB() || hasSessionFields(s) {
		if !readAddr16(&s, &m.LocalAddress) || !s.ReadUint16(&m.LocalPort) || !s.ReadUint16(&m.RemotePort) {
			return nil, codec.Truncated("bmp peer up session", 20, len(s))
		}
		if m.SentOpen, err = x.readOpen(&s, "peer up sent open"); err != nil {
			return nil, err
		}
		if m.ReceivedOpen, err = x.readOpen(&s, "peer up received open"); err != nil {
			return nil, err
		}
	}
	if m.Info, err = decoder(x.PeerUpTLVs).Decode(s); err != nil {
		return nil, fmt.Errorf("peer up tlvs: %w", err)
	}
	return m, nil
}

func (x *Extensions) readOpen(s *cryptobyte.String, what string) (*bgp.Open, error) {
	msg, err := x.readBGP(s, what)
	if err != nil {
		return nil, err
	}
	o, ok := msg.(*bgp.Open)
	if !ok {
		return nil, fmt.Errorf("bmp: %s is bgp message type %d, want OPEN", what, msg.MessageType())
	}
	return o, nil
}

func (x *Extensions) serializePeerUp(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*PeerUp)
	if !ok {
		return mismatch("*bmp.PeerUp", msg)
	}
	appendPeerHeader(b, &m.Peer)
	if !m.Peer.IsLocRIB() || m.SentOpen != nil || m.ReceivedOpen != nil {
		sent, err := codec.Mandatory(m.SentOpen, "sent open")
		if err != nil {
			return err
		}
		received, err := codec.Mandatory(m.ReceivedOpen, "received open")
		if err != nil {
			return err
		}
		appendAddr16(b, m.LocalAddress)
		b.AddUint16(m.LocalPort)
		b.AddUint16(m.RemotePort)
		if err := x.appendBGP(b, &sent, "peer up sent open"); err != nil {
			return err
		}
		if err := x.appendBGP(b, &received, "peer up received open"); err != nil {
			return err
		}
	}
	return encoder(x.PeerUpTLVs).AppendAll(b, m.Info)
}

func (x *Extensions) parseInitiation(body []byte) (Message, error) {
	tlvs, err := decoder(x.InitiationTLVs).Decode(body)
	if err != nil {
		return nil, fmt.Errorf("initiation tlvs: %w", err)
	}
	m := &Initiation{}
	for _, t := range tlvs {
		switch v := t.(type) {
		case *SysNameTLV:
			m.SysName = &v.Value
		case *SysDescrTLV:
			m.SysDescr = &v.Value
		case *StringTLV:
			m.Strings = append(m.Strings, v.Value)
		default:
			m.Extra = append(m.Extra, t)
		}
	}
	if _, err := initiationMandatory(m); err != nil {
		return nil, err
	}
	return m, nil
}

func initiationMandatory(m *Initiation) ([]TLV, error) {
	if m.SysName == nil {
		return nil, &codec.MandatoryFieldError{Field: "name", Code: "sysName"}
	}
	if m.SysDescr == nil {
		return nil, &codec.MandatoryFieldError{Field: "description", Code: "sysDescr"}
	}
	return []TLV{&SysNameTLV{Value: *m.SysName}, &SysDescrTLV{Value: *m.SysDescr}}, nil
}

func (x *Extensions) serializeInitiation(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*Initiation)
	if !ok {
		return mismatch("*bmp.Initiation", msg)
	}
	tlvs, err := initiationMandatory(m)
	if err != nil {
		return err
	}
	for _, str := range m.Strings {
		tlvs = append(tlvs, &StringTLV{Value: str})
	}
	return encoder(x.InitiationTLVs).AppendAll(b, append(tlvs, m.Extra...))
}

func (x *Extensions) parseTermination(body []byte) (Message, error) {
	tlvs, err := decoder(x.TerminationTLVs).Decode(body)
	if err != nil {
		return nil, fmt.Errorf("termination tlvs: %w", err)
	}
	m := &Termination{}
	for _, t := range tlvs {
		switch v := t.(type) {
		case *ReasonTLV:
			m.Reason = &v.Reason
		case *StringTLV:
			m.Strings = append(m.Strings, v.Value)
		default:
			m.Extra = append(m.Extra, t)
		}
	}
	if m.Reason == nil {
		return nil, &codec.MandatoryFieldError{Field: "reason"}
	}
	return m, nil
}

func (x *Extensions) serializeTermination(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*Termination)
	if !ok {
		return mismatch("*bmp.Termination", msg)
	}
	reason, err := codec.Mandatory(m.Reason, "reason")
	if err != nil {
		return err
	}
	tlvs := []TLV{&ReasonTLV{Reason: reason}}
	for _, str := range m.Strings {
		tlvs = append(tlvs, &StringTLV{Value: str})
	}
	return encoder(x.TerminationTLVs).AppendAll(b, append(tlvs, m.Extra...))
}

func (x *Extensions) parseRouteMirroring(body []byte) (Message, error) {
	s := cryptobyte.String(body)
	peer, err := readPeerHeader(&s)
	if err != nil {
		return nil, err
	}
	tlvs, err := decoder(x.MirroringTLVs).Decode(s)
	if err != nil {
		return nil, fmt.Errorf("route mirroring tlvs: %w", err)
	}
	return &RouteMirroring{Peer: peer, TLVs: tlvs}, nil
}

func (x *Extensions) serializeRouteMirroring(msg Message, b *cryptobyte.Builder) error {
	m, ok := msg.(*RouteMirroring)
	if !ok {
		return mismatch("*bmp.RouteMirroring", msg)
	}
	appendPeerHeader(b, &m.Peer)
	return encoder(x.MirroringTLVs).AppendAll(b, m.TLVs)
}
