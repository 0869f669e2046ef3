package pcep

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

type ObjectParserFunc func(x *Extensions, body []byte) (Object, error)

func (f ObjectParserFunc) ParseObject(x *Extensions, body []byte) (Object, error) { return f(x, body) }

type ObjectSerializerFunc func(x *Extensions, o Object, b *cryptobyte.Builder) error

func (f ObjectSerializerFunc) SerializeObject(x *Extensions, o Object, b *cryptobyte.Builder) error {
	return f(x, o, b)
}

// PCEPVersion is the only protocol version defined.
const PCEPVersion = 1

// Open starts a session (RFC 5440 §7.3).
type Open struct {
	ObjectHeader
	Version   uint8
	Keepalive uint8
	DeadTimer uint8
	SessionID uint8
	TLVs      []TLV
}

func (*Open) Key() ObjectKey { return ObjectKey{Class: ObjectClassOpen, Type: 1} }

// LSP operational states carried in the O field (RFC 8231 §7.3).
const (
	LSPDown uint8 = iota
	LSPUp
	LSPActive
	LSPGoingDown
	LSPGoingUp
)

const (
	lspFlagDelegate    = 0x001
	lspFlagSync        = 0x002
	lspFlagRemove      = 0x004
	lspFlagAdminister  = 0x008
	lspFlagCreate      = 0x080
	lspOperationalMask = 0x070
	lspMaxPLSPID       = 1<<20 - 1
)

// LSP describes one label switched path (RFC 8231 §7.3, RFC 8281 §5.3.1).
type LSP struct {
	ObjectHeader
	PLSPID         uint32
	Delegate       bool
	Sync           bool
	Remove         bool
	Administrative bool
	Create         bool
	Operational    uint8
	TLVs           []TLV
}

func (*LSP) Key() ObjectKey { return ObjectKey{Class: ObjectClassLSP, Type: 1} }

const srpFlagRemove = 0x01

// SRP correlates requests with reports (RFC 8231 §7.2).
type SRP struct {
	ObjectHeader
	Remove bool
	ID     uint32
	TLVs   []TLV
}

func (*SRP) Key() ObjectKey { return ObjectKey{Class: ObjectClassSRP, Type: 1} }

// Bandwidth is the requested bandwidth of a path (RFC 5440 §7.7).
type Bandwidth struct {
	ObjectHeader
	Bandwidth codec.Bandwidth
}

func (*Bandwidth) Key() ObjectKey { return ObjectKey{Class: ObjectClassBandwidth, Type: 1} }

func parseOpen(x *Extensions, body []byte) (Object, error) {
	if len(body) < 4 {
		return nil, codec.Truncated("open object", 4, len(body))
	}
	o := &Open{
		Version:   body[0] >> 5,
		Keepalive: body[1],
		DeadTimer: body[2],
		SessionID: body[3],
	}
	if o.Version != PCEPVersion {
		return nil, fmt.Errorf("unsupported version %d", o.Version)
	}
	tlvs, err := x.ParseTLVs(body[4:])
	if err != nil {
		return nil, err
	}
	o.TLVs = tlvs
	return o, nil
}

func serializeOpen(x *Extensions, obj Object, b *cryptobyte.Builder) error {
	o, ok := obj.(*Open)
	if !ok {
		return codec.Mismatch("*pcep.Open", obj)
	}
	version := o.Version
	if version == 0 {
		version = PCEPVersion
	}
	b.AddUint8(version << 5)
	b.AddUint8(o.Keepalive)
	b.AddUint8(o.DeadTimer)
	b.AddUint8(o.SessionID)
	return x.AppendTLVs(b, o.TLVs)
}

func parseLSP(x *Extensions, body []byte) (Object, error) {
	s := cryptobyte.String(body)
	var word uint32
	if !s.ReadUint32(&word) {
		return nil, codec.Truncated("lsp object", 4, len(body))
	}
	o := &LSP{
		PLSPID:         word >> 12,
		Delegate:       word&lspFlagDelegate != 0,
		Sync:           word&lspFlagSync != 0,
		Remove:         word&lspFlagRemove != 0,
		Administrative: word&lspFlagAdminister != 0,
		Create:         word&lspFlagCreate != 0,
		Operational:    uint8(word&lspOperationalMask) >> 4,
	}
	tlvs, err := x.ParseTLVs(s)
	if err != nil {
		return nil, err
	}
	o.TLVs = tlvs
	return o, nil
}

func serializeLSP(x *Extensions, obj Object, b *cryptobyte.Builder) error {
	o, ok := obj.(*LSP)
	if !ok {
		return codec.Mismatch("*pcep.LSP", obj)
	}
	if o.PLSPID > lspMaxPLSPID {
		return fmt.Errorf("plsp-id %d exceeds 20 bits", o.PLSPID)
	}
	word := o.PLSPID<<12 | uint32(o.Operational&0x07)<<4
	for _, f := range []struct {
		set  bool
		mask uint32
	}{
		{o.Delegate, lspFlagDelegate},
		{o.Sync, lspFlagSync},
		{o.Remove, lspFlagRemove},
		{o.Administrative, lspFlagAdminister},
		{o.Create, lspFlagCreate},
	} {
		if f.set {
			word |= f.mask
		}
	}
	b.AddUint32(word)
	return x.AppendTLVs(b, o.TLVs)
}

func parseSRP(x *Extensions, body []byte) (Object, error) {
	s := cryptobyte.String(body)
	var flags uint32
	o := &SRP{}
	if !s.ReadUint32(&flags) || !s.ReadUint32(&o.ID) {
		return nil, codec.Truncated("srp object", 8, len(body))
	}
	o.Remove = flags&srpFlagRemove != 0
	tlvs, err := x.ParseTLVs(s)
	if err != nil {
		return nil, err
	}
	o.TLVs = tlvs
	return o, nil
}

func serializeSRP(x *Extensions, obj Object, b *cryptobyte.Builder) error {
	o, ok := obj.(*SRP)
	if !ok {
		return codec.Mismatch("*pcep.SRP", obj)
	}
	var flags uint32
	if o.Remove {
		flags |= srpFlagRemove
	}
	b.AddUint32(flags)
	b.AddUint32(o.ID)
	return x.AppendTLVs(b, o.TLVs)
}

func parseBandwidth(_ *Extensions, body []byte) (Object, error) {
	if len(body) != 4 {
		return nil, &codec.LengthError{What: "bandwidth object", Want: 4, Have: len(body)}
	}
	s := cryptobyte.String(body)
	o := &Bandwidth{}
	codec.ReadBandwidth(&s, &o.Bandwidth)
	return o, nil
}

func serializeBandwidth(_ *Extensions, obj Object, b *cryptobyte.Builder) error {
	o, ok := obj.(*Bandwidth)
	if !ok {
		return codec.Mismatch("*pcep.Bandwidth", obj)
	}
	codec.AppendBandwidth(b, &o.Bandwidth)
	return nil
}
