package pcep

import (
	"net/netip"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

// NoPathVector explains why a path computation failed (RFC 5440 §7.5).
type NoPathVector struct{ Flags uint32 }

func (*NoPathVector) Code() uint16 { return TLVTypeNoPathVector }

// SymbolicPathName is the stable name of an LSP (RFC 8231 §7.3.2).
type SymbolicPathName struct{ Name []byte }

func (*SymbolicPathName) Code() uint16 { return TLVTypeSymbolicPathName }

// LSPIdentifiers is the IPv4 or IPv6 LSP identifiers TLV (RFC 8231
// §7.3.1). The family of Sender selects the TLV type.
type LSPIdentifiers struct {
	Sender           netip.Addr
	LSPID            uint16
	TunnelID         uint16
	ExtendedTunnelID netip.Addr
	Endpoint         netip.Addr
}

func (t *LSPIdentifiers) Code() uint16 {
	if t.Sender.Is6() {
		return TLVTypeIPv6LSPIdentifiers
	}
	return TLVTypeIPv4LSPIdentifiers
}

// LSPErrorCode reports why an LSP update failed.
type LSPErrorCode struct{ ErrorCode uint32 }

func (*LSPErrorCode) Code() uint16 { return TLVTypeLSPErrorCode }

// LSPDBVersion is the LSP state database version (RFC 8232 §4.1).
type LSPDBVersion struct{ Version uint64 }

func (*LSPDBVersion) Code() uint16 { return TLVTypeLSPDBVersion }

// SpeakerEntityID identifies a PCEP speaker across sessions (RFC 8232 §4.2).
type SpeakerEntityID struct{ ID []byte }

func (*SpeakerEntityID) Code() uint16 { return TLVTypeSpeakerEntityID }

// PathSetupType selects how an LSP is signalled (RFC 8408 §3).
type PathSetupType struct{ PST uint8 }

func (*PathSetupType) Code() uint16 { return TLVTypePathSetupType }

type tlvParser = codec.ParserFunc[TLV]
type tlvSerializer = codec.SerializerFunc[TLV]

func exactLen(what string, v []byte, n int) error {
	if len(v) != n {
		return &codec.LengthError{What: what, Want: n, Have: len(v)}
	}
	return nil
}

var noPathVectorParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("no-path-vector", v, 4); err != nil {
		return nil, err
	}
	s := cryptobyte.String(v)
	t := &NoPathVector{}
	s.ReadUint32(&t.Flags)
	return t, nil
})

var noPathVectorSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*NoPathVector)
	if !ok {
		return codec.Mismatch("*pcep.NoPathVector", v)
	}
	b.AddUint32(t.Flags)
	return nil
})

var symbolicPathNameParser = tlvParser(func(v []byte) (TLV, error) {
	if len(v) == 0 {
		return nil, &codec.LengthError{What: "symbolic path name", Want: 1, Have: 0}
	}
	return &SymbolicPathName{Name: codec.Clone(v)}, nil
})

var symbolicPathNameSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*SymbolicPathName)
	if !ok {
		return codec.Mismatch("*pcep.SymbolicPathName", v)
	}
	if len(t.Name) == 0 {
		return &codec.MandatoryFieldError{Field: "path name"}
	}
	b.AddBytes(t.Name)
	return nil
})

func lspIdentifiersParser(v6 bool) codec.Parser[TLV] {
	size, read := 16, codec.ReadIPv4
	if v6 {
		size, read = 52, codec.ReadIPv6
	}
	return tlvParser(func(v []byte) (TLV, error) {
		if err := exactLen("lsp identifiers", v, size); err != nil {
			return nil, err
		}
		s := cryptobyte.String(v)
		t := &LSPIdentifiers{}
		read(&s, &t.Sender)
		s.ReadUint16(&t.LSPID)
		s.ReadUint16(&t.TunnelID)
		read(&s, &t.ExtendedTunnelID)
		read(&s, &t.Endpoint)
		return t, nil
	})
}

var lspIdentifiersSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*LSPIdentifiers)
	if !ok {
		return codec.Mismatch("*pcep.LSPIdentifiers", v)
	}
	if !t.Sender.IsValid() {
		return &codec.MandatoryFieldError{Field: "tunnel sender address"}
	}
	write := codec.AppendIPv4
	if t.Sender.Is6() {
		write = codec.AppendIPv6
	}
	write(b, t.Sender)
	b.AddUint16(t.LSPID)
	b.AddUint16(t.TunnelID)
	write(b, t.ExtendedTunnelID)
	write(b, t.Endpoint)
	return nil
})

var lspErrorCodeParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("lsp error code", v, 4); err != nil {
		return nil, err
	}
	s := cryptobyte.String(v)
	t := &LSPErrorCode{}
	s.ReadUint32(&t.ErrorCode)
	return t, nil
})

var lspErrorCodeSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*LSPErrorCode)
	if !ok {
		return codec.Mismatch("*pcep.LSPErrorCode", v)
	}
	b.AddUint32(t.ErrorCode)
	return nil
})

var lspDBVersionParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("lsp db version", v, 8); err != nil {
		return nil, err
	}
	s := cryptobyte.String(v)
	t := &LSPDBVersion{}
	s.ReadUint64(&t.Version)
	return t, nil
})

var lspDBVersionSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*LSPDBVersion)
	if !ok {
		return codec.Mismatch("*pcep.LSPDBVersion", v)
	}
	b.AddUint64(t.Version)
	return nil
})

var speakerEntityIDParser = tlvParser(func(v []byte) (TLV, error) {
	return &SpeakerEntityID{ID: codec.Clone(v)}, nil
})

var speakerEntityIDSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*SpeakerEntityID)
	if !ok {
		return codec.Mismatch("*pcep.SpeakerEntityID", v)
	}
	b.AddBytes(t.ID)
	return nil
})

var pathSetupTypeParser = tlvParser(func(v []byte) (TLV, error) {
	if err := exactLen("path setup type", v, 4); err != nil {
		return nil, err
	}
	return &PathSetupType{PST: v[3]}, nil
})

var pathSetupTypeSerializer = tlvSerializer(func(v TLV, b *cryptobyte.Builder) error {
	t, ok := v.(*PathSetupType)
	if !ok {
		return codec.Mismatch("*pcep.PathSetupType", v)
	}
	b.AddBytes([]byte{0, 0, 0, t.PST})
	return nil
})
