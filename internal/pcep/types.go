// Package pcep decodes and encodes PCEP objects and TLVs (RFC 5440 and the
// stateful, segment routing, auto-bandwidth and binding extensions).
package pcep

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
)

// TLV type codes.
const (
	TLVTypeNoPathVector            uint16 = 1
	TLVTypeStatefulCapability      uint16 = 16
	TLVTypeSymbolicPathName        uint16 = 17
	TLVTypeIPv4LSPIdentifiers      uint16 = 18
	TLVTypeIPv6LSPIdentifiers      uint16 = 19
	TLVTypeLSPErrorCode            uint16 = 20
	TLVTypeLSPDBVersion            uint16 = 23
	TLVTypeSpeakerEntityID         uint16 = 24
	TLVTypeSRPCECapability         uint16 = 26
	TLVTypePathSetupType           uint16 = 28
	TLVTypePathSetupTypeCapability uint16 = 34
	TLVTypeAutoBandwidthCapability uint16 = 36
	TLVTypeAutoBandwidthAttributes uint16 = 37
	TLVTypePathBinding             uint16 = 55
)

// Path setup types (RFC 8408, RFC 8664).
const (
	PSTRSVPTE         uint8 = 0
	PSTSegmentRouting uint8 = 1
	PSTSRv6           uint8 = 3
)

// ObjectHeaderSize is the size of the common object header.
const ObjectHeaderSize = 4

const (
	objectFlagIgnore  = 0x01
	objectFlagProcess = 0x02
	objectTypeMask    = 0xf0
)

// Object classes and types.
const (
	ObjectClassOpen      uint8 = 1
	ObjectClassBandwidth uint8 = 5
	ObjectClassLSP       uint8 = 32
	ObjectClassSRP       uint8 = 33
)

// TLV is one decoded PCEP TLV.
type TLV interface {
	codec.Coded
}

// ObjectKey identifies an object by class and type.
type ObjectKey struct {
	Class uint8
	Type  uint8
}

// Code packs the key the way it is registered: class<<4 | type.
func (k ObjectKey) Code() uint16 { return uint16(k.Class)<<4 | uint16(k.Type&0x0f) }

func (k ObjectKey) String() string { return fmt.Sprintf("%d/%d", k.Class, k.Type) }

// KeyFromCode reverses ObjectKey.Code.
func KeyFromCode(code uint16) ObjectKey {
	return ObjectKey{Class: uint8(code >> 4), Type: uint8(code & 0x0f)}
}

// ObjectHeader holds the P and I flags of the common object header.
type ObjectHeader struct {
	Processing bool // P: the object must be taken into account by the PCE
	Ignore     bool // I: the PCE ignored the object
}

// Header gives access to the embedded flags.
func (h *ObjectHeader) Header() *ObjectHeader { return h }

// Object is one decoded PCEP object.
type Object interface {
	Key() ObjectKey
	Header() *ObjectHeader
}
