package bmp

import (
	"encoding/hex"
	"fmt"
	"math"
	"net/netip"

	"golang.org/x/crypto/cryptobyte"
)

const (
	// OBMP v1.7 format (used by goBMP).
	obmpMagic        uint32 = 0x4F424D50 // "OBMP"
	obmpMinHeaderLen        = 12         // Minimum to read header_length and msg_length

	// OpenBMPHeaderSize is the size of the legacy v2 header:
	// version(2) + collector_hash(4) + msg_len(4).
	OpenBMPHeaderSize      = 10
	openBMPVersionExpected = 2
)

// Frame contains the decoded OpenBMP frame contents.
type Frame struct {
	BMP        []byte // Raw BMP message payload; aliases the frame.
	RouterIP   string // Router IP from the OBMP v1.7 header; empty if unavailable.
	RouterHash string // Router hash (hex) from the OBMP v1.7 header; empty if unavailable.
}

// DecodeOpenBMPFrame decodes an OpenBMP frame and extracts the BMP payload.
// Supports both OBMP v1.7 (goBMP) and legacy v2 formats. A zero
// maxPayloadBytes disables the size limit.
func DecodeOpenBMPFrame(data []byte, maxPayloadBytes int) (Frame, error) {
	s := cryptobyte.String(data)
	var magic uint32
	if !s.ReadUint32(&magic) {
		return Frame{}, fmt.Errorf("openbmp: frame too short (%d bytes)", len(data))
	}
	if magic == obmpMagic {
		return decodeOBMPv17(data, maxPayloadBytes)
	}
	return decodeLegacyV2(data, maxPayloadBytes)
}

func checkMsgLen(msgLen uint32, headerLen, maxPayloadBytes int) error {
	if msgLen == 0 {
		return fmt.Errorf("openbmp: msg_len is 0")
	}
	if uint64(msgLen) > uint64(math.MaxInt)-uint64(headerLen) {
		return fmt.Errorf("openbmp: msg_len %d overflows addressable size", msgLen)
	}
	if maxPayloadBytes > 0 && int(msgLen) > maxPayloadBytes {
		return fmt.Errorf("openbmp: msg_len %d exceeds limit %d", msgLen, maxPayloadBytes)
	}
	return nil
}

// decodeOBMPv17 parses the OBMP v1.7 header produced by goBMP.
//
// Header layout:
//
//	 0-3:  Magic (uint32) = 0x4F424D50 ("OBMP")
//	 4:    Version Major (uint8) = 1
//	 5:    Version Minor (uint8) = 7
//	 6-7:  Header Length (uint16), total header size
//	 8-11: BMP Message Length (uint32)
//	12:    Flags (uint8)
//	13:    Message Type (uint8)
//	14-17: Timestamp seconds (uint32)
//	18-21: Timestamp microseconds (uint32)
//	22-37: Collector Hash (16 bytes)
//	38-39: Collector Admin ID Length (uint16)
//	40..40+N: Collector Admin ID (N bytes)
//	40+N..55+N: Router Hash (16 bytes)
//	56+N..71+N: Router IP (16 bytes)
//	72+N..73+N: Router Group Length (uint16)
//	74+N..74+N+M: Router Group (M bytes)
//	74+N+M..77+N+M: Row Count (uint32)
func decodeOBMPv17(data []byte, maxPayloadBytes int) (Frame, error) {
	if len(data) < obmpMinHeaderLen {
		return Frame{}, fmt.Errorf("openbmp: v1.7 frame too short (%d bytes)", len(data))
	}
	s := cryptobyte.String(data[6:obmpMinHeaderLen])
	var headerLen uint16
	var msgLen uint32
	s.ReadUint16(&headerLen)
	s.ReadUint32(&msgLen)

	if int(headerLen) < obmpMinHeaderLen {
		return Frame{}, fmt.Errorf("openbmp: header_length %d too small", headerLen)
	}
	if int(headerLen) > len(data) {
		return Frame{}, fmt.Errorf("openbmp: header_length %d exceeds frame (%d bytes)", headerLen, len(data))
	}
	if err := checkMsgLen(msgLen, int(headerLen), maxPayloadBytes); err != nil {
		return Frame{}, err
	}
	totalLen := int(headerLen) + int(msgLen)
	if len(data) < totalLen {
		return Frame{}, fmt.Errorf("openbmp: frame truncated (have %d, need %d)", len(data), totalLen)
	}

	f := Frame{BMP: data[headerLen:totalLen]}

	// Router identity sits after the variable-length collector admin ID.
	h := cryptobyte.String(data[:headerLen])
	var adminID cryptobyte.String
	var routerHash, routerIP []byte
	if h.Skip(38) && h.ReadUint16LengthPrefixed(&adminID) &&
		h.ReadBytes(&routerHash, 16) && h.ReadBytes(&routerIP, 16) {
		f.RouterHash = hex.EncodeToString(routerHash)
		f.RouterIP = ParseOBMPRouterIP(routerIP)
	}
	return f, nil
}

// decodeLegacyV2 parses the simplified 10-byte OpenBMP v2 header.
// This format does not include router identity information.
func decodeLegacyV2(data []byte, maxPayloadBytes int) (Frame, error) {
	s := cryptobyte.String(data)
	var version uint16
	var msgLen uint32
	if !s.ReadUint16(&version) || !s.Skip(4) || !s.ReadUint32(&msgLen) {
		return Frame{}, fmt.Errorf("openbmp: frame too short (%d bytes, need %d)", len(data), OpenBMPHeaderSize)
	}
	if version != openBMPVersionExpected {
		return Frame{}, fmt.Errorf("openbmp: unrecognized format (no OBMP magic, version=%d)", version)
	}
	// collector_hash at offset 2-6 is ignored.
	if err := checkMsgLen(msgLen, OpenBMPHeaderSize, maxPayloadBytes); err != nil {
		return Frame{}, err
	}
	var payload []byte
	if !s.ReadBytes(&payload, int(msgLen)) {
		return Frame{}, fmt.Errorf("openbmp: frame truncated (have %d, need %d)", len(data), OpenBMPHeaderSize+int(msgLen))
	}
	return Frame{BMP: payload}, nil
}

// ParseOBMPRouterIP extracts a human-readable IP string from 16 bytes of
// OBMP router IP. Handles multiple encodings:
//   - IPv4 in first 4 bytes with 12 trailing zeros (goBMP format)
//   - IPv4 in last 4 bytes with 12 leading zeros (BMP per-peer style)
//   - IPv4-mapped IPv6 (::ffff:x.x.x.x)
//   - Full IPv6
func ParseOBMPRouterIP(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	a := netip.AddrFrom16([16]byte(b))
	switch {
	case a.IsUnspecified():
		return ""
	case a.Is4In6():
		return a.Unmap().String()
	case isZero(b[4:]):
		return netip.AddrFrom4([4]byte(b[:4])).String()
	case isZero(b[:12]):
		return netip.AddrFrom4([4]byte(b[12:])).String()
	}
	return a.String()
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
