package codec

import (
	"fmt"
	"math"
	"net/netip"

	"golang.org/x/crypto/cryptobyte"
)

// Optional scalar writers. A nil value is encoded as zeros of the field
// width so fixed layouts stay aligned.

func AppendUint8(b *cryptobyte.Builder, v *uint8) {
	if v == nil {
		b.AddUint8(0)
		return
	}
	b.AddUint8(*v)
}

func AppendUint16(b *cryptobyte.Builder, v *uint16) {
	if v == nil {
		b.AddUint16(0)
		return
	}
	b.AddUint16(*v)
}

func AppendUint32(b *cryptobyte.Builder, v *uint32) {
	if v == nil {
		b.AddUint32(0)
		return
	}
	b.AddUint32(*v)
}

func AppendUint64(b *cryptobyte.Builder, v *uint64) {
	if v == nil {
		b.AddUint64(0)
		return
	}
	b.AddUint64(*v)
}

// Mandatory dereferences v or reports the named field as missing.
func Mandatory[T any](v *T, field string) (T, error) {
	if v == nil {
		var zero T
		return zero, &MandatoryFieldError{Field: field}
	}
	return *v, nil
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

// AppendIPv4 writes a 4-byte address. The zero Addr writes 0.0.0.0.
func AppendIPv4(b *cryptobyte.Builder, a netip.Addr) {
	if !a.IsValid() {
		b.AddBytes(make([]byte, 4))
		return
	}
	if !a.Is4() {
		b.SetError(&TypeMismatchError{Expected: "IPv4 address", Actual: a.String()})
		return
	}
	v := a.As4()
	b.AddBytes(v[:])
}

// AppendIPv6 writes a 16-byte address. The zero Addr writes ::.
func AppendIPv6(b *cryptobyte.Builder, a netip.Addr) {
	if !a.IsValid() {
		b.AddBytes(make([]byte, 16))
		return
	}
	if !a.Is6() {
		b.SetError(&TypeMismatchError{Expected: "IPv6 address", Actual: a.String()})
		return
	}
	v := a.As16()
	b.AddBytes(v[:])
}

func ReadIPv4(s *cryptobyte.String, out *netip.Addr) bool {
	var v [4]byte
	if !s.CopyBytes(v[:]) {
		return false
	}
	*out = netip.AddrFrom4(v)
	return true
}

func ReadIPv6(s *cryptobyte.String, out *netip.Addr) bool {
	var v [16]byte
	if !s.CopyBytes(v[:]) {
		return false
	}
	*out = netip.AddrFrom16(v)
	return true
}

// AppendIPv4Prefix writes the masked address followed by the prefix length.
func AppendIPv4Prefix(b *cryptobyte.Builder, p netip.Prefix) {
	if !p.IsValid() {
		b.AddBytes(make([]byte, 5))
		return
	}
	if !p.Addr().Is4() {
		b.SetError(&TypeMismatchError{Expected: "IPv4 prefix", Actual: p.String()})
		return
	}
	v := p.Masked().Addr().As4()
	b.AddBytes(v[:])
	b.AddUint8(uint8(p.Bits()))
}

// AppendIPv6Prefix writes the masked address followed by the prefix length.
func AppendIPv6Prefix(b *cryptobyte.Builder, p netip.Prefix) {
	if !p.IsValid() {
		b.AddBytes(make([]byte, 17))
		return
	}
	if !p.Addr().Is6() {
		b.SetError(&TypeMismatchError{Expected: "IPv6 prefix", Actual: p.String()})
		return
	}
	v := p.Masked().Addr().As16()
	b.AddBytes(v[:])
	b.AddUint8(uint8(p.Bits()))
}

// ReadIPv4Prefix reads a 4-byte address and a length byte. It fails on a
// length above 32.
func ReadIPv4Prefix(s *cryptobyte.String, out *netip.Prefix) bool {
	var a netip.Addr
	var bits uint8
	if !ReadIPv4(s, &a) || !s.ReadUint8(&bits) || bits > 32 {
		return false
	}
	*out = netip.PrefixFrom(a, int(bits)).Masked()
	return true
}

// ReadIPv6Prefix reads a 16-byte address and a length byte. It fails on a
// length above 128.
func ReadIPv6Prefix(s *cryptobyte.String, out *netip.Prefix) bool {
	var a netip.Addr
	var bits uint8
	if !ReadIPv6(s, &a) || !s.ReadUint8(&bits) || bits > 128 {
		return false
	}
	*out = netip.PrefixFrom(a, int(bits)).Masked()
	return true
}

// ASNumber is an autonomous system number. On the wire it is carried either
// as 2 or 4 octets, and the two encodings are not interchangeable.
type ASNumber uint32

// ASTrans stands in for a 4-octet AS in 2-octet fields (RFC 6793).
const ASTrans ASNumber = 23456

func (a ASNumber) Is2Octet() bool { return a <= math.MaxUint16 }

// AppendAS2 writes a 2-octet AS. Larger numbers are rejected.
func AppendAS2(b *cryptobyte.Builder, a ASNumber) {
	if !a.Is2Octet() {
		b.SetError(fmt.Errorf("AS %d does not fit in 2 octets", a))
		return
	}
	b.AddUint16(uint16(a))
}

func AppendAS4(b *cryptobyte.Builder, a ASNumber) {
	b.AddUint32(uint32(a))
}

func ReadAS2(s *cryptobyte.String, out *ASNumber) bool {
	var v uint16
	if !s.ReadUint16(&v) {
		return false
	}
	*out = ASNumber(v)
	return true
}

func ReadAS4(s *cryptobyte.String, out *ASNumber) bool {
	var v uint32
	if !s.ReadUint32(&v) {
		return false
	}
	*out = ASNumber(v)
	return true
}

// Bandwidth is an IEEE-754 single precision value in bytes per second.
type Bandwidth float32

// AppendBandwidth writes 4 bytes. A nil value writes zeros.
func AppendBandwidth(b *cryptobyte.Builder, v *Bandwidth) {
	if v == nil {
		b.AddUint32(0)
		return
	}
	b.AddUint32(math.Float32bits(float32(*v)))
}

func ReadBandwidth(s *cryptobyte.String, out *Bandwidth) bool {
	var v uint32
	if !s.ReadUint32(&v) {
		return false
	}
	*out = Bandwidth(math.Float32frombits(v))
	return true
}

// Counter32 is a wrapping 32-bit counter (RFC 2578 semantics).
type Counter32 uint32

// Gauge64 is a non-wrapping 64-bit gauge.
type Gauge64 uint64

func ReadCounter32(s *cryptobyte.String, out *Counter32) bool {
	var v uint32
	if !s.ReadUint32(&v) {
		return false
	}
	*out = Counter32(v)
	return true
}

func ReadGauge64(s *cryptobyte.String, out *Gauge64) bool {
	var v uint64
	if !s.ReadUint64(&v) {
		return false
	}
	*out = Gauge64(v)
	return true
}

// Clone returns a copy of b, or nil for an empty slice.
func Clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
