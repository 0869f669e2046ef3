package codec

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// BitArray is a fixed-size bit vector used for on-wire flag fields. Offsets
// are counted from the most significant bit of the first byte, the way flag
// positions are numbered in RFC diagrams.
type BitArray struct {
	size  int
	bytes []byte
}

// NewBitArray returns a zeroed array of size bits.
func NewBitArray(size int) *BitArray {
	if size < 0 {
		panic(fmt.Sprintf("codec: negative bit array size %d", size))
	}
	return &BitArray{size: size, bytes: make([]byte, (size+7)/8)}
}

// BitArrayFrom copies the first ceil(size/8) bytes of b. Bits beyond size in
// the last byte are cleared.
func BitArrayFrom(b []byte, size int) (*BitArray, error) {
	a := NewBitArray(size)
	if len(b) < len(a.bytes) {
		return nil, Truncated("bit array", len(a.bytes), len(b))
	}
	copy(a.bytes, b)
	a.clearTail()
	return a, nil
}

// ReadBitArray consumes ceil(size/8) bytes from s.
func ReadBitArray(s *cryptobyte.String, size int) (*BitArray, bool) {
	a := NewBitArray(size)
	if !s.CopyBytes(a.bytes) {
		return nil, false
	}
	a.clearTail()
	return a, true
}

func (a *BitArray) clearTail() {
	if rem := a.size % 8; rem != 0 {
		a.bytes[len(a.bytes)-1] &= byte(0xff << (8 - rem))
	}
}

func (a *BitArray) mask(offset int) (int, byte) {
	if offset < 0 || offset >= a.size {
		panic(fmt.Sprintf("codec: bit offset %d out of range [0,%d)", offset, a.size))
	}
	return offset / 8, 0x80 >> (offset % 8)
}

// Size returns the number of addressable bits.
func (a *BitArray) Size() int { return a.size }

// Get reports whether the bit at offset is set.
func (a *BitArray) Get(offset int) bool {
	i, m := a.mask(offset)
	return a.bytes[i]&m != 0
}

// Set assigns the bit at offset. A nil value leaves the bit unchanged.
func (a *BitArray) Set(offset int, v *bool) {
	if v == nil {
		return
	}
	a.SetBool(offset, *v)
}

func (a *BitArray) SetBool(offset int, v bool) {
	i, m := a.mask(offset)
	if v {
		a.bytes[i] |= m
	} else {
		a.bytes[i] &^= m
	}
}

// Bytes returns a copy of the encoded array.
func (a *BitArray) Bytes() []byte {
	out := make([]byte, len(a.bytes))
	copy(out, a.bytes)
	return out
}

// AppendTo writes the encoded array to b.
func (a *BitArray) AppendTo(b *cryptobyte.Builder) {
	b.AddBytes(a.bytes)
}
