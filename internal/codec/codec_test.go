package codec

import (
	"errors"
	"math"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/cryptobyte"
)

func TestPadding(t *testing.T) {
	tests := []struct {
		format TLVFormat
		n      int
		want   int
	}{
		{PCEPFormat, 0, 0},
		{PCEPFormat, 1, 3},
		{PCEPFormat, 2, 2},
		{PCEPFormat, 3, 1},
		{PCEPFormat, 4, 0},
		{PCEPFormat, 17, 3},
		{BMPFormat, 3, 0},
		{RSVPFormat, 6, 0},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.format.Padding(tt.n), "%s value %d", tt.format.Name, tt.n)
		require.Zero(t, tt.format.EncodedLen(tt.n)%max(tt.format.Alignment, 1))
	}
}

func TestAppendTLV_PCEPPadded(t *testing.T) {
	got, err := PCEPFormat.Encode(17, []byte("abc"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x11, 0x00, 0x03, 'a', 'b', 'c', 0x00}, got)
}

func TestAppendTLV_RSVPLengthIncludesHeader(t *testing.T) {
	got, err := RSVPFormat.Encode(1, []byte{10, 0, 0, 0, 24, 0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x08, 10, 0, 0, 0, 24, 0x01}, got)
}

func TestAppendTLV_Overflow(t *testing.T) {
	_, err := RSVPFormat.Encode(1, make([]byte, 254))
	require.Error(t, err)
	_, err = RSVPFormat.Encode(300, nil)
	require.Error(t, err)
}

func TestReadTLV_SkipsPadding(t *testing.T) {
	data := []byte{
		0x00, 0x11, 0x00, 0x01, 'x', 0, 0, 0,
		0x00, 0x1c, 0x00, 0x04, 0, 0, 0, 1,
	}
	var got []TLV
	err := PCEPFormat.Walk(data, func(t TLV) error {
		got = append(got, t)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, uint16(17), got[0].Type)
	require.Equal(t, []byte("x"), got[0].Value)
	require.Equal(t, uint16(28), got[1].Type)
}

func TestReadTLV_ToleratesMissingTrailingPadding(t *testing.T) {
	data := []byte{0x00, 0x11, 0x00, 0x01, 'x'}
	s := cryptobyte.String(data)
	tlv, err := PCEPFormat.ReadTLV(&s)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), tlv.Value)
	require.True(t, s.Empty())
}

func TestReadTLV_Truncated(t *testing.T) {
	data := []byte{0x00, 0x02, 0x00, 0x0a, 'R', '1'}
	err := BMPFormat.Walk(data, func(TLV) error { return nil })
	var le *LengthError
	require.ErrorAs(t, err, &le)
	require.Equal(t, 10, le.Want)
	require.Equal(t, 2, le.Have)
}

func TestReadTLV_TruncatedHeader(t *testing.T) {
	err := BMPFormat.Walk([]byte{0x00, 0x02, 0x00}, func(TLV) error { return nil })
	var le *LengthError
	require.ErrorAs(t, err, &le)
}

func TestReadTLV_RSVPLengthBelowHeader(t *testing.T) {
	s := cryptobyte.String([]byte{0x01, 0x01})
	_, err := RSVPFormat.ReadTLV(&s)
	var le *LengthError
	require.ErrorAs(t, err, &le)
}

type stringTLV struct {
	typ uint16
	s   string
}

func (v stringTLV) Code() uint16 { return v.typ }

type mapSource map[uint16]Parser[stringTLV]

func (m mapSource) Parser(k uint16) (Parser[stringTLV], bool) {
	p, ok := m[k]
	return p, ok
}

type serSource map[uint16]Serializer[stringTLV]

func (m serSource) Serializer(k uint16) (Serializer[stringTLV], bool) {
	s, ok := m[k]
	return s, ok
}

func TestTLVDecoder_SkipsUnknown(t *testing.T) {
	var skipped []uint16
	SetSkipObserver(func(format string, typ uint16) {
		require.Equal(t, "bmp", format)
		skipped = append(skipped, typ)
	})
	defer SetSkipObserver(nil)

	parse := func(typ uint16) Parser[stringTLV] {
		return ParserFunc[stringTLV](func(v []byte) (stringTLV, error) {
			return stringTLV{typ: typ, s: string(v)}, nil
		})
	}
	d := TLVDecoder[stringTLV]{Format: BMPFormat, Parsers: mapSource{1: parse(1), 2: parse(2)}}
	data := []byte{
		0x00, 0x02, 0x00, 0x02, 'R', '1',
		0x00, 0x63, 0x00, 0x03, 1, 2, 3,
		0x00, 0x01, 0x00, 0x04, 'd', 'e', 's', 'c',
	}
	got, err := d.Decode(data)
	require.NoError(t, err)
	require.Equal(t, []stringTLV{{2, "R1"}, {1, "desc"}}, got)
	require.Equal(t, []uint16{99}, skipped)
}

func TestTLVDecoder_ParserError(t *testing.T) {
	boom := errors.New("boom")
	d := TLVDecoder[stringTLV]{Format: BMPFormat, Parsers: mapSource{
		1: ParserFunc[stringTLV](func([]byte) (stringTLV, error) { return stringTLV{}, boom }),
	}}
	_, err := d.Decode([]byte{0x00, 0x01, 0x00, 0x00})
	require.ErrorIs(t, err, boom)
}

func TestTLVEncoder(t *testing.T) {
	ser := SerializerFunc[stringTLV](func(v stringTLV, b *cryptobyte.Builder) error {
		b.AddBytes([]byte(v.s))
		return nil
	})
	e := TLVEncoder[stringTLV]{Format: PCEPFormat, Serializers: serSource{17: ser}}
	b := cryptobyte.NewBuilder(nil)
	require.NoError(t, e.AppendAll(b, []stringTLV{{17, "ab"}}))
	require.Equal(t, []byte{0, 17, 0, 2, 'a', 'b', 0, 0}, b.BytesOrPanic())

	err := e.Append(b, stringTLV{typ: 5})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestBitArray(t *testing.T) {
	a := NewBitArray(32)
	a.SetBool(31, true)
	a.SetBool(26, true)
	a.Set(30, nil)
	a.Set(29, Ptr(false))
	require.Equal(t, []byte{0, 0, 0, 0x21}, a.Bytes())
	require.True(t, a.Get(31))
	require.True(t, a.Get(26))
	require.False(t, a.Get(30))

	a.SetBool(26, false)
	require.Equal(t, []byte{0, 0, 0, 0x01}, a.Bytes())
}

func TestBitArray_MSBFirst(t *testing.T) {
	a := NewBitArray(8)
	a.SetBool(7, true)
	require.Equal(t, []byte{0x01}, a.Bytes())
	a.SetBool(0, true)
	require.Equal(t, []byte{0x81}, a.Bytes())
}

func TestBitArray_RoundTripClearsTail(t *testing.T) {
	a, err := BitArrayFrom([]byte{0xff}, 5)
	require.NoError(t, err)
	require.Equal(t, []byte{0xf8}, a.Bytes())
	for i := 0; i < 5; i++ {
		require.True(t, a.Get(i))
	}

	b, err := BitArrayFrom(a.Bytes(), 5)
	require.NoError(t, err)
	require.Equal(t, a.Bytes(), b.Bytes())

	_, err = BitArrayFrom(nil, 8)
	require.Error(t, err)
}

func TestBitArray_OutOfRangePanics(t *testing.T) {
	a := NewBitArray(8)
	require.Panics(t, func() { a.Get(8) })
}

func TestOptionalScalars(t *testing.T) {
	b := cryptobyte.NewBuilder(nil)
	AppendUint8(b, nil)
	AppendUint16(b, Ptr[uint16](0x0102))
	AppendUint32(b, nil)
	AppendUint64(b, Ptr[uint64](1))
	require.Equal(t, []byte{
		0,
		1, 2,
		0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0, 1,
	}, b.BytesOrPanic())
}

func TestMandatory(t *testing.T) {
	_, err := Mandatory[string](nil, "name (sysName)")
	require.EqualError(t, err, "The name (sysName) is mandatory field.")
	var mf *MandatoryFieldError
	require.ErrorAs(t, err, &mf)

	v, err := Mandatory(Ptr("R1"), "name")
	require.NoError(t, err)
	require.Equal(t, "R1", v)
}

func TestAddresses(t *testing.T) {
	b := cryptobyte.NewBuilder(nil)
	AppendIPv4(b, netip.MustParseAddr("192.0.2.1"))
	AppendIPv4(b, netip.Addr{})
	AppendIPv4Prefix(b, netip.MustParsePrefix("10.1.2.3/24"))
	AppendIPv6Prefix(b, netip.MustParsePrefix("2001:db8::1/32"))
	got := b.BytesOrPanic()

	s := cryptobyte.String(got)
	var a, zero netip.Addr
	var p4, p6 netip.Prefix
	require.True(t, ReadIPv4(&s, &a))
	require.True(t, ReadIPv4(&s, &zero))
	require.True(t, ReadIPv4Prefix(&s, &p4))
	require.True(t, ReadIPv6Prefix(&s, &p6))
	require.True(t, s.Empty())

	require.Equal(t, "192.0.2.1", a.String())
	require.Equal(t, "0.0.0.0", zero.String())
	require.Equal(t, "10.1.2.0/24", p4.String())
	require.Equal(t, "2001:db8::/32", p6.String())
	require.Equal(t, []byte{10, 1, 2, 0, 24}, got[8:13])
}

func TestAddresses_WrongFamily(t *testing.T) {
	b := cryptobyte.NewBuilder(nil)
	AppendIPv4(b, netip.MustParseAddr("2001:db8::1"))
	_, err := b.Bytes()
	var tm *TypeMismatchError
	require.ErrorAs(t, err, &tm)
}

func TestReadIPv4Prefix_RejectsLongLength(t *testing.T) {
	s := cryptobyte.String([]byte{10, 0, 0, 0, 33})
	var p netip.Prefix
	require.False(t, ReadIPv4Prefix(&s, &p))
}

func TestASNumbers(t *testing.T) {
	b := cryptobyte.NewBuilder(nil)
	AppendAS2(b, 24)
	AppendAS4(b, 4200000000)
	got := b.BytesOrPanic()
	require.Equal(t, []byte{0x00, 0x18, 0xfa, 0x56, 0xea, 0x00}, got)

	s := cryptobyte.String(got)
	var as2, as4 ASNumber
	require.True(t, ReadAS2(&s, &as2))
	require.True(t, ReadAS4(&s, &as4))
	require.Equal(t, ASNumber(24), as2)
	require.Equal(t, ASNumber(4200000000), as4)

	b = cryptobyte.NewBuilder(nil)
	AppendAS2(b, 70000)
	_, err := b.Bytes()
	require.Error(t, err)
}

func TestBandwidth(t *testing.T) {
	b := cryptobyte.NewBuilder(nil)
	AppendBandwidth(b, nil)
	AppendBandwidth(b, Ptr(Bandwidth(1000)))
	got := b.BytesOrPanic()
	require.Equal(t, []byte{0, 0, 0, 0}, got[:4])

	s := cryptobyte.String(got[4:])
	var bw Bandwidth
	require.True(t, ReadBandwidth(&s, &bw))
	require.Equal(t, Bandwidth(1000), bw)
	require.Equal(t, math.Float32bits(1000), uint32(got[4])<<24|uint32(got[5])<<16|uint32(got[6])<<8|uint32(got[7]))
}

func TestCounters(t *testing.T) {
	s := cryptobyte.String([]byte{0, 0, 0, 7, 0, 0, 0, 0, 0, 0, 1, 0})
	var c Counter32
	var g Gauge64
	require.True(t, ReadCounter32(&s, &c))
	require.True(t, ReadGauge64(&s, &g))
	require.Equal(t, Counter32(7), c)
	require.Equal(t, Gauge64(256), g)
}
