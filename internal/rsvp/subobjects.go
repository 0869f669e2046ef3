package rsvp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"golang.org/x/crypto/cryptobyte"
)

type subParser = codec.ParserFunc[Subobject]
type subSerializer = codec.SerializerFunc[Subobject]

func readProtection(s *cryptobyte.String, withAddressFlags bool) ProtectionFlags {
	flags, ok := codec.ReadBitArray(s, protectionFlagsSize)
	if !ok {
		return ProtectionFlags{}
	}
	f := ProtectionFlags{
		Available: flags.Get(protectionAvailable),
		InUse:     flags.Get(protectionInUse),
	}
	if withAddressFlags {
		f.Bandwidth = flags.Get(protectionBandwidth)
		f.Node = flags.Get(protectionNode)
	}
	return f
}

func appendProtection(b *cryptobyte.Builder, f ProtectionFlags, withAddressFlags bool) {
	flags := codec.NewBitArray(protectionFlagsSize)
	flags.SetBool(protectionAvailable, f.Available)
	flags.SetBool(protectionInUse, f.InUse)
	if withAddressFlags {
		flags.SetBool(protectionBandwidth, f.Bandwidth)
		flags.SetBool(protectionNode, f.Node)
	}
	flags.AppendTo(b)
}

// prefixParser decodes an IPv4 or IPv6 prefix hop. The trailing byte holds
// protection flags in a recorded route and is reserved in an explicit one.
func prefixParser(v6, recorded bool) codec.Parser[Subobject] {
	size, read, what := 6, codec.ReadIPv4Prefix, "ipv4 prefix sub-object"
	if v6 {
		size, read, what = 18, codec.ReadIPv6Prefix, "ipv6 prefix sub-object"
	}
	return subParser(func(v []byte) (Subobject, error) {
		if len(v) != size {
			return nil, &codec.LengthError{What: what, Want: size, Have: len(v)}
		}
		s := cryptobyte.String(v)
		sub := &IPPrefix{}
		if !read(&s, &sub.Prefix) {
			return nil, fmt.Errorf("%s: invalid prefix length %d", what, v[size-2])
		}
		if recorded {
			sub.Flags = readProtection(&s, true)
		}
		return sub, nil
	})
}

func prefixSerializer(recorded bool) codec.Serializer[Subobject] {
	return subSerializer(func(v Subobject, b *cryptobyte.Builder) error {
		sub, ok := v.(*IPPrefix)
		if !ok {
			return codec.Mismatch("*rsvp.IPPrefix", v)
		}
		if !sub.Prefix.IsValid() {
			return &codec.MandatoryFieldError{Field: "prefix"}
		}
		if sub.Prefix.Addr().Is6() {
			codec.AppendIPv6Prefix(b, sub.Prefix)
		} else {
			codec.AppendIPv4Prefix(b, sub.Prefix)
		}
		if recorded {
			appendProtection(b, sub.Flags, true)
		} else {
			b.AddUint8(0)
		}
		return nil
	})
}

const unnumberedSize = 10

func unnumberedParser(recorded bool) codec.Parser[Subobject] {
	return subParser(func(v []byte) (Subobject, error) {
		if len(v) != unnumberedSize {
			return nil, &codec.LengthError{What: "unnumbered sub-object", Want: unnumberedSize, Have: len(v)}
		}
		s := cryptobyte.String(v)
		sub := &Unnumbered{}
		if recorded {
			sub.Flags = readProtection(&s, false)
			s.Skip(1)
		} else {
			s.Skip(2)
		}
		s.ReadUint32(&sub.RouterID)
		s.ReadUint32(&sub.InterfaceID)
		return sub, nil
	})
}

func unnumberedSerializer(recorded bool) codec.Serializer[Subobject] {
	return subSerializer(func(v Subobject, b *cryptobyte.Builder) error {
		sub, ok := v.(*Unnumbered)
		if !ok {
			return codec.Mismatch("*rsvp.Unnumbered", v)
		}
		if recorded {
			appendProtection(b, sub.Flags, false)
			b.AddUint8(0)
		} else {
			b.AddUint16(0)
		}
		b.AddUint32(sub.RouterID)
		b.AddUint32(sub.InterfaceID)
		return nil
	})
}

var asNumberParser = subParser(func(v []byte) (Subobject, error) {
	if len(v) != 2 {
		return nil, &codec.LengthError{What: "as number sub-object", Want: 2, Have: len(v)}
	}
	s := cryptobyte.String(v)
	sub := &ASNumber{}
	codec.ReadAS2(&s, &sub.AS)
	return sub, nil
})

var asNumberSerializer = subSerializer(func(v Subobject, b *cryptobyte.Builder) error {
	sub, ok := v.(*ASNumber)
	if !ok {
		return codec.Mismatch("*rsvp.ASNumber", v)
	}
	codec.AppendAS2(b, sub.AS)
	return nil
})
