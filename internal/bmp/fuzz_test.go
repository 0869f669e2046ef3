package bmp

import (
	"testing"

	"github.com/route-beacon/wirecodec/internal/codec"
)

func FuzzParseMessage(f *testing.F) {
	f.Add(buildBMPRouteMonitoring(PeerTypeLocRIB, buildMinimalBGPUpdate()))
	f.Add([]byte{0x03, 0x00, 0x00, 0x00, 0x11, 0x04, 0x00, 0x02, 0x00, 0x02, 'r', '1', 0x00, 0x01, 0x00, 0x01, 'd'})
	f.Add([]byte{0x03, 0x00, 0x00, 0x00, 0x0c, 0x05, 0x00, 0x01, 0x00, 0x02, 0x00, 0x01})

	f.Fuzz(func(t *testing.T, data []byte) {
		x := newTestExtensions(t)
		m, err := x.ParseMessage(data)
		if err != nil {
			return
		}
		// Anything that decodes must encode again without panicking.
		_, _ = x.SerializeMessage(m)
		_, _ = x.ParseAll(data)
		_ = codec.BMPFormat.Walk(data, func(codec.TLV) error { return nil })
	})
}
