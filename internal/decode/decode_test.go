package decode

import (
	"encoding/json"
	"testing"

	"github.com/route-beacon/wirecodec/internal/bmp"
	"github.com/route-beacon/wirecodec/internal/extension"
	"github.com/route-beacon/wirecodec/internal/rsvp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newProvider(t *testing.T) *extension.Provider {
	t.Helper()
	p, err := extension.NewDefault(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestParseHex(t *testing.T) {
	b, err := ParseHex("0x01 08:0a\n000000 1801")
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x08, 0x0a, 0x00, 0x00, 0x00, 0x18, 0x01}, b)

	_, err = ParseHex("0g")
	require.ErrorContains(t, err, "invalid hex input")
}

func TestDecode_UnknownProtocol(t *testing.T) {
	_, err := Decode(newProvider(t), "ospf", []byte{1})
	require.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestProtocols_Sorted(t *testing.T) {
	require.Equal(t, []string{
		"bgp", "bgp-extcomm", "bmp", "openbmp", "pcep-object", "pcep-tlv", "rsvp-ero", "rsvp-rro",
	}, Protocols())
}

func TestDecode_RRO(t *testing.T) {
	items, err := Decode(newProvider(t), "rsvp-rro", []byte{0x01, 0x08, 0x0a, 0x00, 0x00, 0x00, 0x18, 0x01})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "rsvp.IPPrefix", items[0].Type)
	require.IsType(t, &rsvp.IPPrefix{}, items[0].Value)
}

func TestDecode_BMPInitiation(t *testing.T) {
	p := newProvider(t)
	name, descr := "r1", "router one"
	raw, err := p.BMP.SerializeMessage(&bmp.Initiation{SysName: &name, SysDescr: &descr})
	require.NoError(t, err)

	items, err := Decode(p, "BMP", raw)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "bmp.Initiation", items[0].Type)
	require.Equal(t, 0, *items[0].Offset)

	out, err := Marshal(items, "json")
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Equal(t, "bmp.Initiation", decoded[0]["type"])

	out, err = Marshal(items, "yaml")
	require.NoError(t, err)
	require.Contains(t, string(out), "type: bmp.Initiation")
}

func TestDecode_PartialResultsKeepError(t *testing.T) {
	p := newProvider(t)
	name, descr := "r1", "router one"
	good, err := p.BMP.SerializeMessage(&bmp.Initiation{SysName: &name, SysDescr: &descr})
	require.NoError(t, err)
	bad := []byte{bmp.BMPVersion, 0, 0, 0, 6, bmp.MsgTypeTermination}

	items, err := Decode(p, "bmp", append(append([]byte{}, good...), bad...))
	require.Error(t, err)
	require.Len(t, items, 1)
}

func TestDecode_ExtCommunityLength(t *testing.T) {
	_, err := Decode(newProvider(t), "bgp-extcomm", []byte{0, 2, 0, 1})
	require.ErrorContains(t, err, "multiple of 8")
}

func TestDecode_ExtCommunityOpaque(t *testing.T) {
	items, err := Decode(newProvider(t), "bgp-extcomm", []byte{0x43, 0xee, 1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "bgp.OpaqueExtCommunity", items[0].Type)
}

func TestMarshal_UnknownFormat(t *testing.T) {
	_, err := Marshal(nil, "xml")
	require.ErrorContains(t, err, "unknown output format")

	out, err := Marshal(nil, "json")
	require.NoError(t, err)
	require.Equal(t, "[]\n", string(out))
}
