// Package decode turns raw protocol bytes into typed values using the
// registries of an extension.Provider. It backs the decode command and the
// HTTP decode endpoint.
package decode

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/bmp"
	"github.com/route-beacon/wirecodec/internal/extension"
)

// Item is one decoded value with its Go type name.
type Item struct {
	Type   string `json:"type"`
	Offset *int   `json:"offset,omitempty"`
	Value  any    `json:"value"`
}

// ErrUnknownProtocol is returned for a protocol name Decode does not know.
var ErrUnknownProtocol = errors.New("unknown protocol")

type decodeFunc func(p *extension.Provider, data []byte) ([]Item, error)

var decoders = map[string]decodeFunc{
	"openbmp":     decodeOpenBMP,
	"bmp":         decodeBMP,
	"bgp":         decodeBGP,
	"bgp-extcomm": decodeExtCommunities,
	"pcep-tlv":    decodePCEPTLVs,
	"pcep-object": decodePCEPObjects,
	"rsvp-rro":    decodeRRO,
	"rsvp-ero":    decodeERO,
}

// Protocols lists the names accepted by Decode.
func Protocols() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Decode parses data as protocol. Items decoded before an error are
// returned with it.
func Decode(p *extension.Provider, protocol string, data []byte) ([]Item, error) {
	fn, ok := decoders[strings.ToLower(protocol)]
	if !ok {
		return nil, fmt.Errorf("%w %q (want one of %s)", ErrUnknownProtocol, protocol, strings.Join(Protocols(), ", "))
	}
	return fn(p, data)
}

// ParseHex decodes hex input, ignoring whitespace, colons and a 0x prefix.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex input: %w", err)
	}
	return b, nil
}

// Marshal renders items as "json" or "yaml".
func Marshal(items []Item, format string) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	out, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, err
	}
	switch format {
	case "json":
		return append(out, '\n'), nil
	case "yaml":
		return yaml.JSONToYAML(out)
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

func item(v any) Item {
	return Item{Type: typeName(v), Value: v}
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}

func items[T any](vs []T) []Item {
	out := make([]Item, 0, len(vs))
	for _, v := range vs {
		out = append(out, item(v))
	}
	return out
}

func decodeOpenBMP(p *extension.Provider, data []byte) ([]Item, error) {
	frame, err := bmp.DecodeOpenBMPFrame(data, 0)
	if err != nil {
		return nil, err
	}
	out := []Item{item(frame)}
	msgs, err := decodeBMP(p, frame.BMP)
	return append(out, msgs...), err
}

func decodeBMP(p *extension.Provider, data []byte) ([]Item, error) {
	decoded, err := p.BMP.ParseAll(data)
	out := make([]Item, 0, len(decoded))
	for _, d := range decoded {
		off := d.Offset
		it := item(d.Message)
		it.Offset = &off
		out = append(out, it)

		// Route monitoring also yields its route events, the way the
		// ingest pipeline stores them.
		if rm, ok := d.Message.(*bmp.RouteMonitoring); ok && rm.Update != nil {
			events, rerr := p.BGP.Routes(rm.Update, rm.Peer.AddPath())
			if rerr != nil {
				err = errors.Join(err, fmt.Errorf("offset %d routes: %w", off, rerr))
				continue
			}
			out = append(out, items(events)...)
		}
	}
	return out, err
}

func decodeBGP(p *extension.Provider, data []byte) ([]Item, error) {
	m, err := p.BGP.ParseMessage(data)
	if err != nil {
		return nil, err
	}
	out := []Item{item(m)}
	if u, ok := m.(*bgp.Update); ok {
		events, err := p.BGP.Routes(u, false)
		if err != nil {
			return out, err
		}
		out = append(out, items(events)...)
	}
	return out, nil
}

func decodeExtCommunities(p *extension.Provider, data []byte) ([]Item, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return nil, fmt.Errorf("extended communities: length %d is not a multiple of 8", len(data))
	}
	var out []Item
	for off := 0; off < len(data); off += 8 {
		c, err := p.BGP.ParseExtendedCommunity(data[off : off+8])
		if err != nil {
			return out, err
		}
		it := item(c)
		it.Value = map[string]any{"community": c.String(), "fields": c}
		out = append(out, it)
	}
	return out, nil
}

func decodePCEPTLVs(p *extension.Provider, data []byte) ([]Item, error) {
	tlvs, err := p.PCEP.ParseTLVs(data)
	return items(tlvs), err
}

func decodePCEPObjects(p *extension.Provider, data []byte) ([]Item, error) {
	objs, err := p.PCEP.ParseObjects(data)
	return items(objs), err
}

func decodeRRO(p *extension.Provider, data []byte) ([]Item, error) {
	subs, err := p.RSVP.ParseRRO(data)
	return items(subs), err
}

func decodeERO(p *extension.Provider, data []byte) ([]Item, error) {
	hops, err := p.RSVP.ParseERO(data)
	out := make([]Item, 0, len(hops))
	for _, h := range hops {
		out = append(out, Item{Type: typeName(h.Subobject), Value: h})
	}
	return out, err
}
