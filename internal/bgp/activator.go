package bgp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
)

// Activator registers the BGP message, capability, extended community and
// address family handlers into an Extensions instance.
type Activator struct{}

func (Activator) Name() string { return "bgp" }

// Start registers every handler. On error the registrations made so far
// are undone.
func (Activator) Start(x *Extensions) (*registry.Set, error) {
	set := &registry.Set{}
	if err := register(x, set); err != nil {
		set.Close()
		return nil, fmt.Errorf("bgp activator: %w", err)
	}
	return set, nil
}

type msgParser = codec.ParserFunc[Message]
type msgSerializer = codec.SerializerFunc[Message]

func register(x *Extensions, set *registry.Set) error {
	messages := []struct {
		typ uint8
		p   codec.Parser[Message]
		s   codec.Serializer[Message]
	}{
		{MsgTypeOpen, msgParser(x.parseOpen), msgSerializer(x.serializeOpen)},
		{MsgTypeUpdate, msgParser(parseUpdate), msgSerializer(serializeUpdate)},
		{MsgTypeNotification, msgParser(parseNotification), msgSerializer(serializeNotification)},
		{MsgTypeKeepalive, msgParser(parseKeepalive), msgSerializer(serializeKeepalive)},
	}
	for _, m := range messages {
		if err := set.Add(x.Messages.RegisterParser(m.typ, m.p)); err != nil {
			return err
		}
		if err := set.Add(x.Messages.RegisterSerializer(m.typ, m.s)); err != nil {
			return err
		}
	}

	set.Add(x.Capabilities.Register(CapMultiprotocol, multiprotocolCodec{}), nil)
	set.Add(x.Capabilities.Register(CapRouteRefresh, routeRefreshCodec{}), nil)
	set.Add(x.Capabilities.Register(CapFourOctetAS, fourOctetASCodec{}), nil)
	set.Add(x.Capabilities.Register(CapAddPath, addPathCodec{}), nil)

	type extEntry struct {
		key ExtCommunityKey
		p   codec.Parser[ExtendedCommunity]
		s   codec.Serializer[ExtendedCommunity]
	}
	var ext []extEntry
	for _, nt := range []bool{false, true} {
		for _, sub := range []uint8{ExtSubtypeRouteTarget, ExtSubtypeRouteOrigin} {
			ext = append(ext,
				extEntry{ExtCommunityKey{extType(ExtTypeAS2, nt), sub}, as2SpecificParser(nt, sub), as2SpecificSerializer},
				extEntry{ExtCommunityKey{extType(ExtTypeIPv4, nt), sub}, ipv4SpecificParser(nt, sub), ipv4SpecificSerializer},
				extEntry{ExtCommunityKey{extType(ExtTypeAS4, nt), sub}, as4SpecificParser(nt, sub), as4SpecificSerializer},
			)
		}
		ext = append(ext, extEntry{ExtCommunityKey{extType(ExtTypeAS2, nt), ExtSubtypeLinkBandwidth}, linkBandwidthParser(nt), linkBandwidthSerializer})
	}
	ext = append(ext, extEntry{ExtCommunityKey{ExtTypeOpaque, ExtSubtypeEncapsulation}, encapsulationParser, encapsulationSerializer})
	for _, e := range ext {
		if err := set.Add(x.ExtCommunities.RegisterParser(e.key, e.p)); err != nil {
			return err
		}
		if err := set.Add(x.ExtCommunities.RegisterSerializer(e.key, e.s)); err != nil {
			return err
		}
	}

	afis := map[uint16]string{AFIIPv4: "ipv4", AFIIPv6: "ipv6"}
	for code, name := range afis {
		if err := set.Add(x.AFIs.RegisterParser(code, name)); err != nil {
			return err
		}
		if err := set.Add(x.AFIs.RegisterSerializer(name, code)); err != nil {
			return err
		}
	}
	safis := map[uint8]string{SAFIUnicast: "unicast", SAFIMulticast: "multicast", SAFIMPLSLabel: "labeled-unicast", SAFIMPLSVPN: "mpls-vpn"}
	for code, name := range safis {
		if err := set.Add(x.SAFIs.RegisterParser(code, name)); err != nil {
			return err
		}
		if err := set.Add(x.SAFIs.RegisterSerializer(name, code)); err != nil {
			return err
		}
	}
	return nil
}
