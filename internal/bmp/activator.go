package bmp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
)

// Activator registers the BMP message handlers and the information and
// statistics TLVs of every message family.
type Activator struct{}

func (Activator) Name() string { return "bmp" }

// Start registers every handler. On error the registrations made so far
// are undone.
func (Activator) Start(x *Extensions) (*registry.Set, error) {
	set := &registry.Set{}
	if err := register(x, set); err != nil {
		set.Close()
		return nil, fmt.Errorf("bmp activator: %w", err)
	}
	return set, nil
}

type msgParser = codec.ParserFunc[Message]
type msgSerializer = codec.SerializerFunc[Message]

type tlvEntry struct {
	typ uint16
	p   codec.Parser[TLV]
	s   codec.Serializer[TLV] // nil for parse-only aliases
}

func registerTLVs(r *TLVRegistry, set *registry.Set, entries []tlvEntry) error {
	for _, e := range entries {
		if err := set.Add(r.RegisterParser(e.typ, e.p)); err != nil {
			return err
		}
		if e.s == nil {
			continue
		}
		if err := set.Add(r.RegisterSerializer(e.typ, e.s)); err != nil {
			return err
		}
	}
	return nil
}

func register(x *Extensions, set *registry.Set) error {
	messages := []struct {
		typ uint8
		p   codec.Parser[Message]
		s   codec.Serializer[Message]
	}{
		{MsgTypeRouteMonitoring, msgParser(x.parseRouteMonitoring), msgSerializer(x.serializeRouteMonitoring)},
		{MsgTypeStatisticsReport, msgParser(x.parseStatisticsReport), msgSerializer(x.serializeStatisticsReport)},
		{MsgTypePeerDown, msgParser(x.parsePeerDown), msgSerializer(x.serializePeerDown)},
		{MsgTypePeerUp, msgParser(x.parsePeerUp), msgSerializer(x.serializePeerUp)},
		{MsgTypeInitiation, msgParser(x.parseInitiation), msgSerializer(x.serializeInitiation)},
		{MsgTypeTermination, msgParser(x.parseTermination), msgSerializer(x.serializeTermination)},
		{MsgTypeRouteMirroring, msgParser(x.parseRouteMirroring), msgSerializer(x.serializeRouteMirroring)},
	}
	for _, m := range messages {
		if err := set.Add(x.Messages.RegisterParser(m.typ, m.p)); err != nil {
			return err
		}
		if err := set.Add(x.Messages.RegisterSerializer(m.typ, m.s)); err != nil {
			return err
		}
	}

	families := []struct {
		r       *TLVRegistry
		entries []tlvEntry
	}{
		{x.InitiationTLVs, []tlvEntry{
			{TLVTypeString, stringParser, stringSerializer},
			{TLVTypeSysDescr, sysDescrParser, sysDescrSerializer},
			{TLVTypeSysName, sysNameParser, sysNameSerializer},
		}},
		{x.TerminationTLVs, []tlvEntry{
			{TLVTypeString, stringParser, stringSerializer},
			{TLVTypeReason, reasonParser, reasonSerializer},
		}},
		{x.PeerUpTLVs, []tlvEntry{
			{TLVTypeString, stringParser, stringSerializer},
			{TLVTypeTableName, tableNameParser, tableNameSerializer},
		}},
		{x.RouteMonitoringTLVs, []tlvEntry{
			{TLVTypeLegacyTableName, tableNameParser, nil},
			{TLVTypeTableName, tableNameParser, tableNameSerializer},
		}},
		{x.MirroringTLVs, []tlvEntry{
			{TLVTypeBGPMessage, bgpMessageParser, bgpMessageSerializer},
			{TLVTypeMirrorInfo, mirrorInfoParser, mirrorInfoSerializer},
		}},
	}
	for _, f := range families {
		if err := registerTLVs(f.r, set, f.entries); err != nil {
			return err
		}
	}

	var stats []tlvEntry
	for _, typ := range []uint16{
		StatRejectedPrefixes, StatDuplicateAdvertisement, StatDuplicateWithdraw,
		StatClusterListLoop, StatASPathLoop, StatOriginatorIDLoop, StatASConfedLoop,
		StatUpdateTreatAsWithdraw, StatPrefixTreatAsWithdraw, StatDuplicateUpdate,
	} {
		stats = append(stats, tlvEntry{typ, counterStatParser(typ), counterStatSerializer})
	}
	for _, typ := range []uint16{StatAdjRIBInRoutes, StatLocRIBRoutes} {
		stats = append(stats, tlvEntry{typ, gaugeStatParser(typ), gaugeStatSerializer})
	}
	for _, typ := range []uint16{StatAdjRIBInPerAFISAFI, StatLocRIBPerAFISAFI} {
		stats = append(stats, tlvEntry{typ, familyGaugeStatParser(typ), familyGaugeStatSerializer})
	}
	return registerTLVs(x.StatisticsTLVs, set, stats)
}
