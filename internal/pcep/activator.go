package pcep

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
)

// Activator registers the PCEP objects and TLVs.
type Activator struct{}

func (Activator) Name() string { return "pcep" }

// Start registers every handler. On error the registrations made so far
// are undone.
func (Activator) Start(x *Extensions) (*registry.Set, error) {
	set := &registry.Set{}
	if err := register(x, set); err != nil {
		set.Close()
		return nil, fmt.Errorf("pcep activator: %w", err)
	}
	return set, nil
}

type tlvEntry struct {
	typ uint16
	p   codec.Parser[TLV]
	s   codec.Serializer[TLV]
}

func registerTLVs(r *TLVRegistry, set *registry.Set, entries []tlvEntry) error {
	for _, e := range entries {
		if err := set.Add(r.RegisterParser(e.typ, e.p)); err != nil {
			return err
		}
		if err := set.Add(r.RegisterSerializer(e.typ, e.s)); err != nil {
			return err
		}
	}
	return nil
}

func register(x *Extensions, set *registry.Set) error {
	objects := []struct {
		key ObjectKey
		p   ObjectParser
		s   ObjectSerializer
	}{
		{(&Open{}).Key(), ObjectParserFunc(parseOpen), ObjectSerializerFunc(serializeOpen)},
		{(&LSP{}).Key(), ObjectParserFunc(parseLSP), ObjectSerializerFunc(serializeLSP)},
		{(&SRP{}).Key(), ObjectParserFunc(parseSRP), ObjectSerializerFunc(serializeSRP)},
		{(&Bandwidth{}).Key(), ObjectParserFunc(parseBandwidth), ObjectSerializerFunc(serializeBandwidth)},
	}
	for _, o := range objects {
		if err := set.Add(x.Objects.RegisterParser(o.key.Code(), o.p)); err != nil {
			return err
		}
		if err := set.Add(x.Objects.RegisterSerializer(o.key.Code(), o.s)); err != nil {
			return err
		}
	}

	// LSP identifiers share one serializer. The TLV type follows the
	// sender address family.
	err := registerTLVs(x.TLVs, set, []tlvEntry{
		{TLVTypeNoPathVector, noPathVectorParser, noPathVectorSerializer},
		{TLVTypeStatefulCapability, statefulCapabilityParser, statefulCapabilitySerializer},
		{TLVTypeSymbolicPathName, symbolicPathNameParser, symbolicPathNameSerializer},
		{TLVTypeIPv4LSPIdentifiers, lspIdentifiersParser(false), lspIdentifiersSerializer},
		{TLVTypeIPv6LSPIdentifiers, lspIdentifiersParser(true), lspIdentifiersSerializer},
		{TLVTypeLSPErrorCode, lspErrorCodeParser, lspErrorCodeSerializer},
		{TLVTypeLSPDBVersion, lspDBVersionParser, lspDBVersionSerializer},
		{TLVTypeSpeakerEntityID, speakerEntityIDParser, speakerEntityIDSerializer},
		{TLVTypeSRPCECapability, srPCECapabilityParser, srPCECapabilitySerializer},
		{TLVTypePathSetupType, pathSetupTypeParser, pathSetupTypeSerializer},
		{TLVTypePathSetupTypeCapability, tlvParser(x.parsePathSetupTypeCapability), tlvSerializer(x.serializePathSetupTypeCapability)},
		{TLVTypeAutoBandwidthCapability, autoBandwidthCapabilityParser, autoBandwidthCapabilitySerializer},
		{TLVTypeAutoBandwidthAttributes, autoBandwidthAttributesParser, autoBandwidthAttributesSerializer},
		{TLVTypePathBinding, pathBindingParser, pathBindingSerializer},
	})
	if err != nil {
		return err
	}
	return registerTLVs(x.PathSetupSubTLVs, set, []tlvEntry{
		{TLVTypeSRPCECapability, srPCECapabilityParser, srPCECapabilitySerializer},
	})
}
