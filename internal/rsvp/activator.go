package rsvp

import (
	"fmt"

	"github.com/route-beacon/wirecodec/internal/codec"
	"github.com/route-beacon/wirecodec/internal/registry"
)

// Activator registers the route sub-objects and label C-types.
type Activator struct{}

func (Activator) Name() string { return "rsvp" }

// Start registers every handler. On error the registrations made so far
// are undone.
func (Activator) Start(x *Extensions) (*registry.Set, error) {
	set := &registry.Set{}
	if err := register(x, set); err != nil {
		set.Close()
		return nil, fmt.Errorf("rsvp activator: %w", err)
	}
	return set, nil
}

type subEntry struct {
	typ uint16
	p   codec.Parser[Subobject]
	s   codec.Serializer[Subobject]
}

func registerSubobjects(r *SubobjectRegistry, set *registry.Set, entries []subEntry) error {
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
	labels := []struct {
		ctype uint8
		p     codec.Parser[LabelValue]
		s     codec.Serializer[LabelValue]
	}{
		{LabelCTypeType1, type1LabelParser, type1LabelSerializer},
		{LabelCTypeGeneralized, generalizedLabelParser, generalizedLabelSerializer},
		{LabelCTypeWaveband, wavebandLabelParser, wavebandLabelSerializer},
	}
	for _, l := range labels {
		if err := set.Add(x.Labels.RegisterParser(l.ctype, l.p)); err != nil {
			return err
		}
		if err := set.Add(x.Labels.RegisterSerializer(l.ctype, l.s)); err != nil {
			return err
		}
	}

	err := registerSubobjects(x.RRO, set, []subEntry{
		{SubobjectIPv4Prefix, prefixParser(false, true), prefixSerializer(true)},
		{SubobjectIPv6Prefix, prefixParser(true, true), prefixSerializer(true)},
		{SubobjectLabel, x.labelParser(true), x.labelSerializer(true)},
		{SubobjectUnnumbered, unnumberedParser(true), unnumberedSerializer(true)},
	})
	if err != nil {
		return err
	}
	return registerSubobjects(x.ERO, set, []subEntry{
		{SubobjectIPv4Prefix, prefixParser(false, false), prefixSerializer(false)},
		{SubobjectIPv6Prefix, prefixParser(true, false), prefixSerializer(false)},
		{SubobjectLabel, x.labelParser(false), x.labelSerializer(false)},
		{SubobjectUnnumbered, unnumberedParser(false), unnumberedSerializer(false)},
		{SubobjectASNumber, asNumberParser, asNumberSerializer},
	})
}
