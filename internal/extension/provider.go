// Package extension wires the protocol registries together. A Provider owns
// one Extensions value per protocol and keeps the registrations made by
// each protocol's activator until it is closed.
package extension

import (
	"errors"
	"fmt"
	"sync"

	"github.com/route-beacon/wirecodec/internal/bgp"
	"github.com/route-beacon/wirecodec/internal/bmp"
	"github.com/route-beacon/wirecodec/internal/pcep"
	"github.com/route-beacon/wirecodec/internal/registry"
	"github.com/route-beacon/wirecodec/internal/rsvp"
	"go.uber.org/zap"
)

// Activator registers the handlers of one protocol into x.
type Activator[X any] interface {
	Name() string
	Start(x X) (*registry.Set, error)
}

// ActivatorStatus reports how many registrations an activator holds.
type ActivatorStatus struct {
	Name          string `json:"name"`
	Registrations int    `json:"registrations"`
}

// RegistryStatus reports the number of parsers and serializers in one
// registry.
type RegistryStatus struct {
	Protocol    string `json:"protocol"`
	Registry    string `json:"registry"`
	Parsers     int    `json:"parsers"`
	Serializers int    `json:"serializers"`
}

type started struct {
	name string
	set  *registry.Set
}

// Provider owns the registries of every supported protocol.
type Provider struct {
	BGP  *bgp.Extensions
	BMP  *bmp.Extensions
	PCEP *pcep.Extensions
	RSVP *rsvp.Extensions

	logger *zap.Logger

	mu     sync.Mutex
	active []started
	closed bool
}

// New returns a Provider with empty registries. Call Start to populate
// them.
func New(logger *zap.Logger) *Provider {
	b := bgp.NewExtensions()
	return &Provider{
		BGP:    b,
		BMP:    bmp.NewExtensions(b),
		PCEP:   pcep.NewExtensions(),
		RSVP:   rsvp.NewExtensions(),
		logger: logger,
	}
}

// NewDefault returns a Provider with the BGP, BMP, PCEP and RSVP activators
// started.
func NewDefault(logger *zap.Logger) (*Provider, error) {
	p := New(logger)
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// Start runs the built-in activators. If one fails, the activators that
// already ran are closed.
func (p *Provider) Start() error {
	err := Run(p, bgp.Activator{}, p.BGP)
	if err == nil {
		err = Run(p, bmp.Activator{}, p.BMP)
	}
	if err == nil {
		err = Run(p, pcep.Activator{}, p.PCEP)
	}
	if err == nil {
		err = Run(p, rsvp.Activator{}, p.RSVP)
	}
	if err != nil {
		if cerr := p.Close(); cerr != nil {
			p.logger.Warn("closing partial registrations", zap.Error(cerr))
		}
		return err
	}
	return nil
}

// Run starts a against x and keeps its registrations until p is closed.
// Extra activators use this to add handlers to the provider's registries.
func Run[X any](p *Provider, a Activator[X], x X) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("activator %s: provider closed", a.Name())
	}
	set, err := a.Start(x)
	if err != nil {
		return err
	}
	p.active = append(p.active, started{name: a.Name(), set: set})
	p.logger.Info("activator started",
		zap.String("activator", a.Name()),
		zap.Int("registrations", set.Len()),
	)
	return nil
}

// Activators returns the started activators in start order.
func (p *Provider) Activators() []ActivatorStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ActivatorStatus, 0, len(p.active))
	for _, s := range p.active {
		out = append(out, ActivatorStatus{Name: s.name, Registrations: s.set.Len()})
	}
	return out
}

// Registries returns the size of every registry the provider owns.
func (p *Provider) Registries() []RegistryStatus {
	return []RegistryStatus{
		status("bgp", "messages", p.BGP.Messages),
		{Protocol: "bgp", Registry: "capabilities", Parsers: len(p.BGP.Capabilities.Keys()), Serializers: len(p.BGP.Capabilities.Keys())},
		status("bgp", "ext-communities", p.BGP.ExtCommunities),
		status("bgp", "afi", p.BGP.AFIs),
		status("bgp", "safi", p.BGP.SAFIs),
		status("bmp", "messages", p.BMP.Messages),
		status("bmp", "initiation-tlvs", p.BMP.InitiationTLVs),
		status("bmp", "termination-tlvs", p.BMP.TerminationTLVs),
		status("bmp", "peer-up-tlvs", p.BMP.PeerUpTLVs),
		status("bmp", "route-monitoring-tlvs", p.BMP.RouteMonitoringTLVs),
		status("bmp", "mirroring-tlvs", p.BMP.MirroringTLVs),
		status("bmp", "statistics-tlvs", p.BMP.StatisticsTLVs),
		status("pcep", "objects", p.PCEP.Objects),
		status("pcep", "tlvs", p.PCEP.TLVs),
		status("pcep", "path-setup-sub-tlvs", p.PCEP.PathSetupSubTLVs),
		status("rsvp", "rro", p.RSVP.RRO),
		status("rsvp", "ero", p.RSVP.ERO),
		status("rsvp", "labels", p.RSVP.Labels),
	}
}

func status[K, D comparable, P, S any](protocol, name string, r *registry.Registry[K, D, P, S]) RegistryStatus {
	return RegistryStatus{
		Protocol:    protocol,
		Registry:    name,
		Parsers:     len(r.ParserKeys()),
		Serializers: len(r.SerializerKeys()),
	}
}

// Close removes every registration in reverse start order. The provider
// cannot be started again.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	var errs []error
	for i := len(p.active) - 1; i >= 0; i-- {
		if err := p.active[i].set.Close(); err != nil {
			errs = append(errs, fmt.Errorf("activator %s: %w", p.active[i].name, err))
		}
	}
	p.active = nil
	return errors.Join(errs...)
}
