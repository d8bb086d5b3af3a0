package imc

import (
	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/eid"
)

// PetitionSink re-enters the bundling pipeline to send an admin petition
// bundle: cmd/bpd wires this to the router's bundle-injection path,
// keeping this package free of a dependency on router/daemon.
type PetitionSink func(dest eid.EID, p *bp.IMCPetition)

// Overlay is the IMC region/group overlay (C8): membership databases, the
// proxy petition protocol, briefing exchange, and destination expansion.
type Overlay struct {
	Local      eid.EID
	LocalNode  uint64
	HomeRegion uint64
	IsRouter   bool

	Regions *RegionDB
	Groups  *GroupDB
	Joins   *ManualJoins
	store   *Store

	Send         PetitionSink
	BriefingSend func(dest eid.EID, br *bp.IMCBriefing)
}

func NewOverlay(local eid.EID, localNode, homeRegion uint64, isRouter bool, store *Store) *Overlay {
	return &Overlay{
		Local:      local,
		LocalNode:  localNode,
		HomeRegion: homeRegion,
		IsRouter:   isRouter,
		Regions:    NewRegionDB(),
		Groups:     NewGroupDB(),
		Joins:      NewManualJoins(),
		store:      store,
	}
}

// SetHomeRegion changes the node's home region assertion, writing a
// persistent record and emitting region-membership add/remove operations
// for the local node, per §4.8.
func (o *Overlay) SetHomeRegion(region uint64, isRouter bool) {
	if o.HomeRegion == region && o.IsRouter == isRouter {
		return
	}
	if o.HomeRegion != 0 {
		o.Regions.DelNodeRangeFromRegion(o.HomeRegion, o.LocalNode, o.LocalNode)
	}
	o.HomeRegion, o.IsRouter = region, isRouter
	o.Regions.AddNodeRangeToRegion(region, isRouter, o.LocalNode, o.LocalNode)
	if o.store != nil {
		o.store.PersistDirty(o.Regions, o.Groups)
	}
}

// HandlePetition applies an incoming join/unjoin petition and, if this node
// is a router and the petition is not itself already a proxy relay, fans
// out the proxy protocol (§4.8).
func (o *Overlay) HandlePetition(p *bp.IMCPetition, source eid.EID, sourceRegion uint64) {
	sourceNode := source.Node
	fromHomeRegion := sourceRegion == o.HomeRegion

	if fromHomeRegion {
		o.applyGroup(o.Groups.AddNodeRangeToGroup, o.Groups.DelNodeRangeFromGroup, p.Group, sourceNode, p.Join)
	} else {
		o.applyGroup(o.Groups.AddNodeRangeToGroupForOuterRegions, o.Groups.DelNodeRangeFromGroupForOuterRegions, p.Group, sourceNode, p.Join)
	}
	if o.store != nil {
		o.store.PersistDirty(o.Regions, o.Groups)
	}

	if !o.IsRouter || p.IsProxy {
		return
	}

	seeded := appendUnique(appendUnique(append([]uint64(nil), p.ProcessedBy...), sourceNode), o.LocalNode)

	if fromHomeRegion {
		// Relay to every other home-region router and every outer-region
		// router, is-proxy set, loop-prevention list carried along.
		for _, r := range o.Regions.Routers(o.HomeRegion) {
			if r == o.LocalNode || contains(seeded, r) {
				continue
			}
			o.sendProxy(r, p.Group, p.Join, seeded)
		}
		for _, r := range o.outerRouters() {
			if contains(seeded, r) {
				continue
			}
			o.sendProxy(r, p.Group, p.Join, seeded)
		}
		return
	}

	// A join from an outer region: relay a proxy join for self to every
	// home-region router, so home peers forward group traffic through us
	// as the passageway.
	for _, r := range o.Regions.Routers(o.HomeRegion) {
		if r == o.LocalNode {
			continue
		}
		o.sendProxy(r, p.Group, p.Join, seeded)
	}
}

func (o *Overlay) applyGroup(add, del func(group, lo, hi uint64), group, node uint64, join bool) {
	if join {
		add(group, node, node)
	} else {
		del(group, node, node)
	}
}

// outerRouters returns routers known in any region other than HomeRegion.
func (o *Overlay) outerRouters() []uint64 {
	home := o.Regions.Routers(o.HomeRegion)
	var out []uint64
	for _, r := range o.Regions.AllRouters() {
		if !contains(home, r) {
			out = append(out, r)
		}
	}
	return out
}

func (o *Overlay) sendProxy(toNode, group uint64, join bool, processedBy []uint64) {
	if o.Send == nil {
		return
	}
	o.Send(eid.IPN(toNode, 0), &bp.IMCPetition{
		Group:       group,
		Join:        join,
		IsProxy:     true,
		ProcessedBy: processedBy,
	})
}

func contains(s []uint64, v uint64) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func appendUnique(s []uint64, v uint64) []uint64 {
	if contains(s, v) {
		return s
	}
	return append(s, v)
}
