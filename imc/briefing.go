package imc

import (
	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/eid"
)

// LocalBriefing builds this node's briefing in DTNME-native form: its home
// region's region table plus every group it has memberships recorded for,
// either as direct home-region joins or outer-region proxy joins (§4.8).
func (o *Overlay) LocalBriefing(syncRequest bool) *bp.IMCBriefing {
	br := &bp.IMCBriefing{
		Kind:        bp.BriefingDTNME,
		HomeRegion:  o.HomeRegion,
		SyncRequest: syncRequest,
	}
	for _, node := range o.Regions.Members(o.HomeRegion) {
		isRouter := contains(o.Regions.Routers(o.HomeRegion), node)
		br.Regions = append(br.Regions, bp.RegionRec{Node: node, IsRouter: isRouter})
	}
	br.Groups = o.knownGroups()
	return br
}

// knownGroups unions every group this overlay has ever recorded a home or
// outer membership for, encoding each as [group, nodes...] with removed
// nodes represented per §4.8 by... (removal is represented structurally by
// simply omitting a tombstoned node, since HomeMembers/OuterMembers only
// return live members; a 0 sentinel node is reserved for "group now empty"
// so the array is never ambiguous with "group not yet seen").
func (o *Overlay) knownGroups() []bp.GroupRec {
	seen := make(map[uint64]bool)
	var out []bp.GroupRec
	record := func(group uint64) {
		if seen[group] {
			return
		}
		seen[group] = true
		nodes := append(o.Groups.HomeMembers(group), o.Groups.OuterMembers(group)...)
		if len(nodes) == 0 {
			nodes = []uint64{0}
		}
		out = append(out, bp.GroupRec{Group: group, Nodes: nodes})
	}
	for g := range groupsOf(o.Groups, true) {
		record(g)
	}
	for g := range groupsOf(o.Groups, false) {
		record(g)
	}
	return out
}

func groupsOf(gdb *GroupDB, home bool) map[uint64]struct{} {
	gdb.mu.RLock()
	defer gdb.mu.RUnlock()
	m := gdb.home
	if !home {
		m = gdb.outer
	}
	out := make(map[uint64]struct{}, len(m))
	for g := range m {
		out[g] = struct{}{}
	}
	return out
}

// ApplyBriefing merges an incoming briefing into the overlay's databases:
// for a DTNME-native briefing, region and group records are applied
// directly; for an ION-compatible briefing, only the responder's handled
// groups are known, so each is recorded as an outer-region membership for
// the peer attributed by source (§4.8, ION peers are treated as routers
// per the resolved Open Question).
func (o *Overlay) ApplyBriefing(br *bp.IMCBriefing, source eid.EID) {
	switch br.Kind {
	case bp.BriefingDTNME:
		for _, rr := range br.Regions {
			if rr.IsRouter {
				o.Regions.AddNodeRangeToRegion(br.HomeRegion, true, rr.Node, rr.Node)
			} else {
				o.Regions.AddNodeRangeToRegion(br.HomeRegion, false, rr.Node, rr.Node)
			}
		}
		for _, gr := range br.Groups {
			for _, n := range gr.Nodes {
				if n == 0 {
					continue // sentinel: group currently has no members
				}
				if br.HomeRegion == o.HomeRegion {
					o.Groups.AddNodeRangeToGroup(gr.Group, n, n)
				} else {
					o.Groups.AddNodeRangeToGroupForOuterRegions(gr.Group, n, n)
				}
			}
		}
	case bp.BriefingION:
		o.Regions.AddNodeRangeToRegion(o.HomeRegion, true, source.Node, source.Node)
		for _, g := range br.IONGroups {
			o.Groups.AddNodeRangeToGroupForOuterRegions(g, source.Node, source.Node)
		}
	}
	if o.store != nil {
		o.store.PersistDirty(o.Regions, o.Groups)
	}
	if br.SyncRequest && o.BriefingSend != nil {
		o.BriefingSend(source, o.LocalBriefing(false))
	}
}

// OnGroupZero handles a bundle destined to group 0, the overlay's
// well-known sync-request trigger: it replies with this node's own
// briefing (§4.8).
func (o *Overlay) OnGroupZero(source eid.EID) {
	if o.BriefingSend == nil {
		return
	}
	o.BriefingSend(source, o.LocalBriefing(false))
}
