package imc

import "github.com/dtnx/bpd/eid"

// GroupZero is the well-known IMC group used for sync-request bundles.
const GroupZero = 0

// ExpandDestination computes the IMC destination node set for a bundle
// whose destination is dest, an imc: group EID: the union of (group
// members in the home region) and (outer-region proxy joins), minus local
// node, source, and previous hop. A group-0 bundle originating from a node
// that is actually a member of the home region expands instead to every
// known router node.
func (o *Overlay) ExpandDestination(dest, source, prevHop eid.EID) []uint64 {
	exclude := map[uint64]bool{o.LocalNode: true}
	if source.Scheme == eid.SchemeIPN || source.Scheme == eid.SchemeIMC {
		exclude[source.Node] = true
	}
	if prevHop.Scheme == eid.SchemeIPN || prevHop.Scheme == eid.SchemeIMC {
		exclude[prevHop.Node] = true
	}

	sourceFromHomeRegion := source.Scheme == eid.SchemeIPN && o.Regions.IsMember(o.HomeRegion, source.Node)
	if dest.Node == GroupZero && sourceFromHomeRegion {
		var out []uint64
		for _, n := range o.Regions.AllRouters() {
			if !exclude[n] {
				out = append(out, n)
			}
		}
		return out
	}

	seen := make(map[uint64]bool)
	var out []uint64
	add := func(nodes []uint64) {
		for _, n := range nodes {
			if exclude[n] || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
		}
	}
	add(o.Groups.HomeMembers(dest.Node))
	add(o.Groups.OuterMembers(dest.Node))
	return out
}
