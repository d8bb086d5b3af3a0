// Package imc implements the IP-Multicast-style routing overlay (C8):
// region/group membership databases, proxy petitions, briefing exchange,
// and IMC destination-set expansion.
package imc

import "sync"

// Op is a membership mutation kind.
type Op int

const (
	OpAdd Op = iota
	OpRemove
)

// RegionRecord is one node's membership state within a region (§4.8).
// A Remove record is a tombstone, kept so a later re-add can be
// distinguished from a node never seen before.
type RegionRecord struct {
	Op          Op
	IsRouter    bool
	InDatastore bool // dirty bit: true once persisted
}

// RegionDB holds, per region number, a map from node number to its
// membership record.
type RegionDB struct {
	mu      sync.RWMutex
	regions map[uint64]map[uint64]*RegionRecord
}

func NewRegionDB() *RegionDB {
	return &RegionDB{regions: make(map[uint64]map[uint64]*RegionRecord)}
}

func (d *RegionDB) region(n uint64) map[uint64]*RegionRecord {
	m, ok := d.regions[n]
	if !ok {
		m = make(map[uint64]*RegionRecord)
		d.regions[n] = m
	}
	return m
}

// AddNodeRangeToRegion applies an add, marking lo..hi inclusive as members
// of region, with isRouter recorded for each.
func (d *RegionDB) AddNodeRangeToRegion(region uint64, isRouter bool, lo, hi uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.region(region)
	for n := lo; n <= hi; n++ {
		m[n] = &RegionRecord{Op: OpAdd, IsRouter: isRouter}
	}
}

// DelNodeRangeFromRegion tombstones lo..hi within region.
func (d *RegionDB) DelNodeRangeFromRegion(region, lo, hi uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m := d.region(region)
	for n := lo; n <= hi; n++ {
		if rec, ok := m[n]; ok {
			rec.Op = OpRemove
			rec.InDatastore = false
		} else {
			m[n] = &RegionRecord{Op: OpRemove}
		}
	}
}

// Members returns the node numbers currently added (not tombstoned) to region.
func (d *RegionDB) Members(region uint64) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []uint64
	for n, rec := range d.regions[region] {
		if rec.Op == OpAdd {
			out = append(out, n)
		}
	}
	return out
}

// IsMember reports whether node is currently a non-tombstoned member of region.
func (d *RegionDB) IsMember(region, node uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.regions[region][node]
	return ok && rec.Op == OpAdd
}

// Routers returns the node numbers added to region with IsRouter set.
func (d *RegionDB) Routers(region uint64) []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []uint64
	for n, rec := range d.regions[region] {
		if rec.Op == OpAdd && rec.IsRouter {
			out = append(out, n)
		}
	}
	return out
}

// AllRouters returns every router node across every known region.
func (d *RegionDB) AllRouters() []uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[uint64]bool)
	var out []uint64
	for _, m := range d.regions {
		for n, rec := range m {
			if rec.Op == OpAdd && rec.IsRouter && !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// Dirty returns every (region, node) record not yet marked InDatastore,
// for the persistence layer's batching pass.
func (d *RegionDB) Dirty() []struct {
	Region uint64
	Node   uint64
	Rec    RegionRecord
} {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []struct {
		Region uint64
		Node   uint64
		Rec    RegionRecord
	}
	for region, m := range d.regions {
		for node, rec := range m {
			if !rec.InDatastore {
				out = append(out, struct {
					Region uint64
					Node   uint64
					Rec    RegionRecord
				}{region, node, *rec})
				rec.InDatastore = true
			}
		}
	}
	return out
}

// Clear empties the database entirely (startup clear-database reconciliation).
func (d *RegionDB) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regions = make(map[uint64]map[uint64]*RegionRecord)
}
