package imc_test

import (
	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/imc"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("RegionDB and GroupDB", func() {
	It("tombstones a removed node distinctly from one never seen", func() {
		db := imc.NewRegionDB()
		db.AddNodeRangeToRegion(1, false, 10, 12)
		Expect(db.Members(1)).To(ConsistOf(uint64(10), uint64(11), uint64(12)))

		db.DelNodeRangeFromRegion(1, 11, 11)
		Expect(db.Members(1)).To(ConsistOf(uint64(10), uint64(12)))
	})

	It("keeps home and outer-region group joins in separate maps", func() {
		g := imc.NewGroupDB()
		g.AddNodeRangeToGroup(5, 20, 20)
		g.AddNodeRangeToGroupForOuterRegions(5, 99, 99)
		Expect(g.HomeMembers(5)).To(ConsistOf(uint64(20)))
		Expect(g.OuterMembers(5)).To(ConsistOf(uint64(99)))
	})
})

var _ = Describe("Overlay petition handling", func() {
	// Scenario 6 from the IMC worked examples: local node ipn:10.0 in home
	// region 1 receives a BPv7 petition [group=5, join=1] from ipn:20.0,
	// also region 1.
	It("applies a home-region join and fans out proxy petitions when acting as a router", func() {
		local := eid.IPN(10, 0)
		o := imc.NewOverlay(local, 10, 1, true, nil)
		o.Regions.AddNodeRangeToRegion(1, true, 10, 10) // self
		o.Regions.AddNodeRangeToRegion(1, true, 11, 11) // a home-region peer router
		o.Regions.AddNodeRangeToRegion(2, true, 30, 30) // an outer-region router

		var sent []struct {
			To eid.EID
			P  *bp.IMCPetition
		}
		o.Send = func(dest eid.EID, p *bp.IMCPetition) {
			sent = append(sent, struct {
				To eid.EID
				P  *bp.IMCPetition
			}{dest, p})
		}

		p := &bp.IMCPetition{Group: 5, Join: true}
		o.HandlePetition(p, eid.IPN(20, 0), 1)

		Expect(o.Groups.HomeMembers(5)).To(ConsistOf(uint64(20)))
		Expect(sent).To(HaveLen(2))
		for _, s := range sent {
			Expect(s.P.IsProxy).To(BeTrue())
			Expect(s.P.Group).To(Equal(uint64(5)))
		}
	})

	It("does not re-fan-out a petition that already arrived as a proxy relay", func() {
		local := eid.IPN(10, 0)
		o := imc.NewOverlay(local, 10, 1, true, nil)
		var sent int
		o.Send = func(eid.EID, *bp.IMCPetition) { sent++ }

		p := &bp.IMCPetition{Group: 5, Join: true, IsProxy: true}
		o.HandlePetition(p, eid.IPN(20, 0), 1)

		Expect(sent).To(Equal(0))
		Expect(o.Groups.HomeMembers(5)).To(ConsistOf(uint64(20)))
	})
})

var _ = Describe("Destination expansion", func() {
	It("unions home and outer members, excluding local/source/prev-hop", func() {
		local := eid.IPN(1, 0)
		o := imc.NewOverlay(local, 1, 1, true, nil)
		o.Groups.AddNodeRangeToGroup(5, 1, 3)
		o.Groups.AddNodeRangeToGroupForOuterRegions(5, 40, 40)

		nodes := o.ExpandDestination(eid.IMC(5, 0), eid.IPN(2, 0), eid.IPN(3, 0))
		Expect(nodes).To(ConsistOf(uint64(40)))
	})

	It("expands a group-0 bundle from the home region to all known routers", func() {
		local := eid.IPN(1, 0)
		o := imc.NewOverlay(local, 1, 1, true, nil)
		o.Regions.AddNodeRangeToRegion(1, true, 1, 1)
		o.Regions.AddNodeRangeToRegion(1, true, 2, 2)
		o.Regions.AddNodeRangeToRegion(2, true, 9, 9)

		nodes := o.ExpandDestination(eid.IMC(0, 0), eid.IPN(2, 0), eid.None)
		Expect(nodes).To(ConsistOf(uint64(9)))
	})

	It("does not fan a group-0 bundle out to every router when its source never joined the home region", func() {
		local := eid.IPN(1, 0)
		o := imc.NewOverlay(local, 1, 1, true, nil)
		o.Regions.AddNodeRangeToRegion(1, true, 1, 1)
		o.Regions.AddNodeRangeToRegion(2, true, 9, 9)
		o.Groups.AddNodeRangeToGroupForOuterRegions(0, 2, 2)

		// source 2 has the ipn scheme but was never added to region 1.
		nodes := o.ExpandDestination(eid.IMC(0, 0), eid.IPN(2, 0), eid.None)
		Expect(nodes).To(BeEmpty())
	})
})

var _ = Describe("Briefing exchange", func() {
	It("round-trips a DTNME-native briefing into the overlay's databases", func() {
		src := imc.NewOverlay(eid.IPN(1, 0), 1, 1, true, nil)
		src.Regions.AddNodeRangeToRegion(1, true, 1, 1)
		src.Regions.AddNodeRangeToRegion(1, false, 2, 2)
		src.Groups.AddNodeRangeToGroup(5, 2, 2)

		br := src.LocalBriefing(false)
		Expect(br.Kind).To(Equal(bp.BriefingDTNME))

		dst := imc.NewOverlay(eid.IPN(9, 0), 9, 1, false, nil)
		dst.ApplyBriefing(br, eid.IPN(1, 0))

		Expect(dst.Regions.Members(1)).To(ConsistOf(uint64(1), uint64(2)))
		Expect(dst.Groups.HomeMembers(5)).To(ConsistOf(uint64(2)))
	})

	It("answers a sync-request briefing with its own briefing", func() {
		o := imc.NewOverlay(eid.IPN(9, 0), 9, 2, true, nil)
		var repliedTo eid.EID
		o.BriefingSend = func(dest eid.EID, _ *bp.IMCBriefing) { repliedTo = dest }

		o.ApplyBriefing(&bp.IMCBriefing{Kind: bp.BriefingDTNME, HomeRegion: 1, SyncRequest: true}, eid.IPN(1, 0))
		Expect(repliedTo).To(Equal(eid.IPN(1, 0)))
	})
})
