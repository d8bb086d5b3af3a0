package router

import (
	"sync/atomic"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/hk"
	"github.com/dtnx/bpd/link"
	"github.com/dtnx/bpd/stats"
)

// AllBundlesListName is the name of the pending-bundle list every received
// or injected bundle is a member of until it is deleted, mirroring the
// teacher's "all_bundles" master index idiom.
const AllBundlesListName = "all_bundles"

// Router is the router and custody subsystem. It decides, for each bundle
// the daemon hands it, whether to suppress a duplicate, deliver locally,
// accept custody, forward on one or more links, or drop it.
type Router struct {
	Local eid.EID

	Table    *Table
	Links    *link.Manager
	Regs     *Registrations
	DupF     *DupFinder
	Custody  *CustodyManager
	Bp       *bp.Registry
	AllBndls *bundle.List

	// Metrics exposes the custody/expire timer gauges via Prometheus;
	// defaults to a private registry so a standalone Router (as built in
	// tests) always has a non-nil target to update, but cmd/bpd replaces it
	// with the daemon's shared *stats.Metrics via SetMetrics so both
	// collector sets publish off one /metrics endpoint.
	Metrics *stats.Metrics

	idCounter atomic.Uint64

	// daemonPost, if set, is invoked once a bundle is fully disposed of
	// (delivered, dropped, or expired) so the daemon can post BundleFree
	// bookkeeping, branching on reason to also post a more specific event
	// (e.g. BundleExpired); wired by cmd/bpd to avoid an import of package
	// daemon here (router must not depend on daemon, matching the acyclic
	// layering daemon -> {router, link, bp} already established).
	daemonPost func(b *bundle.Bundle, reason bp.StatusReason)
}

func New(local eid.EID) *Router {
	r := &Router{
		Local:    local,
		Table:    NewTable(),
		Links:    link.NewManager(),
		Regs:     NewRegistrations(local),
		DupF:     NewDupFinder(1 << 16),
		Bp:       bp.DefaultRegistry(),
		AllBndls: bundle.NewList(AllBundlesListName, bundle.KindInsertionOrder),
		Metrics:  stats.New(),
	}
	r.Custody = NewCustodyManager(hk.DefaultHK, local, r.Metrics)
	return r
}

// SetDaemonPost wires the callback invoked when a bundle is fully disposed
// of; cmd/bpd calls this once during startup.
func (r *Router) SetDaemonPost(f func(b *bundle.Bundle, reason bp.StatusReason)) { r.daemonPost = f }

// SetMetrics replaces this router's private metrics registry with a shared
// one, e.g. the daemon's, so timer gauges and event counters publish off a
// single /metrics endpoint.
func (r *Router) SetMetrics(m *stats.Metrics) {
	r.Metrics = m
	r.Custody.metrics = m
}

func (r *Router) allocID() uint64 { return r.idCounter.Add(1) }

// OnBundleReceived implements the forwarding algorithm for a freshly
// received or locally injected bundle. It is the router's single entry
// point, invoked by the daemon's EvBundleReceived handler.
func (r *Router) OnBundleReceived(b *bundle.Bundle, prevHopLink *link.Link) {
	r.AllBndls.PushBack(b)

	if cmn.Rom.Flags().IsSet(cmn.FlagSuppressDuplicates) && r.DupF.Seen(b) {
		nlog.Infof("router: suppressing duplicate bundle from %s", b.Source)
		r.AllBndls.Erase(b)
		return
	}

	if r.isExpired(b) {
		nlog.Infof("router: bundle %d arrived with lifetime already elapsed, dropping", b.LocalID)
		r.retire(b, bp.ReasonLifetimeExpired)
		return
	}

	r.ArmExpiration(b)

	delivered := r.deliverLocally(b)

	if b.Flags.IsSet(bundle.FlagCustodyRequested) && cmn.Rom.Flags().IsSet(cmn.FlagAcceptCustody) {
		linkName := ""
		if prevHopLink != nil {
			linkName = prevHopLink.Name
		}
		sig := r.Custody.Accept(b, r, linkName, 0)
		r.emitCustodySignal(b, sig)
	}

	if delivered && b.Destination.Singleton(true) {
		// A singleton destination delivered locally needs no further
		// forwarding; a multicast (imc) destination may still fan out.
		return
	}

	r.forward(b)
}

// deliverLocally enqueues b onto every local registration matching its
// destination and returns whether at least one matched.
func (r *Router) deliverLocally(b *bundle.Bundle) bool {
	regs := r.Regs.MatchingFor(b.Destination)
	if len(regs) == 0 {
		return false
	}
	b.AddRetention(bundle.RetainPendingDelivery)
	for _, reg := range regs {
		reg.DeliveryQ.PushBack(b)
	}
	if !b.Source.IsNone() {
		sr := &bp.StatusReport{
			BundleSourceEID: b.Source.Raw,
			CreationTime:    b.Created.Time,
			CreationSeqNo:   b.Created.SeqNo,
			FragOffset:      b.FragOffset,
			FragLen:         b.FragTotalLen,
			Reason:          bp.ReasonDelivered,
			Delivered:       true,
		}
		r.emitStatusReport(b, sr)
	}
	return true
}

// forward looks up routes toward b's destination and enqueues b on each
// matching link's outbound queue. A bundle with no matching route is left
// on AllBndls pending a future route (RetainPendingForwarding keeps it from
// being garbage collected).
func (r *Router) forward(b *bundle.Bundle) {
	links := r.Table.Lookup(b.Destination)
	if len(links) == 0 {
		b.AddRetention(bundle.RetainPendingForwarding)
		return
	}
	b.AddRetention(bundle.RetainPendingForwarding)
	for _, l := range links {
		l.Queue.PushBack(b)
		b.Mu.Lock()
		b.ForwardLog.Add(l.Name, bundle.FwdQueued, "", time.Now())
		b.Mu.Unlock()
	}
}

// forwardOnLinkByName re-queues b on a single named link, used by the
// custody-timeout retransmit path.
func (r *Router) forwardOnLinkByName(b *bundle.Bundle, linkName string) {
	l, ok := r.Links.Get(linkName)
	if !ok {
		nlog.Warningf("router: retransmit target link %q no longer exists", linkName)
		return
	}
	l.Queue.PushBack(b)
	b.Mu.Lock()
	b.ForwardLog.Add(l.Name, bundle.FwdQueued, "retransmit", time.Now())
	b.Mu.Unlock()
}

// removeFromAllQueues erases b from every link's outbound queue and every
// registration's delivery queue, plus the master index — used on expiration
// and on explicit deletion.
func (r *Router) removeFromAllQueues(b *bundle.Bundle) {
	for _, l := range r.Links.All() {
		l.Queue.Erase(b)
	}
	for _, reg := range r.Regs.MatchingFor(b.Destination) {
		reg.DeliveryQ.Erase(b)
	}
	r.AllBndls.Erase(b)
}

func (r *Router) emitStatusReport(b *bundle.Bundle, sr *bp.StatusReport) {
	if b.ReportTo.IsNone() || b.ReportTo.Raw == "" {
		return
	}
	r.sendAdmin(b.ReportTo, bp.EncodeStatusReport(sr))
}

func (r *Router) emitCustodySignal(b *bundle.Bundle, sig *bp.CustodySignal) {
	if b.Custodian.IsNone() || b.Custodian.Raw == "" {
		return
	}
	r.sendAdmin(b.Custodian, bp.EncodeCustodySignal(sig))
}

// sendAdmin wraps payload in a minimal admin bundle addressed to dest and
// injects it back through the forwarding path; administrative records
// travel as ordinary bundles with the is-admin flag set.
func (r *Router) sendAdmin(dest eid.EID, payload []byte) {
	id := r.allocID()
	admin := bundle.New(id)
	admin.Version = 7
	admin.Source = r.Local
	admin.Destination = dest
	admin.Flags = bundle.FlagIsAdmin
	// Each admin bundle gets a distinct creation identity (seqno = the same
	// local-ID counter used for the bundle itself) so the dupe-finder never
	// conflates two distinct status reports/custody signals generated in the
	// same wall-clock second.
	admin.Created = bundle.Creation{Time: uint64(time.Now().Unix()), SeqNo: id}
	admin.Payload = bundle.NewMemPayload(payload)
	r.OnBundleReceived(admin, nil)
}
