package router

import (
	"fmt"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/hk"
	"github.com/dtnx/bpd/stats"
)

// DefaultCustodyTimeout is used when a link advertises no custody-transfer
// timeout of its own.
const DefaultCustodyTimeout = 30 * time.Second

// CustodyManager tracks in-flight custody transfers: one retransmit timer
// per (bundle, link) pair, registered with the shared DefaultHK housekeeper
// rather than a dedicated goroutine per bundle, matching hk's
// single-dispatch-loop design ("retransmit on custody timeout").
type CustodyManager struct {
	local   eid.EID
	metrics *stats.Metrics
}

func NewCustodyManager(_ *hk.Housekeeper, local eid.EID, m *stats.Metrics) *CustodyManager {
	return &CustodyManager{local: local, metrics: m}
}

func custodyTimerName(b *bundle.Bundle, linkName string) string {
	return fmt.Sprintf("custody.%d.%s", b.LocalID, linkName)
}

// Accept takes custody of b: sets the in-custody retention reason, arms a
// retransmit timer for the given link, and returns the CustodySignal the
// caller should send back to the previous custodian.
func (cm *CustodyManager) Accept(b *bundle.Bundle, r *Router, linkName string, timeout time.Duration) *bp.CustodySignal {
	if timeout <= 0 {
		timeout = DefaultCustodyTimeout
	}
	b.AddRetention(bundle.RetainInCustody)
	cm.metrics.CustodyTimersActive.Inc()
	ref := b.TakeRef()
	hk.Reg(custodyTimerName(b, linkName), func() time.Duration {
		return cm.fireTimeout(b, r, linkName, ref)
	}, timeout)

	return &bp.CustodySignal{
		BundleSourceEID: b.Source.Raw,
		CreationTime:    b.Created.Time,
		CreationSeqNo:   b.Created.SeqNo,
		Accepted:        true,
		Reason:          bp.ReasonCustodyAccepted,
	}
}

// fireTimeout runs on the housekeeper's dispatch loop when a custody timer
// expires without having been cancelled: the bundle is re-forwarded on the
// same link and the timer is rearmed, unless custody was already released.
func (cm *CustodyManager) fireTimeout(b *bundle.Bundle, r *Router, linkName string, ref bundle.Ref) time.Duration {
	if !b.HasRetention(bundle.RetainInCustody) {
		ref.Drop()
		return 0
	}
	nlog.Warningf("router: custody timeout for bundle %d on link %q, retransmitting", b.LocalID, linkName)
	r.forwardOnLinkByName(b, linkName)
	return DefaultCustodyTimeout
}

// Release drops the in-custody retention reason and cancels the bundle's
// pending retransmit timer for linkName; used on delivery, on explicit
// custody-signal acceptance by a downstream custodian, and on expiration.
func (cm *CustodyManager) Release(b *bundle.Bundle, linkName string) {
	if b.HasRetention(bundle.RetainInCustody) {
		cm.metrics.CustodyTimersActive.Dec()
	}
	hk.Unreg(custodyTimerName(b, linkName))
	b.DropRetention(bundle.RetainInCustody)
}

// SignalAccepted processes an incoming CustodySignal that accepts custody:
// the local node (the previous custodian) is released of its own
// obligation for the matching bundle.
func (cm *CustodyManager) SignalAccepted(sig *bp.CustodySignal, b *bundle.Bundle, linkName string) {
	if !sig.Accepted {
		return
	}
	cm.Release(b, linkName)
}
