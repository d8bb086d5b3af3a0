package router

import (
	"fmt"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/hk"
)

func expireTimerName(b *bundle.Bundle) string { return fmt.Sprintf("expire.%d", b.LocalID) }

// isExpired reports whether b's lifetime has already elapsed as of now, e.g.
// a bundle that spent longer than its lifetime in transit before arriving.
func (r *Router) isExpired(b *bundle.Bundle) bool {
	return !time.Unix(int64(b.Created.Time), 0).Add(b.Lifetime).After(time.Now())
}

// ArmExpiration schedules b's lifetime-expiration timer with the shared
// housekeeper. The bundle holds a Ref for the lifetime of the timer so it
// cannot be freed out from under it.
func (r *Router) ArmExpiration(b *bundle.Bundle) {
	remaining := time.Until(time.Unix(int64(b.Created.Time), 0).Add(b.Lifetime))
	if remaining <= 0 {
		remaining = 0
	}
	r.Metrics.ExpireTimersActive.Inc()
	ref := b.TakeRef()
	hk.Reg(expireTimerName(b), func() time.Duration {
		r.expire(b, ref)
		return 0
	}, remaining)
}

// DisarmExpiration cancels b's pending expiration timer, e.g. after
// successful delivery makes the timer moot.
func (r *Router) DisarmExpiration(b *bundle.Bundle) {
	hk.Unreg(expireTimerName(b))
	r.Metrics.ExpireTimersActive.Dec()
}

func (r *Router) expire(b *bundle.Bundle, ref bundle.Ref) {
	defer ref.Drop()
	nlog.Infof("router: bundle %d lifetime expired", b.LocalID)
	r.Metrics.ExpireTimersActive.Dec()
	r.retire(b, bp.ReasonLifetimeExpired)
}

// Abandon removes b from every queue and releases its retention
// constraints outside the normal expiration/delivery paths, e.g. an
// operator-issued EvBundleDelete. reason names the cause for logging and
// for the status report sent to the bundle's report-to endpoint, if any.
func (r *Router) Abandon(b *bundle.Bundle, reason string) {
	nlog.Infof("router: bundle %d abandoned: %s", b.LocalID, reason)
	r.DisarmExpiration(b)
	r.retire(b, bp.ReasonDeleted)
}

// retire is the shared terminal-disposition path for a bundle leaving the
// system: drop it from every queue, signal custody non-acceptance and a
// deletion status report if warranted, and notify the daemon so it can
// release its own bookkeeping.
func (r *Router) retire(b *bundle.Bundle, reason bp.StatusReason) {
	r.removeFromAllQueues(b)

	if b.Flags.IsSet(bundle.FlagCustodyRequested) && b.HasRetention(bundle.RetainInCustody) {
		sig := &bp.CustodySignal{
			BundleSourceEID: b.Source.Raw,
			CreationTime:    b.Created.Time,
			CreationSeqNo:   b.Created.SeqNo,
			Accepted:        false,
			Reason:          reason,
		}
		r.emitCustodySignal(b, sig)
	}
	b.DropRetention(bundle.RetainInCustody)
	b.DropRetention(bundle.RetainPendingForwarding)
	b.DropRetention(bundle.RetainPendingDelivery)
	b.DropRetention(bundle.RetainInFlight)

	if !b.Source.IsNone() {
		sr := &bp.StatusReport{
			BundleSourceEID: b.Source.Raw,
			CreationTime:    b.Created.Time,
			CreationSeqNo:   b.Created.SeqNo,
			FragOffset:      b.FragOffset,
			FragLen:         b.FragTotalLen,
			Reason:          reason,
			Deleted:         true,
		}
		r.emitStatusReport(b, sr)
	}

	if r.daemonPost != nil {
		r.daemonPost(b, reason)
	}
	r.DupF.Forget(b)
}
