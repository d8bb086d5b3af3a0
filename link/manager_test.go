package link_test

import (
	"time"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Manager", func() {
	var (
		mgr *link.Manager
		l   *link.Link
	)

	BeforeEach(func() {
		mgr = link.NewManager()
		l = link.New("l1", "tcp", link.TypeOpportunistic, eid.IPN(20, 0), "10.0.0.1:4556")
		l.Params.MinRetryInterval = time.Second
		l.Params.MaxRetryInterval = 16 * time.Second
		mgr.Add(l)
	})

	It("walks the full UNAVAILABLE -> OPEN -> CLOSED -> AVAILABLE cycle", func() {
		Expect(l.State()).To(Equal(link.StateUnavailable))
		Expect(mgr.SetAvailable(l)).To(BeTrue())
		Expect(l.State()).To(Equal(link.StateAvailable))

		c, ok := mgr.OpenLink(l)
		Expect(ok).To(BeTrue())
		Expect(c).NotTo(BeNil())
		Expect(l.State()).To(Equal(link.StateOpen))

		Expect(mgr.SetBusy(l)).To(BeTrue())
		Expect(l.State()).To(Equal(link.StateBusy))
		Expect(mgr.SetReady(l)).To(BeTrue())
		Expect(l.State()).To(Equal(link.StateOpen))

		Expect(mgr.CloseLink(l, link.ReasonBroken)).To(BeTrue())
		Expect(l.State()).To(Equal(link.StateClosed))
		Expect(l.Contact()).To(BeNil())

		Expect(mgr.SetAvailable(l)).To(BeTrue())
		Expect(l.State()).To(Equal(link.StateAvailable))
	})

	It("rejects an OPEN transition from a non-AVAILABLE state", func() {
		_, ok := mgr.OpenLink(l) // still UNAVAILABLE
		Expect(ok).To(BeFalse())
	})

	It("backs off exponentially between min and max retry interval", func() {
		d1, ok := mgr.ScheduleRetry(l)
		Expect(ok).To(BeTrue())
		Expect(d1).To(Equal(time.Second))
		d2, _ := mgr.ScheduleRetry(l)
		Expect(d2).To(Equal(2 * time.Second))
		d3, _ := mgr.ScheduleRetry(l)
		Expect(d3).To(Equal(4 * time.Second))
		for i := 0; i < 10; i++ {
			mgr.ScheduleRetry(l)
		}
		dn, _ := mgr.ScheduleRetry(l)
		Expect(dn).To(Equal(16 * time.Second))
	})

	It("refuses to schedule a retry once marked for deletion", func() {
		mgr.DeleteLink(l)
		_, ok := mgr.ScheduleRetry(l)
		Expect(ok).To(BeFalse())
	})

	It("finds a link ignoring next-hop when told to", func() {
		found, ok := mgr.FindLinkTo("tcp", "different-addr", eid.IPN(20, 0), true, nil, nil)
		Expect(ok).To(BeTrue())
		Expect(found).To(Equal(l))

		_, ok = mgr.FindLinkTo("tcp", "different-addr", eid.IPN(20, 0), false, nil, nil)
		Expect(ok).To(BeFalse())
	})

	It("drains the outbound queue on opportunistic-link loss when configured", func() {
		mgr.ClearOppQueueOnUnavailable = true
		var requeued []*bundle.Bundle
		mgr.Requeue = func(b *bundle.Bundle) { requeued = append(requeued, b) }

		mgr.SetAvailable(l)
		b := bundle.New(1)
		l.Queue.PushBack(b)
		Expect(l.Queue.Len()).To(Equal(1))

		mgr.SetUnavailable(l)
		Expect(l.Queue.Len()).To(Equal(0))
		Expect(requeued).To(ConsistOf(b))
	})
})
