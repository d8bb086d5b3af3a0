package router_test

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/router"
)

func mustParse(s string) eid.EID {
	e, err := eid.Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

var _ = Describe("Router", func() {
	var (
		r     *router.Router
		local eid.EID
	)

	BeforeEach(func() {
		local = mustParse("ipn:1.0")
		r = router.New(local)
		cmn.Rom.Set(&cmn.Config{})
	})

	It("drops a bundle whose lifetime already elapsed on arrival without routing side effects", func() {
		dest := mustParse("ipn:2.0")
		reg := r.Regs.Add(dest, router.FailureDefer, time.Time{})

		b := bundle.New(1)
		b.Version = 7
		b.Source = mustParse("ipn:3.0")
		b.Destination = dest
		b.Created = bundle.Creation{Time: uint64(time.Now().Add(-time.Hour).Unix())}
		b.Lifetime = time.Minute
		b.Payload = bundle.NewMemPayload([]byte("stale"))

		r.OnBundleReceived(b, nil)

		Expect(r.AllBndls.Len()).To(Equal(0), "expired bundle must not remain on the master index")
		Expect(reg.DeliveryQ.Len()).To(Equal(0), "expired bundle must not be delivered")
		Expect(b.HasRetention(bundle.RetainPendingDelivery)).To(BeFalse())
		Expect(b.HasRetention(bundle.RetainPendingForwarding)).To(BeFalse())
	})

	It("delivers and tracks an unexpired bundle normally", func() {
		dest := mustParse("ipn:2.0")
		reg := r.Regs.Add(dest, router.FailureDefer, time.Time{})

		b := bundle.New(2)
		b.Version = 7
		b.Source = mustParse("ipn:3.0")
		b.Destination = dest
		b.Created = bundle.Creation{Time: uint64(time.Now().Unix())}
		b.Lifetime = time.Hour
		b.Payload = bundle.NewMemPayload([]byte("fresh"))

		r.OnBundleReceived(b, nil)

		Expect(reg.DeliveryQ.Len()).To(Equal(1))
		Expect(testutil.ToFloat64(r.Metrics.ExpireTimersActive)).To(Equal(float64(1)))

		r.DisarmExpiration(b)
		Expect(testutil.ToFloat64(r.Metrics.ExpireTimersActive)).To(Equal(float64(0)))
	})
})
