package cl_test

import (
	"context"
	"sync"
	"time"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cl"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// pairedConnections builds two Connections over a fakeTransport pair, the
// active connector pinned to a pre-configured link (skipping peer
// discovery) and the acceptor relying on findContact to create an
// opportunistic one.
func pairedConnections() (a, b *cl.Connection, linkA *link.Link) {
	aEID, bEID := eid.IPN(1, 0), eid.IPN(2, 0)
	tA, tB := newFakePair(bEID, aEID)

	mgrA := link.NewManager()
	linkA = link.New("toB", "fake", link.TypeOpportunistic, bEID, "b")
	mgrA.Add(linkA)
	mgrA.SetAvailable(linkA)

	a = cl.NewConnection(tA, mgrA, bp.DefaultRegistry(), aEID, true)
	a.SetLink(linkA)

	mgrB := link.NewManager()
	b = cl.NewConnection(tB, mgrB, bp.DefaultRegistry(), bEID, false)
	return a, b, linkA
}

var _ = Describe("Connection", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
	})

	It("completes the handshake and brings contact up on both sides", func() {
		connA, connB, _ := pairedConnections()
		go connA.Run(ctx)
		go connB.Run(ctx)

		Eventually(connA.ContactUp, time.Second, 5*time.Millisecond).Should(BeTrue())
		Eventually(connB.ContactUp, time.Second, 5*time.Millisecond).Should(BeTrue())
		Expect(connB.Link()).NotTo(BeNil())
		Expect(connB.Link().TypeVar).To(Equal(link.TypeOpportunistic))
	})

	It("delivers a bundle queued on the sender's link to the receiver's callback", func() {
		connA, connB, linkA := pairedConnections()

		var (
			mu       sync.Mutex
			received *bundle.Bundle
		)
		connB.CB.OnBundleReceived = func(b *bundle.Bundle, _ *link.Link) {
			mu.Lock()
			received = b
			mu.Unlock()
		}

		go connA.Run(ctx)
		go connB.Run(ctx)
		Eventually(connA.ContactUp, time.Second, 5*time.Millisecond).Should(BeTrue())

		src, dst := eid.IPN(1, 0), eid.IPN(2, 0)
		outbound := bundle.New(42)
		outbound.Version = 7
		outbound.Source = src
		outbound.Destination = dst
		outbound.Lifetime = time.Hour
		outbound.Payload = bundle.NewMemPayload([]byte("hello dtn"))
		linkA.Queue.PushBack(outbound)

		Eventually(func() *bundle.Bundle {
			mu.Lock()
			defer mu.Unlock()
			return received
		}, time.Second, 5*time.Millisecond).ShouldNot(BeNil())

		mu.Lock()
		defer mu.Unlock()
		Expect(received.Source.Raw).To(Equal(src.Raw))
		Expect(received.Destination.Raw).To(Equal(dst.Raw))
		n := received.Payload.Len()
		body, err := received.Payload.ReadAt(0, int(n))
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("hello dtn"))
	})

	It("never fires OnContactDown for its own user-initiated close", func() {
		connA, connB, _ := pairedConnections()

		var (
			mu    sync.Mutex
			downN int
		)
		connA.CB.OnContactDown = func(_ *link.Link, _ link.Reason) {
			mu.Lock()
			downN++
			mu.Unlock()
		}

		go connA.Run(ctx)
		go connB.Run(ctx)
		Eventually(connA.ContactUp, time.Second, 5*time.Millisecond).Should(BeTrue())

		connA.Post(cl.Command{Type: cl.CmdBreakContact, Reason: link.ReasonUserInitiated})
		Eventually(connA.ContactBroken, time.Second, 5*time.Millisecond).Should(BeTrue())

		mu.Lock()
		defer mu.Unlock()
		Expect(downN).To(Equal(0))
	})
})
