package daemon_test

import (
	"sync"
	"time"

	"github.com/dtnx/bpd/daemon"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Daemon", func() {
	var d *daemon.Daemon

	BeforeEach(func() {
		d = daemon.New()
	})

	It("dispatches events in FIFO post order", func() {
		var mu sync.Mutex
		var order []int

		d.Register(daemon.EvStatusRequest, func(_ *daemon.Daemon, ev daemon.Event) {
			mu.Lock()
			order = append(order, ev.Payload.(int))
			mu.Unlock()
		})
		go d.Run()
		defer d.Stop()

		for i := 0; i < 5; i++ {
			d.Post(daemon.NewEvent(daemon.EvStatusRequest, i))
		}
		Eventually(func() []int {
			mu.Lock()
			defer mu.Unlock()
			return append([]int{}, order...)
		}).Should(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("processes head-inserted events before already-queued ones", func() {
		var mu sync.Mutex
		var order []string
		record := func(tag string) daemon.Handler {
			return func(_ *daemon.Daemon, _ daemon.Event) {
				mu.Lock()
				order = append(order, tag)
				mu.Unlock()
			}
		}
		d.Register(daemon.EvStatusRequest, record("normal"))
		d.Register(daemon.EvShutdownRequest, record("urgent"))

		// Block the loop so both posts land in the queue before dispatch starts.
		blocker := make(chan struct{})
		d.Register(daemon.EvBundleInject, func(_ *daemon.Daemon, _ daemon.Event) { <-blocker })
		go d.Run()
		defer d.Stop()

		d.Post(daemon.NewEvent(daemon.EvBundleInject, nil))
		time.Sleep(10 * time.Millisecond) // ensure the blocking handler is running
		d.Post(daemon.NewEvent(daemon.EvStatusRequest, nil))
		d.PostHead(daemon.NewEvent(daemon.EvShutdownRequest, nil))
		close(blocker)

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string{}, order...)
		}).Should(Equal([]string{"urgent", "normal"}))
	})

	It("PostAndWait blocks until the handler returns", func() {
		done := false
		d.Register(daemon.EvStatusRequest, func(_ *daemon.Daemon, _ daemon.Event) {
			time.Sleep(5 * time.Millisecond)
			done = true
		})
		go d.Run()
		defer d.Stop()

		completed := d.PostAndWait(daemon.NewEvent(daemon.EvStatusRequest, nil), time.Second)
		Expect(completed).To(BeTrue())
		Expect(done).To(BeTrue())
	})

	It("PostAndWait times out without revoking the event", func() {
		started := make(chan struct{})
		proceed := make(chan struct{})
		ran := false
		d.Register(daemon.EvStatusRequest, func(_ *daemon.Daemon, _ daemon.Event) {
			close(started)
			<-proceed
			ran = true
		})
		go d.Run()
		defer d.Stop()

		completed := d.PostAndWait(daemon.NewEvent(daemon.EvStatusRequest, nil), 5*time.Millisecond)
		Expect(completed).To(BeFalse())
		<-started
		close(proceed)
		Eventually(func() bool { return ran }).Should(BeTrue())
	})

	It("calls onIdle after the configured idle timeout", func() {
		idled := make(chan struct{}, 1)
		d.SetIdleTimeout(20*time.Millisecond, func(_ *daemon.Daemon) {
			select {
			case idled <- struct{}{}:
			default:
			}
		})
		go d.Run()
		defer d.Stop()

		Eventually(idled, time.Second).Should(Receive())
	})
})
