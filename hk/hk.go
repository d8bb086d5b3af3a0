// Package hk provides a mechanism for registering cleanup and maintenance
// functions that run periodically on their own schedule: custody-timer
// sweeps, stale-link pruning, forwarding-log compaction, and the like.
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/dtnx/bpd/cmn/debug"
	"github.com/dtnx/bpd/cmn/nlog"
)

// NameSuffix disambiguates callback names registered by more than one
// instance of a subsystem (e.g. one per convergence-layer connection).
const NameSuffix = ".gc"

// Well-known housekeeping intervals shared across subsystems.
const (
	PruneActiveIval = 10 * time.Second
	DelOldIval      = time.Minute
	OldAgeLso       = 25 * time.Second
	OldAgeX         = time.Hour
)

type (
	// CleanupFunc runs once and returns the delay until it should run
	// again. A non-positive return value unregisters the callback.
	CleanupFunc func() time.Duration

	request struct {
		f          CleanupFunc
		name       string
		initDelay  time.Duration
		registered bool // false => unregister
	}

	timedCleanup struct {
		f        CleanupFunc
		name     string
		due      int64 // unix-nano fire time
		heapIdx  int
	}

	cleanupHeap []*timedCleanup

	Housekeeper struct {
		mu       sync.Mutex
		byName   map[string]*timedCleanup
		q        cleanupHeap
		workCh   chan request
		started  chan struct{}
		startOnce sync.Once
		stopCh   chan struct{}
	}
)

// DefaultHK is the process-wide housekeeper; cmd/bpd starts it once at
// daemon boot, alongside the event bus.
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*timedCleanup),
		workCh:  make(chan request, 64),
		started: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Reg registers f to run for the first time after initDelay (0 means
// "soon"), then again after whatever duration f itself returns.
func Reg(name string, f CleanupFunc, initDelay time.Duration) {
	DefaultHK.reg(name, f, initDelay)
}

func Unreg(name string) { DefaultHK.unreg(name) }

func (hk *Housekeeper) reg(name string, f CleanupFunc, initDelay time.Duration) {
	debug.Assert(name != "")
	hk.workCh <- request{name: name, f: f, initDelay: initDelay, registered: true}
}

func (hk *Housekeeper) unreg(name string) {
	hk.workCh <- request{name: name, registered: false}
}

// WaitStarted blocks until Run's dispatch loop is live; tests use it to
// avoid racing Reg() calls against loop startup.
func WaitStarted() { <-DefaultHK.started }

// TestInit resets DefaultHK for a fresh test run.
func TestInit() {
	DefaultHK = New()
}

func (hk *Housekeeper) Stop() { close(hk.stopCh) }

// Run is the housekeeper's single dispatch loop: it wakes when the
// earliest-due callback fires, runs it inline (callbacks are expected to
// be quick; long work belongs in its own goroutine), and reschedules.
func (hk *Housekeeper) Run() {
	hk.startOnce.Do(func() { close(hk.started) })

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		var fire time.Duration = time.Hour
		if len(hk.q) > 0 {
			fire = time.Until(time.Unix(0, hk.q[0].due))
			if fire < 0 {
				fire = 0
			}
		}
		timer.Reset(fire)

		select {
		case <-hk.stopCh:
			return
		case req := <-hk.workCh:
			hk.handle(req)
		case <-timer.C:
			hk.fireDue()
		}
	}
}

func (hk *Housekeeper) handle(req request) {
	if !req.registered {
		if tc, ok := hk.byName[req.name]; ok {
			heap.Remove(&hk.q, tc.heapIdx)
			delete(hk.byName, req.name)
		}
		return
	}
	if _, ok := hk.byName[req.name]; ok {
		nlog.Warningf("hk: duplicate registration %q, ignoring", req.name)
		return
	}
	tc := &timedCleanup{f: req.f, name: req.name, due: time.Now().Add(req.initDelay).UnixNano()}
	hk.byName[req.name] = tc
	heap.Push(&hk.q, tc)
}

func (hk *Housekeeper) fireDue() {
	now := time.Now()
	for len(hk.q) > 0 && hk.q[0].due <= now.UnixNano() {
		tc := heap.Pop(&hk.q).(*timedCleanup)
		next := tc.f()
		if next <= 0 {
			delete(hk.byName, tc.name)
			continue
		}
		tc.due = now.Add(next).UnixNano()
		heap.Push(&hk.q, tc)
	}
}

//
// cleanupHeap - container/heap.Interface
//

func (h cleanupHeap) Len() int            { return len(h) }
func (h cleanupHeap) Less(i, j int) bool  { return h[i].due < h[j].due }
func (h cleanupHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx, h[j].heapIdx = i, j
}

func (h *cleanupHeap) Push(x any) {
	tc := x.(*timedCleanup)
	tc.heapIdx = len(*h)
	*h = append(*h, tc)
}

func (h *cleanupHeap) Pop() any {
	old := *h
	n := len(old)
	tc := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return tc
}
