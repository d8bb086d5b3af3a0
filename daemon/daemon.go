// Package daemon implements the serialized event dispatcher (C3): a
// single-threaded event loop that owns every mutation of bundle and link
// state. Other components post events; they never mutate core state from
// their own goroutine.
package daemon

import (
	"container/list"
	"sync"
	"time"

	"github.com/dtnx/bpd/cmn/debug"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/stats"
)

// Handler processes one Event. Handlers run exclusively on the daemon's
// single dispatch goroutine — they may freely mutate bundle/list/link state
// without additional locking against other handlers.
type Handler func(*Daemon, Event)

// Daemon is the single-threaded serialized event dispatcher (§4.3). It owns
// no domain state itself (bundle lists, link registry, router, IMC overlay
// are separate packages) but serializes every call into them.
type Daemon struct {
	mu     sync.Mutex
	q      *list.List // of Event, FIFO; head-insert fast path for urgent events
	notify chan struct{}

	handlers map[Type]Handler

	idleTimeout time.Duration
	onIdle      func(*Daemon) // invoked from the dispatch goroutine when idle

	stats   Stats
	metrics *stats.Metrics

	stopped  chan struct{}
	stopOnce sync.Once
}

// Stats holds mutex-guarded counters; any thread may read them via
// Daemon.Processed(), matching §4.3's "thread-safe accessors" contract.
type Stats struct {
	mu        sync.Mutex
	Processed map[Type]uint64
	QueueLen  int
}

func New() *Daemon {
	d := &Daemon{
		q:        list.New(),
		notify:   make(chan struct{}, 1),
		handlers: make(map[Type]Handler),
		stopped:  make(chan struct{}),
		metrics:  stats.New(),
	}
	d.stats.Processed = make(map[Type]uint64)
	return d
}

// Metrics returns the Prometheus collectors backing this daemon's queue
// depth and per-type processed counters, for a caller (cmd/bpd) to expose
// over HTTP via Metrics().Handler().
func (d *Daemon) Metrics() *stats.Metrics { return d.metrics }

// wake signals a waiting Run goroutine that the queue is non-empty, without
// blocking if one is already pending.
func (d *Daemon) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Register installs the handler for a given event Type. Must be called
// before Run; registering twice for the same Type is a logic error.
func (d *Daemon) Register(t Type, h Handler) {
	debug.Assert(h != nil)
	if _, exists := d.handlers[t]; exists {
		nlog.Warningf("daemon: handler for %s already registered, overwriting", t)
	}
	d.handlers[t] = h
}

// SetIdleTimeout configures the idle-exit collaborator: onIdle is invoked
// from the dispatch goroutine when no event has been processed for dur.
func (d *Daemon) SetIdleTimeout(dur time.Duration, onIdle func(*Daemon)) {
	d.idleTimeout = dur
	d.onIdle = onIdle
}

// Post enqueues ev at the tail of the queue (FIFO order, §4.3, I7).
func (d *Daemon) Post(ev Event) {
	d.mu.Lock()
	d.q.PushBack(ev)
	n := d.q.Len()
	d.mu.Unlock()
	d.metrics.QueueDepth.Set(float64(n))
	d.wake()
}

// PostHead enqueues ev at the head of the queue — the fast path for urgent
// events such as fatal shutdowns (§4.3): it precedes every non-head event
// still pending, per invariant I7.
func (d *Daemon) PostHead(ev Event) {
	d.mu.Lock()
	d.q.PushFront(ev)
	n := d.q.Len()
	d.mu.Unlock()
	d.metrics.QueueDepth.Set(float64(n))
	d.wake()
}

// PostAndWait posts ev and blocks until its handler has returned or timeout
// elapses, whichever comes first. Timeout does not revoke the event — the
// daemon still processes it in its turn (§5's cancellation/timeout model).
func (d *Daemon) PostAndWait(ev Event, timeout time.Duration) (completed bool) {
	ev.done = make(chan struct{})
	d.Post(ev)
	if timeout <= 0 {
		<-ev.done
		return true
	}
	select {
	case <-ev.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Run is the dispatch loop: pop an event in FIFO order, look up its handler
// by Type, invoke it, repeat. Blocks on an empty queue up to idleTimeout (if
// set), in which case it calls onIdle; it exits when Stop is called.
func (d *Daemon) Run() {
	for {
		ev, ok, idled := d.pop()
		if idled && d.onIdle != nil {
			d.onIdle(d)
			continue
		}
		if !ok {
			return // stopped with an empty queue
		}
		d.dispatch(ev)
	}
}

func (d *Daemon) pop() (ev Event, ok, idled bool) {
	for {
		d.mu.Lock()
		if d.q.Len() > 0 {
			front := d.q.Front()
			d.q.Remove(front)
			n := d.q.Len()
			d.mu.Unlock()
			d.metrics.QueueDepth.Set(float64(n))
			return front.Value.(Event), true, false
		}
		d.mu.Unlock()

		if d.idleTimeout <= 0 {
			select {
			case <-d.stopped:
				return Event{}, false, false
			case <-d.notify:
			}
			continue
		}
		select {
		case <-d.stopped:
			return Event{}, false, false
		case <-d.notify:
		case <-time.After(d.idleTimeout):
			d.mu.Lock()
			empty := d.q.Len() == 0
			d.mu.Unlock()
			if empty {
				return Event{}, false, true
			}
		}
	}
}

func (d *Daemon) dispatch(ev Event) {
	h, ok := d.handlers[ev.Type]
	if !ok {
		nlog.Warningf("daemon: no handler registered for %s, dropping", ev.Type)
	} else {
		h(d, ev)
	}

	d.stats.mu.Lock()
	d.stats.Processed[ev.Type]++
	d.stats.mu.Unlock()
	d.metrics.EventsProcessed.WithLabelValues(ev.Type.String()).Inc()

	if ev.done != nil {
		close(ev.done)
	}
}

// QueueLen returns the current queue depth; safe from any goroutine.
func (d *Daemon) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.q.Len()
}

// Processed returns a snapshot of per-type processed counters.
func (d *Daemon) Processed() map[Type]uint64 {
	d.stats.mu.Lock()
	defer d.stats.mu.Unlock()
	out := make(map[Type]uint64, len(d.stats.Processed))
	for k, v := range d.stats.Processed {
		out[k] = v
	}
	return out
}

// Stop ends the dispatch loop once the queue drains of anything posted
// before Stop was called. Multi-phase shutdown (router handler, then
// application handler, then goroutine termination per §4.3) is implemented
// by the EvShutdownRequest handler that cmd/bpd registers, which runs each
// phase directly before invoking Stop itself.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
}
