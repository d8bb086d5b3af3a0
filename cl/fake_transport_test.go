package cl_test

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/dtnx/bpd/eid"
)

// fakeTransport is an in-memory Transport: two instances constructed by
// newFakePair exchange bytes through each other's buffer directly, enough
// to drive Connection's poll-then-read/write loop without a real socket.
type fakeTransport struct {
	name    string
	nextHop string
	peer    *fakeTransport

	ka      time.Duration
	poll    time.Duration
	relbl   bool
	peerEID eid.EID

	mu     sync.Mutex
	buf    []byte
	notify chan struct{}
	closed bool

	// writeLimit, if non-zero, makes the failOnWriteN'th Write (1-indexed)
	// return only writeLimit bytes written plus writeErr, simulating a
	// connection drop mid-frame.
	writeLimit   int
	writeErr     error
	failOnWriteN int
	writeAt      int
}

func newFakePair(aEID, bEID eid.EID) (*fakeTransport, *fakeTransport) {
	a := &fakeTransport{name: "fake", nextHop: "b", peerEID: bEID, ka: 30 * time.Millisecond, poll: 10 * time.Millisecond, notify: make(chan struct{}, 1)}
	b := &fakeTransport{name: "fake", nextHop: "a", peerEID: aEID, ka: 30 * time.Millisecond, poll: 10 * time.Millisecond, notify: make(chan struct{}, 1)}
	a.peer, b.peer = b, a
	return a, b
}

func (t *fakeTransport) Name() string                 { return t.name }
func (t *fakeTransport) InitializePollFDs() error      { return nil }
func (t *fakeTransport) Connect(context.Context) error { return nil }
func (t *fakeTransport) Accept(context.Context) error  { return nil }
func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
func (t *fakeTransport) PeerEID() (eid.EID, bool)    { return t.peerEID, !t.peerEID.IsNone() }
func (t *fakeTransport) NextHop() string             { return t.nextHop }
func (t *fakeTransport) Reliable() bool              { return t.relbl }
func (t *fakeTransport) PollTimeout() time.Duration  { return t.poll }
func (t *fakeTransport) KeepaliveInterval() time.Duration { return t.ka }

func (t *fakeTransport) Write(_ context.Context, p []byte) (int, error) {
	t.mu.Lock()
	t.writeAt++
	at := t.writeAt
	t.mu.Unlock()

	if t.writeLimit > 0 && at == t.failOnWriteN {
		peer := t.peer
		n := t.writeLimit
		if n > len(p) {
			n = len(p)
		}
		peer.append(p[:n])
		return n, t.writeErr
	}

	peer := t.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	peer.mu.Unlock()
	peer.append(p)
	return len(p), nil
}

func (t *fakeTransport) append(p []byte) {
	t.mu.Lock()
	t.buf = append(t.buf, p...)
	t.mu.Unlock()
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *fakeTransport) Read(_ context.Context, p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.buf) == 0 {
		return 0, nil
	}
	n := copy(p, t.buf)
	t.buf = t.buf[n:]
	return n, nil
}

func (t *fakeTransport) WaitReadable(ctx context.Context, timeout time.Duration) (bool, error) {
	t.mu.Lock()
	ready := len(t.buf) > 0
	t.mu.Unlock()
	if ready {
		return true, nil
	}
	select {
	case <-t.notify:
		return true, nil
	case <-time.After(timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
