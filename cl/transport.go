// Package cl implements the convergence-layer connection state machine
// (C5): a per-peer I/O loop that negotiates, transmits, and receives
// bundles with keepalive and reactive-fragmentation semantics.
//
// The actual wire transport — TCP, UDP, LTP, Bluetooth — is explicitly out
// of this core's scope: each concrete convergence layer implements
// Transport and plugs into Connection, which drives the state machine
// identically regardless of which one is underneath.
package cl

import (
	"context"
	"time"

	"github.com/dtnx/bpd/eid"
)

// Transport is the convergence-layer-specific I/O contract a concrete CL
// (TCP, UDP, LTP, Bluetooth, ...) implements. Connection drives its state
// machine against it without depending on any concrete transport.
type Transport interface {
	// Name identifies the convergence-layer type, e.g. "tcp", "udp", "ltp".
	Name() string

	// InitializePollFDs prepares per-CL resources (sockets, buffers) ahead
	// of Connect/Accept. A failure here sets contact_broken.
	InitializePollFDs() error

	// Connect is called when this connection is the active initiator.
	Connect(ctx context.Context) error

	// Accept is called when this connection was passively established.
	Accept(ctx context.Context) error

	// WaitReadable blocks up to timeout (0 means "no wait, poll once") for
	// incoming bytes, returning whether data is ready to Read. Callers hold
	// no lock across this call.
	WaitReadable(ctx context.Context, timeout time.Duration) (ready bool, err error)

	// Read drains available bytes into buf, returning the byte count.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write sends buf in full or returns an error; partial writes are the
	// transport's concern to retry internally.
	Write(ctx context.Context, buf []byte) (int, error)

	// Disconnect tears down the transport-specific session. Called by
	// break_contact unless the cause was already an I/O break.
	Disconnect() error

	// PeerEID reports the remote endpoint identity once the handshake (or
	// an out-of-band transport identity, e.g. a TLS cert CN) has revealed
	// it. ok is false before that point.
	PeerEID() (eid.EID, bool)

	// NextHop is the opaque transport address of the peer (mirrors the
	// Link's own NextHop field), e.g. "10.0.0.5:4556".
	NextHop() string

	// Reliable reports whether this CL acknowledges received bundles,
	// gating the retry_reliable_unacked policy.
	Reliable() bool

	// PollTimeout is this CL's steady-state poll timeout, used when no
	// send data is pending.
	PollTimeout() time.Duration

	// KeepaliveInterval is the negotiated keepalive cadence; zero disables
	// keepalive generation for this CL.
	KeepaliveInterval() time.Duration
}
