package cl

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/link"
)

// ErrLinkBroken is returned when a convergence-layer connection fails
// mid-exchange.
var ErrLinkBroken = errors.New("cl: link broken")

// CommandType tags a message the daemon posts into a connection's command
// queue. Commands dominate I/O: the serve loop drains the whole queue before
// touching the transport.
type CommandType int

const (
	CmdBundlesQueued CommandType = iota // a bundle was pushed onto the link's outbound queue
	CmdCancelBundle
	CmdBreakContact
)

// Command is one posted instruction from the daemon to a connection.
type Command struct {
	Type   CommandType
	Bundle *bundle.Bundle
	Reason link.Reason
}

// Callbacks are the daemon/router hooks a Connection invokes as it drives
// the state machine. Injected rather than imported to preserve the
// acyclic layering cl -> {link, bp, bundle, eid} (cl must not import
// daemon or router, matching link.RequeueFunc and router.daemonPost's
// already-established pattern).
type Callbacks struct {
	// OnBundleReceived hands a fully parsed bundle to the daemon/router
	// pipeline, identifying which link (if any) it arrived on.
	OnBundleReceived func(b *bundle.Bundle, prevHop *link.Link)

	// OnContactUp posts a ContactUp event once both sides complete the
	// handshake.
	OnContactUp func(l *link.Link)

	// OnContactDown posts a LinkStateChangeRequest(CLOSED, reason) event,
	// but only if the break was not user-initiated and a contact was
	// actually established.
	OnContactDown func(l *link.Link, reason link.Reason)

	// OnPartialSend is invoked when a bundle's transmission is interrupted
	// after sentBytes bytes of its payload went out, letting the router
	// apply reactive fragmentation.
	OnPartialSend func(b *bundle.Bundle, lnk *link.Link, sentBytes int)

	// OnTransmitted/OnAcked advance the per-bundle forwarding log.
	OnTransmitted func(b *bundle.Bundle, lnk *link.Link)
	OnAcked       func(b *bundle.Bundle, lnk *link.Link)
}

// Connection is one convergence-layer session's state machine: it
// owns a Transport, negotiates a handshake, and pumps bundles between the
// associated Link's outbound queue and the wire until the contact breaks.
// Fields map directly onto the per-connection state variables it tracks.
type Connection struct {
	Transport Transport
	Mgr       *link.Manager
	Registry  *bp.Registry
	Local     eid.EID
	CB        Callbacks

	// ActiveConnector is true if we initiated the session, false if we
	// accepted it.
	ActiveConnector bool

	// RetryReliableUnacked mirrors cmn.FlagRetryReliableUnacked: the sender
	// retries unacked transmissions on reliable CLs.
	RetryReliableUnacked bool

	// ReactiveFragEnabled/ReactiveFragThreshold gate whether an interrupted
	// send becomes a reactive-fragmentation candidate.
	ReactiveFragEnabled   bool
	ReactiveFragThreshold int

	// MaxBufferSize caps how much queued send data may accumulate before
	// the connection applies backpressure.
	MaxBufferSize int

	// TestWriteDelay inserts a spacing delay between writes, a test hook.
	TestWriteDelay time.Duration

	// CompressionDesired advertises LZ4 support for bundle frame bodies in
	// this side's handshake. Compression only activates once both peers
	// advertise it (negotiated, not unilateral), since a decoder expecting
	// raw CBOR would otherwise choke on an LZ4 stream.
	CompressionDesired bool

	mu      sync.Mutex
	lnk     *link.Link
	contact *link.Contact

	contactUp     atomic.Bool
	contactBroken atomic.Bool
	userClosed    atomic.Bool

	commands chan Command

	recvBuf []byte

	lastActivity  time.Time
	lastKeepalive time.Time
	missedKAs     int

	peerHandshake handshake
	compressWire  bool // true once both sides' handshakes advertise Compress

	sentAckPending map[uint64]*bundle.Bundle // localID -> bundle awaiting ack (reliable CLs)
}

// NewConnection constructs a Connection ready to Run.
func NewConnection(t Transport, mgr *link.Manager, reg *bp.Registry, local eid.EID, active bool) *Connection {
	return &Connection{
		Transport:             t,
		Mgr:                   mgr,
		Registry:              reg,
		Local:                 local,
		ActiveConnector:       active,
		MaxBufferSize:         4 << 20,
		ReactiveFragThreshold: 256,
		commands:              make(chan Command, 64),
		sentAckPending:        make(map[uint64]*bundle.Bundle),
	}
}

// SetLink pins the connection to a known link ahead of Run, used when an
// active connector already knows which configured link it is opening.
// Peer discovery only applies to the accept side.
func (c *Connection) SetLink(l *link.Link) {
	c.mu.Lock()
	c.lnk = l
	c.mu.Unlock()
}

// Post enqueues a command from the daemon behind any already queued; the
// serve loop takes one command per iteration in FIFO order, BreakContact
// included. When the queue is full the command is dropped with a warning.
func (c *Connection) Post(cmd Command) {
	select {
	case c.commands <- cmd:
	default:
		nlog.Warningf("cl: command queue full for link %s, dropping %v", c.linkName(), cmd.Type)
	}
}

func (c *Connection) linkName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lnk == nil {
		return "(unassociated)"
	}
	return c.lnk.Name
}

// Run drives the full per-connection main loop: initialize, connect or
// accept, then serve until the contact breaks.
func (c *Connection) Run(ctx context.Context) error {
	if err := c.Transport.InitializePollFDs(); err != nil {
		c.contactBroken.Store(true)
		return errors.Wrap(err, "cl: initialize pollfds")
	}

	var err error
	if c.ActiveConnector {
		err = c.Transport.Connect(ctx)
	} else {
		err = c.Transport.Accept(ctx)
	}
	if err != nil {
		c.breakContact(link.ReasonBroken)
		return errors.Wrap(err, "cl: connect/accept")
	}

	if err := c.exchangeHandshake(ctx); err != nil {
		c.breakContact(link.ReasonBroken)
		return errors.Wrap(err, "cl: handshake")
	}

	c.findContact()
	if c.lnk != nil {
		contact, ok := c.Mgr.OpenLink(c.lnk)
		if !ok {
			// the link was already OPEN/BUSY under a different contact;
			// findContact's "already has a contact" branch should have
			// routed us to a fresh opportunistic link, so this is a race
			// against a concurrent opener — treat it as broken rather than
			// stealing the existing session.
			c.breakContact(link.ReasonBroken)
			return errors.New("cl: link already open under another contact")
		}
		c.contact = contact
	}
	c.contactUp.Store(true)
	if c.CB.OnContactUp != nil && c.lnk != nil {
		c.CB.OnContactUp(c.lnk)
	}

	c.lastActivity = time.Now()
	return c.serve(ctx)
}

func (c *Connection) exchangeHandshake(ctx context.Context) error {
	local := handshake{
		LocalEID:          c.Local.Raw,
		KeepaliveInterval: c.Transport.KeepaliveInterval(),
		Compress:          c.CompressionDesired,
	}
	if _, err := c.Transport.Write(ctx, encodeFrame(frameHandshake, encodeHandshake(local))); err != nil {
		return err
	}

	for {
		ready, err := c.Transport.WaitReadable(ctx, 5*time.Second)
		if err != nil {
			return err
		}
		if !ready {
			return errors.New("cl: handshake timed out")
		}
		buf := make([]byte, 4096)
		n, err := c.Transport.Read(ctx, buf)
		if err != nil {
			return err
		}
		c.recvBuf = append(c.recvBuf, buf[:n]...)
		t, payload, consumed, ok := extractFrame(c.recvBuf)
		if !ok {
			continue
		}
		c.recvBuf = c.recvBuf[consumed:]
		if t != frameHandshake {
			return errors.New("cl: expected handshake frame first")
		}
		peer, err := decodeHandshake(payload)
		if err != nil {
			return err
		}
		c.peerHandshake = peer
		c.compressWire = c.CompressionDesired && peer.Compress
		return nil
	}
}

// findContact implements the peer-discovery algorithm: locate an idle
// opportunistic link matching the peer, ignoring next-hop since transport
// addressing may change session to session; create one if none matches,
// or if the match already has a live contact (a separate physical
// association via a different CL, or an ambiguous peer).
func (c *Connection) findContact() {
	c.mu.Lock()
	already := c.lnk
	c.mu.Unlock()
	if already != nil {
		return
	}

	peer := peerEIDFromHandshake(c.peerHandshake)
	l, found := c.Mgr.FindLinkTo(c.Transport.Name(), c.Transport.NextHop(), peer, true,
		func(tv link.TypeVariant) bool { return tv == link.TypeOpportunistic },
		func(s link.State) bool { return s == link.StateUnavailable })
	if found && l.Contact() != nil {
		nlog.Warningf("cl: link %s to %s already has a contact, creating a new opportunistic link", l.Name, peer.Raw)
		found = false
	}
	if !found {
		l = c.Mgr.NewOpportunisticLink(c.Transport.Name(), c.Transport.NextHop(), peer)
	}
	c.Mgr.SetAvailable(l)
	c.mu.Lock()
	c.lnk = l
	c.mu.Unlock()
}

// serve is the per-connection serve loop.
func (c *Connection) serve(ctx context.Context) error {
	for {
		if c.contactBroken.Load() {
			return nil
		}

		select {
		case cmd := <-c.commands:
			c.handleCommand(ctx, cmd)
			continue
		default:
		}

		sent, err := c.sendPendingData(ctx)
		if err != nil {
			c.breakContact(link.ReasonBroken)
			return errors.Wrap(err, "cl: send")
		}

		timeout := c.Transport.PollTimeout()
		if sent > 0 {
			timeout = 0 // more may be queued; yield briefly instead of blocking
			if c.TestWriteDelay > 0 {
				time.Sleep(c.TestWriteDelay)
			}
		}

		ready, err := c.Transport.WaitReadable(ctx, timeout)
		if err != nil {
			c.breakContact(link.ReasonBroken)
			return errors.Wrap(err, "cl: poll")
		}
		if !ready {
			c.handlePollTimeout()
			continue
		}
		if err := c.handlePollActivity(ctx); err != nil {
			c.breakContact(link.ReasonBroken)
			return errors.Wrap(err, "cl: receive")
		}
	}
}

func (c *Connection) handleCommand(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case CmdBundlesQueued:
		// no-op: sendPendingData already drains the link queue every
		// iteration; this command exists only to wake a connection
		// blocked in WaitReadable with poll_timeout.
	case CmdCancelBundle:
		if cmd.Bundle != nil && c.lnk != nil {
			c.lnk.Queue.Erase(cmd.Bundle)
			cmd.Bundle.Mu.Lock()
			cmd.Bundle.ForwardLog.Update(c.lnk.Name, bundle.FwdCancelled, "cancelled", time.Now())
			cmd.Bundle.Mu.Unlock()
		}
	case CmdBreakContact:
		c.userClosed.Store(true)
		c.breakContact(cmd.Reason)
	}
}

// sendPendingData dequeues and transmits as many bundles as are waiting on
// the associated link, returning the number of bytes written.
func (c *Connection) sendPendingData(ctx context.Context) (int, error) {
	if c.lnk == nil {
		return 0, nil
	}
	total := 0
	for {
		b, ok := c.lnk.Queue.PopFront()
		if !ok {
			return total, nil
		}
		n, err := c.transmitOne(ctx, b)
		total += n
		if err != nil {
			return total, err
		}
		if total >= c.MaxBufferSize {
			return total, nil
		}
	}
}

func (c *Connection) transmitOne(ctx context.Context, b *bundle.Bundle) (int, error) {
	b.Mu.Lock()
	b.ForwardLog.Update(c.lnk.Name, bundle.FwdInFlight, "", time.Now())
	b.Mu.Unlock()

	xb, err := bp.Transmit(c.Registry, b, c.Local, c.lnk)
	if err != nil {
		b.Mu.Lock()
		b.ForwardLog.Update(c.lnk.Name, bundle.FwdTransmitFailed, err.Error(), time.Now())
		b.Mu.Unlock()
		return 0, nil // a malformed local block set drops this bundle, not the connection
	}
	wire := bp.EncodeXmitBPv7(b, xb)
	if c.compressWire {
		compressed, cerr := compressPayload(wire)
		if cerr != nil {
			nlog.Warningf("cl: link %s: lz4 compress failed, sending uncompressed: %v", c.linkName(), cerr)
		} else {
			wire = compressed
		}
	}
	frame := encodeFrame(frameBundle, wire)

	n, werr := c.Transport.Write(ctx, frame)
	if werr != nil {
		sent := n - frameHeaderLen
		if sent < 0 {
			sent = 0
		}
		if c.ReactiveFragEnabled && b.Flags.IsSet(bundle.FlagReactiveFragEnabled) &&
			sent > c.ReactiveFragThreshold && c.CB.OnPartialSend != nil {
			c.CB.OnPartialSend(b, c.lnk, sent)
		}
		b.Mu.Lock()
		b.ForwardLog.Update(c.lnk.Name, bundle.FwdTransmitFailed, werr.Error(), time.Now())
		b.Mu.Unlock()
		return n, werr
	}

	b.Mu.Lock()
	b.ForwardLog.Update(c.lnk.Name, bundle.FwdTransmitted, "", time.Now())
	b.Mu.Unlock()
	if c.CB.OnTransmitted != nil {
		c.CB.OnTransmitted(b, c.lnk)
	}
	if c.Transport.Reliable() && c.RetryReliableUnacked {
		c.sentAckPending[b.LocalID] = b
	}
	c.lnk.Queue.Erase(b) // belt-and-suspenders: PopFront already removed it
	return n, nil
}

// handlePollTimeout generates keepalives and closes idle connections.
func (c *Connection) handlePollTimeout() {
	ka := c.Transport.KeepaliveInterval()
	if ka > 0 && time.Since(c.lastKeepalive) >= ka {
		c.sendKeepalive()
	}
	if ka > 0 && time.Since(c.lastActivity) >= 3*ka {
		nlog.Warningf("cl: link %s missed 3 keepalive intervals, breaking contact", c.linkName())
		c.breakContact(link.ReasonBroken)
		return
	}
	if c.lnk != nil && c.lnk.Params.IdleCloseTime > 0 && time.Since(c.lastActivity) >= c.lnk.Params.IdleCloseTime {
		c.breakContact(link.ReasonIdle)
	}
}

func (c *Connection) sendKeepalive() {
	ctx := context.Background()
	if _, err := c.Transport.Write(ctx, encodeFrame(frameKeepalive, nil)); err != nil {
		c.breakContact(link.ReasonBroken)
		return
	}
	c.lastKeepalive = time.Now()
}

// handlePollActivity reads available bytes, extracts complete frames, and
// dispatches each one.
func (c *Connection) handlePollActivity(ctx context.Context) error {
	buf := make([]byte, 64*1024)
	n, err := c.Transport.Read(ctx, buf)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	c.recvBuf = append(c.recvBuf, buf[:n]...)
	c.lastActivity = time.Now()

	for {
		t, payload, consumed, ok := extractFrame(c.recvBuf)
		if !ok {
			break
		}
		c.recvBuf = c.recvBuf[consumed:]
		c.handleFrame(t, payload)
	}
	return nil
}

func (c *Connection) handleFrame(t frameType, payload []byte) {
	switch t {
	case frameBundle:
		if c.compressWire {
			raw, derr := decompressPayload(payload)
			if derr != nil {
				nlog.Warningf("cl: link %s: dropping bundle, lz4 decompress failed: %v", c.linkName(), derr)
				return
			}
			payload = raw
		}
		b, err := bp.DecodeBundleBPv7(payload)
		if err != nil {
			nlog.Warningf("cl: link %s: dropping bundle, parse-failure: %v", c.linkName(), err)
			return
		}
		if c.CB.OnBundleReceived != nil {
			c.CB.OnBundleReceived(b, c.lnk)
		}
		if c.Transport.Reliable() {
			c.sendAck(b.LocalID)
		}
	case frameKeepalive:
		// receipt alone resets the idle clock; nothing else to do.
	case frameAck:
		c.handleAck(payload)
	case frameHandshake:
		nlog.Warningf("cl: link %s: unexpected handshake frame mid-session", c.linkName())
	}
}

func (c *Connection) sendAck(localID uint64) {
	w := bp.NewCBORWriter()
	w.Uint(localID)
	ctx := context.Background()
	if _, err := c.Transport.Write(ctx, encodeFrame(frameAck, w.Bytes())); err != nil {
		c.breakContact(link.ReasonBroken)
	}
}

func (c *Connection) handleAck(payload []byte) {
	r := bp.NewCBORReader(payload)
	id, err := r.Uint("ack_id")
	if err != nil {
		return
	}
	b, ok := c.sentAckPending[id]
	if !ok {
		return
	}
	delete(c.sentAckPending, id)
	if c.CB.OnAcked != nil && c.lnk != nil {
		c.CB.OnAcked(b, c.lnk)
	}
}

// breakContact sets contact_broken, disconnects the transport unless the
// cause was already an I/O break, and (if not user-initiated and a
// contact was established) notifies the daemon via OnContactDown.
func (c *Connection) breakContact(reason link.Reason) {
	if !c.contactBroken.CompareAndSwap(false, true) {
		return
	}
	if reason != link.ReasonBroken {
		if err := c.Transport.Disconnect(); err != nil {
			nlog.Warningf("cl: link %s: disconnect: %v", c.linkName(), err)
		}
	}
	hadContact := c.contactUp.Load()
	c.contactUp.Store(false)
	if c.lnk != nil {
		c.Mgr.CloseLink(c.lnk, reason)
	}
	if !c.userClosed.Load() && hadContact && c.CB.OnContactDown != nil && c.lnk != nil {
		c.CB.OnContactDown(c.lnk, reason)
	}
}

// ContactUp reports whether the handshake has completed.
func (c *Connection) ContactUp() bool { return c.contactUp.Load() }

// ContactBroken reports the sticky broken flag.
func (c *Connection) ContactBroken() bool { return c.contactBroken.Load() }

// Link returns the link this connection is associated with, if any.
func (c *Connection) Link() *link.Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lnk
}
