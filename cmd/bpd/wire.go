package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dtnx/bpd/bp"
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/cl"
	"github.com/dtnx/bpd/cmn"
	"github.com/dtnx/bpd/cmn/nlog"
	"github.com/dtnx/bpd/daemon"
	"github.com/dtnx/bpd/eid"
	"github.com/dtnx/bpd/hk"
	"github.com/dtnx/bpd/imc"
	"github.com/dtnx/bpd/link"
	"github.com/dtnx/bpd/router"
	"github.com/dtnx/bpd/store"
)

// App is the fully wired daemon, with the daemon's event loop as the single
// point every other component's callbacks funnel through.
type App struct {
	Cfg     *cmn.Config
	Daemon  *daemon.Daemon
	Router  *router.Router
	Overlay *imc.Overlay
	Store   *store.Store

	conns *connSupervisor
}

// connSupervisor owns the goroutine lifecycle of every active
// convergence-layer connection: an errgroup.Group whose goroutines log a
// connection's error and return nil, so one connection's failure never
// cancels the shared context, and Shutdown's Wait blocks until every
// connection has actually exited.
type connSupervisor struct {
	mu     sync.Mutex
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	conns  []*cl.Connection
}

func newConnSupervisor() *connSupervisor {
	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	return &connSupervisor{group: group, ctx: ctx, cancel: cancel}
}

// Launch starts t's session as either the active connector or the accept
// side, running conn.Run under the shared errgroup; a connection error is
// logged, not returned, so it never reaches Shutdown's Wait.
func (s *connSupervisor) Launch(conn *cl.Connection) {
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	s.group.Go(func() error {
		if err := conn.Run(s.ctx); err != nil {
			name := "(unassociated)"
			if l := conn.Link(); l != nil {
				name = l.Name
			}
			nlog.Warningf("bpd: connection %s ended: %v", name, err)
		}
		return nil // a single connection's failure never aborts the fleet
	})
}

// Shutdown posts CmdBreakContact to every live connection, cancels the
// shared context, and waits for every connection goroutine to return.
func (s *connSupervisor) Shutdown() {
	s.mu.Lock()
	conns := append([]*cl.Connection(nil), s.conns...)
	s.mu.Unlock()
	for _, c := range conns {
		c.Post(cl.Command{Type: cl.CmdBreakContact, Reason: link.ReasonShutdown})
	}
	s.cancel()
	_ = s.group.Wait()
}

// Build constructs every component and wires them together via callback
// injection: daemon owns the single dispatch goroutine, router/link/imc
// never import daemon, and cl never imports router, so every cross-package
// call is a function value handed down at construction time.
func Build(cfg *cmn.Config) (*App, error) {
	local, err := eid.Parse(cfg.EID.Local)
	if err != nil {
		return nil, fmt.Errorf("bpd: invalid local eid %q: %w", cfg.EID.Local, err)
	}

	st, err := store.Open(storeRoot(cfg))
	if err != nil {
		return nil, fmt.Errorf("bpd: open store: %w", err)
	}

	d := daemon.New()
	r := router.New(local)
	r.SetMetrics(d.Metrics())

	// NewOverlay's store argument is nil here: Configure opens the backing
	// buntdb file itself (from cfg.IMC.DBPath) and assigns it, so a
	// standalone node with no IMC config simply runs with persistence
	// disabled (Configure no-ops when DBPath is empty).
	overlay := imc.NewOverlay(local, local.Node, cfg.IMC.HomeRegion, cfg.IMC.IsRouter, nil)
	if err := imc.Configure(overlay, cfg); err != nil {
		return nil, fmt.Errorf("bpd: configure imc overlay: %w", err)
	}

	app := &App{Cfg: cfg, Daemon: d, Router: r, Overlay: overlay, Store: st, conns: newConnSupervisor()}

	// Every terminal bundle disposition (expire, deliver, abandon) notifies
	// the daemon so BundleFree bookkeeping (e.g. dupe-finder housekeeping
	// already registered elsewhere) runs on the dispatch goroutine rather
	// than on whichever housekeeper or connection goroutine triggered it.
	r.SetDaemonPost(func(b *bundle.Bundle, reason bp.StatusReason) {
		if reason == bp.ReasonLifetimeExpired {
			d.Post(daemon.NewEvent(daemon.EvBundleExpired, daemon.BundleExpiredPayload{Bundle: b}))
		}
		d.Post(daemon.NewEvent(daemon.EvBundleFree, daemon.BundleFreePayload{Bundle: b}))
	})

	// IMC petitions/briefings re-enter the bundling pipeline as ordinary
	// admin bundles via EvBundleInject, keeping package imc free of a
	// direct router dependency.
	overlay.Send = func(dest eid.EID, p *bp.IMCPetition) {
		injectAdmin(d, r, dest, bp.EncodeIMCPetitionBPv7(p))
	}
	overlay.BriefingSend = func(dest eid.EID, br *bp.IMCBriefing) {
		injectAdmin(d, r, dest, bp.EncodeIMCBriefing(br))
	}

	registerHandlers(app)
	return app, nil
}

// NewConnection constructs a convergence-layer connection over t, wired
// with this app's callbacks, ready for Launch. active selects whether this
// side initiated the session or accepted it.
//
// Concrete Transports (TCP, UDP, LTP, Bluetooth, ...) are out of this
// core's scope: a deployment supplies one per listener/dialer and calls
// NewConnection/Launch per accepted or dialed session. No concrete
// Transport ships in this package.
func (app *App) NewConnection(t cl.Transport, active bool) *cl.Connection {
	conn := cl.NewConnection(t, app.Router.Links, app.Router.Bp, app.Router.Local, active)
	conn.CB = callbacksFor(app)
	conn.RetryReliableUnacked = cmn.Rom.Flags().IsSet(cmn.FlagRetryReliableUnacked)
	conn.ReactiveFragEnabled = cmn.Rom.Flags().IsSet(cmn.FlagReactiveFragEnabled)
	conn.CompressionDesired = true
	return conn
}

// Launch starts conn's Run loop under the supervised goroutine group.
func (app *App) Launch(conn *cl.Connection) { app.conns.Launch(conn) }

// Shutdown posts EvShutdownRequest and blocks until the dispatch loop and
// every connection goroutine have returned.
func (app *App) Shutdown(reason string) {
	app.Daemon.PostAndWait(daemon.NewEvent(daemon.EvShutdownRequest, daemon.ShutdownRequestPayload{Reason: reason}), 0)
}

func storeRoot(cfg *cmn.Config) string {
	if cfg.Log.Dir != "" {
		return cfg.Log.Dir + "/bundles"
	}
	return "./bundles"
}

// injectAdmin wraps payload in a minimal admin bundle and posts it through
// the normal EvBundleInject path, matching how Router.sendAdmin injects its
// own status reports and custody signals.
func injectAdmin(d *daemon.Daemon, r *router.Router, dest eid.EID, payload []byte) {
	id := nextLocalID()
	b := bundle.New(id)
	b.Version = 7
	b.Source = r.Local
	b.Destination = dest
	b.Flags = bundle.FlagIsAdmin
	b.Created = bundle.Creation{Time: uint64(time.Now().Unix()), SeqNo: id}
	b.Payload = bundle.NewMemPayload(payload)
	d.Post(daemon.NewEvent(daemon.EvBundleInject, daemon.BundleInjectPayload{Bundle: b}))
}

// registerHandlers installs every daemon.Type handler, each one a thin
// dispatch into the owning component.
func registerHandlers(app *App) {
	d, r := app.Daemon, app.Router

	d.Register(daemon.EvBundleReceived, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleReceivedPayload)
		r.OnBundleReceived(p.Bundle, p.PrevHop)
	})
	d.Register(daemon.EvBundleInject, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleInjectPayload)
		r.OnBundleReceived(p.Bundle, nil)
	})
	d.Register(daemon.EvBundleDelete, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleDeletePayload)
		r.Abandon(p.Bundle, p.Reason)
	})
	d.Register(daemon.EvBundleFree, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleFreePayload)
		nlog.Infof("bpd: bundle %d fully disposed of", p.Bundle.LocalID)
	})
	d.Register(daemon.EvBundleTransmitted, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleTransmittedPayload)
		nlog.Infof("bpd: bundle %d transmitted on link %s", p.Bundle.LocalID, p.Link.Name)
	})
	d.Register(daemon.EvBundleExpired, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.BundleExpiredPayload)
		nlog.Infof("bpd: bundle %d expired", p.Bundle.LocalID)
	})

	d.Register(daemon.EvContactUp, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.ContactUpPayload)
		nlog.Infof("bpd: contact up on link %s", p.Link.Name)
	})
	d.Register(daemon.EvContactDown, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.ContactDownPayload)
		nlog.Infof("bpd: contact down on link %s: %s", p.Link.Name, p.Reason)
	})

	d.Register(daemon.EvLinkStateChangeRequest, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.LinkStateChangeRequestPayload)
		switch p.Target {
		case link.StateAvailable:
			if r.Links.SetAvailable(p.Link) {
				d.Post(daemon.NewEvent(daemon.EvLinkAvailable, daemon.LinkAvailablePayload{Link: p.Link}))
			}
		case link.StateUnavailable:
			if r.Links.SetUnavailable(p.Link) {
				d.Post(daemon.NewEvent(daemon.EvLinkUnavailable, daemon.LinkUnavailablePayload{Link: p.Link}))
			}
		case link.StateClosed:
			r.Links.CloseLink(p.Link, p.Reason)
		}
	})
	d.Register(daemon.EvLinkAvailable, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.LinkAvailablePayload)
		nlog.Infof("bpd: link %s available", p.Link.Name)
	})
	d.Register(daemon.EvLinkUnavailable, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.LinkUnavailablePayload)
		nlog.Infof("bpd: link %s unavailable", p.Link.Name)
	})
	d.Register(daemon.EvLinkCreated, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.LinkCreatedPayload)
		r.Links.Add(p.Link)
	})
	d.Register(daemon.EvLinkDeleted, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.LinkDeletedPayload)
		r.Links.DeleteLink(p.Link)
	})

	d.Register(daemon.EvCustodyTimeout, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.CustodyTimeoutPayload)
		nlog.Warningf("bpd: custody timeout on link %s for bundle %d", p.LinkName, p.Bundle.LocalID)
	})
	d.Register(daemon.EvCustodySignal, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.CustodySignalPayload)
		r.Custody.Release(p.Bundle, p.LinkName)
	})

	d.Register(daemon.EvRouteAdd, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.RouteAddPayload)
		pattern, err := eid.Parse(p.Pattern)
		if err != nil {
			nlog.Warningf("bpd: route add: invalid pattern %q: %v", p.Pattern, err)
			return
		}
		r.Table.Add(pattern, p.Link)
	})
	d.Register(daemon.EvRouteDel, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.RouteDelPayload)
		pattern, err := eid.Parse(p.Pattern)
		if err != nil {
			return
		}
		r.Table.Del(pattern, p.Link)
	})
	d.Register(daemon.EvRouteRecompute, func(_ *daemon.Daemon, _ daemon.Event) {
		// static routing: nothing to recompute, the
		// handler exists so a future dynamic-routing policy has a slot.
	})

	d.Register(daemon.EvRegistrationAdded, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.RegistrationAddedPayload)
		nlog.Infof("bpd: registration %d added", p.RegistrationID)
	})
	d.Register(daemon.EvRegistrationRemoved, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.RegistrationRemovedPayload)
		r.Regs.Remove(p.RegistrationID)
	})
	d.Register(daemon.EvRegistrationExpired, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.RegistrationExpiredPayload)
		r.Regs.Remove(p.RegistrationID)
	})

	d.Register(daemon.EvStatusRequest, func(_ *daemon.Daemon, ev daemon.Event) {
		p := ev.Payload.(daemon.StatusRequestPayload)
		p.Result = map[string]any{
			"queue_len": d.QueueLen(),
			"processed": d.Processed(),
			"links":     len(r.Links.All()),
		}
		close(p.Done)
	})

	// EvShutdownRequest drives a multi-phase shutdown: break every live
	// contact first (router-owned state), then stop housekeeping, and only
	// then stop the dispatch loop itself so any event posted by the
	// two prior phases still gets a turn.
	d.Register(daemon.EvShutdownRequest, func(_ *daemon.Daemon, ev daemon.Event) {
		p, _ := ev.Payload.(daemon.ShutdownRequestPayload)
		nlog.Infof("bpd: shutdown requested: %s", p.Reason)
		app.conns.Shutdown()
		hk.DefaultHK.Stop()
		d.Stop()
	})
}

// callbacksFor returns the cl.Callbacks every convergence-layer connection
// this daemon launches shares: each one posts into the daemon's queue
// instead of mutating router/link state directly, preserving the rule that
// only the dispatch goroutine touches that state.
func callbacksFor(app *App) cl.Callbacks {
	d, r := app.Daemon, app.Router
	return cl.Callbacks{
		OnBundleReceived: func(b *bundle.Bundle, prevHop *link.Link) {
			d.Post(daemon.NewEvent(daemon.EvBundleReceived, daemon.BundleReceivedPayload{Bundle: b, PrevHop: prevHop}))
		},
		OnContactUp: func(l *link.Link) {
			d.Post(daemon.NewEvent(daemon.EvContactUp, daemon.ContactUpPayload{Link: l}))
		},
		OnContactDown: func(l *link.Link, reason link.Reason) {
			d.Post(daemon.NewEvent(daemon.EvContactDown, daemon.ContactDownPayload{Link: l, Reason: reason}))
		},
		OnPartialSend: func(b *bundle.Bundle, lnk *link.Link, sentBytes int) {
			prefix, remainder, ok := router.SplitAt(b, uint64(sentBytes), func() uint64 { return nextLocalID() })
			if !ok {
				return
			}
			d.Post(daemon.NewEvent(daemon.EvBundleInject, daemon.BundleInjectPayload{Bundle: remainder}))
			lnk.Queue.PushBack(prefix)
		},
		OnTransmitted: func(b *bundle.Bundle, lnk *link.Link) {
			d.Post(daemon.NewEvent(daemon.EvBundleTransmitted, daemon.BundleTransmittedPayload{Bundle: b, Link: lnk}))
		},
		OnAcked: func(b *bundle.Bundle, lnk *link.Link) {
			r.DisarmExpiration(b)
		},
	}
}

var localIDCounter struct {
	mu sync.Mutex
	n  uint64
}

// nextLocalID hands out identities for bundles fabricated outside the
// router's own allocator (reactive-fragmentation halves created from a
// cl.Connection callback, which must not import router internals).
func nextLocalID() uint64 {
	localIDCounter.mu.Lock()
	defer localIDCounter.mu.Unlock()
	localIDCounter.n++
	return localIDCounter.n
}
