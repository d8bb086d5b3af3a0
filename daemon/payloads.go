package daemon

import (
	"github.com/dtnx/bpd/bundle"
	"github.com/dtnx/bpd/link"
)

// Concrete payload types for each Event Type, giving handler registrations
// a type-safe assertion target instead of an ad hoc interface{} shape
// agreed by convention. Only the daemon-level event types carry a payload
// of their own.

// BundleReceivedPayload carries a freshly parsed or locally injected
// bundle to the router, identifying the link it arrived on, if any
// (nil for a locally injected bundle).
type BundleReceivedPayload struct {
	Bundle  *bundle.Bundle
	PrevHop *link.Link
}

// BundleTransmittedPayload/BundleDeliveredPayload/BundleExpiredPayload
// report a terminal or near-terminal disposition of a bundle on a link.
type BundleTransmittedPayload struct {
	Bundle *bundle.Bundle
	Link   *link.Link
}

type BundleDeliveredPayload struct {
	Bundle *bundle.Bundle
}

type BundleExpiredPayload struct {
	Bundle *bundle.Bundle
}

// BundleFreePayload notifies that a bundle's retention constraints have all
// lapsed and its refcount has dropped to zero.
type BundleFreePayload struct {
	Bundle *bundle.Bundle
}

// BundleInjectPayload is a locally originated bundle (e.g. an application
// send, or an admin record) entering the pipeline for the first time.
type BundleInjectPayload struct {
	Bundle *bundle.Bundle
}

// BundleDeletePayload is an explicit operator/application request to
// abandon a bundle regardless of outstanding retention.
type BundleDeletePayload struct {
	Bundle *bundle.Bundle
	Reason string
}

// CustodySignalPayload carries a parsed incoming custody signal.
type CustodySignalPayload struct {
	Bundle   *bundle.Bundle
	LinkName string
	Accepted bool
}

// CustodyTimeoutPayload fires when a custody retransmission timer elapses
// without a matching signal.
type CustodyTimeoutPayload struct {
	Bundle   *bundle.Bundle
	LinkName string
}

// LinkCreatedPayload/LinkDeletedPayload report link-table membership
// changes.
type LinkCreatedPayload struct {
	Link *link.Link
}

type LinkDeletedPayload struct {
	Link *link.Link
}

// LinkAvailablePayload/LinkUnavailablePayload mirror link.Manager's
// SetAvailable/SetUnavailable transitions.
type LinkAvailablePayload struct {
	Link *link.Link
}

type LinkUnavailablePayload struct {
	Link *link.Link
}

// ContactUpPayload/ContactDownPayload are posted by a convergence-layer
// connection on completing or losing a session.
type ContactUpPayload struct {
	Link *link.Link
}

type ContactDownPayload struct {
	Link   *link.Link
	Reason link.Reason
}

// LinkStateChangeRequestPayload is an operator- or policy-driven request to
// open, close, or mark a link (un)available; the handler dispatches to the
// matching link.Manager method.
type LinkStateChangeRequestPayload struct {
	Link    *link.Link
	Target  link.State
	Reason  link.Reason
}

// RegistrationAddedPayload/RegistrationRemovedPayload/
// RegistrationExpiredPayload report local-delivery-endpoint lifecycle.
type RegistrationAddedPayload struct {
	RegistrationID uint64
}

type RegistrationRemovedPayload struct {
	RegistrationID uint64
}

type RegistrationExpiredPayload struct {
	RegistrationID uint64
}

// RouteAddPayload/RouteDelPayload mutate the router's route table.
type RouteAddPayload struct {
	Pattern string
	Link    *link.Link
}

type RouteDelPayload struct {
	Pattern string
	Link    *link.Link
}

// RouteRecomputePayload requests the route table be rebuilt from current
// link state, e.g. after a batch of link changes.
type RouteRecomputePayload struct{}

// ShutdownRequestPayload drives a multi-phase shutdown: the handler runs
// each phase in order before stopping the dispatch loop itself.
type ShutdownRequestPayload struct {
	Reason string
}

// StatusRequestPayload asks for a snapshot of daemon/router/link state; the
// handler populates Result and closes Done.
type StatusRequestPayload struct {
	Result any
	Done   chan struct{}
}
