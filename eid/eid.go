// Package eid implements endpoint identifiers: URI-form names that
// designate bundle sources, destinations, and report-to endpoints.
package eid

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme identifies which first-class EID grammar a URI belongs to.
type Scheme uint8

const (
	SchemeGeneric Scheme = iota // unrecognized scheme: opaque URI, no structure
	SchemeDTN                   // dtn:none and (reserved) dtn:<string>
	SchemeIPN                   // ipn:<node>.<service>
	SchemeIMC                   // imc:<group>.<service>
)

func (s Scheme) String() string {
	switch s {
	case SchemeDTN:
		return "dtn"
	case SchemeIPN:
		return "ipn"
	case SchemeIMC:
		return "imc"
	default:
		return "generic"
	}
}

// EID is a parsed endpoint identifier. For the first-class schemes, Node
// and Service hold the decoded numeric components; for the generic
// scheme only Raw is meaningful.
type EID struct {
	Raw     string
	Scheme  Scheme
	Node    uint64 // ipn node-number, or imc group-number
	Service uint64
}

// None is the distinguished null endpoint ("dtn:none"): it names no node
// and is never a valid destination, only a valid source or report-to.
var None = EID{Raw: "dtn:none", Scheme: SchemeDTN}

// Parse decodes a URI-form endpoint identifier. ipn: and imc: are parsed
// strictly (malformed numeric components are a ProtocolParse-class error
// to the caller); any other scheme is accepted verbatim as generic.
func Parse(s string) (EID, error) {
	if s == "dtn:none" {
		return None, nil
	}
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return EID{}, fmt.Errorf("eid: missing scheme in %q", s)
	}
	switch scheme {
	case "ipn":
		node, svc, err := parseCompound(rest)
		if err != nil {
			return EID{}, fmt.Errorf("eid: invalid ipn endpoint %q: %w", s, err)
		}
		return EID{Raw: s, Scheme: SchemeIPN, Node: node, Service: svc}, nil
	case "imc":
		group, svc, err := parseCompound(rest)
		if err != nil {
			return EID{}, fmt.Errorf("eid: invalid imc endpoint %q: %w", s, err)
		}
		return EID{Raw: s, Scheme: SchemeIMC, Node: group, Service: svc}, nil
	case "dtn":
		return EID{Raw: s, Scheme: SchemeDTN}, nil
	default:
		return EID{Raw: s, Scheme: SchemeGeneric}, nil
	}
}

func parseCompound(rest string) (a, b uint64, err error) {
	node, svc, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, 0, fmt.Errorf("expected <node>.<service>, got %q", rest)
	}
	if a, err = strconv.ParseUint(node, 10, 64); err != nil {
		return 0, 0, err
	}
	if b, err = strconv.ParseUint(svc, 10, 64); err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// MustParse parses s and panics on error; reserved for compile-time-known
// endpoints (tests, well-known admin EIDs), never for wire input.
func MustParse(s string) EID {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

// IPN constructs an ipn:<node>.<service> endpoint directly, without the
// round-trip through string parsing.
func IPN(node, service uint64) EID {
	return EID{Raw: fmt.Sprintf("ipn:%d.%d", node, service), Scheme: SchemeIPN, Node: node, Service: service}
}

// IMC constructs an imc:<group>.<service> endpoint directly.
func IMC(group, service uint64) EID {
	return EID{Raw: fmt.Sprintf("imc:%d.%d", group, service), Scheme: SchemeIMC, Node: group, Service: service}
}

func (e EID) String() string { return e.Raw }

func (e EID) IsNone() bool { return e.Scheme == SchemeDTN && e.Raw == "dtn:none" }

func (e EID) Equal(o EID) bool { return e.Raw == o.Raw }

// Singleton reports whether this EID names at most one node. ipn and
// dtn:none are always singleton; imc (multicast group) never is; an
// unrecognized scheme falls through to the configured default.
func (e EID) Singleton(defaultSingleton bool) bool {
	switch e.Scheme {
	case SchemeIPN:
		return true
	case SchemeIMC:
		return false
	case SchemeDTN:
		return e.IsNone()
	default:
		return defaultSingleton
	}
}

// SameNode reports whether two ipn (or imc) endpoints share the same
// node/group number, ignoring the service component — used to match an
// admin EID against a peer's announced primary EID.
func (e EID) SameNode(o EID) bool {
	return e.Scheme == o.Scheme && (e.Scheme == SchemeIPN || e.Scheme == SchemeIMC) && e.Node == o.Node
}
