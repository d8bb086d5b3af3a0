package router

import "github.com/pkg/errors"

// ErrDuplicate is returned by callers that want an explicit error value for
// a suppressed duplicate rather than the silent drop OnBundleReceived
// performs internally (e.g. a synchronous injection API in cmd/bpd).
var ErrDuplicate = errors.New("router: duplicate bundle suppressed")

// ErrNoRoute indicates a bundle has no matching route and has been parked
// pending one.
var ErrNoRoute = errors.New("router: no route to destination")

// ErrCustodyRefused indicates a custody-transfer request could not be
// honored, e.g. because FlagAcceptCustody is disabled locally.
var ErrCustodyRefused = errors.New("router: custody refused")
