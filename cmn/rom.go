// Package cmn provides common configuration and constants shared by every
// component of the bundling daemon.
package cmn

import "time"

// Flags is the set of boolean daemon-wide policy switches from the
// configuration surface. They gate behavior across the router, link
// manager, and convergence-layer connection without each caller
// re-reading the full config on every bundle.
type Flags uint32

const (
	FlagEarlyDeletion Flags = 1 << iota
	FlagSuppressDuplicates
	FlagAcceptCustody
	FlagReactiveFragEnabled
	FlagRetryReliableUnacked
	FlagRecreateLinksOnRestart
	FlagPersistentLinks
	FlagPersistentFwdLogs
	FlagClearBundlesWhenOppLinkUnavailable
	FlagAnnounceIPN
)

func (f Flags) IsSet(fl Flags) bool { return f&fl != 0 }

// read-mostly and most often used knobs: assigned by Set from the loaded
// Config at startup, to avoid a config-map lookup on every
// bundle reception or custody-timer tick.
type readMostly struct {
	timeout struct {
		cplane    time.Duration // control-plane (event-loop) round-trip budget
		keepalive time.Duration // CL keepalive interval
	}
	flags                  Flags
	ipnEchoServiceNumber   uint64
	ipnEchoMaxReturnLength int
	level, modules         int
	testingEnv             bool
}

var Rom readMostly

func (rom *readMostly) init() {
	rom.timeout.cplane = time.Second + time.Millisecond
	rom.timeout.keepalive = 2*time.Second + time.Millisecond
}

func (rom *readMostly) Set(cfg *Config) {
	rom.timeout.cplane = cfg.Timeout.CplaneOperation
	rom.timeout.keepalive = cfg.Timeout.MaxKeepalive
	rom.flags = cfg.Flags
	rom.ipnEchoServiceNumber = cfg.IPN.EchoServiceNumber
	rom.ipnEchoMaxReturnLength = cfg.IPN.EchoMaxReturnLength
	rom.testingEnv = cfg.TestingEnv

	// pre-parse for FastV (below)
	rom.level, rom.modules = cfg.Log.Level, cfg.Log.Modules
}

func (rom *readMostly) CplaneOperation() time.Duration    { return rom.timeout.cplane }
func (rom *readMostly) MaxKeepalive() time.Duration       { return rom.timeout.keepalive }
func (rom *readMostly) Flags() Flags                      { return rom.flags }
func (rom *readMostly) TestingEnv() bool                  { return rom.testingEnv }
func (rom *readMostly) IPNEchoServiceNumber() uint64       { return rom.ipnEchoServiceNumber }
func (rom *readMostly) IPNEchoMaxReturnLength() int        { return rom.ipnEchoMaxReturnLength }

func (rom *readMostly) FastV(verbosity, fl int) bool {
	return rom.level >= verbosity || rom.modules&fl != 0
}

func init() { Rom.init() }
