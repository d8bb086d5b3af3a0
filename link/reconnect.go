package link

// ReconnectPolicy describes when a link should attempt to (re)open a
// contact after reaching CLOSED, per the supplemented AlwaysOnLink /
// OndemandLink behavior (SPEC_FULL.md's Supplemented Features #3,
// grounded on oasys's servlib/contacts/{AlwaysOnLink,OndemandLink}.cc):
// an always-on link immediately retries; an on-demand link only opens when
// a bundle is queued; scheduled and opportunistic links never self-retry
// (a schedule entry or a fresh incoming contact drives them instead).
type ReconnectPolicy int

const (
	ReconnectNever ReconnectPolicy = iota
	ReconnectImmediate
	ReconnectOnDemand
)

// Policy maps a link's TypeVariant to its reconnect policy.
func (l *Link) Policy() ReconnectPolicy {
	switch l.TypeVar {
	case TypeAlwaysOn:
		return ReconnectImmediate
	case TypeOnDemand:
		return ReconnectOnDemand
	default:
		return ReconnectNever
	}
}

// ShouldReopen reports whether, after the link reaches CLOSED and its
// backoff interval elapses, it should transition back to AVAILABLE on its
// own. An on-demand link only does this once its outbound queue is
// non-empty again.
func (l *Link) ShouldReopen() bool {
	switch l.Policy() {
	case ReconnectImmediate:
		return true
	case ReconnectOnDemand:
		return l.Queue.Len() > 0
	default:
		return false
	}
}
