package blade

import (
	"context"
	"sync"
	"time"
)

// UpstreamState is the upstream link's state machine: NONE -> CONNECTING
// -> UP -> DISCONNECTED, driven by the connection layer.
type UpstreamState int

const (
	UpstreamNone UpstreamState = iota
	UpstreamConnecting
	UpstreamUp
	UpstreamDisconnected
)

func (s UpstreamState) String() string {
	switch s {
	case UpstreamNone:
		return "none"
	case UpstreamConnecting:
		return "connecting"
	case UpstreamUp:
		return "up"
	case UpstreamDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ReconnectPolicy configures the upstream reconnect backoff.
type ReconnectPolicy struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (p ReconnectPolicy) orDefaults() ReconnectPolicy {
	if p.MinBackoff <= 0 {
		p.MinBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	return p
}

// upstreamManager tracks at most one upstream session per Handle. The
// generator functions of publish/locate/execute/subscribe check
// state == UP and fail with Disconnected otherwise, except when the
// destination is known locally via the route table.
type upstreamManager struct {
	mu      sync.RWMutex
	state   UpstreamState
	session Session
	policy  ReconnectPolicy
	backoff time.Duration
}

func newUpstreamManager(policy ReconnectPolicy) *upstreamManager {
	p := policy.orDefaults()
	return &upstreamManager{state: UpstreamNone, policy: p, backoff: p.MinBackoff}
}

func (u *upstreamManager) State() UpstreamState {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.state
}

// Session returns the current upstream Session, if state is UP.
func (u *upstreamManager) Session() (Session, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.state != UpstreamUp {
		return nil, false
	}
	return u.session, true
}

// BeginConnecting transitions NONE/DISCONNECTED -> CONNECTING. It returns
// CodeDuplicateOperation if a connection attempt is already in flight or
// already up.
func (u *upstreamManager) BeginConnecting() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state == UpstreamConnecting || u.state == UpstreamUp {
		return NewError(CodeDuplicateOperation, "upstream connect already in progress or established")
	}
	u.state = UpstreamConnecting
	return nil
}

// MarkUp transitions CONNECTING -> UP and resets the backoff.
func (u *upstreamManager) MarkUp(session Session) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = UpstreamUp
	u.session = session
	u.backoff = u.policy.MinBackoff
}

// MarkDisconnected transitions to DISCONNECTED, clearing the session and
// doubling the next retry backoff up to MaxBackoff.
func (u *upstreamManager) MarkDisconnected() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = UpstreamDisconnected
	u.session = nil
	u.backoff *= 2
	if u.backoff > u.policy.MaxBackoff {
		u.backoff = u.policy.MaxBackoff
	}
}

// NextBackoff returns the delay to wait before the next reconnect attempt.
func (u *upstreamManager) NextBackoff() time.Duration {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.backoff
}

// tryConnect makes one dial attempt toward addr via transport, invoking
// onUp with the established session on success and marking the link
// DISCONNECTED (doubling the backoff) on failure. Retries come from
// cron.go's periodic sweep calling it again rather than from a loop here,
// so a Handle shutdown simply stops scheduling further attempts instead
// of needing a dedicated cancellation channel.
func (u *upstreamManager) tryConnect(ctx context.Context, transport Transport, addr string, onUp func(Session)) {
	if err := u.BeginConnecting(); err != nil {
		return
	}
	session, err := transport.Connect(ctx, addr)
	if err != nil {
		u.MarkDisconnected()
		return
	}
	u.MarkUp(session)
	onUp(session)
}
