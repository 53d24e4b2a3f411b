package blade

import (
	"context"
	"sync"
)

// ResponseCallback is the capability interface a generator installs to
// receive the eventual outcome of a request it sent on a session: exactly
// one of HandleResponse, HandleTimeout or HandleTornDown is invoked,
// exactly once. The session's read-lock is not held during that call.
type ResponseCallback interface {
	HandleResponse(resp *Response)
	HandleTimeout()
	HandleTornDown()
}

// ResponseCallbackFuncs adapts three plain functions to a ResponseCallback.
// Any nil field is treated as a no-op, convenient for callers that only
// care about the success path.
type ResponseCallbackFuncs struct {
	OnResponse func(resp *Response)
	OnTimeout  func()
	OnTornDown func()
}

func (f ResponseCallbackFuncs) HandleResponse(resp *Response) {
	if f.OnResponse != nil {
		f.OnResponse(resp)
	}
}

func (f ResponseCallbackFuncs) HandleTimeout() {
	if f.OnTimeout != nil {
		f.OnTimeout()
	}
}

func (f ResponseCallbackFuncs) HandleTornDown() {
	if f.OnTornDown != nil {
		f.OnTornDown()
	}
}

// Session is the transport collaborator interface: the per-connection
// send/receive queue, pending-request table and read/write lock live
// behind this interface, implemented by a concrete transport (see
// transport/wss). The dispatcher and the six protocol operations reach a
// downstream Session through a SessionGuard obtained from sessionManager;
// the upstream Session is handed out directly by the upstream manager.
type Session interface {
	// ID returns this session's SessionId.
	ID() SessionId

	// Send frames req on the wire. If cb is non-nil, it is registered in
	// the session's pending-request table under req's id and invoked
	// exactly once on response, timeout, or teardown.
	Send(ctx context.Context, req *Request, cb ResponseCallback) error

	// Reply frames resp on the wire as a response to an inbound request.
	Reply(ctx context.Context, resp *Response) error

	// FromUpstream reports whether this session is this node's single
	// upstream link (toward its parent) rather than a downstream link
	// from a child, used by broadcast/subscribe propagation to decide
	// forwarding direction.
	FromUpstream() bool

	// Close tears the session down. Idempotent.
	Close() error
}

// SessionGuard is a scoped read-guard over one session:
// handler code receives one of these instead of a raw Session pointer
// and reaches the underlying Session through it while the read-lock is
// held. Release is idempotent, so it can be deferred on every exit path
// without leaking the read-lock.
type SessionGuard struct {
	mgr     *sessionManager
	id      SessionId
	session Session
	once    sync.Once
}

// Session returns the guarded Session. Valid only until Release is called.
func (g *SessionGuard) Session() Session { return g.session }

// ID returns the guarded session's id without dereferencing Session.
func (g *SessionGuard) ID() SessionId { return g.id }

// Release drops the read-lock this guard holds. Safe to call more than
// once; only the first call has effect.
func (g *SessionGuard) Release() {
	g.once.Do(func() {
		g.mgr.release(g.id)
	})
}

// sessionManager tracks every live session by id and arbitrates the
// read/write lock discipline: handler execution holds a
// session read-lock for its entire duration; teardown (the writer) waits
// for readers to drain before destruction.
type sessionManager struct {
	mu       sync.Mutex
	sessions map[SessionId]*sessionEntry
	nextGen  uint64
}

type sessionEntry struct {
	session    Session
	lock       sync.RWMutex
	tornDown   bool
	ownedNodes map[NodeId]struct{}
	generation uint64
}

func newSessionManager() *sessionManager {
	return &sessionManager{sessions: make(map[SessionId]*sessionEntry)}
}

// Register adds a newly established session, assigning it a generation
// distinct from any prior session that held the same SessionId (relevant
// only if a transport implementation ever reuses ids across reconnects).
// ExecuteHandle closes over this generation so a stale handle from a
// superseded incarnation of the same id fails safely instead of writing
// into the wrong connection.
func (m *sessionManager) Register(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextGen++
	m.sessions[s.ID()] = &sessionEntry{session: s, ownedNodes: make(map[NodeId]struct{}), generation: m.nextGen}
}

// AddOwnedNode records that a session's reverse set (the inverse of the
// route table, held per session) now includes node, following a
// non-remove blade.register.
func (m *sessionManager) AddOwnedNode(id SessionId, node NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.ownedNodes[node] = struct{}{}
	}
}

// RemoveOwnedNode withdraws node from a session's reverse set, following
// a remove=true blade.register.
func (m *sessionManager) RemoveOwnedNode(id SessionId, node NodeId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		delete(entry.ownedNodes, node)
	}
}

// Acquire looks up id and returns a read-locked SessionGuard. The lock is
// held until the guard is released; callers must always Release.
func (m *sessionManager) Acquire(id SessionId) (*SessionGuard, bool) {
	guard, _, ok := m.AcquireGen(id)
	return guard, ok
}

// AcquireGen is Acquire plus the session's current generation, which
// ExecuteHandle retains to detect a superseded incarnation later.
func (m *sessionManager) AcquireGen(id SessionId) (*SessionGuard, uint64, bool) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, 0, false
	}
	entry.lock.RLock()
	if entry.tornDown {
		entry.lock.RUnlock()
		return nil, 0, false
	}
	return &SessionGuard{mgr: m, id: id, session: entry.session}, entry.generation, true
}

// currentGeneration returns id's current generation without taking the
// per-session read-lock, used when a caller already holds a guard for id
// and only needs the generation stamp to build a handle that outlives it.
func (m *sessionManager) currentGeneration(id SessionId) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return 0, false
	}
	return entry.generation, true
}

// AcquireIfGen is AcquireGen but fails if the session's current
// generation does not match gen, used by ExecuteHandle.Respond to reject
// a stale handle from a session incarnation that has since been replaced.
func (m *sessionManager) AcquireIfGen(id SessionId, gen uint64) (*SessionGuard, bool) {
	guard, cur, ok := m.AcquireGen(id)
	if !ok {
		return nil, false
	}
	if cur != gen {
		guard.Release()
		return nil, false
	}
	return guard, true
}

func (m *sessionManager) release(id SessionId) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	entry.lock.RUnlock()
}

// Teardown marks id torn down, waiting for all outstanding readers
// (in-flight handlers) to drain before returning, then removes it from
// the registry and returns the session along with the full set of node
// ids it owned in the route table's reverse mapping. Idempotent: a
// second Teardown on the same id is a no-op.
func (m *sessionManager) Teardown(id SessionId) (Session, []NodeId, bool) {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, false
	}
	// The entry stays registered while waiting so that release can still
	// find it and drop each outstanding read-lock.
	entry.lock.Lock()
	if entry.tornDown {
		entry.lock.Unlock()
		return nil, nil, false
	}
	entry.tornDown = true
	s := entry.session
	owned := make([]NodeId, 0, len(entry.ownedNodes))
	for n := range entry.ownedNodes {
		owned = append(owned, n)
	}
	entry.lock.Unlock()
	m.mu.Lock()
	if m.sessions[id] == entry {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	return s, owned, true
}

// IDs returns the ids of every live session, used by Handle.Shutdown to
// reap them in one pass.
func (m *sessionManager) IDs() []SessionId {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionId, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Len reports the number of live sessions, for metrics.
func (m *sessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Transport is the collaborator interface a concrete wire implementation
// (see transport/wss) satisfies to plug into a Handle.
type Transport interface {
	// Listen starts accepting downstream connections. onAccept is
	// invoked once per newly-established Session.
	Listen(ctx context.Context, onAccept func(Session)) error

	// Connect establishes an outbound session toward addr, used for the
	// single upstream link.
	Connect(ctx context.Context, addr string) (Session, error)

	// Shutdown stops accepting and releases listener resources. It does
	// not close already-established sessions; Handle.Shutdown does that
	// separately via sessionManager.
	Shutdown(ctx context.Context) error
}
