package blade

import (
	"context"
	"log/slog"
	"sync"
)

// RealmPolicy decides whether realm-qualified RPCs (publish, locate,
// execute, subscribe) may proceed for the given realm. The default
// installed by NewHandle always allows.
type RealmPolicy func(realm Realm) bool

func allowAllRealms(Realm) bool { return true }

// Handle is the composition root: it owns every manager in dependency
// order (identity and ids first, the tables that reference sessions
// last) and binds a Transport.
type Handle struct {
	log *slog.Logger
	cfg *Config

	identity *identityState
	ids      *idGenerator

	routes   *routeManager
	master   *masterManager
	subs     *subscriptionManager
	rpcs     *rpcManager
	sessions *sessionManager
	upstream *upstreamManager

	pool     *dispatchPool
	limiters *sessionRateLimiters
	metrics  *Metrics
	sched    *scheduler

	transport   Transport
	realmPolicy RealmPolicy

	mu           sync.Mutex
	shuttingDown bool
	executes     *executeHandleRegistry
}

// NewHandle allocates every manager in dependency order. Managers never
// outlive their owning Handle, so methods on Handle can hand manager
// state around without further lifetime bookkeeping.
func NewHandle(cfg *Config, transport Transport, log *slog.Logger) (*Handle, error) {
	if log == nil {
		log = slog.Default()
	}
	ids, err := newIDGenerator(1)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		log:         log,
		cfg:         cfg,
		identity:    newIdentityState(),
		ids:         ids,
		routes:      newRouteManager(),
		master:      newMasterManager(),
		subs:        newSubscriptionManager(),
		rpcs:        newRPCManager(),
		sessions:    newSessionManager(),
		upstream:    newUpstreamManager(cfg.reconnectPolicy()),
		pool:        newDispatchPool(cfg.Pool.MaxConcurrentDispatch),
		limiters:    newSessionRateLimiters(cfg.rateLimitPolicy()),
		metrics:     NewMetrics(),
		transport:   transport,
		realmPolicy: allowAllRealms,
		executes:    newExecuteHandleRegistry(),
	}
	h.sched = newScheduler(log)
	return h, nil
}

// SetRealmPolicy installs a non-default RealmPolicy. Must be called before
// Startup.
func (h *Handle) SetRealmPolicy(p RealmPolicy) {
	if p != nil {
		h.realmPolicy = p
	}
}

// SetTransport installs the Transport collaborator. Lets a concrete
// transport implementation be constructed after the Handle (it typically
// needs the Handle to dispatch inbound requests onto), still in time for
// Startup to call Listen on it.
func (h *Handle) SetTransport(t Transport) { h.transport = t }

// LocalID returns this node's identifier.
func (h *Handle) LocalID() NodeId { return h.identity.LocalID() }

// IsMaster reports whether this node is the fabric Master.
func (h *Handle) IsMaster() bool { return h.identity.IsMaster() }

// Metrics returns the Handle's Prometheus collectors for registration.
func (h *Handle) Metrics() *Metrics { return h.metrics }

// RegisterProtocolHandler installs an application handler for
// (method, protocol, realm), invoked when a blade.execute addressed to
// this node names that triple. Returns CodeDuplicateOperation if the
// triple is already registered.
func (h *Handle) RegisterProtocolHandler(method string, protocol Protocol, realm Realm, handler RequestHandler) error {
	return h.rpcs.RegisterHandler(method, protocol, realm, handler)
}

// UnregisterProtocolHandler removes a handler installed with
// RegisterProtocolHandler.
func (h *Handle) UnregisterProtocolHandler(method string, protocol Protocol, realm Realm) {
	h.rpcs.UnregisterHandler(method, protocol, realm)
}

// Startup applies configuration, registers the six core RPCs, registers
// the transport listener, and begins upstream connection attempts if this
// node is not the Master.
func (h *Handle) Startup(ctx context.Context) error {
	local := NodeId(h.cfg.NodeId)
	master := NodeId(h.cfg.Master.NodeId)
	isMaster := h.cfg.IsMaster()
	if isMaster {
		local = master
	}
	if local == "" {
		return NewError(CodeArgumentInvalid, "node_id must be set unless master.nodeid is set")
	}
	realms := make([]Realm, 0, len(h.cfg.Master.Realms))
	for _, r := range h.cfg.Master.Realms {
		realms = append(realms, Realm(r))
	}
	h.identity.setLocal(local, master, isMaster, realms)

	h.registerCoreRPCs()

	if h.transport != nil {
		if err := h.transport.Listen(ctx, h.onAccept); err != nil {
			return WrapError(CodeInternal, err, "start transport listener")
		}
	}

	if err := h.sched.scheduleRouteSweep(h); err != nil {
		return err
	}
	if !isMaster && h.cfg.Upstream.Address != "" {
		if err := h.sched.scheduleReconnect(ctx, h, h.cfg.Upstream.Address); err != nil {
			return err
		}
	}
	h.sched.Start()
	return nil
}

func (h *Handle) onAccept(s Session) {
	h.sessions.Register(s)
	h.metrics.ActiveSessions.Set(float64(h.sessions.Len()))
}

func (h *Handle) registerCoreRPCs() {
	h.rpcs.registerCore("blade.register", RequestHandlerFunc(h.handleRegister))
	h.rpcs.registerCore("blade.publish", RequestHandlerFunc(h.handlePublish))
	h.rpcs.registerCore("blade.locate", RequestHandlerFunc(h.handleLocate))
	h.rpcs.registerCore("blade.execute", RequestHandlerFunc(h.handleExecute))
	h.rpcs.registerCore("blade.subscribe", RequestHandlerFunc(h.handleSubscribe))
	h.rpcs.registerCore("blade.broadcast", RequestHandlerFunc(h.handleBroadcast))
}

// TeardownSession reconciles every manager against a session that has
// gone away: its routes, any Master controllers it announced, and any
// subscriptions it held, propagating exactly the upstream
// blade.subscribe{remove:true} calls the refcount transition requires.
// This is the session-teardown half of the route table and subscription
// tree invariants. Called by a Session implementation once it detects
// the underlying connection is gone.
func (h *Handle) TeardownSession(ctx context.Context, id SessionId) {
	h.teardownSession(ctx, id)
}

// teardownSession is TeardownSession returning the reaped Session, so
// Shutdown can close the underlying connection after reconciliation.
func (h *Handle) teardownSession(ctx context.Context, id SessionId) (Session, bool) {
	s, ownedNodes, ok := h.sessions.Teardown(id)
	if !ok {
		return nil, false
	}
	if up, upOK := h.upstream.Session(); upOK && up.ID() == id {
		// The torn-down session was the upstream link; the reconnect
		// loop takes over from DISCONNECTED.
		h.upstream.MarkDisconnected()
	}
	h.limiters.Forget(id)
	h.routes.RemoveAll(id, ownedNodes)
	h.master.RemoveControllersForSession(id)
	// Downstream subscribers are recorded under the session's own id
	// (see handleSubscribe), not under the route-table node ids it owned.
	for _, key := range h.subs.RemoveAllForSubscriber(sessionSubscriberID(id)) {
		h.propagateSubscribeUpstream(ctx, key, true)
	}
	h.executes.forgetSession(id)
	h.metrics.ActiveSessions.Set(float64(h.sessions.Len()))
	return s, true
}

// Shutdown tears down the transport first, then every session, so no new
// work arrives while established links drain. It is idempotent: a second
// Shutdown call is a no-op.
func (h *Handle) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	if h.shuttingDown {
		h.mu.Unlock()
		return nil
	}
	h.shuttingDown = true
	h.mu.Unlock()

	if h.transport != nil {
		if err := h.transport.Shutdown(ctx); err != nil {
			h.log.Warn("transport shutdown error", "error", err)
		}
	}
	h.sched.Stop()

	h.upstream.MarkDisconnected()
	for _, id := range h.sessions.IDs() {
		s, ok := h.teardownSession(ctx, id)
		if !ok {
			continue
		}
		if err := s.Close(); err != nil {
			h.log.Warn("session close error", "session", id, "error", err)
		}
	}
	return nil
}

// Destroy completes Shutdown before releasing the manager tables in
// reverse-dependency order: transport and sessions go down in Shutdown,
// then subscriptions, the protocol registry, and the route table are
// cleared here. Safe to call without a prior explicit Shutdown.
func (h *Handle) Destroy(ctx context.Context) error {
	if err := h.Shutdown(ctx); err != nil {
		return err
	}
	h.subs.reset()
	h.master.reset()
	h.routes.reset()
	return nil
}
