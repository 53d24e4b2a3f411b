package blade

import "sync"

// routeManager maintains the route table: NodeId -> SessionId for
// downstream-reachable nodes, plus the inverse mapping held on each
// session. The invariant enforced here is that a NodeId appears in routes
// iff it appears in exactly one session's reverse set; Add silently
// replaces any prior owner of a NodeId, so a node that moves branches
// re-announces itself and the stale entry follows.
type routeManager struct {
	mu     sync.RWMutex
	routes map[NodeId]SessionId
}

func newRouteManager() *routeManager {
	return &routeManager{routes: make(map[NodeId]SessionId)}
}

// Add records that node is reachable through session, returning the
// previous owning session id, if any, so callers can reconcile that
// session's reverse set.
func (r *routeManager) Add(node NodeId, session SessionId) (previous SessionId, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, hadPrevious = r.routes[node]
	r.routes[node] = session
	return previous, hadPrevious
}

// Remove deletes node's route entry if it is currently owned by session.
// It is a no-op (not an error) if node routes through a different session
// or has no route at all, matching remove-by-announcement semantics.
func (r *routeManager) Remove(node NodeId, session SessionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.routes[node]; ok && cur == session {
		delete(r.routes, node)
	}
}

// RemoveAll deletes every route owned by session, used on session
// teardown when the session "publishes its whole set for cleanup".
func (r *routeManager) RemoveAll(session SessionId, nodes []NodeId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range nodes {
		if cur, ok := r.routes[n]; ok && cur == session {
			delete(r.routes, n)
		}
	}
}

// Lookup returns the session a node is currently reachable through.
func (r *routeManager) Lookup(node NodeId) (SessionId, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.routes[node]
	return s, ok
}

// Snapshot returns a copy of the route table, used by tests; metrics use
// Len.
func (r *routeManager) Snapshot() map[NodeId]SessionId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[NodeId]SessionId, len(r.routes))
	for k, v := range r.routes {
		out[k] = v
	}
	return out
}

func (r *routeManager) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = make(map[NodeId]SessionId)
}

// Len reports the number of known routes, for metrics.
func (r *routeManager) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
