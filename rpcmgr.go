package blade

import (
	"context"
	"sync"
)

// RequestHandler is the capability interface a protocol RPC handler
// implements, kept as a plain interface instead of a generic type
// parameter so it can live uniformly in the manager's lookup table
// regardless of the concrete params/result types a given
// (method, protocol, realm) uses.
//
// HandleRequest returns a JSON-serializable result, or an error (which
// the dispatcher converts to a JSON-RPC error response on the same id).
// Long-running handlers should watch ctx for cancellation on session
// teardown or shutdown.
type RequestHandler interface {
	HandleRequest(ctx context.Context, call *Call) (interface{}, error)
}

// RequestHandlerFunc adapts a plain function to a RequestHandler.
type RequestHandlerFunc func(ctx context.Context, call *Call) (interface{}, error)

// HandleRequest implements RequestHandler.
func (f RequestHandlerFunc) HandleRequest(ctx context.Context, call *Call) (interface{}, error) {
	return f(ctx, call)
}

// Call is what a registered handler receives: the inbound request plus
// the scoped read-guard of the session it arrived on, held for the
// duration of the handler.
type Call struct {
	Guard   *SessionGuard
	Request *Request
}

// rpcHandlerKey identifies one registered protocol RPC handler.
type rpcHandlerKey struct {
	method   string
	protocol Protocol
	realm    Realm
}

// rpcManager holds the fixed core RPC table (the six built-in methods,
// registered once at startup) plus the protocol RPC table application
// code populates via RegisterHandler.
type rpcManager struct {
	mu           sync.RWMutex
	coreRPCs     map[string]RequestHandler
	protocolRPCs map[rpcHandlerKey]RequestHandler
}

func newRPCManager() *rpcManager {
	return &rpcManager{
		coreRPCs:     make(map[string]RequestHandler),
		protocolRPCs: make(map[rpcHandlerKey]RequestHandler),
	}
}

// registerCore installs one of the six built-in methods. Called only
// during Handle.Startup.
func (m *rpcManager) registerCore(method string, h RequestHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coreRPCs[method] = h
}

// RegisterHandler installs an application-level protocol RPC handler for
// (method, protocol, realm). It returns CodeDuplicateOperation if a
// handler is already registered for this exact key.
func (m *rpcManager) RegisterHandler(method string, protocol Protocol, realm Realm, h RequestHandler) error {
	key := rpcHandlerKey{method, protocol, realm}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.protocolRPCs[key]; ok {
		return NewError(CodeDuplicateOperation, "handler already registered for %s/%s/%s", protocol, realm, method)
	}
	m.protocolRPCs[key] = h
	return nil
}

// UnregisterHandler removes a previously registered protocol RPC handler.
func (m *rpcManager) UnregisterHandler(method string, protocol Protocol, realm Realm) {
	key := rpcHandlerKey{method, protocol, realm}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.protocolRPCs, key)
}

// lookupCore finds a core RPC handler by method name alone.
func (m *rpcManager) lookupCore(method string) (RequestHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.coreRPCs[method]
	return h, ok
}

// lookupProtocol finds a protocol RPC handler by (method, protocol, realm).
func (m *rpcManager) lookupProtocol(method string, protocol Protocol, realm Realm) (RequestHandler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.protocolRPCs[rpcHandlerKey{method, protocol, realm}]
	return h, ok
}
