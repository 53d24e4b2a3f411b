package blade

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ExecuteHandle lets a blade.execute handler answer after returning: a
// value that outlives the inbound request frame and is closed exactly
// once. A handler that cannot answer synchronously retains an
// ExecuteHandle and calls Respond or RespondError on it once its
// asynchronous work completes.
//
// An ExecuteHandle closes over the session id and generation at the
// moment the request arrived; Respond re-acquires the session through
// the session manager rather than holding the original read-lock for the
// handle's lifetime, so a long-lived async handle never blocks that
// session's teardown.
type ExecuteHandle struct {
	handle     *Handle
	token      uuid.UUID
	sessionID  SessionId
	generation uint64
	requestID  []byte
	envelope   ExecuteResult
	done       atomic.Bool
}

// executeHandleRegistry tracks outstanding ExecuteHandles per session so
// TeardownSession can invalidate them promptly instead of waiting for a
// late Respond to discover the session is gone.
type executeHandleRegistry struct {
	mu     sync.Mutex
	bySess map[SessionId]map[uuid.UUID]*ExecuteHandle
}

func newExecuteHandleRegistry() *executeHandleRegistry {
	return &executeHandleRegistry{bySess: make(map[SessionId]map[uuid.UUID]*ExecuteHandle)}
}

func (r *executeHandleRegistry) track(h *ExecuteHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.bySess[h.sessionID]
	if !ok {
		set = make(map[uuid.UUID]*ExecuteHandle)
		r.bySess[h.sessionID] = set
	}
	set[h.token] = h
}

func (r *executeHandleRegistry) untrack(h *ExecuteHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.bySess[h.sessionID]; ok {
		delete(set, h.token)
		if len(set) == 0 {
			delete(r.bySess, h.sessionID)
		}
	}
}

// forgetSession drops the tracking entries for a torn-down session. The
// handles themselves stay completable in the double-respond sense; a late
// Respond fails the generation check and reports SessionTornDown.
func (r *executeHandleRegistry) forgetSession(id SessionId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bySess, id)
}

// newExecuteHandle builds an ExecuteHandle for call, capturing the
// envelope fields handleExecute already validated.
func (h *Handle) newExecuteHandle(call *Call, envelope ExecuteResult) *ExecuteHandle {
	gen, _ := h.sessions.currentGeneration(call.Guard.ID())
	eh := &ExecuteHandle{
		handle:     h,
		token:      uuid.New(),
		sessionID:  call.Guard.ID(),
		generation: gen,
		requestID:  append([]byte(nil), call.Request.ID...),
		envelope:   envelope,
	}
	h.executes.track(eh)
	return eh
}

// Respond completes the handle with a successful result, framing the
// fixed execute response envelope.
func (h *ExecuteHandle) Respond(ctx context.Context, result interface{}) error {
	if !h.done.CompareAndSwap(false, true) {
		return NewError(CodeDuplicateOperation, "execute handle already completed")
	}
	defer h.handle.executes.untrack(h)

	guard, ok := h.handle.sessions.AcquireIfGen(h.sessionID, h.generation)
	if !ok {
		return NewError(CodeSessionTornDown, "session gone before async execute response")
	}
	defer guard.Release()

	h.envelope.Result = result
	return guard.Session().Reply(ctx, NewResultResponse(h.requestID, h.envelope))
}

// RespondError completes the handle with a JSON-RPC error on the
// inbound request id: handlers convert their own errors to a wire error
// response rather than letting them unwind across the dispatch boundary.
func (h *ExecuteHandle) RespondError(ctx context.Context, err error) error {
	if !h.done.CompareAndSwap(false, true) {
		return NewError(CodeDuplicateOperation, "execute handle already completed")
	}
	defer h.handle.executes.untrack(h)

	guard, ok := h.handle.sessions.AcquireIfGen(h.sessionID, h.generation)
	if !ok {
		return NewError(CodeSessionTornDown, "session gone before async execute error response")
	}
	defer guard.Release()

	return guard.Session().Reply(ctx, errorResponseFor(h.requestID, err))
}
