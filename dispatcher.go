package blade

import (
	"context"
	"encoding/json"
)

// Dispatch is the entry point a Session implementation calls for each
// complete inbound JSON-RPC request object (responses are matched against
// the session's own pending-request table and never reach this function).
// It classifies, validates and routes the request to a handler, returning
// the Response to frame back to the caller.
//
// sessionID identifies the session the request arrived on; Dispatch
// acquires a read-locked SessionGuard for the duration of handler
// execution and releases it on every exit path.
func (h *Handle) Dispatch(ctx context.Context, sessionID SessionId, req *Request) *Response {
	if req.Method == "" {
		return NewErrorResponse(req.ID, jsonrpcInvalidParams, "missing method")
	}
	if !h.limiters.Allow(sessionID) {
		return NewErrorResponse(req.ID, jsonrpcInternalError, "rate limit exceeded")
	}

	guard, ok := h.sessions.Acquire(sessionID)
	if !ok {
		return NewErrorResponse(req.ID, jsonrpcInternalError, "unknown or torn-down session")
	}
	defer guard.Release()

	if err := h.pool.Acquire(ctx); err != nil {
		return errorResponseFor(req.ID, err)
	}
	defer h.pool.Release()

	call := &Call{Guard: guard, Request: req}

	handler, ok := h.rpcs.lookupCore(req.Method)
	if !ok {
		handler, ok = h.lookupProtocolHandlerForRequest(req)
	}
	if !ok {
		h.metrics.RPCDispatched.WithLabelValues(req.Method, "method_not_found").Inc()
		h.log.Debug("method not found", "method", req.Method, "session", sessionID)
		return NewErrorResponse(req.ID, jsonrpcMethodNotFound, "method not found: "+req.Method)
	}

	result, err := handler.HandleRequest(ctx, call)
	if err != nil {
		h.metrics.RPCDispatched.WithLabelValues(req.Method, "error").Inc()
		if be, ok := AsError(err); ok && (be.Code == CodeArgumentInvalid || be.Code == CodeMethodUnknown) {
			h.log.Debug("request rejected", "method", req.Method, "session", sessionID, "error", err)
		}
		return errorResponseFor(req.ID, err)
	}
	h.metrics.RPCDispatched.WithLabelValues(req.Method, "ok").Inc()
	if result == nil {
		// A nil result with a nil error means the handler already sent
		// its own response asynchronously (execute's ExecuteHandle
		// path); the dispatcher has nothing to frame.
		return nil
	}
	return NewResultResponse(req.ID, result)
}

// lookupProtocolHandlerForRequest peeks the envelope's protocol/realm
// fields (present on every application-level call that isn't one of the
// six core RPCs) to find a registered protocol_rpcs handler.
func (h *Handle) lookupProtocolHandlerForRequest(req *Request) (RequestHandler, bool) {
	var envelope struct {
		Protocol Protocol `json:"protocol"`
		Realm    Realm    `json:"realm"`
	}
	if err := json.Unmarshal(req.Params, &envelope); err != nil {
		return nil, false
	}
	return h.rpcs.lookupProtocol(req.Method, envelope.Protocol, envelope.Realm)
}

// decodeParams unmarshals a request's params into dst, returning an
// ArgumentInvalid *Error on failure.
func decodeParams(req *Request, dst interface{}) error {
	if len(req.Params) == 0 {
		return NewError(CodeArgumentInvalid, "missing params")
	}
	if err := json.Unmarshal(req.Params, dst); err != nil {
		return WrapError(CodeArgumentInvalid, err, "decode params for %s", req.Method)
	}
	return nil
}
