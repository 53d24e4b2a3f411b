package blade

import (
	"context"
)

// forwardRequest re-sends req toward responder: first via a known route,
// falling back to the upstream session, failing with Disconnected when
// neither exists. The inbound message id is preserved so the eventual
// response flows back along the reverse path through each hop's own
// pending-response correlation, with no forwarding state at
// intermediate nodes.
func (h *Handle) forwardRequest(ctx context.Context, responder NodeId, req *Request) (*Response, error) {
	var (
		target Session
		found  bool
	)
	if sid, ok := h.routes.Lookup(responder); ok {
		if guard, ok := h.sessions.Acquire(sid); ok {
			defer guard.Release()
			target, found = guard.Session(), true
		}
	}
	if !found {
		if s, ok := h.upstream.Session(); ok {
			target, found = s, true
		}
	}
	if !found {
		return nil, NewError(CodeDisconnected, "no route or upstream session toward %s", responder)
	}

	respCh := make(chan *Response, 1)
	cb := ResponseCallbackFuncs{
		OnResponse: func(resp *Response) { respCh <- resp },
		OnTimeout:  func() { respCh <- NewErrorResponse(req.ID, jsonrpcInternalError, "forwarded request timed out") },
		OnTornDown: func() { respCh <- NewErrorResponse(req.ID, jsonrpcInternalError, "session torn down awaiting forwarded response") },
	}
	if err := target.Send(ctx, req, cb); err != nil {
		return nil, WrapError(CodeInternal, err, "forward request toward %s", responder)
	}
	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		return nil, WrapError(CodeTimeout, ctx.Err(), "forward request toward %s", responder)
	}
}

// forwardOrHandle implements the addressing discipline shared by publish,
// locate and execute: if responder is the local id, run local; otherwise
// forward and relay whatever response comes back, re-keying it onto the
// original request id if the remote hop echoed its own.
func (h *Handle) forwardOrHandle(ctx context.Context, responder NodeId, req *Request, local func() (interface{}, error)) (interface{}, error) {
	if responder == h.LocalID() {
		return local()
	}
	resp, err := h.forwardRequest(ctx, responder, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, newWireError(resp.Error.Code, resp.Error.Message)
	}
	// resp.Result is a json.RawMessage, which implements json.Marshaler
	// by returning itself verbatim, so NewResultResponse reframes the
	// forwarded result without a decode/re-encode round trip.
	return resp.Result, nil
}
