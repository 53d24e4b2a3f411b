package blade

import (
	"context"
	"encoding/json"
)

// The generator half of the six core RPCs: the functions a node calls to
// originate a request, as opposed to the handle* functions that receive
// one. Per the upstream state machine, every generator that needs the
// wire checks upstream == UP and fails with Disconnected otherwise,
// except when the destination is reachable through a known downstream
// route. A generator that fails synchronously never touches the wire and
// never invokes its callback; a generator that reached the wire invokes
// the callback exactly once, on response, timeout or teardown.

// generatorSession picks the session a generator sends on: a known route
// toward responder first, the upstream session otherwise. The returned
// release func must be called after the send completes; it is a no-op for
// the upstream session, which the upstream manager owns.
func (h *Handle) generatorSession(responder NodeId) (Session, func(), error) {
	if responder != "" {
		if sid, ok := h.routes.Lookup(responder); ok {
			if guard, ok := h.sessions.Acquire(sid); ok {
				return guard.Session(), guard.Release, nil
			}
		}
	}
	if s, ok := h.upstream.Session(); ok {
		return s, func() {}, nil
	}
	return nil, nil, NewError(CodeDisconnected, "no route or upstream session toward %q", responder)
}

func (h *Handle) sendGenerated(ctx context.Context, responder NodeId, method string, params interface{}, cb ResponseCallback) error {
	session, release, err := h.generatorSession(responder)
	if err != nil {
		return err
	}
	defer release()
	req, err := newRequest(method, h.nextRequestID(), params)
	if err != nil {
		return WrapError(CodeInternal, err, "marshal %s params", method)
	}
	if err := session.Send(ctx, req, cb); err != nil {
		return WrapError(CodeInternal, err, "send %s", method)
	}
	return nil
}

// nextRequestID returns a fresh JSON-RPC request id, already framed as a
// JSON string literal.
func (h *Handle) nextRequestID() json.RawMessage {
	return json.RawMessage(`"` + h.ids.NextRequestID() + `"`)
}

// Register announces node as reachable through this node to the direct
// upstream (or withdraws it when remove is true). Registration is a
// strictly one-hop affair: the upstream records the route and does not
// forward further.
func (h *Handle) Register(ctx context.Context, node NodeId, remove bool, cb ResponseCallback) error {
	if node == "" {
		return NewError(CodeArgumentInvalid, "missing nodeid")
	}
	session, ok := h.upstream.Session()
	if !ok {
		return NewError(CodeDisconnected, "no upstream session to register with")
	}
	req, err := newRequest("blade.register", h.nextRequestID(), RegisterParams{NodeId: node, Remove: remove})
	if err != nil {
		return WrapError(CodeInternal, err, "marshal blade.register params")
	}
	if err := session.Send(ctx, req, cb); err != nil {
		return WrapError(CodeInternal, err, "send blade.register")
	}
	return nil
}

// Publish advertises this node as a controller of (protocol, realm) with
// the Master (or withdraws the advertisement when remove is true).
// responder must be the Master's node id.
func (h *Handle) Publish(ctx context.Context, protocol Protocol, realm Realm, responder NodeId, remove bool, cb ResponseCallback) error {
	if protocol == "" || realm == "" || responder == "" {
		return NewError(CodeArgumentInvalid, "missing required blade.publish params")
	}
	params := PublishParams{
		Protocol:        protocol,
		Realm:           realm,
		RequesterNodeId: h.LocalID(),
		ResponderNodeId: responder,
		Remove:          remove,
	}
	return h.sendGenerated(ctx, responder, "blade.publish", params, cb)
}

// Locate asks the Master for the current controller set of
// (protocol, realm). The response's result decodes into LocateResult.
func (h *Handle) Locate(ctx context.Context, protocol Protocol, realm Realm, responder NodeId, cb ResponseCallback) error {
	if protocol == "" || realm == "" || responder == "" {
		return NewError(CodeArgumentInvalid, "missing required blade.locate params")
	}
	params := LocateParams{
		Protocol:        protocol,
		Realm:           realm,
		RequesterNodeId: h.LocalID(),
		ResponderNodeId: responder,
	}
	return h.sendGenerated(ctx, responder, "blade.locate", params, cb)
}

// Execute invokes method on responder within (protocol, realm). The
// response's result decodes into ExecuteResult, whose Result field holds
// whatever the remote handler returned.
func (h *Handle) Execute(ctx context.Context, responder NodeId, protocol Protocol, realm Realm, method string, cb ResponseCallback) error {
	if protocol == "" || realm == "" || responder == "" || method == "" {
		return NewError(CodeArgumentInvalid, "missing required blade.execute params")
	}
	params := ExecuteParams{
		Protocol:        protocol,
		Realm:           realm,
		RequesterNodeId: h.LocalID(),
		ResponderNodeId: responder,
		Method:          method,
	}
	return h.sendGenerated(ctx, responder, "blade.execute", params, cb)
}

// Broadcast originates an event toward every subscriber of
// (protocol, realm, event) in the fabric. The originator fans out to its
// own downstream subscribers and sends upstream; its own local callback,
// if any, is not invoked (the broadcaster is excluded from delivery).
func (h *Handle) Broadcast(ctx context.Context, protocol Protocol, realm Realm, event string, payload json.RawMessage) error {
	if protocol == "" || realm == "" || event == "" {
		return NewError(CodeArgumentInvalid, "missing required blade.broadcast params")
	}
	if !h.IsMaster() {
		if _, ok := h.upstream.Session(); !ok {
			return NewError(CodeDisconnected, "no upstream session to broadcast through")
		}
	}
	params := BroadcastParams{
		BroadcasterNodeId: h.LocalID(),
		Protocol:          protocol,
		Realm:             realm,
		Event:             event,
		Params:            payload,
	}
	delivered := h.fanoutBroadcast(ctx, params, "", false)
	h.metrics.BroadcastFanout.Observe(float64(delivered))
	return nil
}
