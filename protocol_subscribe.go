package blade

import "context"

// handleSubscribe implements the wire form of blade.subscribe. The
// subscriber identity recorded for a downstream request is the inbound
// session's id itself, not a routed NodeId: one downstream branch holds
// one interest regardless of how many leaves below it subscribed.
// Propagation upstream happens exactly on a 0->1 or >=1->0 transition of
// the local subscriber set for this key, never on an intermediate
// add/add or remove/remove.
func (h *Handle) handleSubscribe(ctx context.Context, call *Call) (interface{}, error) {
	var params SubscribeParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.Protocol == "" || params.Realm == "" || params.Event == "" {
		return nil, NewError(CodeArgumentInvalid, "missing required params for blade.subscribe")
	}
	if !h.realmPolicy(params.Realm) {
		return nil, NewError(CodeArgumentInvalid, "realm not permitted: %s", params.Realm)
	}

	subscriber := sessionSubscriberID(call.Guard.ID())
	var propagate bool
	if params.Remove {
		propagate = h.subs.RemoveSubscriber(params.Protocol, params.Realm, params.Event, subscriber)
	} else {
		propagate = h.subs.AddSubscriber(params.Protocol, params.Realm, params.Event, subscriber)
	}

	if propagate {
		h.propagateSubscribeUpstream(ctx, eventKey{params.Protocol, params.Realm, params.Event}, params.Remove)
	}

	return SubscribeResult{Protocol: params.Protocol, Realm: params.Realm, Event: params.Event}, nil
}

// sessionSubscriberID converts a session id into the opaque identifier
// used as a subscription-tree key for a downstream branch. NodeId and
// SessionId are both opaque strings; reusing the same underlying
// representation avoids a parallel subscriber-identity type.
func sessionSubscriberID(s SessionId) NodeId { return NodeId(s) }

func subscriberSessionID(n NodeId) SessionId { return SessionId(n) }

// propagateSubscribeUpstream sends blade.subscribe upstream for key,
// terminating at the Master (which has no upstream). It
// is also used by TeardownSession to emit the remove propagation a
// departing downstream branch's transitions require.
func (h *Handle) propagateSubscribeUpstream(ctx context.Context, key eventKey, remove bool) {
	if h.IsMaster() {
		return
	}
	h.mu.Lock()
	down := h.shuttingDown
	h.mu.Unlock()
	if down {
		return
	}
	session, ok := h.upstream.Session()
	if !ok {
		h.log.Warn("cannot propagate subscribe upstream: no upstream session",
			"protocol", key.protocol, "realm", key.realm, "event", key.event)
		return
	}
	params := SubscribeParams{Protocol: key.protocol, Realm: key.realm, Event: key.event, Remove: remove}
	req, err := newRequest("blade.subscribe", h.nextRequestID(), params)
	if err != nil {
		h.log.Error("failed to build upstream subscribe request", "error", err)
		return
	}
	direction := "add"
	if remove {
		direction = "remove"
	}
	h.metrics.SubscribePropagate.WithLabelValues(direction).Inc()
	if err := session.Send(ctx, req, ResponseCallbackFuncs{}); err != nil {
		h.log.Warn("failed to send upstream subscribe", "error", err)
	}
}

// Subscribe is the local generator: it installs a local
// EventCallback and records the local node as a subscriber of
// (protocol, realm, event), propagating upstream on the same 0->1
// transition rule as the wire form.
func (h *Handle) Subscribe(ctx context.Context, protocol Protocol, realm Realm, event string, cb EventCallback) error {
	if !h.IsMaster() {
		if _, ok := h.upstream.Session(); !ok {
			return NewError(CodeDisconnected, "no upstream session to subscribe through")
		}
	}
	local := h.LocalID()
	propagate := h.subs.AddSubscriber(protocol, realm, event, local)
	h.subs.SetLocalCallback(protocol, realm, event, cb)
	if propagate {
		h.propagateSubscribeUpstream(ctx, eventKey{protocol, realm, event}, false)
	}
	return nil
}

// Unsubscribe withdraws the local callback installed by Subscribe.
func (h *Handle) Unsubscribe(ctx context.Context, protocol Protocol, realm Realm, event string) error {
	local := h.LocalID()
	propagate := h.subs.RemoveSubscriber(protocol, realm, event, local)
	h.subs.SetLocalCallback(protocol, realm, event, nil)
	if propagate {
		h.propagateSubscribeUpstream(ctx, eventKey{protocol, realm, event}, true)
	}
	return nil
}
