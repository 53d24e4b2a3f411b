package blade

import "context"

// handleBroadcast implements blade.broadcast: deliver an event to every
// subscriber of (protocol, realm, event). Loop avoidance relies on
// excluding the inbound session (prevents echo back to the sender) and
// on the tree topology enforced by "at most one upstream session";
// broadcasts carry no hop count.
//
// The broadcaster does not receive its own event even if it has a local
// callback installed for the same key: the broadcaster-nodeid is
// excluded from local delivery.
func (h *Handle) handleBroadcast(ctx context.Context, call *Call) (interface{}, error) {
	var params BroadcastParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.BroadcasterNodeId == "" || params.Event == "" || params.Protocol == "" || params.Realm == "" {
		return nil, NewError(CodeArgumentInvalid, "missing required params for blade.broadcast")
	}

	delivered := h.fanoutBroadcast(ctx, params, call.Guard.ID(), call.Guard.Session().FromUpstream())
	h.metrics.BroadcastFanout.Observe(float64(delivered))

	return BroadcastResult{
		BroadcasterNodeId: params.BroadcasterNodeId,
		Event:             params.Event,
		Protocol:          params.Protocol,
		Realm:             params.Realm,
	}, nil
}

// fanoutBroadcast is the propagation algorithm shared by the wire handler
// and the local Broadcast generator: deliver to every subscriber of the
// key except the session the broadcast arrived on and the broadcaster
// itself, invoking the local callback for a local subscription, then
// forward upstream unless the broadcast came from upstream. inbound is
// empty and fromUpstream false when this node originated the broadcast.
// Returns the number of deliveries made.
func (h *Handle) fanoutBroadcast(ctx context.Context, params BroadcastParams, inbound SessionId, fromUpstream bool) int {
	subscribers, localCB := h.subs.Subscribers(params.Protocol, params.Realm, params.Event)

	delivered := 0
	for _, subscriber := range subscribers {
		if subscriber == h.LocalID() {
			if localCB != nil && params.BroadcasterNodeId != h.LocalID() {
				localCB.HandleEvent(&BroadcastEvent{
					BroadcasterNodeId: params.BroadcasterNodeId,
					Protocol:          params.Protocol,
					Realm:             params.Realm,
					Event:             params.Event,
					Params:            params.Params,
				})
				delivered++
			}
			continue
		}

		targetSession := subscriberSessionID(subscriber)
		if inbound != "" && targetSession == inbound {
			continue
		}
		if h.forwardBroadcast(ctx, targetSession, params) {
			delivered++
		}
	}

	if !fromUpstream {
		if session, ok := h.upstream.Session(); ok {
			_ = session.Send(ctx, mustBroadcastRequest(h, params), ResponseCallbackFuncs{})
			delivered++
		}
	}
	return delivered
}

// forwardBroadcast re-sends a broadcast to the session owning a
// downstream subscriber, fire-and-forget: nothing in the fanout path
// waits on that hop's own envelope-echo response.
func (h *Handle) forwardBroadcast(ctx context.Context, target SessionId, params BroadcastParams) bool {
	guard, ok := h.sessions.Acquire(target)
	if !ok {
		return false
	}
	defer guard.Release()
	if err := guard.Session().Send(ctx, mustBroadcastRequest(h, params), ResponseCallbackFuncs{}); err != nil {
		h.log.Warn("failed to forward broadcast", "error", err, "session", target)
		return false
	}
	return true
}

func mustBroadcastRequest(h *Handle, params BroadcastParams) *Request {
	req, err := newRequest("blade.broadcast", h.nextRequestID(), params)
	if err != nil {
		// params is always this package's own BroadcastParams, so
		// marshal failure here indicates a programming bug.
		panic(err)
	}
	return req
}
