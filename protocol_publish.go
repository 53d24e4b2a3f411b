package blade

import "context"

// handlePublish implements blade.publish: a node advertises itself as a
// controller of (protocol, realm) with the Master. If responder-nodeid
// is not the local id, the request is forwarded via route lookup with
// upstream fallback; if it is the local id but this node is not actually
// the Master, -32602 is returned. remove withdraws the controller
// instead of adding it.
func (h *Handle) handlePublish(ctx context.Context, call *Call) (interface{}, error) {
	var params PublishParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.Protocol == "" || params.Realm == "" || params.RequesterNodeId == "" || params.ResponderNodeId == "" {
		return nil, NewError(CodeArgumentInvalid, "missing required params for blade.publish")
	}
	if !h.realmPolicy(params.Realm) {
		return nil, NewError(CodeArgumentInvalid, "realm not permitted: %s", params.Realm)
	}

	session := call.Guard.ID()
	return h.forwardOrHandle(ctx, params.ResponderNodeId, call.Request, func() (interface{}, error) {
		if !h.IsMaster() {
			return nil, NewError(CodeArgumentInvalid, "Invalid params responder-nodeid")
		}
		if params.Remove {
			h.master.RemoveController(params.Protocol, params.Realm, params.RequesterNodeId, session)
		} else {
			h.master.AddController(params.Protocol, params.Realm, params.RequesterNodeId, session)
		}
		return PublishResult{
			Protocol:        params.Protocol,
			Realm:           params.Realm,
			RequesterNodeId: params.RequesterNodeId,
			ResponderNodeId: params.ResponderNodeId,
		}, nil
	})
}
