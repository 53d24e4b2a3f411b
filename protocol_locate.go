package blade

import "context"

// handleLocate implements blade.locate: returns the current
// controller set of (protocol, realm). It shares publish's
// requester/responder addressing discipline: non-Masters forward,
// misaddressed requests at the named responder fail with -32602.
// Iteration order of the returned controller set is unspecified.
func (h *Handle) handleLocate(ctx context.Context, call *Call) (interface{}, error) {
	var params LocateParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.Protocol == "" || params.Realm == "" || params.RequesterNodeId == "" || params.ResponderNodeId == "" {
		return nil, NewError(CodeArgumentInvalid, "missing required params for blade.locate")
	}
	if !h.realmPolicy(params.Realm) {
		return nil, NewError(CodeArgumentInvalid, "realm not permitted: %s", params.Realm)
	}

	return h.forwardOrHandle(ctx, params.ResponderNodeId, call.Request, func() (interface{}, error) {
		if !h.IsMaster() {
			return nil, NewError(CodeArgumentInvalid, "Invalid params responder-nodeid")
		}
		return LocateResult{
			Protocol:        params.Protocol,
			Realm:           params.Realm,
			RequesterNodeId: params.RequesterNodeId,
			ResponderNodeId: params.ResponderNodeId,
			Controllers:     h.master.Controllers(params.Protocol, params.Realm),
		}, nil
	})
}
