package blade

import "context"

// handleExecute implements blade.execute: invoke method on
// responder-nodeid within (protocol, realm). If responder-nodeid is not
// the local id, the request is forwarded by route lookup with upstream
// fallback. Locally, the
// registered protocol handler is invoked; if it returns a nil result and
// nil error it has retained an ExecuteHandle and will respond
// asynchronously, so handleExecute itself returns nil, nil to tell the
// dispatcher a response has already been (or will be) sent.
func (h *Handle) handleExecute(ctx context.Context, call *Call) (interface{}, error) {
	var params ExecuteParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.Protocol == "" || params.Realm == "" || params.ResponderNodeId == "" || params.Method == "" {
		return nil, NewError(CodeArgumentInvalid, "missing required params for blade.execute")
	}
	if !h.realmPolicy(params.Realm) {
		return nil, NewError(CodeArgumentInvalid, "realm not permitted: %s", params.Realm)
	}

	return h.forwardOrHandle(ctx, params.ResponderNodeId, call.Request, func() (interface{}, error) {
		handler, ok := h.rpcs.lookupProtocol(params.Method, params.Protocol, params.Realm)
		if !ok {
			return nil, NewError(CodeMethodUnknown, "no handler registered for %s/%s/%s", params.Protocol, params.Realm, params.Method)
		}
		result, err := handler.HandleRequest(ctx, call)
		if err != nil {
			return nil, err
		}
		envelope := ExecuteResult{
			Protocol:        params.Protocol,
			Realm:           params.Realm,
			RequesterNodeId: params.RequesterNodeId,
			ResponderNodeId: params.ResponderNodeId,
		}
		if result == nil {
			// Handler chose the asynchronous path; it is responsible
			// for having retained an ExecuteHandle built with this
			// same envelope via NewExecuteHandle before returning.
			return nil, nil
		}
		envelope.Result = result
		return envelope, nil
	})
}

// NewExecuteHandle lets a protocol RequestHandler that cannot answer
// blade.execute synchronously retain a handle to respond with later.
// Handlers must call this before returning (nil, nil) from
// HandleRequest.
func (h *Handle) NewExecuteHandle(call *Call, params ExecuteParams) *ExecuteHandle {
	envelope := ExecuteResult{
		Protocol:        params.Protocol,
		Realm:           params.Realm,
		RequesterNodeId: params.RequesterNodeId,
		ResponderNodeId: params.ResponderNodeId,
	}
	return h.newExecuteHandle(call, envelope)
}
