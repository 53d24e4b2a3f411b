package blade

import "context"

// handleRegister implements blade.register: a child node
// informs its direct upstream of a NodeId reachable through it. The
// registration is never forwarded further upstream; each hop only tracks
// its own directly-reachable set, matching the tree routing model where
// upward routing is the default and needs no table.
func (h *Handle) handleRegister(_ context.Context, call *Call) (interface{}, error) {
	var params RegisterParams
	if err := decodeParams(call.Request, &params); err != nil {
		return nil, err
	}
	if params.NodeId == "" {
		return nil, NewError(CodeArgumentInvalid, "missing params nodeid")
	}

	session := call.Guard.ID()
	if params.Remove {
		h.routes.Remove(params.NodeId, session)
		h.sessions.RemoveOwnedNode(session, params.NodeId)
	} else {
		if prev, had := h.routes.Add(params.NodeId, session); had && prev != session {
			// Last register wins: the node moved branches, so drop it
			// from the previous session's reverse set to keep the
			// exactly-one-owner invariant.
			h.sessions.RemoveOwnedNode(prev, params.NodeId)
		}
		h.sessions.AddOwnedNode(session, params.NodeId)
	}
	return struct{}{}, nil
}
