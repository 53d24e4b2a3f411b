package blade

import "encoding/json"

// The structs below are the wire shapes of the six core RPCs' params and
// results. They exist so encoding/json enforces field types on decode --
// a wrong-typed field already surfaces as a JSON-RPC -32602 through the
// dispatcher's decode-error path -- without a standalone validation
// layer. A missing field decodes to its zero value; each handler checks
// its required fields itself. Semantic checks (e.g. "protocol is a
// registered protocol") are not performed here.

// RegisterParams is the payload of blade.register.
type RegisterParams struct {
	NodeId NodeId `json:"nodeid"`
	Remove bool   `json:"remove,omitempty"`
}

// PublishParams is the payload of blade.publish. Remove mirrors
// blade.register's remove flag: when true, the named node is withdrawn
// as a controller instead of added.
type PublishParams struct {
	Protocol        Protocol `json:"protocol"`
	Realm           Realm    `json:"realm"`
	RequesterNodeId NodeId   `json:"requester-nodeid"`
	ResponderNodeId NodeId   `json:"responder-nodeid"`
	Remove          bool     `json:"remove,omitempty"`
}

// PublishResult echoes the request fields verbatim.
type PublishResult struct {
	Protocol        Protocol `json:"protocol"`
	Realm           Realm    `json:"realm"`
	RequesterNodeId NodeId   `json:"requester-nodeid"`
	ResponderNodeId NodeId   `json:"responder-nodeid"`
}

// LocateParams is the payload of blade.locate.
type LocateParams struct {
	Protocol        Protocol `json:"protocol"`
	Realm           Realm    `json:"realm"`
	RequesterNodeId NodeId   `json:"requester-nodeid"`
	ResponderNodeId NodeId   `json:"responder-nodeid"`
}

// LocateResult is the Master's response to blade.locate.
type LocateResult struct {
	Protocol        Protocol `json:"protocol"`
	Realm           Realm    `json:"realm"`
	RequesterNodeId NodeId   `json:"requester-nodeid"`
	ResponderNodeId NodeId   `json:"responder-nodeid"`
	Controllers     []NodeId `json:"controllers"`
}

// ExecuteParams is the payload of blade.execute.
type ExecuteParams struct {
	Protocol        Protocol `json:"protocol"`
	Realm           Realm    `json:"realm"`
	RequesterNodeId NodeId   `json:"requester-nodeid"`
	ResponderNodeId NodeId   `json:"responder-nodeid"`
	Method          string   `json:"method"`
}

// ExecuteResult wraps a handler's return value in the fixed execute
// response envelope.
type ExecuteResult struct {
	Protocol        Protocol    `json:"protocol"`
	Realm           Realm       `json:"realm"`
	RequesterNodeId NodeId      `json:"requester-nodeid"`
	ResponderNodeId NodeId      `json:"responder-nodeid"`
	Result          interface{} `json:"result"`
}

// SubscribeParams is the payload of blade.subscribe.
type SubscribeParams struct {
	Protocol Protocol `json:"protocol"`
	Realm    Realm    `json:"realm"`
	Event    string   `json:"event"`
	Remove   bool     `json:"remove,omitempty"`
}

// SubscribeResult echoes the subscribed key.
type SubscribeResult struct {
	Protocol Protocol `json:"protocol"`
	Realm    Realm    `json:"realm"`
	Event    string   `json:"event"`
}

// BroadcastParams is the payload of blade.broadcast.
type BroadcastParams struct {
	BroadcasterNodeId NodeId          `json:"broadcaster-nodeid"`
	Event             string          `json:"event"`
	Protocol          Protocol        `json:"protocol"`
	Realm             Realm           `json:"realm"`
	Params            json.RawMessage `json:"params,omitempty"`
}

// BroadcastResult echoes the broadcast key.
type BroadcastResult struct {
	BroadcasterNodeId NodeId   `json:"broadcaster-nodeid"`
	Event             string   `json:"event"`
	Protocol          Protocol `json:"protocol"`
	Realm             Realm    `json:"realm"`
}
