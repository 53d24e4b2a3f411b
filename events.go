package blade

import "encoding/json"

// EventCallback is the capability interface a local subscriber installs
// to receive broadcast events delivered to this node.
// Implementations should not block; broadcast fanout invokes this
// synchronously on the dispatch goroutine handling the inbound
// blade.broadcast request.
type EventCallback interface {
	HandleEvent(evt *BroadcastEvent)
}

// EventCallbackFunc adapts a plain function to an EventCallback, the way
// http.HandlerFunc adapts a function to http.Handler.
type EventCallbackFunc func(evt *BroadcastEvent)

// HandleEvent implements EventCallback.
func (f EventCallbackFunc) HandleEvent(evt *BroadcastEvent) { f(evt) }

// BroadcastEvent is what a local EventCallback receives: the decoded
// broadcast parameters plus whatever opaque payload the broadcaster sent.
type BroadcastEvent struct {
	BroadcasterNodeId NodeId
	Protocol          Protocol
	Realm             Realm
	Event             string
	Params            json.RawMessage
}
