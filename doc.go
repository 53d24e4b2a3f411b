// Package blade implements the node-level runtime of a hierarchical
// peer-to-peer JSON-RPC fabric: a single upstream session toward a parent
// (terminating at a Master node), any number of downstream sessions from
// children, a route table learned from those sessions, a protocol registry
// (Master only), a subscription tree, and the six core RPCs that keep all
// of that state coherent: blade.register, blade.publish, blade.locate,
// blade.execute, blade.subscribe and blade.broadcast.
//
// Transport, framing and connection establishment are collaborators
// implemented outside this package (see the transport subpackages); blade
// consumes them through the Transport and Session interfaces in session.go.
package blade
