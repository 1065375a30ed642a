/*
Package types defines the core data structures shared across the gateway.

These are the records every other package reads and writes: the Network a
node belongs to, the Nodes inside it, the message envelope carried over the
wire, the cached Route used to reach a peer, and the admission and
proof-of-work bookkeeping records used while a peer is joining.

# Core Types

Network & Node:
  - Network: a federation a node has joined or is joining
  - Node: one peer within a Network, keyed by its instance id

Messages:
  - MessageMetadata: network/node/message id + timestamp carried by every
    message.Envelope (the envelope and the registry's catalog entries,
    message.Config, are defined in pkg/message)

Routing:
  - Route: the currently selected path to a peer (direct or proxied,
    websocket or SSE)

Admission:
  - AdmissionRecord: a persisted join/invite message, sent or received
  - ChallengeEntry: a proof-of-work nonce issued to an unauthenticated
    requester, valid for ChallengeValidity

Users:
  - UserMapping: resolves an opaque external user id to the node
    currently representing it within a network; carries no
    authentication or authorization semantics

# Design Patterns

Enums use typed string constants:

	type Connectivity string
	const (
		ConnectivityDirect Connectivity = "direct"
		ConnectivityProxy  Connectivity = "proxy"
	)

Optional associations use pointer-free empty values instead of nil
pointers where the zero value is unambiguous (e.g. Network.CentralNode
is "" for a decentralised network), matching the rest of this package's
flat, JSON-friendly structs.

# Thread Safety

Values in this package carry no internal synchronization. Callers that
share a Node, Route, or ChallengeEntry across goroutines must copy it or
guard it externally; pkg/storage and pkg/routecache do this for their
respective entities.

# See Also

  - pkg/storage for persistence
  - pkg/message for the Envelope built around
    MessageMetadata
  - pkg/routecache for Route caching
  - pkg/admission for AdmissionRecord and ChallengeEntry lifecycles
*/
package types
