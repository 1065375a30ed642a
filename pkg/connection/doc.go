/*
Package connection owns the one-live-transport-per-peer state machine:
detached → probing → ws_up ⇄ ws_retry → sse_up ⇄ sse_retry →
relay_request → proxied|unreachable. Route state itself lives in
pkg/routecache; this package only decides transitions and moves bytes.

# See Also

  - pkg/routecache holds the Route each transition publishes
  - pkg/broker carries bytes between the send loop and Send/Broadcast callers
  - pkg/routing answers the RouteRequest broadcasts relayRequest sends
*/
package connection
