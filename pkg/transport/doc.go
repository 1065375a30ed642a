/*
Package transport is the only package allowed to make outbound HTTP
calls to peer gateways. check_connectivity guards against SSRF before
any other operation touches a peer URL.

# See Also

  - pkg/connection uses Stream/PostMessage to drive the WS/SSE state machine
  - pkg/admission uses Get/Post for the join/invite handshake
*/
package transport
