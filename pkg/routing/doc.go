/*
Package routing resolves routes to nodes without a direct connection by
polling peers via RouteRequest/RouteResponse, and evicts cached proxy
routes on RouteNotification.

# See Also

  - pkg/routecache holds the Route RequestRoute saves
  - pkg/connection's relayRequest duplicates this flow for its own
    establish() path; Router is for the general request_route operation
*/
package routing
