// Package routing resolves a route to a target node that has no direct
// connection by asking every known peer whether it can reach it,
// adopting the shortest proxy chain offered, and evicting routes that
// peers report broken.
package routing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/types"
)

// collectionWindow bounds how long request_route waits for RouteRequest
// responses before giving up.
const collectionWindow = 5 * time.Second

// Broadcaster sends raw envelope bytes to every peer with a cached route
// in a network.
type Broadcaster interface {
	Broadcast(networkID string, raw []byte) (int, error)
}

// ResponseWaiter blocks until a response to messageID arrives or times out.
type ResponseWaiter interface {
	ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error)
}

// Router answers request_route/notify_route_broken and the inbound
// RouteRequest/RouteNotification handlers.
type Router struct {
	routes      *routecache.Cache
	broadcaster Broadcaster
	responses   ResponseWaiter
	selfID      string
}

// New builds a Router.
func New(routes *routecache.Cache, broadcaster Broadcaster, responses ResponseWaiter, selfID string) *Router {
	return &Router{routes: routes, broadcaster: broadcaster, responses: responses, selfID: selfID}
}

type routeRequestBody struct {
	Target string `json:"target"`
}

type routeResponseBody struct {
	Route []string `json:"route"`
}

type routeNotificationBody struct {
	Broken string `json:"broken"`
}

// RequestRoute reports true immediately if networkID/target is already
// cached. Otherwise it broadcasts a RouteRequest, collects responses for
// collectionWindow, and caches the shortest non-empty chain offered.
func (r *Router) RequestRoute(ctx context.Context, networkID, target string) (bool, error) {
	if _, ok := r.routes.Get(networkID, target); ok {
		return true, nil
	}

	messageID := uuid.NewString()
	env, err := message.NewEnvelope("dedi-link.RouteRequest", types.MessageMetadata{NetworkID: networkID, NodeID: r.selfID, MessageID: messageID, Timestamp: time.Now()}, routeRequestBody{Target: target})
	if err != nil {
		return false, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return false, err
	}
	if _, err := r.broadcaster.Broadcast(networkID, raw); err != nil {
		return false, err
	}

	deadline := time.Now().Add(collectionWindow)
	var best []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		raw, err := r.responses.ResponseStream(ctx, messageID, remaining)
		if err != nil {
			break
		}
		var body routeResponseBody
		if json.Unmarshal(raw, &body) == nil && len(body.Route) > 0 {
			if best == nil || len(body.Route) < len(best) {
				best = body.Route
			}
		}
	}

	if best == nil {
		return false, nil
	}

	firstHop := best[0]
	existing, hasExisting := r.routes.Get(networkID, firstHop)
	transportKind := types.TransportWebsocket
	outbound := true
	if hasExisting {
		transportKind = existing.Transport
		outbound = existing.Outbound
	}
	r.routes.Save(&types.Route{NetworkID: networkID, NodeID: target, Connectivity: types.ConnectivityProxy, Transport: transportKind, Outbound: outbound, ProxyChain: best})
	return true, nil
}

// HandleRouteRequest answers an inbound RouteRequest: if the local route
// to the requested target is direct, respond route=[self]; if proxy,
// respond route=[self, ...chain]; otherwise respond with an empty route.
func (r *Router) HandleRouteRequest(networkID string, body routeRequestBody) routeResponseBody {
	route, ok := r.routes.Get(networkID, body.Target)
	if !ok {
		return routeResponseBody{}
	}
	if route.Connectivity == types.ConnectivityDirect {
		return routeResponseBody{Route: []string{r.selfID}}
	}
	return routeResponseBody{Route: append([]string{r.selfID}, route.ProxyChain...)}
}

// NotifyRouteBroken broadcasts a RouteNotification for broken.
func (r *Router) NotifyRouteBroken(networkID, broken string) error {
	env, err := message.NewEnvelope("dedi-link.RouteNotification", types.MessageMetadata{NetworkID: networkID, NodeID: r.selfID, MessageID: uuid.NewString(), Timestamp: time.Now()}, routeNotificationBody{Broken: broken})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = r.broadcaster.Broadcast(networkID, raw)
	return err
}

// HandleRouteNotification evicts a cached proxy route to the broken node.
func (r *Router) HandleRouteNotification(networkID string, body routeNotificationBody) {
	route, ok := r.routes.Get(networkID, body.Broken)
	if !ok || route.Connectivity != types.ConnectivityProxy {
		return
	}
	r.routes.Delete(networkID, body.Broken)
}

// HandleRouteRequestEnvelope decodes an inbound RouteRequest envelope and
// builds the RouteResponse envelope to send back to the requester,
// echoing its message id so ResponseStream correlates the reply.
func (r *Router) HandleRouteRequestEnvelope(env *message.Envelope) (*message.Envelope, error) {
	var body routeRequestBody
	if err := env.Decode(&body); err != nil {
		return nil, err
	}
	resp := r.HandleRouteRequest(env.Metadata.NetworkID, body)
	return message.NewEnvelope("dedi-link.RouteResponse", types.MessageMetadata{NetworkID: env.Metadata.NetworkID, NodeID: r.selfID, MessageID: env.Metadata.MessageID, Timestamp: time.Now()}, resp)
}

// HandleRouteNotificationEnvelope decodes and handles an inbound
// RouteNotification envelope.
func (r *Router) HandleRouteNotificationEnvelope(env *message.Envelope) error {
	var body routeNotificationBody
	if err := env.Decode(&body); err != nil {
		return err
	}
	r.HandleRouteNotification(env.Metadata.NetworkID, body)
	return nil
}
