package routing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/types"
)

type fakeBroadcaster struct {
	lastNetworkID string
	lastRaw       []byte
	count         int
}

func (f *fakeBroadcaster) Broadcast(networkID string, raw []byte) (int, error) {
	f.lastNetworkID = networkID
	f.lastRaw = raw
	return f.count, nil
}

type fakeResponseWaiter struct {
	responses [][]byte
	idx       int
}

func (f *fakeResponseWaiter) ResponseStream(ctx context.Context, messageID string, timeout time.Duration) ([]byte, error) {
	if f.idx >= len(f.responses) {
		return nil, context.DeadlineExceeded
	}
	r := f.responses[f.idx]
	f.idx++
	return r, nil
}

func TestRequestRouteReturnsTrueWhenAlreadyCached(t *testing.T) {
	routes := routecache.New()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-z"})
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	ok, err := router.RequestRoute(context.Background(), "net-1", "node-z")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequestRouteAdoptsShortestChain(t *testing.T) {
	routes := routecache.New()
	long, _ := json.Marshal(routeResponseBody{Route: []string{"a", "b", "c"}})
	short, _ := json.Marshal(routeResponseBody{Route: []string{"a"}})
	waiter := &fakeResponseWaiter{responses: [][]byte{long, short}}
	router := New(routes, &fakeBroadcaster{}, waiter, "self")

	ok, err := router.RequestRoute(context.Background(), "net-1", "node-z")
	require.NoError(t, err)
	assert.True(t, ok)

	route, found := routes.Get("net-1", "node-z")
	require.True(t, found)
	assert.Equal(t, []string{"a"}, route.ProxyChain)
	assert.Equal(t, types.ConnectivityProxy, route.Connectivity)
}

func TestRequestRouteReturnsFalseWhenNoChainOffered(t *testing.T) {
	routes := routecache.New()
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	ok, err := router.RequestRoute(context.Background(), "net-1", "node-z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleRouteRequestRespondsDirectWithSelfOnly(t *testing.T) {
	routes := routecache.New()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-z", Connectivity: types.ConnectivityDirect})
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	resp := router.HandleRouteRequest("net-1", routeRequestBody{Target: "node-z"})
	assert.Equal(t, []string{"self"}, resp.Route)
}

func TestHandleRouteRequestRespondsProxyWithChain(t *testing.T) {
	routes := routecache.New()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-z", Connectivity: types.ConnectivityProxy, ProxyChain: []string{"hop-1"}})
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	resp := router.HandleRouteRequest("net-1", routeRequestBody{Target: "node-z"})
	assert.Equal(t, []string{"self", "hop-1"}, resp.Route)
}

func TestHandleRouteRequestRespondsEmptyWhenUnknown(t *testing.T) {
	routes := routecache.New()
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	resp := router.HandleRouteRequest("net-1", routeRequestBody{Target: "node-z"})
	assert.Empty(t, resp.Route)
}

func TestHandleRouteNotificationEvictsOnlyProxyRoutes(t *testing.T) {
	routes := routecache.New()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-direct", Connectivity: types.ConnectivityDirect})
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-proxy", Connectivity: types.ConnectivityProxy, ProxyChain: []string{"hop-1"}})
	router := New(routes, &fakeBroadcaster{}, &fakeResponseWaiter{}, "self")

	router.HandleRouteNotification("net-1", routeNotificationBody{Broken: "node-direct"})
	_, stillThere := routes.Get("net-1", "node-direct")
	assert.True(t, stillThere)

	router.HandleRouteNotification("net-1", routeNotificationBody{Broken: "node-proxy"})
	_, gone := routes.Get("net-1", "node-proxy")
	assert.False(t, gone)
}

func TestNotifyRouteBrokenBroadcastsNotification(t *testing.T) {
	routes := routecache.New()
	bc := &fakeBroadcaster{}
	router := New(routes, bc, &fakeResponseWaiter{}, "self")

	require.NoError(t, router.NotifyRouteBroken("net-1", "node-z"))
	assert.Equal(t, "net-1", bc.lastNetworkID)
	assert.Contains(t, string(bc.lastRaw), "node-z")
}
