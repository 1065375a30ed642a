package connection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/transport"
	"github.com/meshfed/gatewayd/pkg/types"
)

type stubSigner struct{}

func (stubSigner) Sign(keyID string, payload []byte) (string, error) { return "sig", nil }

type stubNodeLookup struct{}

func (stubNodeLookup) GetNode(networkID, nodeID string) (*types.Node, error) {
	return nil, errors.New("stub: no nodes")
}

func newTestManager() (*Manager, *routecache.Cache, broker.Broker) {
	routes := routecache.New()
	brk := broker.NewMemory()
	tr := transport.New(2 * time.Second)
	return New(routes, brk, tr, stubSigner{}, message.NewRegistry(), stubNodeLookup{}, "self"), routes, brk
}

func TestSendWithNoRouteFails(t *testing.T) {
	m, _, _ := newTestManager()
	err := m.Send("net-1", &types.Node{NodeID: "node-a"}, []byte("hi"))
	assert.ErrorIs(t, err, ErrNodeNotConnected)
}

func TestSendDirectWebsocketPublishesToMailbox(t *testing.T) {
	m, routes, brk := newTestManager()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-a", Connectivity: types.ConnectivityDirect, Transport: types.TransportWebsocket})

	require.NoError(t, m.Send("net-1", &types.Node{NodeID: "node-a"}, []byte(`{"hi":true}`)))

	got, err := brk.Get(context.Background(), "net-1", "node-a", time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(got), `"message":{"hi":true}`)
	assert.Contains(t, string(got), `"signature":"sig"`)
}

func TestBroadcastCountsOnlyKnownRoutes(t *testing.T) {
	m, routes, _ := newTestManager()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-a"})
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-b"})
	routes.Save(&types.Route{NetworkID: "net-2", NodeID: "node-c"})

	count, err := m.Broadcast("net-1", []byte(`{"hi":true}`))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSendProxyWrapsWithRemainingChain(t *testing.T) {
	m, routes, brk := newTestManager()
	routes.Save(&types.Route{NetworkID: "net-1", NodeID: "node-z", Connectivity: types.ConnectivityProxy, ProxyChain: []string{"hop-1", "hop-2"}})

	require.NoError(t, m.Send("net-1", &types.Node{NodeID: "node-z"}, []byte(`{"hi":true}`)))

	got, err := brk.Get(context.Background(), "net-1", "hop-1", time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(got), "proxyChain")
}
