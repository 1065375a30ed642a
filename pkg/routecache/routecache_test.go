package routecache

import (
	"testing"

	"github.com/meshfed/gatewayd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSaveGetDelete(t *testing.T) {
	c := New()

	route := &types.Route{NetworkID: "net-1", NodeID: "node-a", Connectivity: types.ConnectivityDirect, Transport: types.TransportWebsocket}
	c.Save(route)

	got, ok := c.Get("net-1", "node-a")
	assert.True(t, ok)
	assert.Equal(t, types.ConnectivityDirect, got.Connectivity)

	c.Delete("net-1", "node-a")
	_, ok = c.Get("net-1", "node-a")
	assert.False(t, ok)
}

func TestGetIsolatedByNetwork(t *testing.T) {
	c := New()
	c.Save(&types.Route{NetworkID: "net-1", NodeID: "node-a"})

	_, ok := c.Get("net-2", "node-a")
	assert.False(t, ok)
}

func TestListFiltersByNetwork(t *testing.T) {
	c := New()
	c.Save(&types.Route{NetworkID: "net-1", NodeID: "node-a"})
	c.Save(&types.Route{NetworkID: "net-1", NodeID: "node-b"})
	c.Save(&types.Route{NetworkID: "net-2", NodeID: "node-c"})

	assert.Len(t, c.List("net-1"), 2)
	assert.Len(t, c.List("net-2"), 1)
}

func TestSaveIsDefensiveCopy(t *testing.T) {
	c := New()
	route := &types.Route{NetworkID: "net-1", NodeID: "node-a", Outbound: true}
	c.Save(route)
	route.Outbound = false

	got, ok := c.Get("net-1", "node-a")
	assert.True(t, ok)
	assert.True(t, got.Outbound)
}
