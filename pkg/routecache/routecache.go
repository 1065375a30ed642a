// Package routecache is the single source of truth for which Route the
// gateway is currently using to reach each peer. It holds no routing
// logic of its own — pkg/routing decides a Route and saves it here;
// pkg/connection reads it back to know where to send.
package routecache

import (
	"sync"

	"github.com/meshfed/gatewayd/pkg/types"
)

func key(networkID, nodeID string) string {
	return networkID + "/" + nodeID
}

// Cache is a mutex-guarded map of the currently selected Route per peer.
type Cache struct {
	mu     sync.RWMutex
	routes map[string]*types.Route
}

// New creates an empty route cache.
func New() *Cache {
	return &Cache{routes: make(map[string]*types.Route)}
}

// Save records route as the current path to (networkID, nodeID),
// replacing whatever was cached before.
func (c *Cache) Save(route *types.Route) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *route
	c.routes[key(route.NetworkID, route.NodeID)] = &cp
}

// Get returns the cached Route for (networkID, nodeID), if any.
func (c *Cache) Get(networkID, nodeID string) (*types.Route, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[key(networkID, nodeID)]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}

// Delete removes any cached Route for (networkID, nodeID), e.g. after
// notify_route_broken invalidates it. Reports whether an entry was
// actually removed.
func (c *Cache) Delete(networkID, nodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(networkID, nodeID)
	if _, ok := c.routes[k]; !ok {
		return false
	}
	delete(c.routes, k)
	return true
}

// List returns every cached Route for networkID.
func (c *Cache) List(networkID string) []*types.Route {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*types.Route
	for _, r := range c.routes {
		if r.NetworkID == networkID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}
