package metrics

import (
	"time"

	"github.com/meshfed/gatewayd/pkg/routecache"
	"github.com/meshfed/gatewayd/pkg/storage"
	"github.com/meshfed/gatewayd/pkg/types"
)

// Collector periodically samples the store and route cache into the
// gauge metrics that can't be updated inline on the request path.
type Collector struct {
	store  storage.Store
	routes *routecache.Cache
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over store and routes.
func NewCollector(store storage.Store, routes *routecache.Cache) *Collector {
	return &Collector{
		store:  store,
		routes: routes,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	networks, err := c.store.ListNetworks()
	if err != nil {
		return
	}
	NetworksTotal.Set(float64(len(networks)))

	nodeCounts := map[string]int{"true": 0, "false": 0}
	routeCounts := make(map[[2]string]int)
	statusCounts := map[types.AdmissionStatus]int{
		types.AdmissionPending:  0,
		types.AdmissionAccepted: 0,
		types.AdmissionRejected: 0,
	}

	for _, net := range networks {
		nodes, err := c.store.ListNodes(net.NetworkID)
		if err == nil {
			for _, node := range nodes {
				if node.Approved {
					nodeCounts["true"]++
				} else {
					nodeCounts["false"]++
				}
			}
		}

		for _, route := range c.routes.List(net.NetworkID) {
			routeCounts[[2]string{string(route.Connectivity), string(route.Transport)}]++
		}

		records, err := c.store.ListMessages(net.NetworkID)
		if err == nil {
			for _, rec := range records {
				statusCounts[rec.Status]++
			}
		}
	}

	for approved, count := range nodeCounts {
		NodesTotal.WithLabelValues(approved).Set(float64(count))
	}
	for labels, count := range routeCounts {
		RoutesTotal.WithLabelValues(labels[0], labels[1]).Set(float64(count))
	}
	for status, count := range statusCounts {
		AdmissionRecordsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
