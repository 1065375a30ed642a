/*
Package metrics registers gatewayd's Prometheus metrics and exposes the
health/readiness/liveness HTTP handlers that management tooling and
orchestrators probe.

Metrics cover the network/node/route/admission counts a Collector
samples from storage and the route cache on a 15s tick, plus counters
and histograms updated inline on the request, connection, admission,
and sync paths. Readiness is "not ready" until the store, broker, and
KMS drivers have all reported healthy via RegisterComponent.

# See Also

  - pkg/engine wires the Collector and registers the three critical
    components at startup
  - pkg/httpapi mounts Handler, HealthHandler, ReadyHandler, and
    LivenessHandler
*/
package metrics
