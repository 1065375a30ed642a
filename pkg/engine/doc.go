/*
Package engine builds the Engine struct once at process startup and
hands it to pkg/httpapi and cmd/gatewayd. No package below engine may
import it back — engine depends on everything, nothing depends on
engine, the same layering pkg/manager enforces over pkg/reconciler,
pkg/scheduler, and pkg/worker.
*/
package engine
