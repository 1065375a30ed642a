// Package httpapi exposes the gateway's external HTTP surface described
// in the specification's EXTERNAL INTERFACES section: the local
// `/manage/*` administrative API and the public, node-to-node
// `/service/*` API, both mounted on a single net/http.ServeMux.
//
// Handlers are thin: they decode the request, call into
// pkg/admission, pkg/connection, pkg/routing or pkg/storage through the
// wired *engine.Engine, and translate the result back to JSON. Every
// error returned by a domain package is a plain Go error, mapped to a
// status here; the only other HTTP status codes are the few that
// pkg/connection's inbound handlers write directly.
package httpapi
