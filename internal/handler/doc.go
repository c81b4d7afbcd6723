// Package handler implements the HTTP surface of gearboxd.
//
// # Endpoints
//
//	POST /api/commit      apply a batch of changes (JSON, or YAML by Content-Type)
//	GET  /api/gearboxes   operational state, optionally scoped by ?path=
//	GET  /api/running     running configuration, ?path= and ?format=json|yaml
//	POST /api/resync      re-run reconciliation of every module
//	GET  /healthz         liveness
//
// Errors are returned as JSON with an {error, details} structure. The
// status code follows the error class: invalid input is 400, unknown
// modules 404, unresolvable interface names 422 (the commit is kept for the
// modules that resolved), readiness timeouts 504.
//
// Chain composes the Recover, CORS and Logger middleware around the mux.
package handler
