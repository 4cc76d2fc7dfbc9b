// Package handler exposes the network observation API over HTTP.
//
// Sensors post observation batches per client; dashboards read the
// fused asset inventory, its evidence trail, and the lifecycle
// history. Handlers translate between HTTP and the fusion engine and
// repository, and the middleware here covers recovery, CORS, request
// logging, and the shared API key.
package handler
