// Package server runs the gateway's HTTP listener: graceful start and stop
// around net/http, liveness and readiness handlers, and a JSON helper for
// the small operational endpoints.
package server
