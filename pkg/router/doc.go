// Package router provides the HTTP router of the gateway binary: method and
// pattern matching with URL parameters, plus the middleware stack (request
// ids, structured access logs, panic recovery).
//
// The router supports the following patterns:
//   - Exact match: /health
//   - Named parameters: /stats/rooms/:id
//   - Wildcard matching: /debug/*
//
// Example usage:
//
//	r := router.New()
//	r.Use(router.RequestIDMiddleware(), router.Logging(logger), router.Recovery(logger))
//	r.GET("/ws", gw)
//	r.GET("/stats/rooms/:id", roomStats)
//
// The response writer installed by Logging and Recovery implements
// http.Hijacker, so WebSocket upgrades pass through unchanged.
package router
