package main

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/config"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/gateway"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/router"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/server"
	"github.com/Maximvonshaft/executive-game-sub001/pkg/websocket"
)

type handlerDeps struct {
	gateway     *gateway.Gateway
	logger      *slog.Logger
	metrics     *metrics.PrometheusSink
	metricsPath string
	ready       []server.Check
}

// newHandler mounts the upgrade endpoint and the operational routes.
func newHandler(d handlerDeps) http.Handler {
	r := router.New()
	r.Use(router.RequestIDMiddleware(), router.Logging(d.logger), router.Recovery(d.logger))

	r.GET("/ws", d.gateway)
	r.GET("/health", server.HealthHandler())
	r.GET("/ready", server.ReadyHandler(0, d.ready...))
	r.GET("/stats", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		server.WriteJSON(w, http.StatusOK, d.gateway.Stats())
	}))
	r.GET("/stats/rooms/:id", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		server.WriteJSON(w, http.StatusOK, d.gateway.RoomStats(router.Param(req.Context(), "id")))
	}))
	if d.metrics != nil {
		r.GET(d.metricsPath, d.metrics.Handler())
	}
	return r
}

// checkOrigin allows requests whose Origin matches one of allowed, compared
// by scheme and host. An empty list allows everything, as do requests
// without an Origin header (non-browser clients).
func checkOrigin(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func connectionOptions(cfg config.WebSocket, logger *slog.Logger) []websocket.Option {
	return []websocket.Option{
		websocket.WithLogger(logger),
		websocket.WithReadTimeout(cfg.ReadTimeout),
		websocket.WithWriteTimeout(cfg.WriteTimeout),
		websocket.WithCloseTimeout(cfg.CloseTimeout),
		websocket.WithSendQueueSize(cfg.SendQueueSize),
		websocket.WithMaxFrameSize(cfg.MaxFrameSize),
	}
}

func poolConfig(cfg config.WebSocket) websocket.PoolConfig {
	return websocket.PoolConfig{
		MaxConnections:      cfg.MaxConnections,
		MaxConnectionsPerIP: cfg.MaxConnectionsPerIP,
	}
}
