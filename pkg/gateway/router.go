package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Maximvonshaft/executive-game-sub001/pkg/metrics"
)

// HandlerFunc handles one inbound envelope for a context. A returned error
// becomes an error envelope; the connection stays open.
type HandlerFunc func(ctx context.Context, c *Context, msg *Inbound) error

// Router dispatches inbound envelopes by type.
type Router struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
	metrics  metrics.Sink
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger, sink metrics.Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		metrics:  metrics.OrNop(sink),
	}
}

// Handle registers h for messages of type typ.
func (rt *Router) Handle(typ string, h HandlerFunc) {
	rt.handlers[typ] = h
}

// Dispatch parses data and runs the matching handler. Failures are reported
// to the client as {type:"error", code}.
func (rt *Router) Dispatch(ctx context.Context, c *Context, data []byte) {
	msg, err := parseInbound(data)
	if err != nil {
		rt.metrics.IncrCounter(metrics.MessagesCounter, map[string]string{"type": "malformed"})
		rt.fail(c, "", err)
		return
	}

	h, ok := rt.handlers[msg.Type]
	if !ok {
		rt.metrics.IncrCounter(metrics.MessagesCounter, map[string]string{"type": "unsupported"})
		rt.fail(c, msg.Type, NewError(CodeMessageUnsupported, msg.Type))
		return
	}
	rt.metrics.IncrCounter(metrics.MessagesCounter, map[string]string{"type": msg.Type})

	if err := rt.call(ctx, h, c, msg); err != nil {
		rt.fail(c, msg.Type, err)
	}
}

func (rt *Router) call(ctx context.Context, h HandlerFunc, c *Context, msg *Inbound) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			rt.logger.Error("message handler panicked", "type", msg.Type, "player", c.PlayerID, "panic", rec)
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return h(ctx, c, msg)
}

func (rt *Router) fail(c *Context, typ string, err error) {
	code := CodeOf(err)
	rt.metrics.IncrCounter(metrics.ErrorsCounter, map[string]string{"code": code})
	if code == CodeServerError {
		rt.logger.Error("message handler failed", "type", typ, "player", c.PlayerID, "error", err)
	} else {
		rt.logger.Debug("message rejected", "type", typ, "player", c.PlayerID, "code", code, "error", err)
	}
	c.send(encodeError(code))
}
