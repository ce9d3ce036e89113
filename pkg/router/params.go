package router

import (
	"context"
)

type contextKey int

const (
	paramsKey contextKey = iota
	requestIDKey
)

// Params holds URL parameter values extracted from the route pattern.
type Params map[string]string

// Get returns the value of the parameter with the given key, or "".
func (p Params) Get(key string) string {
	return p[key]
}

// WithParams returns a new context with the given parameters.
func WithParams(ctx context.Context, params Params) context.Context {
	return context.WithValue(ctx, paramsKey, params)
}

// ParamsFromContext extracts URL parameters from the context.
func ParamsFromContext(ctx context.Context) (Params, bool) {
	params, ok := ctx.Value(paramsKey).(Params)
	return params, ok
}

// Param is a shortcut for reading one parameter of the current request.
func Param(ctx context.Context, key string) string {
	params, _ := ParamsFromContext(ctx)
	return params.Get(key)
}

// RequestID returns the id assigned by the RequestID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
