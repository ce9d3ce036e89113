package router

import (
	"net/http"
	"regexp"
	"strings"
	"sync"
)

// Route represents an HTTP route with its handler and metadata.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
	Params  []string
	regex   *regexp.Regexp
}

// Router dispatches on method and path. Patterns may contain ":name"
// segments and a trailing "/*" wildcard.
type Router struct {
	mu         sync.RWMutex
	routes     map[string][]Route
	middleware []Middleware
	notFound   http.Handler
	notAllowed http.Handler
}

// New creates a new Router instance.
func New() *Router {
	return &Router{
		routes:   make(map[string][]Route),
		notFound: http.NotFoundHandler(),
		notAllowed: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}),
	}
}

// GET registers handler for GET and HEAD requests.
func (r *Router) GET(pattern string, handler http.Handler) {
	r.AddRoute(http.MethodGet, pattern, handler)
	r.AddRoute(http.MethodHead, pattern, handler)
}

// POST is a shortcut for adding a route with POST method.
func (r *Router) POST(pattern string, handler http.Handler) {
	r.AddRoute(http.MethodPost, pattern, handler)
}

// AddRoute adds a new route with the specified method and pattern.
func (r *Router) AddRoute(method, pattern string, handler http.Handler) {
	params, re := compilePattern(pattern)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[method] = append(r.routes[method], Route{
		Method:  method,
		Pattern: pattern,
		Handler: handler,
		Params:  params,
		regex:   re,
	})
}

var paramSegment = regexp.MustCompile(`^:([A-Za-z][A-Za-z0-9_]*)$`)

// compilePattern converts a route pattern to a regex and extracts parameter names.
func compilePattern(pattern string) ([]string, *regexp.Regexp) {
	var (
		params []string
		b      strings.Builder
	)
	wildcard := strings.HasSuffix(pattern, "/*")
	if wildcard {
		pattern = strings.TrimSuffix(pattern, "/*")
	}

	b.WriteString("^")
	for i, part := range strings.Split(pattern, "/") {
		if i > 0 {
			b.WriteString("/")
		}
		if m := paramSegment.FindStringSubmatch(part); m != nil {
			params = append(params, m[1])
			b.WriteString("(?P<" + m[1] + ">[^/]+)")
			continue
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	if wildcard {
		params = append(params, "wildcard")
		b.WriteString("(?P<wildcard>/.*)")
	}
	b.WriteString("$")

	return params, regexp.MustCompile(b.String())
}

// ServeHTTP implements http.Handler interface.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	middleware := r.middleware
	routes := r.routes[req.Method]
	notFound, notAllowed := r.notFound, r.notAllowed
	pathKnown := r.pathKnownLocked(req.URL.Path)
	r.mu.RUnlock()

	var handler http.Handler
	for _, route := range routes {
		if params := matchRoute(req.URL.Path, route); params != nil {
			req = req.WithContext(WithParams(req.Context(), params))
			handler = route.Handler
			break
		}
	}
	if handler == nil {
		if pathKnown {
			handler = notAllowed
		} else {
			handler = notFound
		}
	}

	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	handler.ServeHTTP(w, req)
}

// pathKnownLocked reports whether any method has a route for path.
func (r *Router) pathKnownLocked(path string) bool {
	for _, routes := range r.routes {
		for _, route := range routes {
			if route.regex.MatchString(path) {
				return true
			}
		}
	}
	return false
}

// matchRoute returns the route parameters, or nil when path does not match.
func matchRoute(path string, route Route) Params {
	matches := route.regex.FindStringSubmatch(path)
	if matches == nil {
		return nil
	}

	params := make(Params, len(route.Params))
	for i, name := range route.regex.SubexpNames() {
		if name != "" && i < len(matches) {
			params[name] = matches[i]
		}
	}
	return params
}

// Use adds a middleware to the router's global middleware chain. Global
// middleware also wraps the not found and method not allowed handlers.
func (r *Router) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middlewares...)
}

// SetNotFoundHandler sets the handler for routes that don't match.
func (r *Router) SetNotFoundHandler(handler http.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = handler
}

// Routes returns a copy of all registered routes.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var routes []Route
	for _, methodRoutes := range r.routes {
		routes = append(routes, methodRoutes...)
	}
	return routes
}
