// Package server implements the HTTP/1.1 connection protocol engine: the
// per-connection Pipeline state machine, the Router/Handler contracts it
// dispatches through, and the Server that accepts connections and runs a
// Pipeline per connection.
package server

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/NoZip/centimani/pkg/message"
)

// Router finds the handler factory responsible for path, along with any
// positional/named arguments the pattern captured, mirroring the
// source's find_route(path) -> (handler_factory, args, kwargs).
type Router interface {
	FindRoute(path string) (factory HandlerFactory, args []string, named map[string]string, err error)
}

// HandlerFactory builds a Handler bound to one request, and reports which
// of the closed HTTP method set it implements.
type HandlerFactory interface {
	New(p *Pipeline, req *message.Request) Handler
	AllowedMethods() map[string]bool
}

// Handler is the user-defined request handler contract. The Pipeline
// does not call CanContinue: a request carrying "Expect: 100-continue"
// is answered with 417 and "Connection: close" before routing, so no
// handler is built for it.
type Handler interface {
	CanContinue(ctx context.Context) bool
}

// MethodHandler is implemented by handlers that want per-method dispatch;
// Dispatch returns the handler function bound to method, or nil if this
// handler doesn't serve that method (the Pipeline already checked
// AllowedMethods, so nil here means the factory's method table and this
// handler's Dispatch disagree, a programmer error).
type MethodHandler interface {
	Handler
	Dispatch(method string) MethodFunc
}

// MethodFunc is the per-method entry point: args/named mirror the
// Router's captured path variables.
type MethodFunc func(ctx context.Context, p *Pipeline, args []string, named map[string]string) error

// RoutingError is returned by a Router when no route matches path.
type RoutingError struct {
	Path string
}

func (e *RoutingError) Error() string { return "no route for path " + e.Path }

// patternRoute is one compiled {name}-pattern route.
type patternRoute struct {
	pattern *regexp.Regexp
	names   []string
	factory HandlerFactory
}

// PatternRouter compiles "/users/{id}"-style path patterns into
// regular expressions and matches the first registered pattern whose
// regex matches the request path, in registration order.
type PatternRouter struct {
	routes []patternRoute
}

// NewPatternRouter returns an empty router; call Handle to register
// routes.
func NewPatternRouter() *PatternRouter {
	return &PatternRouter{}
}

var patternVarRegex = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Handle compiles pattern and registers factory for it. "{name}"
// segments capture one path segment (no "/") and are returned by
// FindRoute under their name in the named map.
func (r *PatternRouter) Handle(pattern string, factory HandlerFactory) error {
	var names []string
	regexSrc := patternVarRegex.ReplaceAllStringFunc(pattern, func(m string) string {
		name := patternVarRegex.FindStringSubmatch(m)[1]
		names = append(names, name)
		return `(?P<` + name + `>[^/]+)`
	})
	regexSrc = "^" + regexSrc + "$"

	compiled, err := regexp.Compile(regexSrc)
	if err != nil {
		return fmt.Errorf("compiling route pattern %q: %w", pattern, err)
	}

	r.routes = append(r.routes, patternRoute{pattern: compiled, names: names, factory: factory})
	return nil
}

// FindRoute implements Router.
func (r *PatternRouter) FindRoute(path string) (HandlerFactory, []string, map[string]string, error) {
	for _, route := range r.routes {
		m := route.pattern.FindStringSubmatch(path)
		if m == nil {
			continue
		}

		named := make(map[string]string, len(route.names))
		var args []string
		for i, groupName := range route.pattern.SubexpNames() {
			if i == 0 || groupName == "" {
				continue
			}
			named[groupName] = m[i]
			args = append(args, m[i])
		}

		return route.factory, args, named, nil
	}

	return nil, nil, nil, &RoutingError{Path: path}
}

// NormalizePath prefixes path with "/" if it does not already start with
// one (used by the Pipeline ahead of FindRoute); it makes no other change.
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/" + path
	}
	return path
}
