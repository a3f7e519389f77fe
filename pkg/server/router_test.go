package server

import (
	"context"
	"testing"

	"github.com/NoZip/centimani/pkg/message"
)

func noopFactory(allowed ...string) *BaseHandlerFactory {
	return NewBaseHandlerFactory(allowed, func(p *Pipeline, req *message.Request) Handler {
		h := &struct{ BaseHandler }{}
		h.BaseHandler = NewBaseHandler(p, req, map[string]MethodFunc{})
		return h
	})
}

func TestPatternRouterLiteralMatch(t *testing.T) {
	r := NewPatternRouter()
	factory := noopFactory("GET")
	if err := r.Handle("/users", factory); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	got, args, named, err := r.FindRoute("/users")
	if err != nil {
		t.Fatalf("FindRoute error: %v", err)
	}
	if got != factory {
		t.Fatalf("FindRoute returned wrong factory")
	}
	if len(args) != 0 || len(named) != 0 {
		t.Fatalf("literal route should capture nothing, got args=%v named=%v", args, named)
	}
}

func TestPatternRouterCapturesNamedSegment(t *testing.T) {
	r := NewPatternRouter()
	factory := noopFactory("GET", "POST")
	if err := r.Handle("/users/{id}/posts/{slug}", factory); err != nil {
		t.Fatalf("Handle error: %v", err)
	}

	_, args, named, err := r.FindRoute("/users/42/posts/hello-world")
	if err != nil {
		t.Fatalf("FindRoute error: %v", err)
	}
	if named["id"] != "42" || named["slug"] != "hello-world" {
		t.Fatalf("named captures = %v, want id=42 slug=hello-world", named)
	}
	if len(args) != 2 || args[0] != "42" || args[1] != "hello-world" {
		t.Fatalf("positional args = %v, want [42 hello-world]", args)
	}
}

func TestPatternRouterNoMatchReturnsRoutingError(t *testing.T) {
	r := NewPatternRouter()
	r.Handle("/users", noopFactory("GET"))

	_, _, _, err := r.FindRoute("/nope")
	if err == nil {
		t.Fatal("expected RoutingError for unmatched path")
	}
	var routingErr *RoutingError
	if _, ok := err.(*RoutingError); !ok {
		t.Fatalf("err = %T, want *RoutingError (%v)", err, routingErr)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/already/slashed": "/already/slashed",
		"missing/slash":     "/missing/slash",
	}
	for in, want := range cases {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBaseHandlerFactoryAllowedMethodsFiltersUnknown(t *testing.T) {
	factory := noopFactory("GET", "TRACE", "POST")
	allowed := factory.AllowedMethods()
	if !allowed["GET"] || !allowed["POST"] {
		t.Fatalf("expected GET and POST allowed, got %v", allowed)
	}
	if allowed["TRACE"] {
		t.Fatalf("TRACE is outside the closed method set and must not be allowed")
	}
}

func TestBaseHandlerDispatchUnknownMethod(t *testing.T) {
	h := &BaseHandler{}
	*h = NewBaseHandler(nil, nil, map[string]MethodFunc{
		"GET": func(ctx context.Context, p *Pipeline, args []string, named map[string]string) error { return nil },
	})
	if h.Dispatch("GET") == nil {
		t.Fatal("expected Dispatch(GET) to return the registered func")
	}
	if h.Dispatch("DELETE") != nil {
		t.Fatal("expected Dispatch(DELETE) to return nil for an unregistered method")
	}
}
