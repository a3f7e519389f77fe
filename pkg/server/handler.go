package server

import (
	"context"

	"github.com/NoZip/centimani/pkg/errors"
	"github.com/NoZip/centimani/pkg/httpstatus"
	"github.com/NoZip/centimani/pkg/message"
)

// BaseHandlerFactory is a ready-made HandlerFactory holding only the
// closed set of methods it serves and a constructor; the per-request
// dispatch table itself is built by that constructor, on the handler
// instance, not here (see BaseHandler.Dispatch).
type BaseHandlerFactory struct {
	allowed map[string]bool
	newFn   func(p *Pipeline, req *message.Request) Handler
}

// NewBaseHandlerFactory builds a factory whose AllowedMethods is the
// subset of allowedMethods that belongs to the closed method set, and
// whose New calls newFn.
func NewBaseHandlerFactory(allowedMethods []string, newFn func(p *Pipeline, req *message.Request) Handler) *BaseHandlerFactory {
	allowed := make(map[string]bool, len(allowedMethods))
	for _, m := range allowedMethods {
		if httpstatus.IsMethod(m) {
			allowed[m] = true
		}
	}
	return &BaseHandlerFactory{allowed: allowed, newFn: newFn}
}

func (f *BaseHandlerFactory) New(p *Pipeline, req *message.Request) Handler {
	return f.newFn(p, req)
}

func (f *BaseHandlerFactory) AllowedMethods() map[string]bool {
	return f.allowed
}

// BaseHandler is an embeddable Handler: its CanContinue always returns
// true (matching the source's RequestHandler.can_continue default; the
// Pipeline itself does not call it), provides SendResponse/SendError
// shortcuts, and implements Dispatch off a method table the embedding
// handler's own constructor builds and installs via NewBaseHandler -- the
// Go translation of "a
// compile-time table mapping method to function pointer, built by each
// concrete handler's constructor" (Go has no reflection-free equivalent of
// the source's metaclass method scan).
type BaseHandler struct {
	Pipeline *Pipeline
	Request  *message.Request

	methods map[string]MethodFunc
}

// NewBaseHandler builds a BaseHandler bound to p and req, with its
// dispatch table set to methods. Call this from a concrete handler's own
// constructor, passing a table of that handler's own bound methods.
func NewBaseHandler(p *Pipeline, req *message.Request, methods map[string]MethodFunc) BaseHandler {
	return BaseHandler{Pipeline: p, Request: req, methods: methods}
}

func (h *BaseHandler) CanContinue(ctx context.Context) bool { return true }

// Dispatch returns the MethodFunc this handler instance registered for
// method, or nil if it doesn't serve that method.
func (h *BaseHandler) Dispatch(method string) MethodFunc {
	return h.methods[method]
}

// SendResponse is a shortcut to the owning Pipeline's SendResponse,
// mirroring RequestHandler.send_response.
func (h *BaseHandler) SendResponse(ctx context.Context, resp *message.Response) error {
	return h.Pipeline.SendResponse(ctx, resp)
}

// SendError is a shortcut to the owning Pipeline's SendError.
func (h *BaseHandler) SendError(ctx context.Context, httpErr *errors.HTTPError) error {
	return h.Pipeline.SendError(ctx, httpErr)
}
