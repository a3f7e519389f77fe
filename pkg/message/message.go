// Package message defines the Request/Response data model shared by the
// server Pipeline (which builds a Request from wire bytes) and the client
// Connection/Pool (which builds one from caller input and mutates it
// across redirects).
package message

import (
	"fmt"
	"net/url"
	"time"

	"github.com/NoZip/centimani/pkg/headers"
)

// Request is the unified request representation. Server-side, the
// Pipeline populates it from the parsed request line and header block.
// Client-side, the caller builds one and the Pool may rewrite its URL
// fields across a redirect chain.
type Request struct {
	Method  string
	Headers *headers.Headers

	// Body is the request payload the client sends, or nil for a
	// bodyless request. BodyProducer is carried on the Request but is
	// never called by client.Connection.Fetch or pool.Manager.Fetch:
	// only Body is sent, on every hop of a redirect chain.
	Body         []byte
	BodyProducer func() ([]byte, error)

	RedirectCount int
	Timeout       time.Duration

	rawURL    string
	scheme    string
	authority string
	path      string
	query     string
}

// NewServerRequest builds a Request the way the Pipeline does: from an
// already-parsed request line, with no authority requirement, since a
// server-side request has no URL to validate -- only a path and query
// lifted straight from the wire target. Scheme and authority stay empty
// unless later filled in from the Host header by the caller.
func NewServerRequest(method, path, query string) *Request {
	if path == "" {
		path = "/"
	}
	return &Request{
		Method:  method,
		Headers: headers.New(),
		path:    path,
		query:   query,
	}
}

// NewRequest builds a Request for rawURL, defaulting Method to GET and
// Headers to an empty store, mirroring the source's Request.__init__
// defaults.
func NewRequest(method, rawURL string) (*Request, error) {
	if method == "" {
		method = "GET"
	}
	r := &Request{Method: method, Headers: headers.New()}
	if err := r.SetURL(rawURL); err != nil {
		return nil, err
	}
	return r, nil
}

// URL returns the full URL string last set via SetURL.
func (r *Request) URL() string { return r.rawURL }

// SetURL atomically recomputes scheme, authority, path and query from
// rawURL -- either every derived field updates together, or none does,
// matching the "url setter is atomic" invariant from the source's
// urlsplit-based property setter.
func (r *Request) SetURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid request url %q: %w", rawURL, err)
	}
	if u.Scheme == "" {
		return fmt.Errorf("request url %q: scheme must be specified", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("request url %q: authority must be specified", rawURL)
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	r.rawURL = rawURL
	r.scheme = u.Scheme
	r.authority = u.Host
	r.path = path
	r.query = u.RawQuery
	return nil
}

// Scheme returns the URL scheme ("http" or "https").
func (r *Request) Scheme() string { return r.scheme }

// Authority returns the URL's host[:port] component.
func (r *Request) Authority() string { return r.authority }

// Path returns the URL path, defaulting to "/".
func (r *Request) Path() string { return r.path }

// Query returns the raw query string, without a leading "?".
func (r *Request) Query() string { return r.query }

// RelativeURL returns path and query joined the way the request-line
// target is written on the wire.
func (r *Request) RelativeURL() string {
	if r.query == "" {
		return r.path
	}
	return r.path + "?" + r.query
}

func (r *Request) String() string {
	return fmt.Sprintf("Request(%s %s)", r.Method, r.rawURL)
}

// Response is the unified response representation, built server-side by
// handlers and client-side by client.Connection.Fetch.
type Response struct {
	Status  int
	Headers *headers.Headers
	Body    []byte
	Request *Request
}

// NewResponse builds a Response for status, defaulting Headers to an
// empty store.
func NewResponse(status int, hdrs *headers.Headers) *Response {
	if hdrs == nil {
		hdrs = headers.New()
	}
	return &Response{Status: status, Headers: hdrs}
}

// HasBody reports whether a response with this status (and, if bound to a
// request, this request method) is permitted to carry a message body:
// 1xx, 204 and 304 never do, and a response to a HEAD request never does,
// regardless of status or any Content-Length it declares.
func (r *Response) HasBody() bool {
	if r.Status >= 100 && r.Status < 200 {
		return false
	}
	if r.Status == 204 || r.Status == 304 {
		return false
	}
	if r.Request != nil && r.Request.Method == "HEAD" {
		return false
	}
	return true
}

func (r *Response) String() string {
	return fmt.Sprintf("Response(%d)", r.Status)
}
