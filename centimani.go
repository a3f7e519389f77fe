// Package centimani implements an asynchronous-style HTTP/1.1 stack: a
// server-side connection Pipeline, a client-side connection Pipeline and
// pool, and the HPACK codec, built around the same small ReadWriter
// transport contract on both sides.
//
// This file is the package's convenience facade, the Go analogue of the
// source's top-level client/server helpers: a Sender wraps a pool.Manager
// and exposes a single Fetch call, and Serve wraps a server.Server and a
// net.Listener behind one call, the way an application that doesn't need
// the lower-level Pipeline/Router/Connection types directly would use this
// module.
package centimani

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"

	"golang.org/x/net/proxy"

	"github.com/NoZip/centimani/pkg/client"
	"github.com/NoZip/centimani/pkg/constants"
	cmerrors "github.com/NoZip/centimani/pkg/errors"
	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/pool"
	"github.com/NoZip/centimani/pkg/server"
	"github.com/NoZip/centimani/pkg/transport"
)

// Re-export the package's core types at the root, so a caller only needs
// this one import path for the common case.
type (
	Request  = message.Request
	Response = message.Response

	Router         = server.Router
	Handler        = server.Handler
	HandlerFactory = server.HandlerFactory
	MethodFunc     = server.MethodFunc

	Error        = cmerrors.Error
	HTTPError    = cmerrors.HTTPError
	ErrorType    = cmerrors.ErrorType
)

// IsTimeoutError reports whether err represents any flavor of timeout the
// client, pool or server can raise.
func IsTimeoutError(err error) bool { return cmerrors.IsHTTPTimeout(err) }

// GetErrorType returns the structured error type carried by err, or "" if
// err isn't one of this module's transport errors.
func GetErrorType(err error) ErrorType { return cmerrors.GetErrorType(err) }

// Sender is a ready-to-use HTTP/1.1 client: it dials by (scheme,
// authority), pools connections per endpoint and follows permanent
// redirects, the facade a caller reaches for instead of wiring a
// pool.Manager and a DialFunc itself.
type Sender struct {
	pool   *pool.Manager
	dialer net.Dialer
	tlsCfg *tls.Config
	proxy  proxy.Dialer
}

// NewSender builds a Sender with a fresh connection pool.Manager, dialing
// plain TCP for "http" endpoints and TLS for "https" ones.
func NewSender(opts ...pool.Option) *Sender {
	s := &Sender{dialer: net.Dialer{Timeout: constants.DefaultConnTimeout}}
	s.pool = pool.NewManager(s.dial, opts...)
	return s
}

// SetTLSConfig overrides the tls.Config used to dial "https" endpoints.
func (s *Sender) SetTLSConfig(cfg *tls.Config) { s.tlsCfg = cfg }

// SetProxy routes every dial this Sender performs through the upstream
// proxy named by proxyURL ("socks5://", "http://" or "https://"), the Go
// translation of the source's per-connection ProxyConfig, generalized
// into a single forward dialer shared by the whole pool instead of
// per-fetch configuration.
func (s *Sender) SetProxy(proxyURL string) error {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return fmt.Errorf("invalid proxy url %q: %w", proxyURL, err)
	}
	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return fmt.Errorf("building proxy dialer for %q: %w", proxyURL, err)
	}
	s.proxy = d
	return nil
}

func (s *Sender) dialRaw(ctx context.Context, host string) (net.Conn, error) {
	if s.proxy == nil {
		return s.dialer.DialContext(ctx, "tcp", host)
	}
	if ctxDialer, ok := s.proxy.(proxy.ContextDialer); ok {
		return ctxDialer.DialContext(ctx, "tcp", host)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := s.proxy.Dial("tcp", host)
		done <- result{c, err}
	}()
	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sender) dial(ctx context.Context, key pool.Key) (*client.Connection, error) {
	host := key.Authority
	conn, err := s.dialRaw(ctx, host)
	if err != nil {
		return nil, cmerrors.NewConnectionError(host, 0, err)
	}

	if key.Scheme == "https" {
		cfg := s.tlsCfg
		if cfg == nil {
			cfg = &tls.Config{}
		}
		tlsConn := tls.Client(conn, cfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			tlsConn.Close()
			return nil, cmerrors.NewTLSError(host, 0, err)
		}
		conn = tlsConn
	}

	return client.NewConnection(transport.NewConn(conn, "")), nil
}

// Fetch issues req and follows any permanent redirect its response
// carries, the Go shape of repeatedly calling the source's fetch() by
// hand across a redirect chain.
func (s *Sender) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return s.pool.Fetch(ctx, req)
}

// Get builds a GET request for rawURL and fetches it.
func (s *Sender) Get(ctx context.Context, rawURL string) (*Response, error) {
	req, err := message.NewRequest("GET", rawURL)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, req)
}

// Close stops the pool's reaper goroutine and closes every idle
// connection it holds.
func (s *Sender) Close() error { return s.pool.Close() }

// Serve runs router over every connection listener accepts, until ctx is
// canceled, the single-call convenience over building a server.Server by
// hand -- the Go analogue of the source's ConnectionManager.listen.
func Serve(ctx context.Context, listener net.Listener, router Router, opts ...ServeOption) error {
	srv := &server.Server{Router: router}
	for _, opt := range opts {
		opt(srv)
	}
	return srv.Serve(ctx, listener)
}

// ServeOption configures the Server Serve builds before accepting
// connections.
type ServeOption func(*server.Server)

// WithServerAgent sets the Server header value the Pipeline advertises.
func WithServerAgent(agent string) ServeOption {
	return func(s *server.Server) { s.ServerAgent = agent }
}

// WithLogger sets the structured logger the Server and its Pipelines log
// through.
func WithLogger(logger *slog.Logger) ServeOption {
	return func(s *server.Server) { s.Logger = logger }
}

// WithALPNSelector sets the callback Serve uses to pick a protocol name
// per accepted connection, keying into the Server's ProtocolMap.
func WithALPNSelector(selector func(net.Conn) string) ServeOption {
	return func(s *server.Server) { s.ALPNSelector = selector }
}

// ListenAndServe dials a TCP listener on addr and serves router over it
// until ctx is canceled.
func ListenAndServe(ctx context.Context, addr string, router Router, opts ...ServeOption) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return Serve(ctx, listener, router, opts...)
}
