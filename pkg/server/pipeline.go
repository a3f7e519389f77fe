package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/NoZip/centimani/pkg/body"
	"github.com/NoZip/centimani/pkg/constants"
	cmerrors "github.com/NoZip/centimani/pkg/errors"
	"github.com/NoZip/centimani/pkg/headers"
	"github.com/NoZip/centimani/pkg/httpstatus"
	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/transport"
)

// request-line grammar, transcribed byte-for-byte from http1.py's
// REQUEST_LINE_REGEX: method, target (either "*" or an absolute-path with
// an optional query), and the HTTP version digits.
const (
	segmentPattern = `(?:[-._~A-Za-z0-9!$&'()*+,;=:@]|%[0-9A-F]{2})+`
	pathPattern    = `/(?:` + segmentPattern + `(?:/` + segmentPattern + `)*/?)?`
	queryPattern   = `(?:[-._~A-Za-z0-9!$&'()*+,;=:@/?]|%[0-9A-F]{2})*`
)

var requestLineRegex = regexp.MustCompile(
	`^([A-Z]+)[ \t]+(\*|` + pathPattern + `(?:\?` + queryPattern + `)?)[ \t]+HTTP/(\d+\.\d+)$`,
)

// State names the Pipeline's position in the per-request state machine,
// mirroring the phases of ConnectionHandler.run.
type State int

const (
	StateIdle State = iota
	StateReadingHead
	StateValidating
	StateRouting
	StateHandling
	StateDrainingBody
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReadingHead:
		return "reading_head"
	case StateValidating:
		return "validating"
	case StateRouting:
		return "routing"
	case StateHandling:
		return "handling"
	case StateDrainingBody:
		return "draining_body"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Pipeline runs the HTTP/1.1 request/response exchange over one
// connection, one request at a time, the Go translation of
// ConnectionHandler in the source.
type Pipeline struct {
	conn   transport.ReadWriter
	router Router
	logger *slog.Logger

	serverAgent        string
	requestReadTimeout time.Duration

	// clientVersion tracks the HTTP version reported by the most
	// recently parsed request line, so that a pipelined connection's
	// response status line uses the client's most recent version even
	// across a version change mid-connection.
	clientVersion string

	state State

	currentRequest *message.Request
	isBodyRead     bool
	isResponseSent bool

	// keepAlive is the connection-persistence decision for the exchange
	// currently in flight, computed in Run and consumed by SendResponse.
	// It defaults to false, so any error sent before Run reaches the
	// keep-alive check (e.g. a malformed request line) closes the
	// connection.
	keepAlive bool
}

// NewPipeline builds a Pipeline with default timeouts and server agent,
// matching the signature the Server's protocol map stores per §4.5.
func NewPipeline(conn transport.ReadWriter, router Router) *Pipeline {
	return &Pipeline{
		conn:               conn,
		router:             router,
		logger:             slog.Default(),
		serverAgent:        constants.DefaultServerAgent,
		requestReadTimeout: constants.DefaultRequestReadTimeout,
		clientVersion:      "1.0",
		state:              StateIdle,
	}
}

// SetServerAgent overrides the Server header value this Pipeline sends.
func (p *Pipeline) SetServerAgent(agent string) { p.serverAgent = agent }

// SetLogger overrides the structured logger this Pipeline writes to.
func (p *Pipeline) SetLogger(logger *slog.Logger) { p.logger = logger }

func (p *Pipeline) peerLogger() *slog.Logger {
	peer, _ := p.conn.ExtraInfo("peername").(string)
	return p.logger.With(slog.String("peer", peer))
}

// Run drives one request/response exchange to completion, returning
// whether the connection should stay open for another exchange. The
// caller (Server) loops on Run until it returns false or an error, then
// closes the connection -- the Go analogue of ConnectionHandler.run being
// invoked repeatedly by the dispatcher's connection loop.
func (p *Pipeline) Run(ctx context.Context) (keepAlive bool, err error) {
	log := p.peerLogger()

	p.keepAlive = false

	//-----------------#
	// Receive request #
	//-----------------#

	p.state = StateReadingHead
	readCtx, cancel := context.WithTimeout(ctx, p.requestReadTimeout)
	header, readErr := p.conn.ReadUntil(readCtx, []byte("\r\n\r\n"))
	cancel()

	if readErr != nil {
		if cmerrors.IsHTTPTimeout(readErr) || cmerrors.IsContextTimeout(readErr) {
			log.Info("request waiting timeout")
			p.SendError(ctx, cmerrors.NewRequestTimeout())
			return false, nil
		}
		log.Info("connection error during request waiting", slog.Any("error", readErr))
		return false, nil
	}

	header = bytes.TrimSuffix(header, []byte("\r\n\r\n"))
	lines := strings.Split(string(header), "\r\n")
	requestLine, headerLines := lines[0], lines[1:]

	//-------------------------#
	// Request line processing #
	//-------------------------#

	if requestLine == "" {
		log.Info("no request line, at EOF")
		return false, nil
	}

	log.Debug("request line", slog.String("line", requestLine))

	match := requestLineRegex.FindStringSubmatch(requestLine)

	var method, target, version string
	if match != nil {
		method, target, version = match[1], match[2], match[3]
	}

	// A request is well formed iff: the method is in the closed method
	// set, the version is digits.digits, the target matches RFC 3986
	// grammar, and neither %2F nor %5C (encoded "/" or "\") appears in
	// it, for the same security reason the source excludes them.
	malformed := match == nil ||
		!httpstatus.IsMethod(method) ||
		strings.Contains(target, "%2F") ||
		strings.Contains(target, "%5C")

	if malformed {
		log.Info("request line malformed", slog.String("line", requestLine))
		p.SendError(ctx, cmerrors.NewMalformedRequest("malformed request line", nil))
		return false, nil
	}

	rawPath, rawQuery, _ := strings.Cut(target, "?")
	path := percentDecodePlus(rawPath)

	req := message.NewServerRequest(method, path, rawQuery)

	log.Debug("request", slog.String("method", method), slog.String("path", path))

	if p.clientVersion != version {
		p.clientVersion = version
		log.Info("client version changed", slog.String("version", version))
	}

	//-----------------------#
	// Parsing header fields #
	//-----------------------#

	if err := req.Headers.ParseLines(headerLines); err != nil {
		log.Info("malformed header field", slog.Any("error", err))
		p.SendError(ctx, cmerrors.NewMalformedRequest("malformed header field", err))
		return false, nil
	}

	p.currentRequest = req
	p.isBodyRead = false
	p.isResponseSent = false

	// the client wants a 100-continue response before sending data; this
	// Pipeline never supports it.
	for _, v := range req.Headers.Get("expect") {
		if strings.EqualFold(v, "100-continue") {
			log.Info("no support for 100-continue expectations")
			httpErr := cmerrors.NewExpectationFailed()
			httpErr.Headers = map[string][]string{"connection": {"close"}}
			p.SendError(ctx, httpErr)
			return false, nil
		}
	}

	//-------------------------------------#
	// Body length and encoding validation #
	//-------------------------------------#

	p.state = StateValidating

	transferEncoding := req.Headers.Get("transfer-encoding")
	contentLength := req.Headers.Get("content-length")

	switch {
	case len(transferEncoding) > 0:
		if len(contentLength) > 0 {
			log.Info("transfer-encoding and content-length headers present")
			req.Headers.Del("content-length")
		}
		if transferEncoding[len(transferEncoding)-1] != "chunked" {
			p.SendError(ctx, cmerrors.NewMalformedRequest("unsupported transfer-encoding", nil))
			return false, nil
		}

	case len(contentLength) > 0:
		if len(contentLength) > 1 {
			log.Info("multiple content-length headers")
			p.SendError(ctx, cmerrors.NewMalformedRequest("multiple content-length headers", nil))
			return false, nil
		}
		if !contentLengthRegex.MatchString(contentLength[0]) {
			log.Info("malformed content-length value")
			p.SendError(ctx, cmerrors.NewMalformedRequest("malformed content-length value", nil))
			return false, nil
		}

	default:
		req.Headers.Set("content-length", "0")
	}

	//-----------------------------#
	// Connection keep alive check #
	//-----------------------------#

	connection := req.Headers.Get("connection")
	hasClose := hasConnectionToken(connection, "close")
	keepAlive = (version == "1.1" && !hasClose) ||
		(version == "1.0" && hasConnectionToken(connection, "keep-alive"))
	p.keepAlive = keepAlive

	//-----------------#
	// Request routing #
	//-----------------#

	p.state = StateRouting

	factory, args, named, routeErr := p.router.FindRoute(NormalizePath(path))
	if routeErr != nil {
		log.Info("route not found")
		p.SendError(ctx, cmerrors.NewRouteNotFound(path))
		return keepAlive, nil
	}

	allowed := factory.AllowedMethods()
	if !allowed[method] {
		log.Info("method not allowed")
		allow := make([]string, 0, len(allowed))
		for m := range allowed {
			allow = append(allow, m)
		}
		p.SendError(ctx, cmerrors.NewMethodNotAllowed(allow))
		return keepAlive, nil
	}

	//-------------------------#
	// Request handler calling #
	//-------------------------#

	p.state = StateHandling
	log.Debug("request handling")

	handler := factory.New(p, req)

	methodHandler, ok := handler.(MethodHandler)
	if !ok {
		log.Info("handler does not implement per-method dispatch")
		p.SendError(ctx, cmerrors.NewHandlerError(fmt.Errorf("handler for %s does not implement MethodHandler", path)))
		return keepAlive, nil
	}

	dispatch := methodHandler.Dispatch(method)
	if dispatch == nil {
		log.Info("no dispatch function for method", slog.String("method", method))
		p.SendError(ctx, cmerrors.NewHandlerError(fmt.Errorf("no dispatch for method %s", method)))
		return keepAlive, nil
	}

	dispatchErr := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return dispatch(ctx, p, args, named)
	}()
	if dispatchErr != nil {
		log.Error("error during response handling", slog.Any("error", dispatchErr))
		if !p.isResponseSent {
			var httpErr *cmerrors.HTTPError
			if !errors.As(dispatchErr, &httpErr) {
				httpErr = cmerrors.NewHandlerError(dispatchErr)
			}
			p.SendError(ctx, httpErr)
		}
		return keepAlive, nil
	}

	return keepAlive, nil
}

var contentLengthRegex = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

func hasConnectionToken(values []string, token string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}

// percentDecodePlus decodes a path/query segment the way Python's
// unquote_plus does: literal '+' becomes a space, then percent-escapes
// are decoded. Decoding is lenient -- an invalid escape falls back to
// the plus-substituted string rather than rejecting the request, since
// the source's unquote never raises either.
func percentDecodePlus(s string) string {
	spaced := strings.ReplaceAll(s, "+", " ")
	decoded, err := percentDecode(spaced)
	if err != nil {
		return spaced
	}
	return decoded
}

func percentDecode(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated percent-escape at %d", i)
		}
		v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte(v))
		i += 2
	}
	return b.String(), nil
}

// ReadBody drains the current request's body into sink via body.CopyTo,
// choosing the fixed-size or chunked reader per the headers validated
// during Run, the Go translation of ConnectionHandler.read_body.
func (p *Pipeline) ReadBody(ctx context.Context, sink func([]byte) (int, error)) error {
	if p.currentRequest == nil {
		return fmt.Errorf("no current request")
	}
	if p.isBodyRead {
		return fmt.Errorf("body already read")
	}

	hdrs := p.currentRequest.Headers
	transferEncoding := hdrs.Get("transfer-encoding")
	contentLength := hdrs.Get("content-length")

	log := p.peerLogger()

	var reader body.Reader
	switch {
	case len(contentLength) > 0:
		size, err := strconv.ParseInt(contentLength[0], 10, 64)
		if err != nil {
			return cmerrors.NewMalformedRequest("invalid content-length", err)
		}
		if size == 0 {
			p.isBodyRead = true
			return nil
		}
		log.Debug("reading body")
		reader = body.NewBufferedBodyReader(p.conn, size, true, constants.DefaultBlockSize)

	case len(transferEncoding) > 0 && transferEncoding[len(transferEncoding)-1] == "chunked":
		log.Debug("reading chunked body")
		reader = body.NewChunkedBodyReader(p.conn)

	default:
		p.isBodyRead = true
		return nil
	}

	_, err := body.CopyTo(ctx, writerFunc(sink), reader)
	if err != nil {
		return err
	}

	p.isBodyRead = true
	log.Debug("body read")
	return nil
}

// writerFunc adapts a plain func([]byte) (int, error) to io.Writer so
// handlers can pass a closure (bytes.Buffer.Write, a hash, a file) as the
// body sink without importing io in their own signatures.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// SendResponse writes resp as the full HTTP/1.1 response, adding Date and
// Server headers and deriving Content-Length from the body, mirroring
// ConnectionHandler.send_response's one-shot constraint (a second call on
// the same exchange is a programmer error, reported rather than sent).
// The connection-persistence decision is p.keepAlive, the value Run
// computed for the exchange currently in flight (false if an error is
// sent before Run reaches that check, e.g. a malformed request line).
// It is overridden to false if resp's own headers already carry a
// "connection: close" directive, which is then stripped in favor of the
// canonical header SendResponse writes.
func (p *Pipeline) SendResponse(ctx context.Context, resp *message.Response) error {
	if p.isResponseSent {
		return fmt.Errorf("response already sent for this exchange")
	}

	statusLine := fmt.Sprintf("HTTP/%s %d %s\r\n", p.clientVersion, resp.Status, httpstatus.ReasonPhrase(resp.Status))

	hdrs := resp.Headers
	if hdrs == nil {
		hdrs = headers.New()
	}
	hdrs.AddDate("date", time.Now().UTC())
	hdrs.Set("server", p.serverAgent)

	keepAlive := p.keepAlive
	if hasConnectionToken(hdrs.Get("connection"), "close") {
		keepAlive = false
	}
	hdrs.Del("connection")
	if keepAlive {
		hdrs.Set("connection", "keep-alive")
	} else {
		hdrs.Set("connection", "close")
	}

	if resp.HasBody() && len(resp.Body) > 0 {
		hdrs.Set("content-length", strconv.Itoa(len(resp.Body)))
	} else if !hdrs.Has("content-length") {
		hdrs.Set("content-length", "0")
	}

	head := statusLine + hdrs.HTTPEncode() + "\r\n"
	if _, err := p.conn.Write([]byte(head)); err != nil {
		return err
	}
	if resp.HasBody() && len(resp.Body) > 0 {
		if _, err := p.conn.Write(resp.Body); err != nil {
			return err
		}
	}
	if err := p.conn.Drain(ctx); err != nil {
		return err
	}

	p.isResponseSent = true
	p.peerLogger().Debug("response sent", slog.Int("status", resp.Status))
	return nil
}

// SendError builds the minimal response a recoverable HTTPError maps to
// (status, reason-phrase body, and any extra headers such as Allow) and
// sends it through SendResponse.
func (p *Pipeline) SendError(ctx context.Context, httpErr *cmerrors.HTTPError) error {
	hdrs := headers.New()
	for name, values := range httpErr.Headers {
		hdrs.Add(name, values...)
	}

	respBody := []byte(httpstatus.ReasonPhrase(httpErr.Status))
	resp := message.NewResponse(httpErr.Status, hdrs)
	resp.Body = respBody
	resp.Request = p.currentRequest

	return p.SendResponse(ctx, resp)
}

// Cleanup drains any unread request body before the connection is reused
// or closed, the Go translation of ConnectionHandler.cleanup.
func (p *Pipeline) Cleanup(ctx context.Context) error {
	if p.currentRequest == nil || p.isBodyRead {
		return nil
	}
	var discarded int
	return p.ReadBody(ctx, func(b []byte) (int, error) {
		discarded += len(b)
		return len(b), nil
	})
}
