// Package client implements the single-endpoint HTTP/1.1 fetch: a
// Connection bound to one already-established transport, issuing one
// request and parsing its response at a time, the way the pool leases it
// out and reclaims it between fetches.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/NoZip/centimani/pkg/body"
	"github.com/NoZip/centimani/pkg/buffer"
	"github.com/NoZip/centimani/pkg/constants"
	cmerrors "github.com/NoZip/centimani/pkg/errors"
	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/timing"
	"github.com/NoZip/centimani/pkg/transport"
)

// Connection is a single leased HTTP/1.1 connection: Fetch sends one
// request and reads its response, the Go translation of
// client/http1.py's Http1Connection.fetch.
type Connection struct {
	conn   transport.ReadWriter
	logger *slog.Logger

	mu       sync.Mutex
	acquired bool
}

// NewConnection wraps conn for use as a client connection, initially
// unleased.
func NewConnection(conn transport.ReadWriter) *Connection {
	return &Connection{conn: conn, logger: slog.Default()}
}

// SetLogger overrides the structured logger Fetch writes duration
// entries to.
func (c *Connection) SetLogger(logger *slog.Logger) { c.logger = logger }

// Acquire marks the connection leased to one in-flight Fetch; the pool
// calls this before handing a connection to a caller.
func (c *Connection) Acquire() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = true
}

// Release marks the connection free for reuse.
func (c *Connection) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired = false
}

// IsAvailable reports whether the connection is neither leased nor
// closing.
func (c *Connection) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.acquired && !c.conn.IsClosing()
}

// Close closes the underlying transport.
func (c *Connection) Close() error { return c.conn.Close() }

// Fetch sends req and returns its response, choosing the body-reading
// strategy per the exact precedence of the source: chunked
// transfer-encoding is honored before content-length, matching
// fetch()'s "if transfer_encoding: ... elif content_length: ..." order.
func (c *Connection) Fetch(ctx context.Context, req *message.Request) (*message.Response, error) {
	timer := timing.NewTimer()

	if _, ok := req.Headers.GetFirst("host"); !ok {
		req.Headers.Set("host", req.Authority())
	}
	if !req.Headers.Has("user-agent") {
		req.Headers.Set("user-agent", constants.DefaultUserAgent)
	}
	if !req.Headers.Has("content-length") && !req.Headers.Has("transfer-encoding") {
		req.Headers.Set("content-length", strconv.Itoa(len(req.Body)))
	}

	//--------------#
	// Send request #
	//--------------#

	requestLine := fmt.Sprintf("%s %s HTTP/1.1\r\n", req.Method, req.RelativeURL())

	var headerBlock strings.Builder
	for _, f := range req.Headers.HeaderFields() {
		fmt.Fprintf(&headerBlock, "%s: %s\r\n", f.Name, f.Value)
	}

	head := requestLine + headerBlock.String() + "\r\n"
	if _, err := c.conn.Write([]byte(head)); err != nil {
		return nil, err
	}
	if len(req.Body) > 0 {
		if _, err := c.conn.Write(req.Body); err != nil {
			return nil, err
		}
	}
	if err := c.conn.Drain(ctx); err != nil {
		return nil, err
	}

	//------------------#
	// Receive response #
	//------------------#

	timer.StartTTFB()
	header, err := c.conn.ReadUntil(ctx, []byte("\r\n\r\n"))
	if err != nil {
		if cmerrors.IsTimeoutError(err) {
			return nil, cmerrors.NewClientTimeoutError("fetch")
		}
		return nil, err
	}
	timer.EndTTFB()

	header = bytes.TrimSuffix(header, []byte("\r\n\r\n"))
	lines := strings.Split(string(header), "\r\n")
	statusLine, headerLines := lines[0], lines[1:]

	if statusLine == "" {
		return nil, cmerrors.NewIOError("fetch", fmt.Errorf("connection closed before status line"))
	}

	statusParts := strings.SplitN(statusLine, " ", 3)
	if len(statusParts) < 2 {
		return nil, cmerrors.NewMalformedRequest("malformed status line", nil)
	}
	status, err := strconv.Atoi(statusParts[1])
	if err != nil {
		return nil, cmerrors.NewMalformedRequest("malformed status code", err)
	}

	resp := message.NewResponse(status, nil)
	resp.Request = req
	if err := resp.Headers.ParseLines(headerLines); err != nil {
		return nil, cmerrors.NewMalformedRequest("malformed response header field", err)
	}

	//--------------#
	// Body reading #
	//--------------#

	if resp.HasBody() {
		transferEncoding := resp.Headers.Get("transfer-encoding")
		contentLength := resp.Headers.Get("content-length")

		var reader body.Reader

		switch {
		case len(transferEncoding) > 0:
			reader = body.NewChunkedBodyReader(c.conn)
		case len(contentLength) > 0:
			size, perr := strconv.ParseInt(contentLength[0], 10, 64)
			if perr != nil {
				return nil, cmerrors.NewMalformedRequest("invalid content-length", perr)
			}
			reader = body.NewBufferedBodyReader(c.conn, size, true, constants.DefaultBlockSize)
		}

		if reader != nil {
			// Accumulate through a spilling Buffer rather than a plain
			// bytes.Buffer, so a response that declares a huge
			// content-length can't pin it all in memory before the
			// caller even sees it.
			buf := buffer.New(constants.DefaultBodyMemory)
			if _, err := body.CopyTo(ctx, buf, reader); err != nil {
				buf.Close()
				return nil, err
			}

			bodyReader, err := buf.Reader()
			if err != nil {
				buf.Close()
				return nil, err
			}
			data, err := io.ReadAll(bodyReader)
			bodyReader.Close()
			buf.Close()
			if err != nil {
				return nil, cmerrors.NewIOError("read", err)
			}
			resp.Body = data
		}
	}

	if hasConnectionToken(resp.Headers.Get("connection"), "close") {
		c.conn.Close()
	}

	c.logger.Debug("response built",
		slog.Duration("elapsed", timer.GetMetrics().Total),
		slog.String("method", req.Method),
		slog.String("url", req.RelativeURL()),
		slog.Int("status", resp.Status),
	)

	return resp, nil
}

func hasConnectionToken(values []string, token string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}
