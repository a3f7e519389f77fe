// Package transport defines the byte-stream collaborator contract the
// server Pipeline and client Connection run on top of, plus a concrete
// net.Conn-backed implementation for callers who don't need anything
// fancier than TCP (TLS termination, if any, happens before the net.Conn
// reaches this package — Conn only reports the negotiated name it was
// given, via ExtraInfo("alpn")).
package transport

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	cmerrors "github.com/NoZip/centimani/pkg/errors"
)

// Reader is the read half of the byte-stream collaborator. Both methods
// block until satisfied, ctx is canceled, or the stream ends.
type Reader interface {
	// Read returns exactly n bytes, or fewer at EOF.
	Read(ctx context.Context, n int) ([]byte, error)
	// ReadUntil returns all bytes up to and including the first
	// occurrence of delim.
	ReadUntil(ctx context.Context, delim []byte) ([]byte, error)
}

// Writer is the write half of the byte-stream collaborator.
type Writer interface {
	Write(p []byte) (int, error)
	// Drain blocks until previously written bytes have been flushed to
	// the underlying transport, applying backpressure.
	Drain(ctx context.Context) error
	Close() error
	IsClosing() bool
	// ExtraInfo exposes transport metadata the core never produces
	// itself: "peername" (string) and "alpn" (string), mirroring
	// asyncio's get_extra_info.
	ExtraInfo(name string) any
}

// ReadWriter is the full collaborator a Pipeline or client Connection is
// constructed with.
type ReadWriter interface {
	Reader
	Writer
}

// Conn adapts a net.Conn into the Reader/Writer contract, using a
// bufio.Reader so ReadUntil can scan for a delimiter without losing
// look-ahead bytes the caller still needs.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	peer string
	alpn string

	mu      sync.Mutex
	closing bool
}

// NewConn wraps conn. alpn is the negotiated ALPN protocol name, if any;
// pass "" when the caller has no TLS collaborator or didn't negotiate one.
func NewConn(conn net.Conn, alpn string) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
		bw:   bufio.NewWriterSize(conn, 64*1024),
		peer: conn.RemoteAddr().String(),
		alpn: alpn,
	}
}

func (c *Conn) withDeadline(ctx context.Context, fn func() error) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
		defer c.conn.SetDeadline(time.Time{})
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.conn.SetDeadline(time.Now())
		<-done
		return ctx.Err()
	}
}

// Read returns exactly n bytes, or fewer if the stream ends first.
func (c *Conn) Read(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	var read int
	err := c.withDeadline(ctx, func() error {
		var e error
		read, e = io.ReadFull(c.br, buf)
		return e
	})
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return buf[:read], nil
	}
	if err != nil {
		return buf[:read], cmerrors.NewIOError("read", err)
	}
	return buf[:read], nil
}

// ReadUntil reads until delim is found, returning everything read
// including delim.
func (c *Conn) ReadUntil(ctx context.Context, delim []byte) ([]byte, error) {
	var out []byte
	err := c.withDeadline(ctx, func() error {
		for {
			chunk, e := c.br.ReadBytes(delim[len(delim)-1])
			out = append(out, chunk...)
			if e != nil {
				return e
			}
			if bytes.HasSuffix(out, delim) {
				return nil
			}
		}
	})
	if err != nil {
		return out, cmerrors.NewIOError("readUntil", err)
	}
	return out, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.bw.Write(p)
	if err != nil {
		return n, cmerrors.NewIOError("write", err)
	}
	return n, nil
}

// Drain flushes buffered writes to the kernel, applying backpressure the
// way the spec's await-drain point requires.
func (c *Conn) Drain(ctx context.Context) error {
	err := c.withDeadline(ctx, c.bw.Flush)
	if err != nil {
		return cmerrors.NewIOError("drain", err)
	}
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closing = true
	c.mu.Unlock()
	c.bw.Flush()
	return c.conn.Close()
}

func (c *Conn) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

func (c *Conn) ExtraInfo(name string) any {
	switch name {
	case "peername":
		return c.peer
	case "alpn":
		return c.alpn
	default:
		return nil
	}
}
