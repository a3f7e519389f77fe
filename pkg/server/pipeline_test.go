package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/transport"
)

type echoHandler struct {
	BaseHandler
}

func newEchoHandler(p *Pipeline, req *message.Request) Handler {
	h := &echoHandler{}
	h.BaseHandler = NewBaseHandler(p, req, map[string]MethodFunc{
		"GET": h.get,
	})
	return h
}

func (h *echoHandler) get(ctx context.Context, p *Pipeline, args []string, named map[string]string) error {
	resp := message.NewResponse(200, nil)
	resp.Body = []byte("hello")
	return p.SendResponse(ctx, resp)
}

func newTestPipeline(t *testing.T) (*Pipeline, net.Conn) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close() })

	router := NewPatternRouter()
	router.Handle("/echo", NewBaseHandlerFactory([]string{"GET"}, newEchoHandler))

	p := NewPipeline(transport.NewConn(serverConn, ""), router)
	return p, clientConn
}

func TestPipelineRunServesMatchedRoute(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	var keepAlive bool
	var runErr error
	go func() {
		defer close(done)
		keepAlive, runErr = p.Run(context.Background())
	}()

	if _, err := clientConn.Write([]byte("GET /echo HTTP/1.1\r\nHost: test\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "200") {
		t.Fatalf("status line = %q, want 200", statusLine)
	}

	<-done
	if runErr != nil {
		t.Fatalf("Run error: %v", runErr)
	}
	if !keepAlive {
		t.Fatal("expected keepAlive for HTTP/1.1 request without Connection: close")
	}
}

func TestPipelineRunSendsKeepAliveConnectionHeaderTitleCased(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	clientConn.Write([]byte("GET /echo HTTP/1.1\r\nHost: test\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	var head []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		head = append(head, line)
	}
	<-done

	joined := strings.Join(head, "")
	if !strings.Contains(joined, "Connection: keep-alive\r\n") {
		t.Fatalf("headers = %q, want a title-cased Connection: keep-alive line", joined)
	}
	if !strings.Contains(joined, "Content-Length:") {
		t.Fatalf("headers = %q, want a title-cased Content-Length line", joined)
	}
}

func TestPipelineRunMethodNotAllowedAdvertisesAllowTitleCased(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	clientConn.Write([]byte("POST /echo HTTP/1.1\r\nHost: test\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	var head []string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read header: %v", err)
		}
		if line == "\r\n" {
			break
		}
		head = append(head, line)
	}
	<-done

	joined := strings.Join(head, "")
	if !strings.Contains(joined, "Allow: GET\r\n") {
		t.Fatalf("headers = %q, want a title-cased Allow: GET line", joined)
	}
	if !strings.Contains(joined, "Connection: keep-alive\r\n") {
		t.Fatalf("headers = %q, want Connection: keep-alive for a 405 sent after the keep-alive check on an HTTP/1.1 request", joined)
	}
}

func TestPipelineRunRouteNotFound(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	clientConn.Write([]byte("GET /missing HTTP/1.1\r\nHost: test\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "404") {
		t.Fatalf("status line = %q, want 404", statusLine)
	}
	<-done
}

func TestPipelineRunMethodNotAllowed(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	clientConn.Write([]byte("POST /echo HTTP/1.1\r\nHost: test\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "405") {
		t.Fatalf("status line = %q, want 405", statusLine)
	}
	<-done
}

func TestPipelineRunMalformedRequestLine(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(context.Background())
	}()

	clientConn.Write([]byte("BOGUS / HTTP/1.1\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read status line: %v", err)
	}
	if !strings.Contains(statusLine, "400") {
		t.Fatalf("status line = %q, want 400", statusLine)
	}
	<-done
}

func TestPipelineRunConnectionCloseEndsKeepAlive(t *testing.T) {
	p, clientConn := newTestPipeline(t)

	done := make(chan struct{})
	var keepAlive bool
	go func() {
		defer close(done)
		keepAlive, _ = p.Run(context.Background())
	}()

	clientConn.Write([]byte("GET /echo HTTP/1.1\r\nHost: test\r\nConnection: close\r\n\r\n"))

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	reader.ReadString('\n')
	<-done

	if keepAlive {
		t.Fatal("expected keepAlive=false after Connection: close")
	}
}
