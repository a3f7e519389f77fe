package client

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/transport"
)

func newTestConnection(t *testing.T) (*Connection, net.Conn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() { serverSide.Close() })
	return NewConnection(transport.NewConn(clientSide, "")), serverSide
}

func TestFetchContentLengthBody(t *testing.T) {
	conn, serverSide := newTestConnection(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := bufio.NewReader(serverSide)
		line, _ := reader.ReadString('\n')
		if line != "GET /foo HTTP/1.1\r\n" {
			t.Errorf("request line = %q", line)
		}
		for {
			l, _ := reader.ReadString('\n')
			if l == "\r\n" {
				break
			}
		}
		serverSide.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"))
	}()

	req, err := message.NewRequest("GET", "http://example.com/foo")
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := conn.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	<-done

	if resp.Status != 200 {
		t.Fatalf("Status = %d, want 200", resp.Status)
	}
	if string(resp.Body) != "hello" {
		t.Fatalf("Body = %q, want %q", resp.Body, "hello")
	}
}

func TestFetchChunkedBodyPrecedesContentLength(t *testing.T) {
	conn, serverSide := newTestConnection(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := bufio.NewReader(serverSide)
		for {
			l, _ := reader.ReadString('\n')
			if l == "\r\n" || l == "" {
				break
			}
		}
		// Both headers present: chunked must win per the source's fetch() order.
		serverSide.Write([]byte(
			"HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Length: 999\r\n\r\n" +
				"5\r\nhello\r\n0\r\n\r\n"))
	}()

	req, err := message.NewRequest("GET", "http://example.com/chunked")
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := conn.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	<-done

	if string(resp.Body) != "hello" {
		t.Fatalf("Body = %q, want %q", resp.Body, "hello")
	}
}

func TestFetchClosesConnectionOnConnectionClose(t *testing.T) {
	conn, serverSide := newTestConnection(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		reader := bufio.NewReader(serverSide)
		for {
			l, _ := reader.ReadString('\n')
			if l == "\r\n" || l == "" {
				break
			}
		}
		serverSide.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"))
	}()

	req, _ := message.NewRequest("GET", "http://example.com/")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := conn.Fetch(ctx, req); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	<-done

	if !conn.conn.IsClosing() {
		t.Fatal("expected connection to be closed after Connection: close response")
	}
}
