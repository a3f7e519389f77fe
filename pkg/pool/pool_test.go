package pool

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NoZip/centimani/pkg/client"
	"github.com/NoZip/centimani/pkg/message"
	"github.com/NoZip/centimani/pkg/transport"
)

// fakeDialer hands out net.Pipe-backed client.Connections, counting how
// many times it actually dials (as opposed to the Manager reusing an idle
// connection), and serving a canned response per authority.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int32
	response map[string][]byte
}

func (f *fakeDialer) dial(ctx context.Context, key Key) (*client.Connection, error) {
	atomic.AddInt32(&f.dials, 1)

	clientSide, serverSide := net.Pipe()

	f.mu.Lock()
	resp := f.response[key.Authority]
	f.mu.Unlock()

	go func() {
		defer serverSide.Close()
		reader := bufio.NewReader(serverSide)
		for {
			l, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			if l == "\r\n" {
				break
			}
		}
		serverSide.Write(resp)
	}()

	return client.NewConnection(transport.NewConn(clientSide, "")), nil
}

func TestManagerAcquireReleaseReusesIdleConnection(t *testing.T) {
	fd := &fakeDialer{response: map[string][]byte{
		"a.test": []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: keep-alive\r\n\r\n"),
	}}
	m := NewManager(fd.dial)
	defer m.Close()

	key := Key{Scheme: "http", Authority: "a.test"}

	conn, err := m.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	m.Release(key, conn, true)

	if _, err := m.Acquire(context.Background(), key); err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}

	if got := atomic.LoadInt32(&fd.dials); got != 1 {
		t.Fatalf("dial count = %d, want 1 (second Acquire should reuse the idle connection)", got)
	}
}

func TestManagerReleaseWithoutKeepAliveDoesNotPool(t *testing.T) {
	fd := &fakeDialer{response: map[string][]byte{
		"b.test": []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
	}}
	m := NewManager(fd.dial)
	defer m.Close()

	key := Key{Scheme: "http", Authority: "b.test"}

	conn, err := m.Acquire(context.Background(), key)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	m.Release(key, conn, false)

	if _, err := m.Acquire(context.Background(), key); err != nil {
		t.Fatalf("second Acquire error: %v", err)
	}

	if got := atomic.LoadInt32(&fd.dials); got != 2 {
		t.Fatalf("dial count = %d, want 2 (no keep-alive must not pool the connection)", got)
	}
}

func TestManagerFetchFollowsPermanentRedirect(t *testing.T) {
	fd := &fakeDialer{response: map[string][]byte{
		"start.test": []byte("HTTP/1.1 301 Moved Permanently\r\nContent-Length: 0\r\nLocation: http://end.test/final\r\n\r\n"),
		"end.test":   []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"),
	}}
	m := NewManager(fd.dial, WithMaxRedirects(3))
	defer m.Close()

	req, err := message.NewRequest("GET", "http://start.test/")
	if err != nil {
		t.Fatalf("NewRequest error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := m.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if resp.Status != 200 {
		t.Fatalf("final Status = %d, want 200", resp.Status)
	}
	if req.Authority() != "end.test" {
		t.Fatalf("request authority = %q, want end.test (redirect should mutate the Request in place)", req.Authority())
	}
	if req.RedirectCount != 1 {
		t.Fatalf("RedirectCount = %d, want 1", req.RedirectCount)
	}
}

func TestManagerFetchDoesNotFollowTemporaryRedirect(t *testing.T) {
	fd := &fakeDialer{response: map[string][]byte{
		"found.test": []byte("HTTP/1.1 302 Found\r\nContent-Length: 0\r\nLocation: http://elsewhere.test/\r\n\r\n"),
	}}
	m := NewManager(fd.dial)
	defer m.Close()

	req, _ := message.NewRequest("GET", "http://found.test/")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := m.Fetch(ctx, req)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if resp.Status != 302 {
		t.Fatalf("Status = %d, want 302 returned as-is (not a permanent redirect)", resp.Status)
	}
	if req.Authority() != "found.test" {
		t.Fatalf("302 must not be auto-followed, authority changed to %q", req.Authority())
	}
}
