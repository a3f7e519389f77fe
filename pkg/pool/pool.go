// Package pool implements the connection pool and redirect-following
// fetch loop, generalizing the teacher's per-host Transport pool
// (idle list + bounded semaphore + periodic cleanup goroutine) from a
// single (host, port) key to a (scheme, authority) Key, and from LIFO
// idle reuse to explicit least-recently-active selection.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/NoZip/centimani/pkg/client"
	"github.com/NoZip/centimani/pkg/constants"
	"github.com/NoZip/centimani/pkg/message"
)

// Key identifies one pooled endpoint: all connections for the same
// (scheme, authority) pair are interchangeable.
type Key struct {
	Scheme    string
	Authority string
}

func (k Key) String() string { return k.Scheme + "://" + k.Authority }

// DialFunc opens a fresh client.Connection to key, the collaborator the
// Manager never implements itself (dialing, and any TLS handshake, stays
// the caller's responsibility, matching the core's "transport exposes a
// selected protocol name, nothing more" boundary).
type DialFunc func(ctx context.Context, key Key) (*client.Connection, error)

// permanentRedirectStatuses is the set of statuses the fetch loop follows
// automatically: 301 and 308 only. The source's redirect set is {302,
// 308}, but 302 ("Found") is not a permanent redirect by RFC 7231 -- a
// plain translation would follow a temporary redirect as if instructed
// to permanently repoint future requests, so this module follows the
// RFC-correct set instead.
var permanentRedirectStatuses = map[int]bool{
	301: true,
	308: true,
}

type idleEntry struct {
	conn     *client.Connection
	lastUsed time.Time
}

type endpointPool struct {
	mu   sync.Mutex
	idle []*idleEntry
	sem  chan struct{}
}

// Manager pools client.Connections per Key and drives the redirect-
// following Fetch loop, the Go translation of the teacher's Transport
// plus the permanent-redirect bookkeeping from the client-side fetch
// helper the source leaves to the caller.
type Manager struct {
	dial DialFunc

	maxIdlePerEndpoint int
	maxConnsPerEndpoint int
	idleTimeout         time.Duration
	maxRedirects        int

	logger *slog.Logger

	mu    sync.Mutex
	pools map[Key]*endpointPool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithMaxIdlePerEndpoint(n int) Option  { return func(m *Manager) { m.maxIdlePerEndpoint = n } }
func WithMaxConnsPerEndpoint(n int) Option { return func(m *Manager) { m.maxConnsPerEndpoint = n } }
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}
func WithMaxRedirects(n int) Option { return func(m *Manager) { m.maxRedirects = n } }
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager builds a Manager that dials new connections via dial and
// starts its idle-connection reaper goroutine.
func NewManager(dial DialFunc, opts ...Option) *Manager {
	m := &Manager{
		dial:                dial,
		maxIdlePerEndpoint:  2,
		maxConnsPerEndpoint: 8,
		idleTimeout:         constants.DefaultKeepAliveTimeout,
		maxRedirects:        constants.DefaultMaxRedirections,
		logger:              slog.Default(),
		pools:               make(map[Key]*endpointPool),
		stopCh:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.reapLoop()

	return m
}

func (m *Manager) poolFor(key Key) *endpointPool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[key]
	if !ok {
		p = &endpointPool{sem: make(chan struct{}, m.maxConnsPerEndpoint)}
		m.pools[key] = p
	}
	return p
}

// Acquire returns a connection for key, reusing the least-recently-active
// idle connection if one exists, or dialing a fresh one within the
// per-endpoint connection cap, blocking until ctx is canceled if the cap
// is already reached.
func (m *Manager) Acquire(ctx context.Context, key Key) (*client.Connection, error) {
	p := m.poolFor(key)

	if conn := p.popLeastRecentlyActive(); conn != nil {
		conn.Acquire()
		return conn, nil
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	conn, err := m.dial(ctx, key)
	if err != nil {
		<-p.sem
		return nil, err
	}
	conn.Acquire()
	return conn, nil
}

// Release returns conn to key's idle pool if keepAlive holds and the
// connection is still open, or closes it and frees its semaphore slot
// otherwise.
func (m *Manager) Release(key Key, conn *client.Connection, keepAlive bool) {
	p := m.poolFor(key)

	if !keepAlive {
		conn.Close()
		<-p.sem
		return
	}

	conn.Release()

	p.mu.Lock()
	p.idle = append(p.idle, &idleEntry{conn: conn, lastUsed: time.Now()})
	overflow := len(p.idle) - m.maxIdlePerEndpoint
	var evicted []*idleEntry
	if overflow > 0 {
		evicted = append(evicted, p.idle[:overflow]...)
		p.idle = p.idle[overflow:]
	}
	p.mu.Unlock()

	for _, e := range evicted {
		e.conn.Close()
		<-p.sem
	}
}

// popLeastRecentlyActive removes and returns the idle connection with
// the oldest lastUsed timestamp, the opposite of the teacher's LIFO idle
// reuse.
func (p *endpointPool) popLeastRecentlyActive() *client.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) == 0 {
		return nil
	}

	oldest := 0
	for i, e := range p.idle {
		if e.lastUsed.Before(p.idle[oldest].lastUsed) {
			oldest = i
		}
	}

	entry := p.idle[oldest]
	p.idle = append(p.idle[:oldest], p.idle[oldest+1:]...)
	return entry.conn
}

// reapLoop periodically closes idle connections that have sat unused
// past idleTimeout, the Go translation of cleanupIdleConnections.
func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(constants.DefaultReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

func (m *Manager) reapOnce() {
	m.mu.Lock()
	pools := make(map[Key]*endpointPool, len(m.pools))
	for k, p := range m.pools {
		pools[k] = p
	}
	m.mu.Unlock()

	now := time.Now()
	for key, p := range pools {
		p.mu.Lock()
		var kept, stale []*idleEntry
		for _, e := range p.idle {
			if now.Sub(e.lastUsed) > m.idleTimeout {
				stale = append(stale, e)
			} else {
				kept = append(kept, e)
			}
		}
		p.idle = kept
		p.mu.Unlock()

		for _, e := range stale {
			e.conn.Close()
			<-p.sem
			m.logger.Debug("reaped idle connection", slog.String("endpoint", key.String()))
		}
	}
}

// Close stops the reaper goroutine and closes every pooled connection.
func (m *Manager) Close() error {
	close(m.stopCh)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		p.mu.Lock()
		for _, e := range p.idle {
			e.conn.Close()
		}
		p.idle = nil
		p.mu.Unlock()
	}
	return nil
}

// Fetch acquires a connection for req's current URL, issues it, releases
// the connection, and follows any permanent redirect (per
// permanentRedirectStatuses) up to maxRedirects times, the client-side
// redirect loop the source leaves implicit in repeated manual fetch calls.
func (m *Manager) Fetch(ctx context.Context, req *message.Request) (*message.Response, error) {
	for {
		if req.RedirectCount > m.maxRedirects {
			return nil, fmt.Errorf("too many redirects (%d)", req.RedirectCount)
		}

		key := Key{Scheme: req.Scheme(), Authority: req.Authority()}

		conn, err := m.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}

		resp, fetchErr := conn.Fetch(ctx, req)
		if fetchErr != nil {
			m.Release(key, conn, false)
			return nil, fetchErr
		}

		keepAlive := !hasConnectionToken(resp.Headers.Get("connection"), "close")
		m.Release(key, conn, keepAlive)

		if !permanentRedirectStatuses[resp.Status] {
			return resp, nil
		}

		location, ok := resp.Headers.GetFirst("location")
		if !ok {
			return resp, nil
		}

		nextURL, err := resolveRedirect(req.URL(), location)
		if err != nil {
			return resp, nil
		}

		req.RedirectCount++
		if err := req.SetURL(nextURL); err != nil {
			return resp, nil
		}
	}
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	loc, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(loc).String(), nil
}

func hasConnectionToken(values []string, token string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}
