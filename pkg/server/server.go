package server

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/NoZip/centimani/pkg/transport"
)

// PipelineFactory builds a Pipeline bound to one connection and router,
// the Go shape of an entry in DEFAULT_PROTOCOL_MAP.
type PipelineFactory func(conn transport.ReadWriter, router Router) *Pipeline

// DefaultProtocolMap is the protocol-name -> Pipeline-constructor table a
// Server falls back to when none is supplied, mirroring
// server/manager.py's DEFAULT_PROTOCOL_MAP (currently just HTTP/1.1; a
// future HTTP/2 entry would key off the ALPN name the transport reports).
var DefaultProtocolMap = map[string]PipelineFactory{
	"http/1.1": NewPipeline,
}

// Server accepts connections from a net.Listener and runs one Pipeline
// per connection until the connection's exchanges stop requesting
// keep-alive or a transport error ends it, the Go translation of
// ConnectionManager.listen/handle_connection.
type Server struct {
	Router       Router
	ProtocolMap  map[string]PipelineFactory
	ServerAgent  string
	Logger       *slog.Logger
	ALPNSelector func(conn net.Conn) string

	wg sync.WaitGroup
}

// protocolFor picks the protocol name for conn. Without TLS/ALPN
// negotiation the core only ever speaks HTTP/1.1, matching manager.py's
// hard-coded fallback.
func (s *Server) protocolFor(conn net.Conn) string {
	if s.ALPNSelector != nil {
		if proto := s.ALPNSelector(conn); proto != "" {
			return proto
		}
	}
	return "http/1.1"
}

// Serve accepts connections from listener until ctx is canceled, running
// one Pipeline goroutine per connection. It blocks until every in-flight
// connection has observed the cancellation and returned, never force
// closing a connection mid-exchange.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	protocolMap := s.ProtocolMap
	if protocolMap == nil {
		protocolMap = DefaultProtocolMap
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		protocol := s.protocolFor(conn)
		factory, ok := protocolMap[protocol]
		if !ok {
			logger.Warn("unsupported protocol negotiated, closing", slog.String("protocol", protocol))
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer c.Close()
			s.handleConnection(ctx, c, factory)
		}(conn)
	}
}

// handleConnection runs factory's Pipeline over conn until a request
// doesn't ask to keep the connection alive, a transport error occurs, or
// ctx is canceled.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn, factory PipelineFactory) {
	var alpn string
	if s.ALPNSelector != nil {
		alpn = s.ALPNSelector(conn)
	}
	tc := transport.NewConn(conn, alpn)
	pipeline := factory(tc, s.Router)
	if s.ServerAgent != "" {
		pipeline.SetServerAgent(s.ServerAgent)
	}
	if s.Logger != nil {
		pipeline.SetLogger(s.Logger)
	}

	log := pipeline.peerLogger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		keepAlive, err := pipeline.Run(ctx)
		if err != nil {
			log.Info("pipeline error, closing connection", slog.Any("error", err))
			return
		}
		if cleanupErr := pipeline.Cleanup(ctx); cleanupErr != nil {
			log.Info("body cleanup failed, closing connection", slog.Any("error", cleanupErr))
			return
		}
		if !keepAlive {
			return
		}
	}
}
