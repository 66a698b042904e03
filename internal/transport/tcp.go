// Package transport implements the listener lifecycles that accept raw
// connections and hand them to a connection.Handler: plain/TLS TCP and
// plain/secure WebSocket.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/ussync/ussyncd/internal/connection"
	"github.com/ussync/ussyncd/internal/logging"
	"github.com/ussync/ussyncd/internal/manager"
	"github.com/ussync/ussyncd/internal/metrics"
	"github.com/ussync/ussyncd/internal/protocol"
	"github.com/ussync/ussyncd/internal/ratelimit"
	"github.com/ussync/ussyncd/internal/storage"
)

var log = logging.Named("transport")

const readBufferSize = 4096

// TCPServer accepts plain or TLS-wrapped TCP connections and drives each
// through a connection.Handler, mirroring the accept/select-loop shape of
// the original tokio implementation.
type TCPServer struct {
	Manager  *manager.Manager
	Addr     string
	Password string
	Storage  storage.Storage
	RateCfg  *ratelimit.Config
	TLS      *tls.Config
	Metrics  *metrics.Metrics

	clientCounter uint64
}

// Run binds Addr and accepts connections until Accept fails, returning that
// error. The listener is not exposed to the caller, so in normal operation
// Run serves until process shutdown. Each accepted connection is served in
// its own goroutine.
func (s *TCPServer) Run() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", s.Addr, err)
	}
	if s.TLS != nil {
		ln = tls.NewListener(ln, s.TLS)
	}
	log.Infow("tcp server listening", "addr", ln.Addr().String(), "tls", s.TLS != nil)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("tcp accept: %w", err)
		}
		id := atomic.AddUint64(&s.clientCounter, 1)
		clientID := fmt.Sprintf("tcp:%s:%d", conn.RemoteAddr(), id)
		go s.serve(conn, clientID)
	}
}

func (s *TCPServer) serve(conn net.Conn, clientID string) {
	defer conn.Close()
	log.Infow("client connected", "client", clientID)

	if s.Metrics != nil {
		s.Metrics.RecordConnection("tcp")
		defer s.Metrics.RecordDisconnection("tcp")
	}

	var limiter *ratelimit.Limiter
	if s.RateCfg != nil {
		limiter = ratelimit.New(*s.RateCfg)
	}
	h := connection.New(clientID, s.Manager, s.Password, s.Storage, limiter)
	h.SetMetrics(s.Metrics)
	receiver := s.Manager.Subscribe()
	defer receiver.Close()

	var writeMu sync.Mutex
	write := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := conn.Write(b)
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, readBufferSize)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				responses, closed, perr := h.Process(buf[:n])
				if perr != nil {
					log.Warnw("message too large", "client", clientID, "error", perr)
					return
				}
				for _, resp := range responses {
					if werr := write(protocol.Encode(resp)); werr != nil {
						log.Warnw("write error", "client", clientID, "error", werr)
						return
					}
				}
				if closed {
					return
				}
			}
			if err != nil {
				log.Infow("client disconnected", "client", clientID, "error", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			h.Cleanup()
			return
		case delta, ok := <-receiver.Chan():
			if !ok {
				h.Cleanup()
				return
			}
			if lag := receiver.Lagged(); lag > 0 {
				log.Warnw("client lagged behind updates", "client", clientID, "missed", lag)
			}
			if !h.MatchesSubscription(delta.DocumentID) {
				continue
			}
			resp := protocol.Delta(delta.Version, delta.Payload)
			if err := write(protocol.Encode(resp)); err != nil {
				log.Warnw("write error", "client", clientID, "error", err)
				h.Cleanup()
				return
			}
		}
	}
}
