package transport

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/ussync/ussyncd/internal/connection"
	"github.com/ussync/ussyncd/internal/manager"
	"github.com/ussync/ussyncd/internal/metrics"
	"github.com/ussync/ussyncd/internal/protocol"
	"github.com/ussync/ussyncd/internal/ratelimit"
	"github.com/ussync/ussyncd/internal/storage"
)

// WebSocketServer upgrades HTTP connections to WebSocket (or secure
// WebSocket, when served behind a tls.Config'd http.Server) and drives each
// through a connection.Handler, the same dispatch path as TCPServer.
// Grounded on the todo example server's Upgrader/per-client-conn shape.
type WebSocketServer struct {
	Manager  *manager.Manager
	Addr     string
	Password string
	Storage  storage.Storage
	RateCfg  *ratelimit.Config
	Metrics  *metrics.Metrics

	clientCounter uint64
	upgrader      websocket.Upgrader
}

// Handler returns an http.Handler that upgrades every request to a
// WebSocket and serves it. Mount at "/ws".
func (s *WebSocketServer) Handler() http.Handler {
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: readBufferSize,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(s.serveHTTP)
}

func (s *WebSocketServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	id := atomic.AddUint64(&s.clientCounter, 1)
	clientID := fmt.Sprintf("ws:%s:%d", r.RemoteAddr, id)
	s.serve(conn, clientID)
}

func (s *WebSocketServer) serve(conn *websocket.Conn, clientID string) {
	defer conn.Close()
	log.Infow("websocket client connected", "client", clientID)

	if s.Metrics != nil {
		s.Metrics.RecordConnection("ws")
		defer s.Metrics.RecordDisconnection("ws")
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
	writeText := func(b []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				log.Infow("websocket client disconnected", "client", clientID, "error", err)
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			if len(data) == 0 || data[len(data)-1] != '\n' {
				data = append(data, '\n')
			}
			responses, closed, perr := h.Process(data)
			if perr != nil {
				log.Warnw("message too large", "client", clientID, "error", perr)
				return
			}
			for _, resp := range responses {
				if werr := writeText(protocol.Encode(resp)); werr != nil {
					log.Warnw("websocket write error", "client", clientID, "error", werr)
					return
				}
			}
			if closed {
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
				log.Warnw("websocket client lagged behind updates", "client", clientID, "missed", lag)
			}
			if !h.MatchesSubscription(delta.DocumentID) {
				continue
			}
			resp := protocol.Delta(delta.Version, delta.Payload)
			if err := writeText(protocol.Encode(resp)); err != nil {
				log.Warnw("websocket write error", "client", clientID, "error", err)
				h.Cleanup()
				return
			}
		}
	}
}
