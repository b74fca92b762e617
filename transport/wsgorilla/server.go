// Package wsgorilla implements spec.md §3's WebSocket transport over
// gorilla/websocket, grounded on the teacher's pkg/websocket/client.go
// read/write pump and ping/pong deadline pattern.
package wsgorilla

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // spec.md §4.11's 1 MiB snapshot chunk size
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16 << 10,
	WriteBufferSize: 16 << 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to WebSocket connections and
// drives each one through the router.
type Server struct {
	r         *router.Router
	sessions  *session.Registry
	logger    *zap.Logger
	idGen     func() string
	sendQueue int
}

// New builds a wsgorilla Server. idGen mints session IDs (e.g. a uuid or
// nanoid generator supplied by cmd/claspd); sendQueueSize bounds each
// session's outbound buffer (spec.md §4.8's backpressure rule).
func New(r *router.Router, sessions *session.Registry, logger *zap.Logger, idGen func() string, sendQueueSize int) *Server {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Server{r: r, sessions: sessions, logger: logger, idGen: idGen, sendQueue: sendQueueSize}
}

// ServeHTTP implements http.Handler, suitable for mounting at
// config.TransportConfig.WebSocketPath.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if accept, reason := s.r.ShouldAcceptSession(); !accept {
		s.logger.Warn("rejecting session", zap.String("reason", reason))
		http.Error(w, reason, http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sink := &gorillaSink{conn: conn, send: make(chan []byte, s.sendQueue), logger: s.logger, closed: make(chan struct{})}
	sess := session.New(s.idGen(), sink)
	s.sessions.Register(sess)

	go sink.writePump()
	s.readPump(req.Context(), sess, sink)
}

func (s *Server) readPump(ctx context.Context, sess *session.Session, sink *gorillaSink) {
	defer func() {
		s.sessions.Unregister(sess.ID)
		sink.Close()
	}()

	conn := sink.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.String("session", sess.ID), zap.Error(err))
			}
			return
		}

		msg, _, err := codec.Decode(data)
		if err != nil {
			s.logger.Debug("frame decode failed", zap.String("session", sess.ID), zap.Error(err))
			sendErrorFrame(sink, clasptype.CodeBadRequest, "malformed frame")
			return
		}
		if err := s.r.Dispatch(ctx, sess, msg); err != nil {
			s.logger.Error("dispatch failed", zap.String("session", sess.ID), zap.Error(err))
			return
		}
	}
}

// sendErrorFrame encodes and sends a single ERROR message directly to sink,
// best-effort, ahead of closing the connection per spec.md §4.8/§7: decoder
// errors close the session after one ERROR frame, not a bare disconnect.
func sendErrorFrame(sink session.Sink, code clasptype.Code, message string) {
	frame, err := codec.Encode(codec.ErrorMsg{Code: code, Message: message}, false)
	if err != nil {
		return
	}
	sink.Send(frame)
}

// gorillaSink adapts a *websocket.Conn to session.Sink, serializing all
// writes through a single owning goroutine per the teacher's client.go
// pattern (gorilla connections are not safe for concurrent writes).
type gorillaSink struct {
	conn     *websocket.Conn
	send     chan []byte
	logger   *zap.Logger
	closeOnce sync.Once
	closed   chan struct{}
}

func (g *gorillaSink) Send(frame []byte) bool {
	select {
	case <-g.closed:
		return false
	default:
	}
	select {
	case g.send <- frame:
		return true
	default:
		return false
	}
}

func (g *gorillaSink) Close() {
	g.closeOnce.Do(func() { close(g.closed) })
}

func (g *gorillaSink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		g.conn.Close()
	}()

	for {
		select {
		case <-g.closed:
			// Drain any frame queued before Close (e.g. a final ERROR message)
			// so it reaches the peer ahead of the close handshake.
			for drained := false; !drained; {
				select {
				case frame := <-g.send:
					g.conn.SetWriteDeadline(time.Now().Add(writeWait))
					g.conn.WriteMessage(websocket.BinaryMessage, frame)
				default:
					drained = true
				}
			}
			g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			g.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-g.send:
			g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := g.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				g.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			g.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := g.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
