// Package wsraw implements a lower-overhead WebSocket transport over
// gobwas/ws, grounded on the teacher's go-server-3/internal/transport/
// server.go accept/read/write-loop structure — for deployments that want
// to skip gorilla/websocket's per-message allocations.
package wsraw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/lumencanvas/clasp/internal/clasptype"
	"github.com/lumencanvas/clasp/internal/codec"
	"github.com/lumencanvas/clasp/internal/router"
	"github.com/lumencanvas/clasp/internal/session"
)

const upgradeDeadline = 10 * time.Second

// Server accepts raw TCP connections and performs the WebSocket upgrade
// itself, avoiding net/http for the hot path.
type Server struct {
	r        *router.Router
	sessions *session.Registry
	logger   *zap.Logger
	idGen    func() string
	sendQueue int

	listener net.Listener
	wg       sync.WaitGroup
}

func New(r *router.Router, sessions *session.Registry, logger *zap.Logger, idGen func() string, sendQueueSize int) *Server {
	if sendQueueSize <= 0 {
		sendQueueSize = 256
	}
	return &Server{r: r, sessions: sessions, logger: logger, idGen: idGen, sendQueue: sendQueueSize}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	if s.listener != nil {
		return errors.New("wsraw: already started")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("wsraw: listen: %w", err)
	}
	s.listener = ln
	s.logger.Info("wsraw transport listening", zap.String("addr", addr))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("wsraw accept error", zap.Error(err))
			return
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.handleConnection(ctx, c)
		}(conn)
	}
}

func (s *Server) handleConnection(parent context.Context, conn net.Conn) {
	defer conn.Close()

	if accept, reason := s.r.ShouldAcceptSession(); !accept {
		s.logger.Warn("rejecting wsraw session", zap.String("reason", reason))
		return
	}

	_ = conn.SetDeadline(time.Now().Add(upgradeDeadline))
	if _, err := ws.Upgrade(conn); err != nil {
		s.logger.Debug("wsraw upgrade failed", zap.Error(err))
		return
	}
	_ = conn.SetDeadline(time.Time{})

	sink := &rawSink{conn: conn, send: make(chan []byte, s.sendQueue), closed: make(chan struct{}), logger: s.logger}
	sess := session.New(s.idGen(), sink)
	s.sessions.Register(sess)
	defer s.sessions.Unregister(sess.ID)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		sink.writeLoop()
	}()

	s.readLoop(ctx, sess, conn)
	sink.Close()
	<-done
}

func (s *Server) readLoop(ctx context.Context, sess *session.Session, conn net.Conn) {
	reader := wsutil.NewReader(conn, ws.StateServerSide)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		head, err := reader.NextFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("wsraw read frame error", zap.String("session", sess.ID), zap.Error(err))
			}
			return
		}

		switch head.OpCode {
		case ws.OpClose:
			_ = wsutil.WriteServerMessage(conn, ws.OpClose, nil)
			return
		case ws.OpPing:
			if err := wsutil.WriteServerMessage(conn, ws.OpPong, nil); err != nil {
				return
			}
		case ws.OpText, ws.OpBinary:
			payload := make([]byte, head.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				s.logger.Debug("wsraw read payload error", zap.String("session", sess.ID), zap.Error(err))
				return
			}
			msg, _, err := codec.Decode(payload)
			if err != nil {
				s.logger.Debug("wsraw frame decode failed", zap.String("session", sess.ID), zap.Error(err))
				sendErrorFrame(sess.Sink, clasptype.CodeBadRequest, "malformed frame")
				return
			}
			if err := s.r.Dispatch(ctx, sess, msg); err != nil {
				s.logger.Error("wsraw dispatch failed", zap.String("session", sess.ID), zap.Error(err))
				return
			}
		default:
			if _, err := io.CopyN(io.Discard, reader, int64(head.Length)); err != nil {
				return
			}
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

// rawSink adapts a net.Conn (post-upgrade) to session.Sink.
type rawSink struct {
	conn      net.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func (r *rawSink) Send(frame []byte) bool {
	select {
	case <-r.closed:
		return false
	default:
	}
	select {
	case r.send <- frame:
		return true
	default:
		return false
	}
}

func (r *rawSink) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

func (r *rawSink) writeLoop() {
	for {
		select {
		case <-r.closed:
			// Drain any frame queued before Close (e.g. a final ERROR message)
			// so it reaches the peer ahead of the connection tearing down.
			for drained := false; !drained; {
				select {
				case frame := <-r.send:
					if err := wsutil.WriteServerMessage(r.conn, ws.OpBinary, frame); err != nil {
						return
					}
				default:
					drained = true
				}
			}
			return
		case frame := <-r.send:
			if err := wsutil.WriteServerMessage(r.conn, ws.OpBinary, frame); err != nil {
				r.logger.Debug("wsraw write error", zap.Error(err))
				return
			}
		}
	}
}
