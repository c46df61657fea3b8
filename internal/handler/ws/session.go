package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	wsmarshaller "github.com/webitel/im-notify-gateway/internal/handler/marshaller/ws"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const maxClientFrameSize = 64 << 10

// State is the lifecycle phase of a Session. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Close reasons, reported in logs and in the close frame.
const (
	reasonClientClosed = "client_closed"
	reasonReadFailed   = "read_failed"
	reasonWriteFailed  = "write_failed"
	reasonHeartbeat    = "heartbeat_timeout"
	reasonServerClose  = "server_close"
	reasonRevoked      = "handle_revoked"
)

// Session owns one upgraded WebSocket for its whole life.
//
// [SINGLE_WRITER]
// Only the goroutine inside Run writes data frames. Pings and the final close frame
// go through WriteControl, which gorilla allows concurrently.
type Session struct {
	ws        *websocket.Conn
	key       model.ConnectionKey
	deliverer service.Deliverer
	logger    *slog.Logger
	cfg       config.SessionConfig

	state     atomic.Int32
	conn      registry.Connector
	closeReq  chan struct{}
	closeOnce sync.Once
	unsubOnce sync.Once
}

func NewSession(ws *websocket.Conn, key model.ConnectionKey, deliverer service.Deliverer, logger *slog.Logger, cfg config.SessionConfig) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Session{
		ws:        ws,
		key:       key,
		deliverer: deliverer,
		logger:    logger.With("key", key.String()),
		cfg:       cfg,
		closeReq:  make(chan struct{}),
	}
}

func (s *Session) State() State { return State(s.state.Load()) }

// Close asks the session to shut down. Safe to call any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeReq) })
}

// Run registers the session and pumps frames until the session is Closed.
func (s *Session) Run(ctx context.Context, md registry.ConnectMetadata) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := s.deliverer.Subscribe(ctx, s.key, md)
	if err != nil {
		s.closeSocket(websocket.CloseInternalServerErr, "subscribe_failed")
		s.state.Store(int32(StateClosed))
		return err
	}
	s.conn = conn
	s.state.Store(int32(StateActive))

	readDone := make(chan string, 1)
	go s.readPump(ctx, readDone)

	reason := s.writePump(readDone)

	s.teardown(reason)
	return nil
}

// writePump runs in the Active state and returns the reason for leaving it.
func (s *Session) writePump(readDone <-chan string) string {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.conn.Recv():
			if err := s.write(msg); err != nil {
				s.logger.Warn("WS_SEND_FAILED", "err", err, "msg_id", msg.ID)
				return reasonWriteFailed
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("WS_PING_FAILED", "err", err)
				return reasonWriteFailed
			}

		case reason := <-readDone:
			return reason

		case <-s.conn.Done():
			return reasonRevoked

		case <-s.closeReq:
			return reasonServerClose
		}
	}
}

func (s *Session) readPump(ctx context.Context, done chan<- string) {
	s.ws.SetReadLimit(maxClientFrameSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

	// [HEARTBEAT] Only a pong proves the peer is alive.
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		mt, data, err := s.ws.ReadMessage()
		if err != nil {
			done <- classifyReadError(err)
			return
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			s.deliverer.OnClientFrame(ctx, s.key, data)
		}
	}
}

// teardown is the Closing state: drain, close frame, socket close, then Closed.
func (s *Session) teardown(reason string) {
	s.state.Store(int32(StateClosing))

	drained := 0
	if reason != reasonWriteFailed {
		drained = s.drain()
	}

	code := websocket.CloseNormalClosure
	switch reason {
	case reasonServerClose, reasonRevoked:
		code = websocket.CloseGoingAway
	case reasonHeartbeat:
		code = websocket.ClosePolicyViolation
	}
	s.closeSocket(code, reason)

	s.state.Store(int32(StateClosed))
	s.unsubOnce.Do(func() {
		s.deliverer.Unsubscribe(s.key, s.conn)
	})

	s.logger.Info("WS_SESSION_CLOSED",
		"conn_id", s.conn.GetID(),
		"reason", reason,
		"drained", drained,
	)
}

// drain flushes what the Hub already accepted, bounded by the write timeout.
func (s *Session) drain() int {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	n := 0
	for time.Now().Before(deadline) {
		select {
		case msg := <-s.conn.Recv():
			if err := s.writeBy(msg, deadline); err != nil {
				s.logger.Debug("WS_DRAIN_ABORTED", "err", err, "pending", len(s.conn.Recv()))
				return n
			}
			n++
		default:
			return n
		}
	}
	return n
}

func (s *Session) write(msg *model.RoutedMessage) error {
	return s.writeBy(msg, time.Now().Add(s.cfg.WriteTimeout))
}

func (s *Session) writeBy(msg *model.RoutedMessage, deadline time.Time) error {
	data, err := wsmarshaller.MarshallDeliveryEvent(msg)
	if err != nil {
		// A frame that cannot be encoded is dropped, the socket is still healthy.
		s.logger.Error("WS_MARSHAL_FAILED", "err", err, "msg_id", msg.ID)
		return nil
	}
	if err := s.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) closeSocket(code int, reason string) {
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	err := s.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		s.logger.Debug("WS_CLOSE_FRAME_FAILED", "err", err)
	}
	_ = s.ws.Close()
}

func classifyReadError(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return reasonClientClosed
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return reasonHeartbeat
	}
	return reasonReadFailed
}
