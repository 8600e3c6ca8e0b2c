package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatgate/internal/models"
	"chatgate/internal/ratelimit"

	"github.com/gorilla/websocket"
)

// closeFrameTimeout bounds the best-effort close frame on teardown.
const closeFrameTimeout = time.Second

// Conn is the transport half a session needs. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	Close() error
}

// Session is one client connection. Only the Manager creates and removes
// sessions; the reader goroutine owns the read side of conn and the writer
// goroutine owns the write side.
type Session struct {
	id                string
	remoteIP          string
	heartbeatInterval time.Duration
	connectedAt       time.Time

	conn    Conn
	manager *Manager
	out     *outboundQueue
	frames  *ratelimit.FrameLimiter

	state         atomic.Int32
	lastHeartbeat atomic.Int64 // unix nanos

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Session) ID() string                       { return s.id }
func (s *Session) RemoteIP() string                 { return s.remoteIP }
func (s *Session) HeartbeatInterval() time.Duration { return s.heartbeatInterval }
func (s *Session) State() State                     { return State(s.state.Load()) }

// LastHeartbeat returns when the last valid PING arrived, or the accept time
// when none has yet.
func (s *Session) LastHeartbeat() time.Time {
	return time.Unix(0, s.lastHeartbeat.Load())
}

// Done is closed once teardown has started.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// enqueue hands a frame to the writer without blocking.
func (s *Session) enqueue(frame []byte) (dropped bool, err error) {
	return s.out.push(frame)
}

func (s *Session) send(p models.ServerPayload) {
	frame, err := p.Encode()
	if err != nil {
		slog.Error("Failed to encode payload", "session_id", s.id, "op", p.Op, "error", err)
		return
	}
	dropped, err := s.enqueue(frame)
	if err != nil {
		s.manager.Remove(s.id, ReasonSlowConsumer)
		return
	}
	if dropped {
		s.manager.metrics.eventDropped(ReasonSlowConsumer)
	}
}

// heartbeat records a valid PING.
func (s *Session) heartbeat(now time.Time) {
	s.lastHeartbeat.Store(now.UnixNano())
	if s.transition(StateAwaitingFirstHeartbeat, StateAlive) {
		slog.Debug("Session alive", "session_id", s.id)
	}
}

func (s *Session) readLoop() {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.manager.Remove(s.id, classifyReadError(err))
			return
		}

		if messageType != websocket.TextMessage {
			slog.Debug("Non-text frame from client", "session_id", s.id, "type", messageType)
			s.manager.Remove(s.id, ReasonProtocolViolation)
			return
		}

		payload, err := models.DecodeClientPayload(data)
		if err != nil {
			slog.Debug("Malformed client payload", "session_id", s.id, "error", err)
			s.manager.Remove(s.id, ReasonProtocolViolation)
			return
		}

		// Dropped frames do not count as heartbeats.
		if allowed, wait := s.frames.Allow(); !allowed {
			s.send(models.NewRateLimitPayload(wait))
			continue
		}

		switch payload.Op {
		case models.OpPing:
			s.heartbeat(s.manager.now())
			s.send(models.NewPongPayload())
		}
	}
}

func (s *Session) writeLoop() {
	for {
		frames, ok := s.out.wait(s.done)
		if !ok {
			return
		}
		for _, frame := range frames {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.manager.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Debug("Session write failed", "session_id", s.id, "error", err)
				s.manager.Remove(s.id, ReasonTransportError)
				return
			}
		}
	}
}

// close is the single teardown path. Only the Manager calls it, after the
// session has left the registry.
func (s *Session) close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosing))
		close(s.done)

		if reason != ReasonTransportError {
			msg := websocket.FormatCloseMessage(reason.Code(), reason.String())
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeFrameTimeout))
		}
		_ = s.conn.Close()

		s.state.Store(int32(StateClosed))
	})
}

func classifyReadError(err error) CloseReason {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ReasonProtocolViolation
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return ReasonClientClosed
	}
	return ReasonTransportError
}
