// Package gateway holds the long-lived client connections. A Manager owns the
// session registry, consumes the event bus through a single subscription and
// fans every event out to each live session's outbound queue.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatgate/internal/bus"
	"chatgate/internal/models"
	"chatgate/internal/ratelimit"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	ErrShuttingDown   = errors.New("gateway is shutting down")
	ErrAlreadyRunning = errors.New("gateway manager already running")
)

// Manager accepts sessions and relays bus events to them.
type Manager struct {
	cfg        models.GatewayConfig
	subscriber bus.Subscriber
	metrics    *gatewayMetrics
	hello      []byte
	timeout    time.Duration
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session

	running  atomic.Bool
	shutdown atomic.Bool
}

// NewManager creates a manager for the given gateway settings. The HELLO
// payload is encoded once since the heartbeat interval is fixed.
func NewManager(cfg models.GatewayConfig, subscriber bus.Subscriber) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}

	metrics, err := newGatewayMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway metrics: %w", err)
	}

	hello, err := models.NewHelloPayload(cfg.HeartbeatInterval, cfg.PayloadRateLimit.Limit, cfg.PayloadRateLimit.Window).Encode()
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:        cfg,
		subscriber: subscriber,
		metrics:    metrics,
		hello:      hello,
		timeout:    time.Duration(float64(cfg.HeartbeatInterval) * cfg.MissedBeatTolerance),
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}, nil
}

// Accept registers conn as a new session, sends HELLO and starts the
// session's reader and writer. On error the connection has been closed.
func (m *Manager) Accept(conn Conn, remoteIP string) (*Session, error) {
	conn.SetReadLimit(m.cfg.MaxMessageSize)

	now := m.now()
	s := &Session{
		id:                uuid.NewString(),
		remoteIP:          remoteIP,
		heartbeatInterval: m.cfg.HeartbeatInterval,
		connectedAt:       now,
		conn:              conn,
		manager:           m,
		out:               newOutboundQueue(m.cfg.OutboundQueueSize, m.cfg.QueueFullPolicy),
		frames:            ratelimit.NewFrameLimiter(m.cfg.PayloadRateLimit.Limit, m.cfg.PayloadRateLimit.Window),
		done:              make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))
	s.lastHeartbeat.Store(now.UnixNano())

	// Checked under the lock so Shutdown's snapshot cannot miss a session.
	m.mu.Lock()
	if m.shutdown.Load() {
		m.mu.Unlock()
		_ = conn.Close()
		return nil, ErrShuttingDown
	}
	m.sessions[s.id] = s
	m.mu.Unlock()
	m.metrics.sessionOpened()

	// No writer exists yet, so this write is exclusive.
	_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, m.hello); err != nil {
		m.Remove(s.id, ReasonTransportError)
		return nil, fmt.Errorf("failed to send hello: %w", err)
	}

	if !s.transition(StateConnecting, StateAwaitingFirstHeartbeat) {
		// Removed (shutdown) while sending HELLO.
		return nil, ErrShuttingDown
	}

	go s.writeLoop()
	go s.readLoop()

	slog.Debug("Session accepted", "session_id", s.id, "remote_ip", remoteIP)
	return s, nil
}

// Remove takes a session out of the registry and tears it down. Only the
// first call for an id does anything; it reports whether this call did.
func (m *Manager) Remove(id string, reason CloseReason) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	s.close(reason)
	m.metrics.sessionClosed(reason)

	level := slog.LevelDebug
	if reason == ReasonHeartbeatTimeout || reason == ReasonSlowConsumer || reason == ReasonProtocolViolation {
		level = slog.LevelInfo
	}
	slog.Log(context.Background(), level, "Session closed",
		"session_id", id,
		"remote_ip", s.remoteIP,
		"reason", reason.String(),
		"duration", m.now().Sub(s.connectedAt).String(),
	)
	return true
}

// Get returns a registered session.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CountByState returns registered sessions grouped by state name.
func (m *Manager) CountByState() map[string]int {
	counts := make(map[string]int)
	for _, s := range m.snapshot() {
		counts[s.State().String()]++
	}
	return counts
}

func (m *Manager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// onBusEvent queues payload to every Alive session. It never blocks on a
// session; sessions whose queue is full are removed off this goroutine.
func (m *Manager) onBusEvent(payload []byte) {
	if !json.Valid(payload) {
		slog.Warn("Dropping malformed bus event", "size", len(payload))
		return
	}

	delivered := 0
	for _, s := range m.snapshot() {
		if s.State() != StateAlive {
			continue
		}
		dropped, err := s.enqueue(payload)
		if err != nil {
			go m.Remove(s.id, ReasonSlowConsumer)
			continue
		}
		if dropped {
			m.metrics.eventDropped(ReasonSlowConsumer)
		}
		delivered++
	}
	m.metrics.eventReceived(delivered)
}

// Run starts the heartbeat monitor and consumes the bus until ctx is
// cancelled or the subscription fails. It may only be called once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		m.monitor(ctx)
	}()

	slog.Info("Gateway subscribed to event bus")
	err := m.subscriber.Subscribe(ctx, m.onBusEvent)
	cancel()
	<-monitorDone

	if err != nil {
		return fmt.Errorf("event bus subscription: %w", err)
	}
	return nil
}

func (m *Manager) monitor(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHeartbeats(m.now())
		}
	}
}

// checkHeartbeats removes every session whose last heartbeat is older than
// heartbeat_interval * missed_beat_tolerance. It returns the number removed.
func (m *Manager) checkHeartbeats(now time.Time) int {
	removed := 0
	for _, s := range m.snapshot() {
		state := s.State()
		if state != StateAwaitingFirstHeartbeat && state != StateAlive {
			continue
		}
		if now.Sub(s.LastHeartbeat()) > m.timeout {
			if m.Remove(s.id, ReasonHeartbeatTimeout) {
				removed++
			}
		}
	}
	return removed
}

// Shutdown stops accepting sessions and closes every registered one.
func (m *Manager) Shutdown() {
	m.shutdown.Store(true)
	sessions := m.snapshot()
	for _, s := range sessions {
		m.Remove(s.id, ReasonShutdown)
	}
	slog.Info("Gateway sessions closed", "count", len(sessions))
}
