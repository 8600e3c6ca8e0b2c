package gateway

import (
	"github.com/gorilla/websocket"
)

// State is the heartbeat state of a session.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingFirstHeartbeat
	StateAlive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingFirstHeartbeat:
		return "awaiting_first_heartbeat"
	case StateAlive:
		return "alive"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason says why a session was torn down.
type CloseReason int

const (
	ReasonClientClosed CloseReason = iota
	ReasonTransportError
	ReasonProtocolViolation
	ReasonHeartbeatTimeout
	ReasonSlowConsumer
	ReasonShutdown
)

// CloseCodeHeartbeatTimeout and CloseCodeSlowConsumer are application close
// codes (4000-4999 range).
const (
	CloseCodeHeartbeatTimeout = 4000
	CloseCodeSlowConsumer     = 4001
)

func (r CloseReason) String() string {
	switch r {
	case ReasonClientClosed:
		return "client_closed"
	case ReasonTransportError:
		return "transport_error"
	case ReasonProtocolViolation:
		return "protocol_violation"
	case ReasonHeartbeatTimeout:
		return "heartbeat_timeout"
	case ReasonSlowConsumer:
		return "slow_consumer"
	case ReasonShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Code is the websocket close code sent to the client.
func (r CloseReason) Code() int {
	switch r {
	case ReasonClientClosed:
		return websocket.CloseNormalClosure
	case ReasonProtocolViolation:
		return websocket.ClosePolicyViolation
	case ReasonHeartbeatTimeout:
		return CloseCodeHeartbeatTimeout
	case ReasonSlowConsumer:
		return CloseCodeSlowConsumer
	case ReasonShutdown:
		return websocket.CloseGoingAway
	default:
		return websocket.CloseInternalServerErr
	}
}
