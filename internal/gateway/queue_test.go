package gateway

import (
	"testing"
	"time"

	"chatgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboundQueue_FIFO(t *testing.T) {
	q := newOutboundQueue(8, models.QueuePolicyDisconnect)

	for _, f := range []string{"a", "b", "c"} {
		dropped, err := q.push([]byte(f))
		require.NoError(t, err)
		assert.False(t, dropped)
	}

	frames := q.drain()
	require.Len(t, frames, 3)
	assert.Equal(t, "a", string(frames[0]))
	assert.Equal(t, "b", string(frames[1]))
	assert.Equal(t, "c", string(frames[2]))
	assert.Nil(t, q.drain())
}

func TestOutboundQueue_FullDisconnect(t *testing.T) {
	q := newOutboundQueue(2, models.QueuePolicyDisconnect)

	_, err := q.push([]byte("1"))
	require.NoError(t, err)
	_, err = q.push([]byte("2"))
	require.NoError(t, err)

	_, err = q.push([]byte("3"))
	assert.ErrorIs(t, err, errQueueFull)
	assert.Equal(t, 2, q.len())
}

func TestOutboundQueue_FullDropOldest(t *testing.T) {
	q := newOutboundQueue(2, models.QueuePolicyDropOldest)

	for _, f := range []string{"1", "2"} {
		_, err := q.push([]byte(f))
		require.NoError(t, err)
	}

	dropped, err := q.push([]byte("3"))
	require.NoError(t, err)
	assert.True(t, dropped)

	frames := q.drain()
	require.Len(t, frames, 2)
	assert.Equal(t, "2", string(frames[0]))
	assert.Equal(t, "3", string(frames[1]))
}

func TestOutboundQueue_WaitWakesOnPush(t *testing.T) {
	q := newOutboundQueue(4, models.QueuePolicyDisconnect)
	done := make(chan struct{})

	got := make(chan [][]byte, 1)
	go func() {
		frames, ok := q.wait(done)
		if ok {
			got <- frames
		}
	}()

	time.Sleep(10 * time.Millisecond)
	_, err := q.push([]byte("x"))
	require.NoError(t, err)

	select {
	case frames := <-got:
		require.Len(t, frames, 1)
		assert.Equal(t, "x", string(frames[0]))
	case <-time.After(time.Second):
		t.Fatal("wait did not wake up")
	}
}

func TestOutboundQueue_WaitStopsOnDone(t *testing.T) {
	q := newOutboundQueue(4, models.QueuePolicyDisconnect)
	done := make(chan struct{})
	close(done)

	frames, ok := q.wait(done)
	assert.False(t, ok)
	assert.Nil(t, frames)
}

func TestCloseReason(t *testing.T) {
	tests := []struct {
		reason CloseReason
		name   string
		code   int
	}{
		{ReasonClientClosed, "client_closed", 1000},
		{ReasonTransportError, "transport_error", 1011},
		{ReasonProtocolViolation, "protocol_violation", 1008},
		{ReasonHeartbeatTimeout, "heartbeat_timeout", 4000},
		{ReasonSlowConsumer, "slow_consumer", 4001},
		{ReasonShutdown, "shutdown", 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.reason.String())
			assert.Equal(t, tt.code, tt.reason.Code())
		})
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "awaiting_first_heartbeat", StateAwaitingFirstHeartbeat.String())
	assert.Equal(t, "alive", StateAlive.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
}
