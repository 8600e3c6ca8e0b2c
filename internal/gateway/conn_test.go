package gateway

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chatgate/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("use of closed network connection")

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// fakeConn is an in-memory Conn. Frames written by the server arrive on
// written; frames for the server to read are pushed with send.
type fakeConn struct {
	inbound chan inboundFrame
	written chan []byte

	mu         sync.Mutex
	closeCodes []int
	readLimit  int64
	writeErr   error
	block      chan struct{} // when set, data writes wait for it

	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan inboundFrame, 64),
		written: make(chan []byte, 1024),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.inbound:
		return f.messageType, f.data, f.err
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	err, block := c.writeErr, c.block
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if block != nil {
		select {
		case <-block:
		case <-c.closed:
			return errFakeClosed
		}
	}
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	c.written <- frame
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCodes = append(c.closeCodes, int(binary.BigEndian.Uint16(data[:2])))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readLimit = limit
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) blockWrites() (release func()) {
	ch := make(chan struct{})
	c.mu.Lock()
	c.block = ch
	c.mu.Unlock()
	return func() { close(ch) }
}

func (c *fakeConn) send(data string) {
	c.inbound <- inboundFrame{messageType: websocket.TextMessage, data: []byte(data)}
}

func (c *fakeConn) ping() { c.send(`{"op":"PING"}`) }

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) codes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

// next returns the next frame written by the server.
func (c *fakeConn) next(t *testing.T) models.ServerPayload {
	t.Helper()
	select {
	case frame := <-c.written:
		p, err := models.DecodeServerPayload(frame)
		require.NoError(t, err, "server wrote %q", frame)
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a server frame")
		return models.ServerPayload{}
	}
}

// expectSilence asserts that nothing is written for d.
func (c *fakeConn) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case frame := <-c.written:
		t.Fatalf("unexpected frame %q", frame)
	case <-time.After(d):
	}
}

// testClock is a manually advanced clock safe for concurrent readers.
type testClock struct {
	ns atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.ns.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	return c
}

func (c *testClock) Now() time.Time          { return time.Unix(0, c.ns.Load()) }
func (c *testClock) Advance(d time.Duration) { c.ns.Add(int64(d)) }
