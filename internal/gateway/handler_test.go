package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgate/internal/bus"
	"chatgate/internal/models"
	"chatgate/internal/ratelimit"
	"chatgate/internal/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (c stubChecker) Check(context.Context, string, string, int64) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, c.err
}

func newTestLimiter(t *testing.T, connects int64) *ratelimit.Limiter {
	t.Helper()
	store := storage.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	limiter, err := ratelimit.NewLimiter(store, models.RateLimitConfig{
		Enabled:   true,
		KeyPrefix: "test:",
		Buckets: map[string]models.BucketConfig{
			models.BucketGatewayConnect: {Limit: connects, Window: time.Minute},
		},
	})
	require.NoError(t, err)
	return limiter
}

func newTestServer(t *testing.T, checker ratelimit.Checker, modify func(*models.GatewayConfig)) (*httptest.Server, *Manager) {
	t.Helper()

	cfg := testGatewayConfig()
	if modify != nil {
		modify(&cfg)
	}

	m, err := NewManager(cfg, bus.NewMemoryBus(0))
	require.NoError(t, err)

	h, err := NewHandler(m, checker, cfg, false)
	require.NoError(t, err)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		m.Shutdown()
		srv.Close()
	})
	return srv, m
}

func wsURL(srv *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(srv.URL, "http")
	if query != "" {
		u += "?" + query
	}
	return u
}

func decodeError(t *testing.T, resp *http.Response) models.ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHandler_Upgrade(t *testing.T) {
	srv, m := newTestServer(t, newTestLimiter(t, 5), nil)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "5", resp.Header.Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", resp.Header.Get("X-RateLimit-Remaining"))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	hello, err := models.DecodeServerPayload(data)
	require.NoError(t, err)
	assert.Equal(t, models.OpHello, hello.Op)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"PING"}`)))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	pong, err := models.DecodeServerPayload(data)
	require.NoError(t, err)
	assert.Equal(t, models.OpPong, pong.Op)

	assert.Equal(t, 1, m.Count())
}

func TestHandler_ConnectRateLimited(t *testing.T) {
	srv, _ := newTestServer(t, newTestLimiter(t, 2), nil)

	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		require.NoError(t, err)
		conn.Close()
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)

	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	body := decodeError(t, resp)
	assert.Equal(t, models.ErrorCodeRateLimited, body.Code)
	assert.NotEmpty(t, body.Details["retry_after_ms"])
}

func TestHandler_AdmissionErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "store unavailable",
			err:    fmt.Errorf("%w: redis down", ratelimit.ErrStoreUnavailable),
			status: http.StatusServiceUnavailable,
			code:   models.ErrorCodeServiceUnavailable,
		},
		{
			name:   "unknown bucket",
			err:    ratelimit.ErrUnknownBucket,
			status: http.StatusInternalServerError,
			code:   models.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, m := newTestServer(t, stubChecker{err: tt.err}, nil)

			_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)

			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
			assert.Equal(t, 0, m.Count())
		})
	}
}

func TestHandler_VersionCheck(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		status  int
		code    string
		upgrade bool
	}{
		{name: "no version", query: "", upgrade: true},
		{name: "supported", query: "v=1.4.0", upgrade: true},
		{name: "unsupported", query: "v=0.9.0", status: http.StatusBadRequest, code: models.ErrorCodeUnsupportedVersion},
		{name: "invalid", query: "v=banana", status: http.StatusBadRequest, code: models.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, nil, func(cfg *models.GatewayConfig) {
				cfg.VersionConstraint = ">= 1.0.0"
			})

			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.query), nil)
			if tt.upgrade {
				require.NoError(t, err)
				conn.Close()
				return
			}

			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, decodeError(t, resp).Code)
		})
	}
}

func TestHandler_AllowedOrigins(t *testing.T) {
	srv, _ := newTestServer(t, nil, func(cfg *models.GatewayConfig) {
		cfg.AllowedOrigins = []string{"https://chat.example.com"}
	})

	header := http.Header{"Origin": []string{"https://chat.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	conn.Close()

	header = http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestNewHandler_InvalidConstraint(t *testing.T) {
	cfg := testGatewayConfig()
	m, err := NewManager(cfg, bus.NewMemoryBus(0))
	require.NoError(t, err)

	cfg.VersionConstraint = "not a constraint !!"
	_, err = NewHandler(m, nil, cfg, false)
	assert.Error(t, err)
}
