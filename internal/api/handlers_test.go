package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chatgate/internal/chat"
	"chatgate/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockChatService implements chat.ServiceInterface for testing
type MockChatService struct {
	mock.Mock
}

func (m *MockChatService) CreateMessage(ctx context.Context, req *models.CreateMessageRequest) (*models.CreateMessageResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*models.CreateMessageResponse), args.Error(1)
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

type mockSessions struct {
	byState map[string]int
}

func (m *mockSessions) Count() int {
	n := 0
	for _, c := range m.byState {
		n += c
	}
	return n
}

func (m *mockSessions) CountByState() map[string]int { return m.byState }

func testConfig() *models.Config {
	cfg := models.NewDefaultConfig()
	cfg.Instance.Name = "chatgate-test"
	cfg.Instance.Description = "test instance"
	return cfg
}

func TestNewHandlers(t *testing.T) {
	svc := &MockChatService{}
	store := &mockPinger{}
	h := NewHandlers(svc, testConfig(), WithStore(store))

	require.NotNil(t, h)
	assert.Equal(t, svc, h.chatService)
	assert.Equal(t, store, h.store)
	assert.Nil(t, h.bus)
	assert.Nil(t, h.sessions)
	assert.NotNil(t, h.Docs())
}

func TestHandlers_InstanceInfo(t *testing.T) {
	cfg := testConfig()
	h := NewHandlers(&MockChatService{}, cfg)

	req := httptest.NewRequest("GET", "/", nil)
	req.Host = "chat.example.com"
	w := httptest.NewRecorder()

	h.InstanceInfo(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp models.InstanceInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "chatgate-test", resp.Name)
	assert.Equal(t, "test instance", resp.Description)
	assert.Equal(t, 2048, resp.MessageLimit)
	assert.Equal(t, "ws://chat.example.com/gateway", resp.GatewayURL)
	assert.Equal(t, int64(45000), resp.HeartbeatInterval)
	assert.Equal(t, models.RateLimitInfo{Limit: 10, Window: 5000}, resp.RateLimits[models.BucketMessageCreate])
}

func TestHandlers_InstanceInfo_GatewayURL(t *testing.T) {
	tests := []struct {
		name       string
		publicURL  string
		trustProxy bool
		proto      string
		want       string
	}{
		{"configured", "wss://gateway.example.com/gateway", false, "", "wss://gateway.example.com/gateway"},
		{"plain", "", false, "", "ws://chat.example.com/gateway"},
		{"proxy https trusted", "", true, "https", "wss://chat.example.com/gateway"},
		{"proxy https untrusted", "", false, "https", "ws://chat.example.com/gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Gateway.PublicURL = tt.publicURL
			cfg.Server.TrustProxyHeaders = tt.trustProxy
			h := NewHandlers(&MockChatService{}, cfg)

			req := httptest.NewRequest("GET", "/", nil)
			req.Host = "chat.example.com"
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}

			assert.Equal(t, tt.want, h.gatewayURL(req))
		})
	}
}

func TestHandlers_InstanceInfo_RateLimitsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimits.Enabled = false
	h := NewHandlers(&MockChatService{}, cfg)

	w := httptest.NewRecorder()
	h.InstanceInfo(w, httptest.NewRequest("GET", "/", nil))

	var resp models.InstanceInfoResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.RateLimits)
}

func TestHandlers_CreateMessage(t *testing.T) {
	svc := &MockChatService{}
	h := NewHandlers(svc, testConfig())

	expected := &models.CreateMessageResponse{
		Message: models.Message{ID: 42, Author: "Woo", Content: "hello"},
	}
	svc.On("CreateMessage", mock.Anything, &models.CreateMessageRequest{Author: "Woo", Content: "hello"}).Return(expected, nil)

	body := bytes.NewBufferString(`{"author":"Woo","content":"hello"}`)
	w := httptest.NewRecorder()
	h.CreateMessage(w, httptest.NewRequest("POST", "/messages", body))

	assert.Equal(t, http.StatusOK, w.Code)
	var resp models.CreateMessageResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, expected.Message, resp.Message)
	svc.AssertExpectations(t)
}

func TestHandlers_CreateMessage_BadBody(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty body", "", http.StatusBadRequest},
		{"invalid json", "{author:", http.StatusBadRequest},
		{"too large", `{"author":"Woo","content":"` + strings.Repeat("x", 2048*4+2048) + `"}`, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockChatService{}
			h := NewHandlers(svc, testConfig())

			w := httptest.NewRecorder()
			h.CreateMessage(w, httptest.NewRequest("POST", "/messages", strings.NewReader(tt.body)))

			assert.Equal(t, tt.status, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, models.ErrorCodeBadRequest, resp.Code)
			svc.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
		})
	}
}

func TestHandlers_CreateMessage_ServiceErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "validation",
			err:    chat.NewValidationError("Message validation failed", map[string]string{"author": "too short"}),
			status: http.StatusUnprocessableEntity,
			code:   models.ErrorCodeValidation,
		},
		{
			name:   "bus unavailable",
			err:    chat.NewUnavailableError("Event bus is not available", errors.New("closed")),
			status: http.StatusServiceUnavailable,
			code:   models.ErrorCodeServiceUnavailable,
		},
		{
			name:   "unexpected",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
			code:   models.ErrorCodeInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &MockChatService{}
			svc.On("CreateMessage", mock.Anything, mock.AnythingOfType("*models.CreateMessageRequest")).
				Return((*models.CreateMessageResponse)(nil), tt.err)
			h := NewHandlers(svc, testConfig())

			w := httptest.NewRecorder()
			h.CreateMessage(w, httptest.NewRequest("POST", "/messages", strings.NewReader(`{"author":"a","content":"b"}`)))

			assert.Equal(t, tt.status, w.Code)
			var resp models.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestHandlers_CreateMessage_ValidationDetails(t *testing.T) {
	svc := &MockChatService{}
	svc.On("CreateMessage", mock.Anything, mock.Anything).Return((*models.CreateMessageResponse)(nil),
		chat.NewValidationError("Message validation failed", map[string]string{
			"author": "Message author has to be between 2 and 32 characters long",
		}))
	h := NewHandlers(svc, testConfig())

	w := httptest.NewRecorder()
	h.CreateMessage(w, httptest.NewRequest("POST", "/messages", strings.NewReader(`{"author":"a","content":"b"}`)))

	var resp models.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "Message author has to be between 2 and 32 characters long", resp.Details["author"])
}

func TestHandlers_HealthCheck(t *testing.T) {
	sessions := &mockSessions{byState: map[string]int{"alive": 3, "awaiting_first_heartbeat": 1}}
	h := NewHandlers(&MockChatService{}, testConfig(),
		WithStore(&mockPinger{}),
		WithBus(&mockPinger{}),
		WithSessions(sessions),
	)

	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp models.HealthCheckResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, models.StatusHealthy, resp.Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["store"].Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["bus"].Status)
	assert.Equal(t, models.StatusHealthy, resp.Components["gateway"].Status)
	assert.Equal(t, float64(4), resp.Metrics["sessions"])
	assert.NotEmpty(t, resp.Uptime)
}

func TestHandlers_HealthCheck_Unhealthy(t *testing.T) {
	tests := []struct {
		name      string
		store     error
		bus       error
		component string
	}{
		{"store down", errors.New("redis: connection refused"), nil, "store"},
		{"bus down", nil, errors.New("nats: not connected"), "bus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(&MockChatService{}, testConfig(),
				WithStore(&mockPinger{err: tt.store}),
				WithBus(&mockPinger{err: tt.bus}),
			)

			w := httptest.NewRecorder()
			h.HealthCheck(w, httptest.NewRequest("GET", "/health", nil))

			assert.Equal(t, http.StatusServiceUnavailable, w.Code)

			var resp models.HealthCheckResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, models.StatusUnhealthy, resp.Status)
			assert.Equal(t, models.StatusUnhealthy, resp.Components[tt.component].Status)
		})
	}
}

func TestHandlers_HealthCheck_SlowProbeTimesOut(t *testing.T) {
	h := NewHandlers(&MockChatService{}, testConfig(), WithStore(blockingPinger{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	w := httptest.NewRecorder()
	h.HealthCheck(w, httptest.NewRequest("GET", "/health", nil).WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type blockingPinger struct{}

func (blockingPinger) Ping(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}
