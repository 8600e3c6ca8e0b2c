package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatgate/internal/chat"
	"chatgate/internal/models"
	"chatgate/internal/version"
)

// healthCheckTimeout bounds each dependency probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency the health endpoint can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter reports gateway session counts for the health endpoint.
type SessionCounter interface {
	Count() int
	CountByState() map[string]int
}

// Handlers contains HTTP handlers for the chatgate REST API
type Handlers struct {
	chatService chat.ServiceInterface
	config      *models.Config
	store       Pinger
	bus         Pinger
	sessions    SessionCounter
	docs        *DocRegistry
	startTime   time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handlers)

// WithStore makes the health endpoint probe the counter store.
func WithStore(store Pinger) HandlerOption {
	return func(h *Handlers) { h.store = store }
}

// WithBus makes the health endpoint probe the event bus.
func WithBus(bus Pinger) HandlerOption {
	return func(h *Handlers) { h.bus = bus }
}

// WithSessions makes the health endpoint report gateway session counts.
func WithSessions(sessions SessionCounter) HandlerOption {
	return func(h *Handlers) { h.sessions = sessions }
}

// NewHandlers creates a new handlers instance
func NewHandlers(chatService chat.ServiceInterface, config *models.Config, opts ...HandlerOption) *Handlers {
	h := &Handlers{
		chatService: chatService,
		config:      config,
		docs:        NewDocRegistry(),
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Docs returns the registry describing the routes these handlers serve.
func (h *Handlers) Docs() *DocRegistry {
	return h.docs
}

// InstanceInfo describes this instance
// GET /
func (h *Handlers) InstanceInfo(w http.ResponseWriter, r *http.Request) {
	resp := models.InstanceInfoResponse{
		Name:              h.config.Instance.Name,
		Description:       h.config.Instance.Description,
		Version:           version.GetInfo().Version,
		MessageLimit:      h.config.Messages.MessageLimit,
		GatewayURL:        h.gatewayURL(r),
		HeartbeatInterval: h.config.Gateway.HeartbeatInterval.Milliseconds(),
	}

	if h.config.RateLimits.Enabled {
		resp.RateLimits = make(map[string]models.RateLimitInfo, len(h.config.RateLimits.Buckets))
		for name, b := range h.config.RateLimits.Buckets {
			resp.RateLimits[name] = models.RateLimitInfo{Limit: b.Limit, Window: b.Window.Milliseconds()}
		}
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// gatewayURL is the configured public URL, or one derived from the request.
func (h *Handlers) gatewayURL(r *http.Request) string {
	if h.config.Gateway.PublicURL != "" {
		return h.config.Gateway.PublicURL
	}

	scheme := "ws"
	if r.TLS != nil || (h.config.Server.TrustProxyHeaders && r.Header.Get("X-Forwarded-Proto") == "https") {
		scheme = "wss"
	}
	return scheme + "://" + r.Host + h.config.Gateway.Path
}

// CreateMessage publishes a new chat message to every gateway
// POST /messages
func (h *Handlers) CreateMessage(w http.ResponseWriter, r *http.Request) {
	// Content is limited in characters; four bytes per character plus room
	// for the envelope covers any valid body.
	r.Body = http.MaxBytesReader(w, r.Body, int64(h.config.Messages.MessageLimit)*4+1024)

	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeErrorResponse(w, http.StatusRequestEntityTooLarge, models.ErrorCodeBadRequest, "Request body too large")
			return
		}
		if errors.Is(err, io.EOF) {
			h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Request body is required")
			return
		}
		h.writeErrorResponse(w, http.StatusBadRequest, models.ErrorCodeBadRequest, "Invalid JSON body")
		return
	}

	resp, err := h.chatService.CreateMessage(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, resp)
}

// HealthCheck handles health check requests
// GET /health, GET /api/v1/health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := models.NewHealthCheckResponse(models.StatusHealthy)
	response.Version = version.GetInfo().Version
	response.Uptime = time.Since(h.startTime).Round(time.Second).String()

	status := http.StatusOK
	probe := func(name string, p Pinger, ok string) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			slog.Warn("Health probe failed", "component", name, "error", err)
			response.AddComponent(name, models.StatusUnhealthy, err.Error())
			response.Status = models.StatusUnhealthy
			status = http.StatusServiceUnavailable
			return
		}
		response.AddComponent(name, models.StatusHealthy, ok)
	}

	if h.store != nil {
		probe("store", h.store, "Counter store is reachable")
	}
	if h.bus != nil {
		probe("bus", h.bus, "Event bus is connected")
	}

	if h.sessions != nil {
		response.AddComponent("gateway", models.StatusHealthy, "Gateway is accepting sessions")
		response.AddMetric("sessions", h.sessions.Count())
		response.AddMetric("sessions_by_state", h.sessions.CountByState())
	}
	response.AddMetric("rate_limiting_enabled", h.config.RateLimits.Enabled)

	h.writeJSONResponse(w, status, response)
}

// ServeDocs serves the route and payload registry as JSON, or YAML with
// ?format=yaml.
// GET /docs
func (h *Handlers) ServeDocs(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "yaml" {
		data, err := h.docs.YAML()
		if err != nil {
			slog.Error("Failed to render docs", "error", err)
			h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Failed to render docs")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.docs.Snapshot())
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *chat.ServiceError
	if errors.As(err, &svcErr) {
		h.writeJSONResponse(w, svcErr.StatusCode, svcErr.Response())
		return
	}
	slog.Error("Unexpected service error", "error", err)
	h.writeErrorResponse(w, http.StatusInternalServerError, models.ErrorCodeInternalError, "Internal server error")
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already written; nothing else can be sent.
		slog.Error("Error encoding JSON response", "error", err)
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) {
	h.writeJSONResponse(w, statusCode, models.NewErrorResponse(message, errorCode))
}
