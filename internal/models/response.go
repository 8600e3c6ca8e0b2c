// Package models - API response types and error handling.
// This file defines all outgoing REST response structures with consistent formatting.
//
// Response Design Principles:
// - Consistent JSON structure across all endpoints
// - Optional fields use omitempty to reduce response size
// - Rich error information with codes and details for debugging
// - RFC3339 timestamps for international compatibility
package models

import (
	"time"
)

// InstanceInfoResponse describes this instance to clients before they connect.
//
// Clients read GatewayURL and HeartbeatInterval to open the gateway and
// RateLimits to pace themselves without waiting for a 429.
type InstanceInfoResponse struct {
	Name              string                  `json:"name"`
	Description       string                  `json:"description"`
	Version           string                  `json:"version"`
	MessageLimit      int                     `json:"message_limit"`
	GatewayURL        string                  `json:"gateway_url"`
	HeartbeatInterval int64                   `json:"heartbeat_interval"` // milliseconds
	RateLimits        map[string]RateLimitInfo `json:"rate_limits,omitempty"`
}

// RateLimitInfo is the public form of a bucket policy. Window is in milliseconds.
type RateLimitInfo struct {
	Limit  int64 `json:"limit"`
	Window int64 `json:"window"`
}

type CreateMessageResponse struct {
	Message Message `json:"message"`
}

// ErrorResponse provides structured error information with debugging context.
//
// Error Categories:
// - Validation errors: Input format/constraint violations
// - Rate limit errors: the caller exhausted a bucket (details.retry_after_ms)
// - Unavailable errors: the shared counter store cannot be reached
// - Internal errors: Server-side issues
type ErrorResponse struct {
	Error     string            `json:"error"`                // Error type (always "error")
	Message   string            `json:"message"`              // Human-readable error description
	Code      string            `json:"code,omitempty"`       // Machine-readable error code
	Details   map[string]string `json:"details,omitempty"`    // Field-specific error details
	Timestamp time.Time         `json:"timestamp"`            // Error occurrence time
	RequestID string            `json:"request_id,omitempty"` // Unique request identifier
}

type HealthCheckResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
	Metrics    map[string]interface{}     `json:"metrics,omitempty"`
}

type ComponentHealth struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Health Status Constants
const (
	StatusHealthy   = "healthy"   // All systems operational
	StatusUnhealthy = "unhealthy" // Major system issues
	StatusDegraded  = "degraded"  // Partial functionality
	StatusUnknown   = "unknown"   // Status indeterminate
)

// Standard HTTP Error Codes
//
// Error Code Strategy:
// - Upper-case with underscores for consistency
// - Maps to standard HTTP status codes
// - Machine-readable for client error handling
const (
	ErrorCodeNotFound           = "NOT_FOUND"           // 404: Resource doesn't exist
	ErrorCodeBadRequest         = "BAD_REQUEST"         // 400: Invalid request format
	ErrorCodeInvalidRequest     = "INVALID_REQUEST"     // 400: Invalid request data
	ErrorCodeUnsupportedVersion = "UNSUPPORTED_VERSION" // 400: Client protocol version rejected
	ErrorCodeValidation         = "VALIDATION_ERROR"    // 422: Input validation failed
	ErrorCodeRateLimited        = "RATE_LIMITED"        // 429: Bucket exhausted
	ErrorCodeInternalError      = "INTERNAL_ERROR"      // 500: Server-side error
	ErrorCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503: Counter store or bus unreachable
)

func NewErrorResponse(message string, code string) *ErrorResponse {
	return &ErrorResponse{
		Error:     "error",
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WithDetail adds a detail entry and returns the response for chaining.
func (e *ErrorResponse) WithDetail(key, value string) *ErrorResponse {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func NewHealthCheckResponse(status string) *HealthCheckResponse {
	return &HealthCheckResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Components: make(map[string]ComponentHealth),
		Metrics:    make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddComponent(name, status, message string) {
	h.Components[name] = ComponentHealth{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

func (h *HealthCheckResponse) AddMetric(name string, value interface{}) {
	h.Metrics[name] = value
}
