package ratelimit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"chatgate/internal/models"
)

// CostFunc returns how many units a request charges against its bucket.
type CostFunc func(r *http.Request) int64

// DefaultCost charges one unit per request.
func DefaultCost(*http.Request) int64 { return 1 }

// ContentLengthCost charges the declared body size, at least one unit.
// It is meant for byte-weighted buckets such as uploads.
func ContentLengthCost(r *http.Request) int64 {
	if r.ContentLength < 1 {
		return 1
	}
	return r.ContentLength
}

// Middleware returns HTTP middleware that admits requests through checker
// using the given bucket and the client IP as identity. Rate limit headers are
// set before the downstream handler runs, so success and error responses both
// carry them. A nil checker disables admission control.
func Middleware(checker Checker, bucket string, cost CostFunc, trustProxy bool) func(http.Handler) http.Handler {
	if cost == nil {
		cost = DefaultCost
	}

	return func(next http.Handler) http.Handler {
		if checker == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := ClientIP(r, trustProxy)

			decision, err := checker.Check(r.Context(), bucket, identity, cost(r))
			if err != nil {
				if errors.Is(err, ErrStoreUnavailable) {
					slog.Error("Rate limit store unavailable", "bucket", bucket, "error", err)
					WriteUnavailable(w)
					return
				}
				slog.Error("Rate limit check failed", "bucket", bucket, "error", err)
				writeJSON(w, http.StatusInternalServerError,
					models.NewErrorResponse("Internal server error", models.ErrorCodeInternalError))
				return
			}

			SetHeaders(w.Header(), decision)

			if !decision.Allowed {
				slog.Warn("Rate limit exceeded",
					"bucket", bucket,
					"key", identity,
					"limit", decision.Limit,
					"retry_after", decision.RetryAfter,
				)
				WriteDenied(w, decision)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes the standard rate limit headers for a decision.
// Retry-After is only set when the decision is a denial.
func SetHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

	if !d.Allowed {
		h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d), 10))
	}
}

// WriteDenied writes a 429 with a RATE_LIMITED error body. Headers from
// SetHeaders must already be set.
func WriteDenied(w http.ResponseWriter, d Decision) {
	resp := models.NewErrorResponse("Rate limit exceeded", models.ErrorCodeRateLimited).
		WithDetail("retry_after_ms", strconv.FormatInt(d.RetryAfter.Milliseconds(), 10))
	writeJSON(w, http.StatusTooManyRequests, resp)
}

// WriteUnavailable writes a 503 for requests that could not be admitted
// because the counter store is unreachable.
func WriteUnavailable(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable,
		models.NewErrorResponse("Rate limiting is temporarily unavailable", models.ErrorCodeServiceUnavailable))
}

// ClientIP extracts the identity used for rate limiting. Proxy headers are
// only honoured when trustProxy is set; otherwise any client could pick its
// own identity.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ips := strings.Split(xff, ",")
			if first := strings.TrimSpace(ips[0]); first != "" {
				return first
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d Decision) int64 {
	secs := int64(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}
