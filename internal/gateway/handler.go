package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"chatgate/internal/models"
	"chatgate/internal/ratelimit"

	"github.com/Masterminds/semver/v3"
	"github.com/gorilla/websocket"
)

// Handler is the HTTP entry point of the gateway: admission check, optional
// client version check, websocket upgrade, then Manager.Accept.
type Handler struct {
	manager    *Manager
	checker    ratelimit.Checker
	constraint *semver.Constraints
	trustProxy bool
	upgrader   websocket.Upgrader
}

// NewHandler creates the upgrade handler. A nil checker disables admission control.
func NewHandler(manager *Manager, checker ratelimit.Checker, cfg models.GatewayConfig, trustProxy bool) (*Handler, error) {
	h := &Handler{
		manager:    manager,
		checker:    checker,
		trustProxy: trustProxy,
	}

	if cfg.VersionConstraint != "" {
		c, err := semver.NewConstraint(cfg.VersionConstraint)
		if err != nil {
			return nil, fmt.Errorf("invalid version constraint: %w", err)
		}
		h.constraint = c
	}

	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}

	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := ratelimit.ClientIP(r, h.trustProxy)

	if h.checker != nil {
		decision, err := h.checker.Check(r.Context(), models.BucketGatewayConnect, identity, 1)
		if err != nil {
			if errors.Is(err, ratelimit.ErrStoreUnavailable) {
				slog.Error("Gateway admission unavailable", "error", err)
				ratelimit.WriteUnavailable(w)
				return
			}
			slog.Error("Gateway admission failed", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error", models.ErrorCodeInternalError)
			return
		}

		ratelimit.SetHeaders(w.Header(), decision)
		if !decision.Allowed {
			slog.Warn("Gateway connect rate limited", "remote_ip", identity)
			ratelimit.WriteDenied(w, decision)
			return
		}
	}

	if v := r.URL.Query().Get("v"); v != "" && h.constraint != nil {
		version, err := semver.NewVersion(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid client version format", models.ErrorCodeInvalidRequest)
			return
		}
		if !h.constraint.Check(version) {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Client version %s is not supported", version.String()), models.ErrorCodeUnsupportedVersion)
			return
		}
	}

	// The upgrade response is written by the upgrader itself, so the rate
	// limit headers are passed through explicitly.
	conn, err := h.upgrader.Upgrade(w, r, w.Header().Clone())
	if err != nil {
		// The upgrader has already replied.
		slog.Debug("Gateway upgrade failed", "remote_ip", identity, "error", err)
		return
	}

	if _, err := h.manager.Accept(conn, identity); err != nil {
		slog.Debug("Gateway accept failed", "remote_ip", identity, "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(models.NewErrorResponse(message, code)); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
