package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/models"
)

// WebSocketHandler handles WebSocket upgrade requests for auction clients.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(cm *ConnectionManager) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
	}
}

// HandleConnection upgrades and registers an auction client. A request
// with a missing or malformed identity is upgraded and then refused with
// a policy-violation close frame, so browser clients see the reason
// instead of a failed handshake.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromRequest(r)
	if err != nil {
		h.refuse(w, r, err.Error())
		return
	}

	if err := h.connectionManager.UpgradeConnection(w, r, identity); err != nil {
		log.Error().
			Err(err).
			Str("user_id", identity.UserID).
			Msg("failed to upgrade WebSocket connection")
		http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		return
	}

	// Connection is now owned by the connection manager.
}

func (h *WebSocketHandler) refuse(w http.ResponseWriter, r *http.Request, reason string) {
	conn, err := h.connectionManager.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))

	log.Warn().Str("reason", reason).Msg("WebSocket connection refused")
}

// HandleConnectionStats returns counts of active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.connectionManager.Stats())
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// identityFromRequest resolves the caller from the gateway-trust headers.
// Authentication happens upstream; this service only consumes the result.
func identityFromRequest(r *http.Request) (models.Identity, error) {
	identity := models.Identity{
		UserID: r.Header.Get("X-User-Id"),
		Role:   models.Role(r.Header.Get("X-User-Role")),
	}
	// Browser WebSocket clients cannot set headers; fall back to query
	// parameters for those.
	if identity.UserID == "" {
		identity.UserID = r.URL.Query().Get("user_id")
	}
	if identity.Role == "" {
		identity.Role = models.Role(r.URL.Query().Get("role"))
	}

	teamStr := r.Header.Get("X-Team-Id")
	if teamStr == "" {
		teamStr = r.URL.Query().Get("team_id")
	}
	if teamStr != "" {
		teamID, err := uuid.Parse(teamStr)
		if err != nil {
			return models.Identity{}, errInvalidIdentity("invalid team id")
		}
		identity.TeamID = &teamID
	}

	if !identity.Valid() {
		return models.Identity{}, errInvalidIdentity("missing or invalid identity")
	}
	return identity, nil
}

type errInvalidIdentity string

func (e errInvalidIdentity) Error() string { return string(e) }
