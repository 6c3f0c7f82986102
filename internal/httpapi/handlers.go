package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/session"
	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/models"
)

// Handler exposes the auction command surface over HTTP. Commands go to
// the session actor; reads go straight to the store or the session's
// atomic snapshot.
type Handler struct {
	session *session.Session
	store   store.Store
}

func NewHandler(s *session.Session, st store.Store) *Handler {
	return &Handler{session: s, store: st}
}

// RegisterRoutes registers the auction API with an HTTP mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /auction/status", h.HandleStatus)
	mux.HandleFunc("POST /auction/set-live/{player_id}", h.HandleSetLive)
	mux.HandleFunc("POST /auction/bid", h.HandleBid)
	mux.HandleFunc("POST /auction/force-close/{player_id}", h.HandleForceClose)
	mux.HandleFunc("POST /auction/undo-last-sold", h.HandleUndoLastSold)
	mux.HandleFunc("POST /auction/reset", h.HandleReset)
	mux.HandleFunc("POST /auction/reauction", h.HandleReauction)
	mux.HandleFunc("GET /auction/bid-history", h.HandleRecentBids)
	mux.HandleFunc("GET /auction/bid-history/{player_id}", h.HandlePlayerBids)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus serves the session snapshot. Never touches actor state, so
// it stays fast under read load.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handler) HandleSetLive(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}
	playerID, ok := pathUUID(w, r, "player_id")
	if !ok {
		return
	}

	player, err := h.session.SetLive(r.Context(), playerID)
	if err != nil {
		writeError(w, err)
		return
	}

	log.Info().
		Str("player_id", playerID.String()).
		Str("admin", identity.UserID).
		Msg("lot opened via API")
	writeJSON(w, http.StatusOK, player)
}

type bidRequest struct {
	PlayerID uuid.UUID `json:"player_id"`
	Amount   int64     `json:"amount"`
	// TeamID is only honored for admin callers bidding on a team's
	// behalf; team callers always bid as their own team.
	TeamID *uuid.UUID `json:"team_id,omitempty"`
}

func (h *Handler) HandleBid(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return
	}

	var req bidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeViolation(w, &session.Violation{
			Code: session.CodeValidation, Message: "invalid request body",
		})
		return
	}

	var teamID uuid.UUID
	switch {
	case identity.Role == models.RoleTeam:
		teamID = *identity.TeamID
	case identity.IsAdmin() && req.TeamID != nil:
		teamID = *req.TeamID
	default:
		writeViolation(w, &session.Violation{
			Code: session.CodeValidation, Message: "only teams may bid",
		})
		return
	}

	bid, err := h.session.PlaceBid(r.Context(), teamID, req.PlayerID, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *Handler) HandleForceClose(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	playerID, ok := pathUUID(w, r, "player_id")
	if !ok {
		return
	}

	outcome, err := h.session.ForceClose(r.Context(), playerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) HandleUndoLastSold(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	undo, err := h.session.UndoLastSold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"player_id": undo.PlayerID,
		"team_id":   undo.TeamID,
		"refund":    undo.Refund,
	})
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	if err := h.session.ResetAuction(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	log.Warn().Str("admin", identity.UserID).Msg("auction reset via API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) HandleReauction(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}

	count, round, err := h.session.ReauctionUnsold(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"players_moved": count,
		"auction_round": round,
	})
}

func (h *Handler) HandleRecentBids(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeViolation(w, &session.Violation{
				Code: session.CodeValidation, Message: "limit must be between 1 and 500",
			})
			return
		}
		limit = n
	}

	bids, err := h.store.RecentBids(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) HandlePlayerBids(w http.ResponseWriter, r *http.Request) {
	playerID, ok := pathUUID(w, r, "player_id")
	if !ok {
		return
	}

	if _, err := h.store.Player(r.Context(), playerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeViolation(w, &session.Violation{
				Code: session.CodePlayerNotFound, Message: "player not found",
			})
			return
		}
		writeError(w, err)
		return
	}

	bids, err := h.store.BidsForPlayer(r.Context(), playerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if bids == nil {
		bids = []*models.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *Handler) requireIdentity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, err := identityFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorBody("UNAUTHENTICATED", err.Error()))
		return models.Identity{}, false
	}
	return identity, true
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	identity, ok := h.requireIdentity(w, r)
	if !ok {
		return models.Identity{}, false
	}
	if !identity.IsAdmin() {
		writeJSON(w, http.StatusForbidden, errorBody("FORBIDDEN", "admin role required"))
		return models.Identity{}, false
	}
	return identity, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeViolation(w, &session.Violation{
			Code: session.CodeValidation, Message: "invalid " + name,
		})
		return uuid.UUID{}, false
	}
	return id, true
}
