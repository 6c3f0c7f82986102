package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/session"
	"github.com/auctionhouse/engine/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func errorBody(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
}

// writeError maps a command failure to an HTTP response. Rule violations
// keep their machine-readable code; anything else is an internal error.
func writeError(w http.ResponseWriter, err error) {
	var v *session.Violation
	if errors.As(err, &v) {
		writeViolation(w, v)
		return
	}
	log.Error().Err(err).Msg("command failed")
	writeJSON(w, http.StatusInternalServerError, errorBody("INTERNAL", "internal error"))
}

func writeViolation(w http.ResponseWriter, v *session.Violation) {
	status := http.StatusConflict
	switch v.Code {
	case session.CodeValidation:
		status = http.StatusBadRequest
	case session.CodeRateLimited:
		status = http.StatusTooManyRequests
		if v.RetryAfterSec > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(v.RetryAfterSec))
		}
	case session.CodeTeamNotFound, session.CodePlayerNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody(string(v.Code), v.Message))
}

// identityFromRequest resolves the caller from the gateway-trust headers.
// Authentication happens upstream; this service only consumes the result.
func identityFromRequest(r *http.Request) (models.Identity, error) {
	identity := models.Identity{
		UserID: r.Header.Get("X-User-Id"),
		Role:   models.Role(r.Header.Get("X-User-Role")),
	}
	if teamStr := r.Header.Get("X-Team-Id"); teamStr != "" {
		teamID, err := uuid.Parse(teamStr)
		if err != nil {
			return models.Identity{}, errors.New("invalid team id")
		}
		identity.TeamID = &teamID
	}
	if !identity.Valid() {
		return models.Identity{}, errors.New("missing or invalid identity")
	}
	return identity, nil
}
