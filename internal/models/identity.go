package models

import "github.com/google/uuid"

// Role is the resolved access level of a caller or connection. Tokens are
// validated by the auth collaborator before they reach the engine; the
// engine only ever sees a resolved identity.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleTeam   Role = "team"
	RoleViewer Role = "viewer"
)

// Identity is the trusted (user, role, team) tuple attached to every
// command and every websocket registration.
type Identity struct {
	UserID string     `json:"user_id"`
	Role   Role       `json:"role"`
	TeamID *uuid.UUID `json:"team_id,omitempty"`
}

// Valid reports whether the identity carries a usable role.
func (i Identity) Valid() bool {
	switch i.Role {
	case RoleAdmin, RoleViewer:
		return i.UserID != ""
	case RoleTeam:
		return i.UserID != "" && i.TeamID != nil
	default:
		return false
	}
}

// IsAdmin reports whether the identity may invoke admin commands.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
