package models

import (
	"time"

	"github.com/google/uuid"
)

// Bid is one row in the append-only bid ledger. IsWinning is assigned at
// settlement time: exactly one winning bid per sold lot, none otherwise.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	PlayerID  uuid.UUID `json:"player_id"`
	TeamID    uuid.UUID `json:"team_id"`
	Amount    int64     `json:"amount"`
	IsWinning bool      `json:"is_winning"`
	PlacedAt  time.Time `json:"placed_at"`
}
