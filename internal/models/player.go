package models

import (
	"time"

	"github.com/google/uuid"
)

// PlayerStatus defines where a player sits in the auction lifecycle.
type PlayerStatus string

const (
	PlayerStatusAvailable PlayerStatus = "available"
	PlayerStatusLive      PlayerStatus = "live"
	PlayerStatusSold      PlayerStatus = "sold"
	PlayerStatusUnsold    PlayerStatus = "unsold"
)

// Player represents an auction lot. At most one player is live at any time.
type Player struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Role      string       `json:"role,omitempty"`
	Status    PlayerStatus `json:"status"`
	BasePrice int64        `json:"base_price"`
	Increment int64        `json:"increment"`

	// Highest-bid fields, mutated only while the player is live.
	CurrentHighestBid  int64      `json:"current_highest_bid"`
	CurrentHighestTeam *uuid.UUID `json:"current_highest_team,omitempty"`

	// Final fields, written at settlement and cleared by undo.
	FinalBid  *int64     `json:"final_bid,omitempty"`
	FinalTeam *uuid.UUID `json:"final_team,omitempty"`
	SoldAt    *time.Time `json:"sold_at,omitempty"`

	AuctionRound int       `json:"auction_round"`
	CreatedAt    time.Time `json:"created_at"`
}

// HasBid reports whether at least one bid has been accepted for this lot.
func (p *Player) HasBid() bool {
	return p.CurrentHighestTeam != nil
}

// MinNextBid returns the smallest amount the next bid must reach.
func (p *Player) MinNextBid() int64 {
	if !p.HasBid() {
		return p.BasePrice
	}
	return p.CurrentHighestBid + p.Increment
}
