package events

import (
	"time"

	"github.com/google/uuid"
)

// Event payload types shared between the session, gateway and publisher
// packages.

// Type identifies a real-time auction event.
type Type string

const (
	TypeWelcome       Type = "welcome"
	TypePlayerLive    Type = "player_live"
	TypeTimerUpdate   Type = "timer_update"
	TypeBidPlaced     Type = "bid_placed"
	TypePlayerSold    Type = "player_sold"
	TypePlayerUnsold  Type = "player_unsold"
	TypePlayerUndo    Type = "player_undo"
	TypeAuctionReset  Type = "auction_reset"
	TypeAuctionStatus Type = "auction_status"
	TypeTeamUpdate    Type = "team_update"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
)

// Priority controls delivery treatment in the broadcaster. High-priority
// events are latency sensitive and are never compressed.
type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// WelcomePayload is unicast to a connection right after registration.
type WelcomePayload struct {
	ConnectionID string    `json:"connection_id"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// PlayerLivePayload announces the lot that just opened for bidding.
type PlayerLivePayload struct {
	PlayerID     uuid.UUID `json:"player_id"`
	PlayerName   string    `json:"player_name"`
	Role         string    `json:"role,omitempty"`
	BasePrice    int64     `json:"base_price"`
	Increment    int64     `json:"increment"`
	AuctionRound int       `json:"auction_round"`
	TimerSeconds int       `json:"timer_seconds"`
}

// TimerUpdatePayload carries the countdown value, broadcast every second.
type TimerUpdatePayload struct {
	Seconds int `json:"seconds"`
}

// BidPlacedPayload announces an accepted bid.
type BidPlacedPayload struct {
	BidID      uuid.UUID `json:"bid_id"`
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	TeamID     uuid.UUID `json:"team_id"`
	Amount     int64     `json:"amount"`
	PlacedAt   time.Time `json:"placed_at"`
}

// PlayerSoldPayload announces a settlement that found a winning bid.
type PlayerSoldPayload struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	TeamID     uuid.UUID `json:"team_id"`
	Amount     int64     `json:"amount"`
	AutoClosed bool      `json:"auto_closed"`
}

// PlayerUnsoldPayload announces a settlement with no bids.
type PlayerUnsoldPayload struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	AutoClosed bool      `json:"auto_closed"`
}

// PlayerUndoPayload announces the reversal of the most recent sale.
type PlayerUndoPayload struct {
	PlayerID     uuid.UUID `json:"player_id"`
	TeamID       uuid.UUID `json:"team_id"`
	RefundAmount int64     `json:"refund_amount"`
}

// AuctionResetPayload tells clients to discard all cached auction state.
type AuctionResetPayload struct {
	ResetAt time.Time `json:"reset_at"`
}

// AuctionStatusPayload announces auction activation changes, including the
// start of a re-auction round.
type AuctionStatusPayload struct {
	Active       bool `json:"active"`
	AuctionRound int  `json:"auction_round"`
}

// TeamUpdatePayload carries a team's budget position after settlement or undo.
type TeamUpdatePayload struct {
	TeamID          uuid.UUID `json:"team_id"`
	TeamName        string    `json:"team_name"`
	BudgetSpent     int64     `json:"budget_spent"`
	BudgetRemaining int64     `json:"budget_remaining"`
	RosterCount     int       `json:"roster_count"`
}
