package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/auctionhouse/engine/internal/models"
)

// ErrNotFound is returned when a player, team or bid does not exist.
var ErrNotFound = errors.New("not found")

// Sale describes the state change of a settlement that found a winner.
type Sale struct {
	PlayerID uuid.UUID
	TeamID   uuid.UUID
	Amount   int64
	SoldAt   time.Time
}

// Undo describes the reversal of the most recent sale.
type Undo struct {
	PlayerID uuid.UUID
	TeamID   uuid.UUID
	Refund   int64
}

// Store is the persistence boundary of the auction session. All mutating
// methods are invoked exclusively from the session actor goroutine, so
// auction invariants never race; each mutation is atomic (the Postgres
// implementation wraps multi-row changes in one transaction) so a failed
// command leaves no partial state behind. Read methods may be called
// concurrently by the HTTP layer.
type Store interface {
	Player(ctx context.Context, id uuid.UUID) (*models.Player, error)
	Team(ctx context.Context, id uuid.UUID) (*models.Team, error)

	// LivePlayer returns the single live lot, or ErrNotFound.
	LivePlayer(ctx context.Context) (*models.Player, error)

	// SetPlayerLive flips an available or unsold player to live and
	// returns the updated row. Eligibility is validated by the session
	// before the call.
	SetPlayerLive(ctx context.Context, id uuid.UUID) (*models.Player, error)

	// RecordBid appends to the bid ledger and updates the lot's
	// current-highest fields in one atomic step.
	RecordBid(ctx context.Context, bid *models.Bid) error

	// ApplySale marks the lot sold, debits the team and flags the
	// winning bid, atomically.
	ApplySale(ctx context.Context, sale Sale) error

	// ApplyUnsold marks the lot unsold and clears its bid fields.
	ApplyUnsold(ctx context.Context, playerID uuid.UUID) error

	// LastSold returns the most recently sold player by settlement
	// time, or ErrNotFound when nothing has been sold.
	LastSold(ctx context.Context) (*models.Player, error)

	// ApplyUndo reverts a sale: player back to available, team
	// refunded, winning bid cleared, atomically.
	ApplyUndo(ctx context.Context, undo Undo) error

	// ReauctionUnsold flips every unsold player back to available in
	// the given round and returns how many changed.
	ReauctionUnsold(ctx context.Context, round int) (int, error)

	// ResetAuction restores every player, team and the bid ledger to
	// their pre-auction state. Destructive.
	ResetAuction(ctx context.Context) error

	BidsForPlayer(ctx context.Context, playerID uuid.UUID) ([]*models.Bid, error)
	RecentBids(ctx context.Context, limit int) ([]*models.Bid, error)
}
