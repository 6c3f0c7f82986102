package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/events"
	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/models"
)

// handlePlaceBid validates and records one bid. The checks run in a fixed
// order so a bad request always fails with the same code regardless of
// what else is wrong with it:
//
//	1. a lot is live and it is the one being bid on
//	2. the team exists and is not blocked
//	3. the team is inside its bid rate limit
//	4. the amount meets the minimum (base price, or highest + increment)
//	5. the team can afford it
//
// Between the validation read and the write nothing else can touch the
// lot, because both happen on the actor goroutine.
func (s *Session) handlePlaceBid(ctx context.Context, cmd placeBidCmd) (*models.Bid, error) {
	if cmd.amount <= 0 {
		return nil, violationf(CodeValidation, "bid amount must be positive")
	}

	if s.current == nil {
		p, err := s.store.Player(ctx, cmd.playerID)
		if err == nil && (p.Status == models.PlayerStatusSold || p.Status == models.PlayerStatusUnsold) {
			return nil, violationf(CodeAuctionClosed, "bidding on %s is closed", p.Name)
		}
		return nil, violationf(CodeAuctionNotLive, "no lot is live")
	}
	if s.current.ID != cmd.playerID {
		return nil, violationf(CodeWrongLot,
			"live lot is %s, not %s", s.current.Name, cmd.playerID)
	}
	if !s.clock.Running() {
		return nil, violationf(CodeAuctionClosed, "bidding on %s is closed", s.current.Name)
	}

	team, err := s.store.Team(ctx, cmd.teamID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, violationf(CodeTeamNotFound, "team %s not found", cmd.teamID)
	}
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", cmd.teamID, err)
	}
	if team.Blocked {
		return nil, violationf(CodeTeamBlocked, "%s is blocked from bidding", team.Name)
	}

	if retryAfter, ok := s.limiter.allow(cmd.teamID); !ok {
		v := violationf(CodeRateLimited,
			"too many bids, retry in %ds", retryAfter)
		v.RetryAfterSec = retryAfter
		return nil, v
	}

	min := s.current.MinNextBid()
	if cmd.amount < min {
		return nil, violationf(CodeBidTooLow, "bid %d is below minimum %d", cmd.amount, min)
	}
	if cmd.amount > team.BudgetRemaining() {
		return nil, violationf(CodeInsufficientBudget,
			"bid %d exceeds remaining budget %d", cmd.amount, team.BudgetRemaining())
	}

	bid := &models.Bid{
		ID:       uuid.New(),
		PlayerID: s.current.ID,
		TeamID:   team.ID,
		Amount:   cmd.amount,
		PlacedAt: s.clk.Now().UTC(),
	}
	if err := s.store.RecordBid(ctx, bid); err != nil {
		return nil, fmt.Errorf("record bid: %w", err)
	}

	s.current.CurrentHighestBid = bid.Amount
	teamID := team.ID
	s.current.CurrentHighestTeam = &teamID

	// Every accepted bid restarts the countdown in full.
	if err := s.clock.Reset(s.cfg.TimerSeconds); err != nil {
		log.Error().Err(err).Msg("clock reset after accepted bid failed")
	}

	log.Info().
		Str("player_id", s.current.ID.String()).
		Str("team_id", team.ID.String()).
		Int64("amount", bid.Amount).
		Msg("bid accepted")

	s.emit(ctx, events.TypeBidPlaced, events.BidPlacedPayload{
		BidID:      bid.ID,
		PlayerID:   s.current.ID,
		PlayerName: s.current.Name,
		TeamID:     team.ID,
		Amount:     bid.Amount,
		PlacedAt:   bid.PlacedAt,
	}, events.PriorityHigh)

	return bid, nil
}
