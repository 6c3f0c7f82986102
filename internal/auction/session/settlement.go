package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/events"
	"github.com/auctionhouse/engine/internal/auction/store"
)

// SettleOutcome describes how a lot closed.
type SettleOutcome struct {
	PlayerID   uuid.UUID  `json:"player_id"`
	PlayerName string     `json:"player_name"`
	Sold       bool       `json:"sold"`
	TeamID     *uuid.UUID `json:"team_id,omitempty"`
	Amount     int64      `json:"amount,omitempty"`
	AutoClosed bool       `json:"auto_closed"`
}

// settle closes the live lot: sold to the highest bidder if any bid
// landed, unsold otherwise. The caller guarantees s.current is non-nil.
// On a store failure the lot stays live so the operator can force-close
// again; on success the session returns to the no-live-lot state, which
// is what makes a second settlement of the same lot impossible.
func (s *Session) settle(ctx context.Context, autoClosed bool) (*SettleOutcome, error) {
	p := s.current

	if !p.HasBid() {
		if err := s.store.ApplyUnsold(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("mark %s unsold: %w", p.ID, err)
		}
		s.current = nil

		log.Info().
			Str("player_id", p.ID.String()).
			Str("player_name", p.Name).
			Bool("auto_closed", autoClosed).
			Msg("lot closed unsold")

		s.emit(ctx, events.TypePlayerUnsold, events.PlayerUnsoldPayload{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			AutoClosed: autoClosed,
		}, events.PriorityHigh)

		return &SettleOutcome{
			PlayerID:   p.ID,
			PlayerName: p.Name,
			AutoClosed: autoClosed,
		}, nil
	}

	teamID := *p.CurrentHighestTeam
	amount := p.CurrentHighestBid
	sale := store.Sale{
		PlayerID: p.ID,
		TeamID:   teamID,
		Amount:   amount,
		SoldAt:   s.clk.Now().UTC(),
	}
	if err := s.store.ApplySale(ctx, sale); err != nil {
		return nil, fmt.Errorf("apply sale of %s to %s: %w", p.ID, teamID, err)
	}
	s.current = nil

	log.Info().
		Str("player_id", p.ID.String()).
		Str("player_name", p.Name).
		Str("team_id", teamID.String()).
		Int64("amount", amount).
		Bool("auto_closed", autoClosed).
		Msg("lot sold")

	s.emit(ctx, events.TypePlayerSold, events.PlayerSoldPayload{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		TeamID:     teamID,
		Amount:     amount,
		AutoClosed: autoClosed,
	}, events.PriorityHigh)
	s.emitTeamUpdate(ctx, teamID)

	return &SettleOutcome{
		PlayerID:   p.ID,
		PlayerName: p.Name,
		Sold:       true,
		TeamID:     &teamID,
		Amount:     amount,
		AutoClosed: autoClosed,
	}, nil
}
