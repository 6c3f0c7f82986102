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

// command is the closed set of messages the actor understands. Everything
// that mutates auction state is one of these.
type command interface {
	isCommand()
}

type setLiveCmd struct {
	playerID uuid.UUID
	reply    chan setLiveReply
}

type setLiveReply struct {
	player *models.Player
	err    error
}

type placeBidCmd struct {
	teamID   uuid.UUID
	playerID uuid.UUID
	amount   int64
	reply    chan placeBidReply
}

type placeBidReply struct {
	bid *models.Bid
	err error
}

type forceCloseCmd struct {
	playerID uuid.UUID
	reply    chan settleReply
}

type settleReply struct {
	outcome *SettleOutcome
	err     error
}

type undoCmd struct {
	reply chan undoReply
}

type undoReply struct {
	undo *store.Undo
	err  error
}

type resetCmd struct {
	reply chan error
}

type reauctionCmd struct {
	reply chan reauctionReply
}

type reauctionReply struct {
	count int
	round int
	err   error
}

func (setLiveCmd) isCommand()    {}
func (placeBidCmd) isCommand()   {}
func (forceCloseCmd) isCommand() {}
func (undoCmd) isCommand()       {}
func (resetCmd) isCommand()      {}
func (reauctionCmd) isCommand()  {}

func (s *Session) dispatch(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case setLiveCmd:
		p, err := s.handleSetLive(ctx, c.playerID)
		c.reply <- setLiveReply{player: p, err: err}
	case placeBidCmd:
		bid, err := s.handlePlaceBid(ctx, c)
		c.reply <- placeBidReply{bid: bid, err: err}
	case forceCloseCmd:
		out, err := s.handleForceClose(ctx, c.playerID)
		c.reply <- settleReply{outcome: out, err: err}
	case undoCmd:
		undo, err := s.handleUndo(ctx)
		c.reply <- undoReply{undo: undo, err: err}
	case resetCmd:
		c.reply <- s.handleReset(ctx)
	case reauctionCmd:
		count, round, err := s.handleReauction(ctx)
		c.reply <- reauctionReply{count: count, round: round, err: err}
	}
}

// send queues a command and waits for the actor to pick it up. The reply
// channels are buffered so the actor never blocks on a caller that gave up.
func (s *Session) send(ctx context.Context, cmd command) error {
	select {
	case s.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetLive opens bidding on a player. Fails if another lot is already live
// or the player is not eligible (already sold, or unknown).
func (s *Session) SetLive(ctx context.Context, playerID uuid.UUID) (*models.Player, error) {
	cmd := setLiveCmd{playerID: playerID, reply: make(chan setLiveReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.player, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PlaceBid submits a bid for the live lot on behalf of a team.
func (s *Session) PlaceBid(ctx context.Context, teamID, playerID uuid.UUID, amount int64) (*models.Bid, error) {
	cmd := placeBidCmd{teamID: teamID, playerID: playerID, amount: amount, reply: make(chan placeBidReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.bid, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ForceClose settles the live lot immediately without waiting for the
// timer. Settling an already settled lot returns ALREADY_SETTLED.
func (s *Session) ForceClose(ctx context.Context, playerID uuid.UUID) (*SettleOutcome, error) {
	cmd := forceCloseCmd{playerID: playerID, reply: make(chan settleReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.outcome, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UndoLastSold reverses the most recent sale.
func (s *Session) UndoLastSold(ctx context.Context) (*store.Undo, error) {
	cmd := undoCmd{reply: make(chan undoReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return nil, err
	}
	select {
	case r := <-cmd.reply:
		return r.undo, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ResetAuction destructively restores the pre-auction state.
func (s *Session) ResetAuction(ctx context.Context) error {
	cmd := resetCmd{reply: make(chan error, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReauctionUnsold makes every unsold player available again in a new
// round. Returns how many players moved and the new round number.
func (s *Session) ReauctionUnsold(ctx context.Context) (count, round int, err error) {
	cmd := reauctionCmd{reply: make(chan reauctionReply, 1)}
	if err := s.send(ctx, cmd); err != nil {
		return 0, 0, err
	}
	select {
	case r := <-cmd.reply:
		return r.count, r.round, r.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

func (s *Session) handleSetLive(ctx context.Context, playerID uuid.UUID) (*models.Player, error) {
	if s.current != nil {
		return nil, violationf(CodeLotAlreadyLive,
			"%s is already live, close that lot first", s.current.Name)
	}

	p, err := s.store.Player(ctx, playerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, violationf(CodePlayerNotFound, "player %s not found", playerID)
	}
	if err != nil {
		return nil, fmt.Errorf("load player %s: %w", playerID, err)
	}
	if p.Status != models.PlayerStatusAvailable && p.Status != models.PlayerStatusUnsold {
		return nil, violationf(CodeLotNotEligible,
			"%s is %s and cannot go live", p.Name, p.Status)
	}

	live, err := s.store.SetPlayerLive(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("set player %s live: %w", playerID, err)
	}
	s.current = live

	s.clock.Stop()
	if err := s.clock.Start(s.cfg.TimerSeconds); err != nil {
		return nil, fmt.Errorf("start clock for %s: %w", playerID, err)
	}

	log.Info().
		Str("player_id", live.ID.String()).
		Str("player_name", live.Name).
		Int64("base_price", live.BasePrice).
		Int("round", live.AuctionRound).
		Msg("lot is live")

	s.emit(ctx, events.TypePlayerLive, events.PlayerLivePayload{
		PlayerID:     live.ID,
		PlayerName:   live.Name,
		Role:         live.Role,
		BasePrice:    live.BasePrice,
		Increment:    live.Increment,
		AuctionRound: live.AuctionRound,
		TimerSeconds: s.cfg.TimerSeconds,
	}, events.PriorityNormal)

	return live, nil
}

func (s *Session) handleForceClose(ctx context.Context, playerID uuid.UUID) (*SettleOutcome, error) {
	if s.current == nil {
		p, err := s.store.Player(ctx, playerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, violationf(CodePlayerNotFound, "player %s not found", playerID)
		}
		if err != nil {
			return nil, fmt.Errorf("load player %s: %w", playerID, err)
		}
		if p.Status == models.PlayerStatusSold || p.Status == models.PlayerStatusUnsold {
			return nil, violationf(CodeAlreadySettled, "%s is already settled as %s", p.Name, p.Status)
		}
		return nil, violationf(CodeAuctionNotLive, "no lot is live")
	}
	if s.current.ID != playerID {
		return nil, violationf(CodeWrongLot,
			"live lot is %s, not %s", s.current.Name, playerID)
	}

	s.clock.Stop()
	out, err := s.settle(ctx, false)
	if err != nil {
		return nil, err
	}
	s.bcast.Broadcast(events.TypeTimerUpdate,
		events.TimerUpdatePayload{Seconds: 0}, events.PriorityHigh)
	return out, nil
}

func (s *Session) handleUndo(ctx context.Context) (*store.Undo, error) {
	last, err := s.store.LastSold(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, violationf(CodeNotSold, "no sold lot to undo")
	}
	if err != nil {
		return nil, fmt.Errorf("find last sold lot: %w", err)
	}

	undo := store.Undo{
		PlayerID: last.ID,
		TeamID:   *last.FinalTeam,
		Refund:   *last.FinalBid,
	}
	if err := s.store.ApplyUndo(ctx, undo); err != nil {
		return nil, fmt.Errorf("undo sale of %s: %w", last.ID, err)
	}

	log.Info().
		Str("player_id", last.ID.String()).
		Str("team_id", undo.TeamID.String()).
		Int64("refund", undo.Refund).
		Msg("sale undone")

	s.emit(ctx, events.TypePlayerUndo, events.PlayerUndoPayload{
		PlayerID:     last.ID,
		TeamID:       undo.TeamID,
		RefundAmount: undo.Refund,
	}, events.PriorityNormal)
	s.emitTeamUpdate(ctx, undo.TeamID)

	return &undo, nil
}

func (s *Session) handleReset(ctx context.Context) error {
	if err := s.store.ResetAuction(ctx); err != nil {
		return fmt.Errorf("reset auction: %w", err)
	}
	s.current = nil
	s.round = 1
	s.clock.Stop()
	s.limiter.reset()

	log.Warn().Msg("auction reset, all sales and bids discarded")
	s.emit(ctx, events.TypeAuctionReset,
		events.AuctionResetPayload{ResetAt: s.clk.Now().UTC()}, events.PriorityNormal)
	return nil
}

func (s *Session) handleReauction(ctx context.Context) (int, int, error) {
	if s.current != nil {
		return 0, 0, violationf(CodeLotAlreadyLive,
			"%s is live, close that lot before reauctioning", s.current.Name)
	}

	count, err := s.store.ReauctionUnsold(ctx, s.round+1)
	if err != nil {
		return 0, 0, fmt.Errorf("reauction unsold players: %w", err)
	}
	if count == 0 {
		return 0, 0, violationf(CodeNoUnsoldPlayers, "no unsold players to reauction")
	}
	s.round++

	log.Info().Int("count", count).Int("round", s.round).Msg("unsold players moved to new round")
	s.emit(ctx, events.TypeAuctionStatus, events.AuctionStatusPayload{
		Active:       false,
		AuctionRound: s.round,
	}, events.PriorityNormal)

	return count, s.round, nil
}

// emitTeamUpdate pushes the team's fresh budget and roster numbers to all
// clients. Best effort; a read failure only loses the notification.
func (s *Session) emitTeamUpdate(ctx context.Context, teamID uuid.UUID) {
	t, err := s.store.Team(ctx, teamID)
	if err != nil {
		log.Error().Err(err).Str("team_id", teamID.String()).Msg("failed to load team for update broadcast")
		return
	}
	s.emit(ctx, events.TypeTeamUpdate, events.TeamUpdatePayload{
		TeamID:          t.ID,
		TeamName:        t.Name,
		BudgetSpent:     t.BudgetSpent,
		BudgetRemaining: t.BudgetRemaining(),
		RosterCount:     t.RosterCount,
	}, events.PriorityNormal)
}
