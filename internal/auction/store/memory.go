package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/auctionhouse/engine/internal/models"
)

// Memory is the in-process Store used for tests and single-node dev runs.
// A read-write lock keeps concurrent HTTP reads safe; mutations still only
// arrive from the session actor.
type Memory struct {
	mu      sync.RWMutex
	players map[uuid.UUID]*models.Player
	teams   map[uuid.UUID]*models.Team
	bids    []*models.Bid
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players: make(map[uuid.UUID]*models.Player),
		teams:   make(map[uuid.UUID]*models.Team),
	}
}

// AddPlayer seeds a player. Used by tests and dev seeding.
func (m *Memory) AddPlayer(p *models.Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	if cp.Status == "" {
		cp.Status = models.PlayerStatusAvailable
	}
	if cp.AuctionRound == 0 {
		cp.AuctionRound = 1
	}
	m.players[cp.ID] = &cp
}

// AddTeam seeds a team. Used by tests and dev seeding.
func (m *Memory) AddTeam(t *models.Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.teams[cp.ID] = &cp
}

func (m *Memory) Player(_ context.Context, id uuid.UUID) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) Team(_ context.Context, id uuid.UUID) (*models.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) LivePlayer(_ context.Context) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.players {
		if p.Status == models.PlayerStatusLive {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) SetPlayerLive(_ context.Context, id uuid.UUID) (*models.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Status = models.PlayerStatusLive
	p.CurrentHighestBid = 0
	p.CurrentHighestTeam = nil
	cp := *p
	return &cp, nil
}

func (m *Memory) RecordBid(_ context.Context, bid *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[bid.PlayerID]
	if !ok {
		return fmt.Errorf("record bid: player %s: %w", bid.PlayerID, ErrNotFound)
	}
	cp := *bid
	m.bids = append(m.bids, &cp)
	p.CurrentHighestBid = bid.Amount
	teamID := bid.TeamID
	p.CurrentHighestTeam = &teamID
	return nil
}

func (m *Memory) ApplySale(_ context.Context, sale Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[sale.PlayerID]
	if !ok {
		return fmt.Errorf("apply sale: player %s: %w", sale.PlayerID, ErrNotFound)
	}
	t, ok := m.teams[sale.TeamID]
	if !ok {
		return fmt.Errorf("apply sale: team %s: %w", sale.TeamID, ErrNotFound)
	}

	p.Status = models.PlayerStatusSold
	amount := sale.Amount
	teamID := sale.TeamID
	soldAt := sale.SoldAt
	p.FinalBid = &amount
	p.FinalTeam = &teamID
	p.SoldAt = &soldAt

	t.BudgetSpent += sale.Amount
	t.RosterCount++

	m.markWinningBid(sale.PlayerID, true)
	return nil
}

func (m *Memory) ApplyUnsold(_ context.Context, playerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[playerID]
	if !ok {
		return fmt.Errorf("apply unsold: player %s: %w", playerID, ErrNotFound)
	}
	p.Status = models.PlayerStatusUnsold
	p.CurrentHighestBid = 0
	p.CurrentHighestTeam = nil
	p.FinalBid = nil
	p.FinalTeam = nil
	return nil
}

func (m *Memory) LastSold(_ context.Context) (*models.Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last *models.Player
	for _, p := range m.players {
		if p.Status != models.PlayerStatusSold || p.SoldAt == nil {
			continue
		}
		if last == nil || p.SoldAt.After(*last.SoldAt) {
			last = p
		}
	}
	if last == nil {
		return nil, ErrNotFound
	}
	cp := *last
	return &cp, nil
}

func (m *Memory) ApplyUndo(_ context.Context, undo Undo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.players[undo.PlayerID]
	if !ok {
		return fmt.Errorf("apply undo: player %s: %w", undo.PlayerID, ErrNotFound)
	}
	t, ok := m.teams[undo.TeamID]
	if !ok {
		return fmt.Errorf("apply undo: team %s: %w", undo.TeamID, ErrNotFound)
	}

	p.Status = models.PlayerStatusAvailable
	p.FinalBid = nil
	p.FinalTeam = nil
	p.SoldAt = nil
	p.CurrentHighestBid = 0
	p.CurrentHighestTeam = nil

	t.BudgetSpent -= undo.Refund
	t.RosterCount--

	m.markWinningBid(undo.PlayerID, false)
	return nil
}

func (m *Memory) ReauctionUnsold(_ context.Context, round int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, p := range m.players {
		if p.Status == models.PlayerStatusUnsold {
			p.Status = models.PlayerStatusAvailable
			p.AuctionRound = round
			count++
		}
	}
	return count, nil
}

func (m *Memory) ResetAuction(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.players {
		p.Status = models.PlayerStatusAvailable
		p.CurrentHighestBid = 0
		p.CurrentHighestTeam = nil
		p.FinalBid = nil
		p.FinalTeam = nil
		p.SoldAt = nil
		p.AuctionRound = 1
	}
	for _, t := range m.teams {
		t.BudgetSpent = 0
		t.RosterCount = 0
	}
	m.bids = nil
	return nil
}

func (m *Memory) BidsForPlayer(_ context.Context, playerID uuid.UUID) ([]*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Bid
	for _, b := range m.bids {
		if b.PlayerID == playerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	return out, nil
}

func (m *Memory) RecentBids(_ context.Context, limit int) ([]*models.Bid, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Bid, 0, len(m.bids))
	for _, b := range m.bids {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlacedAt.After(out[j].PlacedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// markWinningBid flags the highest bid for the lot. Exactly one winning
// bid per sold lot; ties break toward the latest placed.
func (m *Memory) markWinningBid(playerID uuid.UUID, winning bool) {
	var top *models.Bid
	for _, b := range m.bids {
		if b.PlayerID != playerID {
			continue
		}
		b.IsWinning = false
		if top == nil || b.Amount > top.Amount ||
			(b.Amount == top.Amount && b.PlacedAt.After(top.PlacedAt)) {
			top = b
		}
	}
	if top != nil && winning {
		top.IsWinning = true
	}
}

var _ Store = (*Memory)(nil)
