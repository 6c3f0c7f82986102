package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auctionhouse/engine/internal/auction/events"
	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/models"
)

// captureBroadcaster records everything the session broadcasts.
type captureBroadcaster struct {
	mu   sync.Mutex
	msgs []capturedMessage
}

type capturedMessage struct {
	typ      events.Type
	payload  any
	priority events.Priority
}

func (b *captureBroadcaster) Broadcast(typ events.Type, payload any, priority events.Priority) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, capturedMessage{typ: typ, payload: payload, priority: priority})
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

func (b *captureBroadcaster) last(typ events.Type) (capturedMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.msgs) - 1; i >= 0; i-- {
		if b.msgs[i].typ == typ {
			return b.msgs[i], true
		}
	}
	return capturedMessage{}, false
}

// timerUpdateAfter reports whether a countdown broadcast with the given
// value arrived at or after index idx.
func (b *captureBroadcaster) timerUpdateAfter(idx, seconds int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs[min(idx, len(b.msgs)):] {
		if m.typ == events.TypeTimerUpdate &&
			m.payload.(events.TimerUpdatePayload).Seconds == seconds {
			return true
		}
	}
	return false
}

type env struct {
	clk    *clockwork.FakeClock
	store  *store.Memory
	bcast  *captureBroadcaster
	sess   *Session
	team   *models.Team
	rival  *models.Team
	player *models.Player
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		clk:   clockwork.NewFakeClock(),
		store: store.NewMemory(),
		bcast: &captureBroadcaster{},
	}

	e.team = &models.Team{ID: uuid.New(), Name: "Thunder", BudgetTotal: 5000}
	e.rival = &models.Team{ID: uuid.New(), Name: "Raptors", BudgetTotal: 5000}
	e.store.AddTeam(e.team)
	e.store.AddTeam(e.rival)

	e.player = &models.Player{
		ID:        uuid.New(),
		Name:      "Aiden Cole",
		BasePrice: 1000,
		Increment: 100,
	}
	e.store.AddPlayer(e.player)

	e.sess = New(DefaultConfig(), e.store, e.clk, e.bcast, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go e.sess.Run(ctx)

	return e
}

// advanceTick moves the auction clock forward one second and waits for the
// actor to process the resulting event, so assertions after it see a
// settled state.
func (e *env) advanceTick(t *testing.T) {
	t.Helper()
	before := e.bcast.count()
	e.clk.BlockUntil(1)
	e.clk.Advance(time.Second)
	require.Eventually(t, func() bool { return e.bcast.count() > before },
		time.Second, time.Millisecond, "actor did not process clock tick")
}

// waitTimer blocks until a countdown broadcast with the given value has
// arrived at or after index idx. Used to pin down the reset tick after a
// bid, or the opening tick after set-live, before advancing the clock.
func (e *env) waitTimer(t *testing.T, idx, seconds int) {
	t.Helper()
	require.Eventually(t, func() bool { return e.bcast.timerUpdateAfter(idx, seconds) },
		time.Second, time.Millisecond, "no countdown broadcast of %d", seconds)
}

// setLive opens bidding on the default player and waits for the opening
// countdown broadcast, so subsequent clock advances are the only tick
// source.
func (e *env) setLive(t *testing.T) {
	t.Helper()
	idx := e.bcast.count()
	_, err := e.sess.SetLive(context.Background(), e.player.ID)
	require.NoError(t, err)
	e.waitTimer(t, idx, 30)
}

// waitForBroadcast blocks until an event of the given type has been sent.
func (e *env) waitForBroadcast(t *testing.T, typ events.Type) capturedMessage {
	t.Helper()
	var msg capturedMessage
	require.Eventually(t, func() bool {
		m, ok := e.bcast.last(typ)
		msg = m
		return ok
	}, time.Second, time.Millisecond, "no %s broadcast", typ)
	return msg
}

func requireViolation(t *testing.T, err error, code Code) *Violation {
	t.Helper()
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok, "expected violation, got %v", err)
	require.Equal(t, code, v.Code)
	return v
}

func TestSetLiveStartsLot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusLive, p.Status)

	msg := e.waitForBroadcast(t, events.TypePlayerLive)
	payload := msg.payload.(events.PlayerLivePayload)
	assert.Equal(t, e.player.ID, payload.PlayerID)
	assert.Equal(t, int64(1000), payload.BasePrice)
	assert.Equal(t, 30, payload.TimerSeconds)

	snap := e.sess.Snapshot()
	assert.True(t, snap.Active)
	assert.Equal(t, int64(1000), snap.MinNextBid)
}

func TestSetLiveRejectsSecondLot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	other := &models.Player{ID: uuid.New(), Name: "Marco Reyes", BasePrice: 1000, Increment: 100}
	e.store.AddPlayer(other)

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.SetLive(ctx, other.ID)
	requireViolation(t, err, CodeLotAlreadyLive)
}

func TestSetLiveRejectsSoldPlayer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sellPlayer(t, e, e.team.ID, 1000)

	_, err := e.sess.SetLive(ctx, e.player.ID)
	requireViolation(t, err, CodeLotNotEligible)
}

func TestSetLiveUnknownPlayer(t *testing.T) {
	e := newEnv(t)

	_, err := e.sess.SetLive(context.Background(), uuid.New())
	requireViolation(t, err, CodePlayerNotFound)
}

func TestBidValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// No lot live yet.
	_, err := e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1000)
	requireViolation(t, err, CodeAuctionNotLive)

	_, err = e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	// Wrong lot.
	_, err = e.sess.PlaceBid(ctx, e.team.ID, uuid.New(), 1000)
	requireViolation(t, err, CodeWrongLot)

	// Unknown team.
	_, err = e.sess.PlaceBid(ctx, uuid.New(), e.player.ID, 1000)
	requireViolation(t, err, CodeTeamNotFound)

	// Non-positive amount.
	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 0)
	requireViolation(t, err, CodeValidation)
}

func TestBidBelowBasePrice(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 900)
	v := requireViolation(t, err, CodeBidTooLow)
	assert.Contains(t, v.Message, "1000")
}

func TestBidsAreMonotonic(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	bid, err := e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bid.Amount)

	// 1050 is above the current bid but below highest + increment.
	_, err = e.sess.PlaceBid(ctx, e.rival.ID, e.player.ID, 1050)
	v := requireViolation(t, err, CodeBidTooLow)
	assert.Contains(t, v.Message, "1100")

	bid, err = e.sess.PlaceBid(ctx, e.rival.ID, e.player.ID, 1100)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), bid.Amount)

	snap := e.sess.Snapshot()
	assert.Equal(t, int64(1100), snap.CurrentHighestBid)
	assert.Equal(t, e.rival.ID, *snap.CurrentHighestTeam)
	assert.Equal(t, int64(1200), snap.MinNextBid)
}

func TestConcurrentBidsSerialize(t *testing.T) {
	e := newEnv(t)
	e.setLive(t)

	// Two teams race ten distinct amounts at the actor. Whatever order
	// the inbox settles on, every accepted bid must top the previous
	// highest and 1900 always lands, so exactly one winner remains.
	type accepted struct {
		amount int64
		teamID uuid.UUID
	}
	var (
		mu       sync.Mutex
		wins     []accepted
		rejected []error
	)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		amount := int64(1000 + 100*i)
		teamID := e.team.ID
		if i%2 == 1 {
			teamID = e.rival.ID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			bid, err := e.sess.PlaceBid(context.Background(), teamID, e.player.ID, amount)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected = append(rejected, err)
				return
			}
			wins = append(wins, accepted{amount: bid.Amount, teamID: bid.TeamID})
		}()
	}
	wg.Wait()

	for _, err := range rejected {
		requireViolation(t, err, CodeBidTooLow)
	}

	require.NotEmpty(t, wins)
	top := wins[0]
	for _, w := range wins[1:] {
		if w.amount > top.amount {
			top = w
		}
	}
	assert.Equal(t, int64(1900), top.amount)
	assert.Equal(t, e.rival.ID, top.teamID)

	p, err := e.store.Player(context.Background(), e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, top.amount, p.CurrentHighestBid)
	require.NotNil(t, p.CurrentHighestTeam)
	assert.Equal(t, top.teamID, *p.CurrentHighestTeam)

	bids, err := e.store.BidsForPlayer(context.Background(), e.player.ID)
	require.NoError(t, err)
	assert.Len(t, bids, len(wins), "only accepted bids are recorded")

	require.Eventually(t, func() bool {
		return e.sess.Snapshot().MinNextBid == top.amount+100
	}, time.Second, time.Millisecond)
}

func TestBidExceedsBudget(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 5100)
	requireViolation(t, err, CodeInsufficientBudget)
}

func TestBlockedTeamCannotBid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	blocked := &models.Team{ID: uuid.New(), Name: "Banned", BudgetTotal: 5000, Blocked: true}
	e.store.AddTeam(blocked)

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.PlaceBid(ctx, blocked.ID, e.player.ID, 1000)
	requireViolation(t, err, CodeTeamBlocked)
}

func TestBidRateLimit(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	// 10 attempts inside the window are allowed; amounts alternate so
	// each one is a valid raise.
	amount := int64(1000)
	for i := 0; i < 10; i++ {
		_, err := e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, amount)
		require.NoError(t, err, "bid %d", i+1)
		amount += 100
	}

	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, amount)
	v := requireViolation(t, err, CodeRateLimited)
	assert.Greater(t, v.RetryAfterSec, 0)

	// The other team is unaffected.
	_, err = e.sess.PlaceBid(ctx, e.rival.ID, e.player.ID, amount)
	require.NoError(t, err)
}

func TestAutoCloseSellsToHighestBidder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.setLive(t)

	_, err := e.sess.PlaceBid(ctx, e.rival.ID, e.player.ID, 1000)
	require.NoError(t, err)

	idx := e.bcast.count()
	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1100)
	require.NoError(t, err)

	// Wait for the post-bid reset tick so the countdown restarts in full.
	e.waitTimer(t, idx, 30)
	for i := 0; i < 30; i++ {
		e.advanceTick(t)
	}

	require.Eventually(t, func() bool {
		p, err := e.store.Player(ctx, e.player.ID)
		return err == nil && p.Status == models.PlayerStatusSold
	}, time.Second, time.Millisecond, "lot was not settled")

	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	require.NotNil(t, p.FinalBid)
	assert.Equal(t, int64(1100), *p.FinalBid)
	assert.Equal(t, e.team.ID, *p.FinalTeam)

	team, err := e.store.Team(ctx, e.team.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), team.BudgetSpent)
	assert.Equal(t, 1, team.RosterCount)

	bids, err := e.store.BidsForPlayer(ctx, e.player.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	var winning int
	for _, b := range bids {
		if b.IsWinning {
			winning++
			assert.Equal(t, int64(1100), b.Amount)
		}
	}
	assert.Equal(t, 1, winning)

	msg := e.waitForBroadcast(t, events.TypePlayerSold)
	payload := msg.payload.(events.PlayerSoldPayload)
	assert.True(t, payload.AutoClosed)
	assert.Equal(t, int64(1100), payload.Amount)
}

func TestAutoCloseUnsoldWithoutBids(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.setLive(t)

	for i := 0; i < 30; i++ {
		e.advanceTick(t)
	}

	require.Eventually(t, func() bool {
		p, err := e.store.Player(ctx, e.player.ID)
		return err == nil && p.Status == models.PlayerStatusUnsold
	}, time.Second, time.Millisecond, "lot was not settled")

	msg := e.waitForBroadcast(t, events.TypePlayerUnsold)
	payload := msg.payload.(events.PlayerUnsoldPayload)
	assert.True(t, payload.AutoClosed)

	team, err := e.store.Team(ctx, e.team.ID)
	require.NoError(t, err)
	assert.Zero(t, team.BudgetSpent)
}

func TestTimerResetsOnEveryBid(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.setLive(t)

	for i := 0; i < 15; i++ {
		e.advanceTick(t)
	}

	idx := e.bcast.count()
	_, err := e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1000)
	require.NoError(t, err)

	// The reset tick carries the full countdown again.
	e.waitTimer(t, idx, 30)

	// 29 more seconds: still live, the old deadline no longer applies.
	for i := 0; i < 29; i++ {
		e.advanceTick(t)
	}
	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusLive, p.Status)

	e.advanceTick(t)
	require.Eventually(t, func() bool {
		p, err := e.store.Player(ctx, e.player.ID)
		return err == nil && p.Status == models.PlayerStatusSold
	}, time.Second, time.Millisecond)
}

func TestForceCloseSettlesImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)
	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1000)
	require.NoError(t, err)

	outcome, err := e.sess.ForceClose(ctx, e.player.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Sold)
	assert.False(t, outcome.AutoClosed)
	assert.Equal(t, int64(1000), outcome.Amount)

	// Settling the same lot twice is refused.
	_, err = e.sess.ForceClose(ctx, e.player.ID)
	requireViolation(t, err, CodeAlreadySettled)
}

func TestForceCloseWrongLot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.ForceClose(ctx, uuid.New())
	requireViolation(t, err, CodeWrongLot)
}

func TestLateBidAfterClose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)
	_, err = e.sess.PlaceBid(ctx, e.team.ID, e.player.ID, 1000)
	require.NoError(t, err)
	_, err = e.sess.ForceClose(ctx, e.player.ID)
	require.NoError(t, err)

	_, err = e.sess.PlaceBid(ctx, e.rival.ID, e.player.ID, 1100)
	requireViolation(t, err, CodeAuctionClosed)
}

func TestUndoLastSoldIsInverse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sellPlayer(t, e, e.team.ID, 1200)

	team, err := e.store.Team(ctx, e.team.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1200), team.BudgetSpent)

	undo, err := e.sess.UndoLastSold(ctx)
	require.NoError(t, err)
	assert.Equal(t, e.player.ID, undo.PlayerID)
	assert.Equal(t, int64(1200), undo.Refund)

	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusAvailable, p.Status)
	assert.Nil(t, p.FinalBid)

	team, err = e.store.Team(ctx, e.team.ID)
	require.NoError(t, err)
	assert.Zero(t, team.BudgetSpent)
	assert.Zero(t, team.RosterCount)

	// Nothing sold anymore, a second undo has no target.
	_, err = e.sess.UndoLastSold(ctx)
	requireViolation(t, err, CodeNotSold)
}

func TestUndoWithNoSales(t *testing.T) {
	e := newEnv(t)

	_, err := e.sess.UndoLastSold(context.Background())
	requireViolation(t, err, CodeNotSold)
}

func TestResetRestoresPreAuctionState(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	sellPlayer(t, e, e.team.ID, 1000)

	require.NoError(t, e.sess.ResetAuction(ctx))

	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusAvailable, p.Status)
	assert.Equal(t, 1, p.AuctionRound)

	team, err := e.store.Team(ctx, e.team.ID)
	require.NoError(t, err)
	assert.Zero(t, team.BudgetSpent)

	bids, err := e.store.RecentBids(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)

	snap := e.sess.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, 1, snap.AuctionRound)

	e.waitForBroadcast(t, events.TypeAuctionReset)
}

func TestResetStopsLiveLot(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)

	require.NoError(t, e.sess.ResetAuction(ctx))

	snap := e.sess.Snapshot()
	assert.False(t, snap.Active)
	assert.False(t, snap.TimerRunning)

	// The stopped countdown must not settle anything afterwards.
	e.clk.Advance(40 * time.Second)
	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusAvailable, p.Status)
}

func TestReauctionMovesUnsoldPlayers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)
	_, err = e.sess.ForceClose(ctx, e.player.ID)
	require.NoError(t, err)

	p, err := e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	require.Equal(t, models.PlayerStatusUnsold, p.Status)

	count, round, err := e.sess.ReauctionUnsold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 2, round)

	p, err = e.store.Player(ctx, e.player.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlayerStatusAvailable, p.Status)
	assert.Equal(t, 2, p.AuctionRound)

	// No unsold players remain.
	_, _, err = e.sess.ReauctionUnsold(ctx)
	requireViolation(t, err, CodeNoUnsoldPlayers)
}

// sellPlayer runs a full set-live, bid, force-close cycle.
func sellPlayer(t *testing.T, e *env, teamID uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()

	_, err := e.sess.SetLive(ctx, e.player.ID)
	require.NoError(t, err)
	_, err = e.sess.PlaceBid(ctx, teamID, e.player.ID, amount)
	require.NoError(t, err)
	outcome, err := e.sess.ForceClose(ctx, e.player.ID)
	require.NoError(t, err)
	require.True(t, outcome.Sold)
}
