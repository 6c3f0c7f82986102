package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/auctionhouse/engine/internal/auction/clock"
	"github.com/auctionhouse/engine/internal/auction/events"
	"github.com/auctionhouse/engine/internal/auction/store"
	"github.com/auctionhouse/engine/internal/models"
)

// Broadcaster is what the session needs from the gateway: fan a message
// out to every connection without ever blocking the actor.
type Broadcaster interface {
	Broadcast(typ events.Type, payload any, priority events.Priority)
}

// Publisher mirrors domain events to an external stream (NATS JetStream in
// production). Failures are logged and never fail the command.
type Publisher interface {
	Publish(ctx context.Context, typ events.Type, payload any) error
}

// Config holds the auction rules the session enforces.
type Config struct {
	// TimerSeconds is the countdown each lot starts with and resets to
	// on every accepted bid.
	TimerSeconds int
	// BidRateLimit / BidRateWindow bound how fast one team may bid.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// DefaultConfig returns the production defaults: 30s timer, 10 bids/min.
func DefaultConfig() Config {
	return Config{
		TimerSeconds:  30,
		BidRateLimit:  10,
		BidRateWindow: time.Minute,
	}
}

// Snapshot is the read-mostly view served to the HTTP status endpoint.
// It is replaced atomically after every command, so readers never touch
// actor-owned state.
type Snapshot struct {
	Active             bool       `json:"active"`
	AuctionRound       int        `json:"auction_round"`
	CurrentPlayerID    *uuid.UUID `json:"current_player_id,omitempty"`
	CurrentPlayerName  string     `json:"current_player_name,omitempty"`
	CurrentHighestBid  int64      `json:"current_highest_bid"`
	CurrentHighestTeam *uuid.UUID `json:"current_highest_team,omitempty"`
	MinNextBid         int64      `json:"min_next_bid,omitempty"`
	TimerSeconds       int        `json:"timer_seconds"`
	TimerRunning       bool       `json:"timer_running"`
}

// Session is the authoritative auction state machine. Exactly one
// goroutine (Run) owns all mutable state; every mutation — bids, clock
// expiry, settlement, undo, reset — arrives as a command on the inbox and
// executes in strict arrival order. That single-writer discipline is what
// makes the clock's exactly-once expiry and bid atomicity hold without
// locks.
type Session struct {
	cfg     Config
	store   store.Store
	clock   *clock.Clock
	clk     clockwork.Clock
	bcast   Broadcaster
	pub     Publisher
	limiter *rateLimiter

	inbox chan command

	// Actor-owned state. Never touched outside the Run goroutine.
	current *models.Player
	round   int

	snap atomic.Pointer[Snapshot]
}

// New assembles a session. Pass clockwork.NewRealClock() in production.
func New(cfg Config, st store.Store, clk clockwork.Clock, bcast Broadcaster, pub Publisher) *Session {
	s := &Session{
		cfg:     cfg,
		store:   st,
		clock:   clock.New(clk),
		clk:     clk,
		bcast:   bcast,
		pub:     pub,
		limiter: newRateLimiter(clk, cfg.BidRateLimit, cfg.BidRateWindow),
		inbox:   make(chan command, 64),
		round:   1,
	}
	s.snap.Store(&Snapshot{AuctionRound: 1})
	return s
}

// Run executes the actor loop until the context is cancelled. Commands and
// clock events are consumed from the same select, so a bid landing in the
// same tick the timer hits zero is ordered deterministically: whichever
// the loop picks up first is authoritative.
func (s *Session) Run(ctx context.Context) error {
	s.recoverLiveLot(ctx)
	log.Info().Int("timer_seconds", s.cfg.TimerSeconds).Msg("auction session started")

	for {
		select {
		case <-ctx.Done():
			s.clock.Stop()
			log.Info().Msg("auction session shutting down")
			return nil

		case cmd := <-s.inbox:
			s.dispatch(ctx, cmd)
			s.updateSnapshot()

		case ev := <-s.clock.Events():
			s.handleClockEvent(ctx, ev)
			s.updateSnapshot()
		}
	}
}

// Snapshot returns the latest read-mostly view. Safe from any goroutine.
func (s *Session) Snapshot() Snapshot {
	return *s.snap.Load()
}

// recoverLiveLot re-adopts a lot left live by a previous process run and
// restarts its countdown from the full duration.
func (s *Session) recoverLiveLot(ctx context.Context) {
	p, err := s.store.LivePlayer(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to check for live lot on startup")
		return
	}
	s.current = p
	s.round = p.AuctionRound
	if err := s.clock.Start(s.cfg.TimerSeconds); err != nil {
		log.Error().Err(err).Msg("failed to restart clock for recovered lot")
		return
	}
	s.updateSnapshot()
	log.Info().
		Str("player_id", p.ID.String()).
		Str("player_name", p.Name).
		Msg("recovered live lot from store")
}

func (s *Session) handleClockEvent(ctx context.Context, ev clock.Event) {
	if ev.Expired {
		s.handleExpiry(ctx)
		return
	}
	// Ticks are latency sensitive and are broadcast uncompressed. They
	// are not mirrored to the event stream.
	s.bcast.Broadcast(events.TypeTimerUpdate,
		events.TimerUpdatePayload{Seconds: ev.Seconds}, events.PriorityHigh)
}

func (s *Session) handleExpiry(ctx context.Context) {
	if s.current == nil {
		// The lot was force-closed in the same tick; the expiry event
		// is stale and settlement already happened.
		log.Debug().Msg("clock expiry with no live lot, ignoring")
		return
	}
	log.Info().
		Str("player_id", s.current.ID.String()).
		Msg("timer expired, auto-closing lot")
	if _, err := s.settle(ctx, true); err != nil {
		log.Error().Err(err).Msg("auto-close settlement failed")
	}
}

// emit broadcasts an event and mirrors it to the external stream.
func (s *Session) emit(ctx context.Context, typ events.Type, payload any, priority events.Priority) {
	s.bcast.Broadcast(typ, payload, priority)
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, typ, payload); err != nil {
		log.Error().Err(err).Str("event_type", string(typ)).Msg("event mirror publish failed")
	}
}

func (s *Session) updateSnapshot() {
	snap := &Snapshot{
		Active:       s.current != nil,
		AuctionRound: s.round,
		TimerSeconds: s.clock.Seconds(),
		TimerRunning: s.clock.Running(),
	}
	if s.current != nil {
		id := s.current.ID
		snap.CurrentPlayerID = &id
		snap.CurrentPlayerName = s.current.Name
		snap.CurrentHighestBid = s.current.CurrentHighestBid
		snap.CurrentHighestTeam = s.current.CurrentHighestTeam
		snap.MinNextBid = s.current.MinNextBid()
	}
	s.snap.Store(snap)
}
