package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotIdle is returned when Start is called on a running clock.
	ErrNotIdle = errors.New("clock is not idle")
	// ErrNotRunning is returned when Reset is called outside the Running state.
	ErrNotRunning = errors.New("clock is not running")
)

// State is the countdown state machine position: Idle -> Running -> Expired.
// Expired is transient; after the expiry event is emitted the clock returns
// to Idle so a new lot can start it again.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateExpired State = "expired"
)

// Event is what the clock emits on its events channel. Ticks carry the
// remaining seconds; the terminal event has Expired set and is emitted
// exactly once per Start.
type Event struct {
	Seconds int
	Expired bool
}

// Clock is a one-second countdown owned by the auction session. It never
// invokes callbacks: expiry is just another event on the channel the
// session actor consumes, so command ordering decides races.
type Clock struct {
	clk    clockwork.Clock
	events chan Event

	mu      sync.Mutex
	state   State
	seconds int
	resetCh chan int
	stopCh  chan struct{}
}

// New creates a stopped clock. Pass clockwork.NewRealClock() in production
// and a FakeClock in tests.
func New(clk clockwork.Clock) *Clock {
	return &Clock{
		clk:    clk,
		events: make(chan Event, 64),
		state:  StateIdle,
	}
}

// Events returns the tick/expiry channel consumed by the session actor.
func (c *Clock) Events() <-chan Event { return c.events }

// State returns the current state machine position.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Seconds returns the remaining seconds as of the last tick or reset.
func (c *Clock) Seconds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seconds
}

// Running reports whether the countdown is live with time remaining.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateRunning && c.seconds > 0
}

// Start begins a countdown from the given duration. Only valid from Idle;
// there is never more than one tick loop alive.
func (c *Clock) Start(seconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.state = StateRunning
	c.seconds = seconds
	c.resetCh = make(chan int, 1)
	c.stopCh = make(chan struct{})
	go c.run(seconds, c.resetCh, c.stopCh)
	return nil
}

// Reset replaces the remaining seconds without restarting the tick loop.
// Only valid while Running.
func (c *Clock) Reset(seconds int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return ErrNotRunning
	}
	c.seconds = seconds
	// Overwrite any reset the loop has not consumed yet.
	select {
	case <-c.resetCh:
	default:
	}
	c.resetCh <- seconds
	return nil
}

// Stop cancels the countdown and returns to Idle. Valid from any state and
// guarantees no expiry event is emitted afterwards.
func (c *Clock) Stop() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.state = StateIdle
		c.mu.Unlock()
		return
	}
	c.state = StateIdle
	c.seconds = 0
	stopCh := c.stopCh
	c.mu.Unlock()
	close(stopCh)
}

func (c *Clock) run(seconds int, resetCh chan int, stopCh chan struct{}) {
	ticker := c.clk.NewTicker(time.Second)
	defer ticker.Stop()

	remaining := seconds
	c.emitTick(remaining)

	for {
		select {
		case <-stopCh:
			return

		case s := <-resetCh:
			remaining = s
			c.emitTick(remaining)

		case <-ticker.Chan():
			// A reset that raced this tick wins the full duration back.
			select {
			case s := <-resetCh:
				remaining = s
			default:
				remaining--
			}
			c.setSeconds(remaining)
			c.emitTick(remaining)
			if remaining <= 0 {
				c.expire()
				return
			}
		}
	}
}

// expire transitions Running -> Expired, emits the expiry event exactly
// once, then settles back to Idle. A concurrent Stop that already flipped
// the state wins and suppresses the event.
func (c *Clock) expire() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateExpired
	c.seconds = 0
	c.mu.Unlock()

	c.events <- Event{Expired: true}

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
}

func (c *Clock) setSeconds(s int) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.seconds = s
	}
	c.mu.Unlock()
}

func (c *Clock) emitTick(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	select {
	case c.events <- Event{Seconds: seconds}:
	default:
		log.Warn().Int("seconds", seconds).Msg("clock events channel full, dropping tick")
	}
}
