package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// rateLimiter enforces the per-team bid rate: at most limit accepted
// attempts inside a sliding window. It is only ever touched from the
// session actor goroutine, so it carries no lock.
type rateLimiter struct {
	clk    clockwork.Clock
	limit  int
	window time.Duration
	hits   map[uuid.UUID][]time.Time
}

func newRateLimiter(clk clockwork.Clock, limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		clk:    clk,
		limit:  limit,
		window: window,
		hits:   make(map[uuid.UUID][]time.Time),
	}
}

// allow records an attempt for the team and reports whether it is within
// the limit. When rejected it returns the seconds until the oldest
// attempt leaves the window.
func (r *rateLimiter) allow(teamID uuid.UUID) (retryAfterSec int, ok bool) {
	now := r.clk.Now()
	cutoff := now.Add(-r.window)

	recent := r.hits[teamID][:0]
	for _, t := range r.hits[teamID] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.hits[teamID] = recent
		retry := recent[0].Add(r.window).Sub(now)
		sec := int(retry.Seconds())
		if sec < 1 {
			sec = 1
		}
		return sec, false
	}

	r.hits[teamID] = append(recent, now)
	return 0, true
}

// reset drops every tracked window, used by the destructive auction reset.
func (r *rateLimiter) reset() {
	r.hits = make(map[uuid.UUID][]time.Time)
}
