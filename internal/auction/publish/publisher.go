package publish

import (
	"context"

	"github.com/auctionhouse/engine/internal/auction/events"
)

// Nop discards every event. Used when no NATS URL is configured and by
// tests that do not care about the event mirror.
type Nop struct{}

func (Nop) Publish(context.Context, events.Type, any) error { return nil }

func (Nop) Close() error { return nil }
