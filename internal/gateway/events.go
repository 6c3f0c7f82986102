package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/auctionhouse/engine/internal/auction/events"
)

// Event is the wire envelope every WebSocket client receives.
type Event struct {
	ID        string          `json:"id"`        // Event UUID
	Type      events.Type     `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// NewEvent wraps a payload in a fresh envelope.
func NewEvent(typ events.Type, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}
