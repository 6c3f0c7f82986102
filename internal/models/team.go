package models

import (
	"time"

	"github.com/google/uuid"
)

// Team represents a bidding franchise with a fixed auction budget.
type Team struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	BudgetTotal int64     `json:"budget_total"`
	BudgetSpent int64     `json:"budget_spent"`
	RosterCount int       `json:"roster_count"`
	Blocked     bool      `json:"blocked"`
	CreatedAt   time.Time `json:"created_at"`
}

// BudgetRemaining is the amount the team can still commit to bids.
func (t *Team) BudgetRemaining() int64 {
	return t.BudgetTotal - t.BudgetSpent
}
