package session

import "fmt"

// Code is a machine-readable rejection reason surfaced to callers.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeAuctionNotLive     Code = "AUCTION_NOT_LIVE"
	CodeWrongLot           Code = "WRONG_LOT"
	CodeAuctionClosed      Code = "AUCTION_CLOSED"
	CodeTeamNotFound       Code = "TEAM_NOT_FOUND"
	CodeTeamBlocked        Code = "TEAM_BLOCKED"
	CodePlayerNotFound     Code = "PLAYER_NOT_FOUND"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeBidTooLow          Code = "BID_TOO_LOW"
	CodeInsufficientBudget Code = "INSUFFICIENT_BUDGET"
	CodeLotAlreadyLive     Code = "LOT_ALREADY_LIVE"
	CodeLotNotEligible     Code = "LOT_NOT_ELIGIBLE"
	CodeAlreadySettled     Code = "ALREADY_SETTLED"
	CodeNotSold            Code = "NOT_SOLD"
	CodeNoUnsoldPlayers    Code = "NO_UNSOLD_PLAYERS"
)

// Violation is a rule rejection: the command was well formed but the
// engine's invariants refuse it. No state changes when one is returned.
type Violation struct {
	Code          Code
	Message       string
	RetryAfterSec int
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

func violationf(code Code, format string, args ...any) *Violation {
	return &Violation{Code: code, Message: fmt.Sprintf(format, args...)}
}
