// Package planner produces rebalance plans that move vault capital toward
// its target allocation. Plans are advisory: execution happens elsewhere,
// so every plan carries an expiry and can be cancelled while still pending.
package planner

import (
	"time"

	"github.com/google/uuid"
)

// Status of a plan over its lifetime.
type Status int32

const (
	StatusActive Status = iota
	StatusCancelled
	StatusExecuted
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusCancelled:
		return "Cancelled"
	case StatusExecuted:
		return "Executed"
	default:
		return "Unknown"
	}
}

// Move shifts Amount base units between two legs. A nil endpoint is the
// vault's idle cash buffer rather than a strategy.
type Move struct {
	From                 *string
	To                   *string
	Amount               int64
	EstimatedSlippageBps int64
}

// Exclusion records a strategy left out of a plan and why.
type Exclusion struct {
	Strategy string
	Reason   string
}

// Plan is one rebalance proposal for a vault at a point in time.
type Plan struct {
	PlanID      uuid.UUID
	VaultID     string
	GeneratedAt time.Time
	ExpiresAt   time.Time

	Moves []Move

	// Worst estimated slippage among the moves.
	EstimatedSlippageBps int64

	Excluded []Exclusion

	Status Status
}

// Empty reports whether the plan proposes no moves.
func (p *Plan) Empty() bool {
	return len(p.Moves) == 0
}

// Expired reports whether the plan should no longer be executed.
func (p *Plan) Expired(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// Cancel marks a still-pending plan as cancelled. Cancelling an executed
// plan is a no-op; the ledger does not roll back.
func (p *Plan) Cancel() bool {
	if p.Status != StatusActive {
		return false
	}
	p.Status = StatusCancelled
	return true
}
