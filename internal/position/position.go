// Package position tracks per-holder share balances and profit attribution
// using average-cost basis accounting.
package position

import (
	"time"

	"vaultcore/internal/event"
	"vaultcore/internal/math"
)

// Position is one holder's stake in one vault. CostBasis is the average-cost
// dollar amount attributed to the currently held shares; it shrinks
// proportionally on every reduction and reaches exactly zero on a full exit.
type Position struct {
	User    string
	VaultID string

	Shares    int64
	CostBasis int64

	// Lifetime flow totals. Transfers between holders do not touch these.
	TotalDeposited int64
	TotalWithdrawn int64

	RealizedPnL int64

	FirstDepositAt time.Time
	LastActivityAt time.Time

	// Ordering key of the last event applied to this position.
	LastApplied event.Ordinal
}

// UnrealizedPnL marks the held shares to the given share price and subtracts
// the cost basis.
func (p *Position) UnrealizedPnL(sharePrice int64) int64 {
	return math.SharesToAssets(p.Shares, sharePrice) - p.CostBasis
}

// Clone returns a copy of the position.
func (p *Position) Clone() *Position {
	out := *p
	return &out
}

func (p *Position) acquire(shares, cost int64, at time.Time, ord event.Ordinal) {
	p.Shares += shares
	p.CostBasis += cost
	if p.FirstDepositAt.IsZero() {
		p.FirstDepositAt = at
	}
	p.touch(at, ord)
}

// release reduces the position by shares against proceeds, returning the
// realized profit or loss for this reduction.
func (p *Position) release(shares, proceeds int64, at time.Time, ord event.Ordinal) int64 {
	reduction := math.ProportionalReduction(p.CostBasis, shares, p.Shares)
	p.Shares -= shares
	p.CostBasis -= reduction
	p.touch(at, ord)

	realized := proceeds - reduction
	p.RealizedPnL += realized
	return realized
}

func (p *Position) touch(at time.Time, ord event.Ordinal) {
	p.LastActivityAt = at
	p.LastApplied = ord
}
