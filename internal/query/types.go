package query

import (
	"errors"
	"time"
)

var ErrNoPosition = errors.New("query: no position")

// StrategyStatus is one strategy's allocation view.
type StrategyStatus struct {
	ID           string    `json:"id"`
	TargetBps    int64     `json:"target_bps"`
	CurrentBps   int64     `json:"current_bps"`
	CurrentValue int64     `json:"current_value"`
	LastValuedAt time.Time `json:"last_valued_at,omitempty"`
}

// VaultStatus is the read view of one vault.
type VaultStatus struct {
	VaultID     string           `json:"vault_id"`
	View        View             `json:"view"`
	TotalAssets int64            `json:"total_assets"`
	TotalShares int64            `json:"total_shares"`
	SharePrice  int64            `json:"share_price"`
	IdleAssets  int64            `json:"idle_assets"`
	Strategies  []StrategyStatus `json:"strategies,omitempty"`
	Block       uint64           `json:"block"`
	Sequence    int64            `json:"sequence"`
	StateHash   string           `json:"state_hash"`
	Halted      bool             `json:"halted"`
	Stale       bool             `json:"stale"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// PositionStatus is the read view of one holder's stake.
type PositionStatus struct {
	User           string    `json:"user"`
	VaultID        string    `json:"vault_id"`
	Shares         int64     `json:"shares"`
	CostBasis      int64     `json:"cost_basis"`
	MarketValue    int64     `json:"market_value"`
	UnrealizedPnL  int64     `json:"unrealized_pnl"`
	RealizedPnL    int64     `json:"realized_pnl"`
	TotalDeposited int64     `json:"total_deposited"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	FirstDepositAt time.Time `json:"first_deposit_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}
