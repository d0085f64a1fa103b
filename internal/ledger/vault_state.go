// Package ledger holds the vault-level accounting fold. State transitions are
// pure functions of (state, event) so the same event log always replays to the
// same state.
package ledger

import (
	"sort"
	"time"

	"vaultcore/internal/event"
	"vaultcore/internal/math"
)

// StrategyState tracks a single strategy's target weight and last known value.
type StrategyState struct {
	ID           string
	TargetBps    int64
	CurrentValue int64
	LastValuedAt time.Time
}

// VaultState is the derived accounting state of one vault. Strategies are kept
// sorted by ID so serialization and hashing are deterministic.
type VaultState struct {
	VaultID     string
	TotalAssets int64
	TotalShares int64
	Strategies  []StrategyState
	LastApplied event.Ordinal
}

func NewVaultState(vaultID string) *VaultState {
	return &VaultState{VaultID: vaultID}
}

// SharePrice returns the current share price at 1e6 scale.
func (s *VaultState) SharePrice() int64 {
	return math.SharePrice(s.TotalAssets, s.TotalShares)
}

// DeployedValue is the sum of all strategy values.
func (s *VaultState) DeployedValue() int64 {
	var sum int64
	for i := range s.Strategies {
		sum += s.Strategies[i].CurrentValue
	}
	return sum
}

// Idle returns the portion of total assets not deployed to any strategy. It
// can go transiently negative between a withdrawal and the next valuation
// snapshot; callers that need a spendable amount clamp at zero themselves.
func (s *VaultState) Idle() int64 {
	return s.TotalAssets - s.DeployedValue()
}

// CurrentBps returns the strategy's share of total assets in basis points,
// or 0 when the vault is empty.
func (s *VaultState) CurrentBps(strategyID string) int64 {
	st := s.Strategy(strategyID)
	if st == nil || s.TotalAssets <= 0 {
		return 0
	}
	return math.ValueToBps(st.CurrentValue, s.TotalAssets)
}

// Strategy returns the strategy with the given ID, or nil.
func (s *VaultState) Strategy(id string) *StrategyState {
	for i := range s.Strategies {
		if s.Strategies[i].ID == id {
			return &s.Strategies[i]
		}
	}
	return nil
}

// Clone returns a deep copy. Folds operate on clones so a rejected event
// never leaves partial mutations behind.
func (s *VaultState) Clone() *VaultState {
	out := *s
	out.Strategies = make([]StrategyState, len(s.Strategies))
	copy(out.Strategies, s.Strategies)
	return &out
}

func (s *VaultState) sortStrategies() {
	sort.Slice(s.Strategies, func(i, j int) bool {
		return s.Strategies[i].ID < s.Strategies[j].ID
	})
}

func (s *VaultState) upsertStrategy(id string) *StrategyState {
	if st := s.Strategy(id); st != nil {
		return st
	}
	s.Strategies = append(s.Strategies, StrategyState{ID: id})
	s.sortStrategies()
	return s.Strategy(id)
}
