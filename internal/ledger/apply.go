package ledger

import (
	"fmt"
	"time"

	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/math"
)

// Apply folds a single chain event into the vault state and returns the new
// state. The input state is never mutated. A returned *fault.Fault means the
// event violated a consistency invariant and must not be applied; the caller
// keeps the prior state and halts the vault.
func Apply(s *VaultState, evt event.ChainEvent) (*VaultState, error) {
	ord := evt.Ordinal()
	if !s.LastApplied.Less(ord) && (s.LastApplied != event.Ordinal{}) {
		return nil, fault.New(s.VaultID, fault.KindOutOfOrder, evt.ID(),
			fmt.Sprintf("ordinal %d:%d not after %d:%d",
				ord.BlockNumber, ord.LogIndex,
				s.LastApplied.BlockNumber, s.LastApplied.LogIndex))
	}

	next := s.Clone()
	next.LastApplied = ord

	switch e := evt.(type) {
	case *event.Deposit:
		if e.Assets < 0 || e.Shares < 0 {
			return nil, fault.New(s.VaultID, fault.KindNegativeAssets, evt.ID(),
				fmt.Sprintf("negative deposit assets=%d shares=%d", e.Assets, e.Shares))
		}
		if next.TotalAssets+e.Assets < next.TotalAssets || next.TotalShares+e.Shares < next.TotalShares {
			return nil, fault.New(s.VaultID, fault.KindOverflow, evt.ID(),
				fmt.Sprintf("deposit assets=%d shares=%d overflows totals %d/%d",
					e.Assets, e.Shares, next.TotalAssets, next.TotalShares))
		}
		next.TotalAssets += e.Assets
		next.TotalShares += e.Shares

	case *event.Withdraw:
		if e.Assets < 0 || e.Shares < 0 {
			return nil, fault.New(s.VaultID, fault.KindNegativeAssets, evt.ID(),
				fmt.Sprintf("negative withdraw assets=%d shares=%d", e.Assets, e.Shares))
		}
		if e.Shares > next.TotalShares {
			return nil, fault.New(s.VaultID, fault.KindNegativeShares, evt.ID(),
				fmt.Sprintf("withdraw shares %d exceeds total %d", e.Shares, next.TotalShares))
		}
		if e.Assets > next.TotalAssets {
			return nil, fault.New(s.VaultID, fault.KindNegativeAssets, evt.ID(),
				fmt.Sprintf("withdraw assets %d exceeds total %d", e.Assets, next.TotalAssets))
		}
		next.TotalAssets -= e.Assets
		next.TotalShares -= e.Shares

	case *event.ShareTransfer:
		// Transfers move shares between holders without touching totals.
		// Position accounting handles the per-user effects.

	case *event.AllocationUpdated:
		if err := next.applyAllocation(e); err != nil {
			return nil, err
		}

	default:
		return nil, fault.New(s.VaultID, fault.KindUnknownEvent, evt.ID(),
			fmt.Sprintf("unhandled event kind %s", evt.Kind()))
	}

	return next, nil
}

func (s *VaultState) applyAllocation(e *event.AllocationUpdated) error {
	var sum int64
	for _, t := range e.Targets {
		if t.TargetBps < 0 {
			return fault.New(s.VaultID, fault.KindAllocationSum, e.ID(),
				fmt.Sprintf("strategy %s negative target %d", t.Strategy, t.TargetBps))
		}
		sum += t.TargetBps
	}
	if sum > math.FullBps {
		return fault.New(s.VaultID, fault.KindAllocationSum, e.ID(),
			fmt.Sprintf("allocation targets sum to %d bps", sum))
	}

	targeted := make(map[string]int64, len(e.Targets))
	for _, t := range e.Targets {
		targeted[t.Strategy] = t.TargetBps
		s.upsertStrategy(t.Strategy).TargetBps = t.TargetBps
	}

	// Strategies dropped from the target set keep a zero target while they
	// still hold value, so the planner can wind them down. Fully drained
	// ones are removed.
	kept := s.Strategies[:0]
	for _, st := range s.Strategies {
		if _, ok := targeted[st.ID]; ok {
			kept = append(kept, st)
			continue
		}
		if st.CurrentValue != 0 {
			st.TargetBps = 0
			kept = append(kept, st)
		}
	}
	s.Strategies = kept
	return nil
}

// SeedTargets installs operator-configured target weights on a fresh state.
// The same sum bound applies as for on-chain allocation updates; a later
// AllocationUpdated event or a restored snapshot replaces the seeds
// wholesale.
func (s *VaultState) SeedTargets(targets []event.TargetAllocation) error {
	var sum int64
	for _, t := range targets {
		if t.TargetBps < 0 {
			return fmt.Errorf("ledger: strategy %s seed target %d is negative", t.Strategy, t.TargetBps)
		}
		sum += t.TargetBps
	}
	if sum > math.FullBps {
		return fmt.Errorf("ledger: seed targets sum to %d bps", sum)
	}
	for _, t := range targets {
		s.upsertStrategy(t.Strategy).TargetBps = t.TargetBps
	}
	return nil
}

// Valuation is an off-chain observation of a strategy's current value.
type Valuation struct {
	VaultID    string
	StrategyID string
	Value      int64
	ObservedAt time.Time
}

// ApplyValuation updates one strategy's current value and moves total assets
// by the delta, so unrealized gains and losses flow into the share price.
// The impairment flag reports a markdown relative to the previous value.
func ApplyValuation(s *VaultState, v Valuation) (*VaultState, bool, error) {
	if v.Value < 0 {
		return nil, false, fmt.Errorf("valuation for %s/%s is negative: %d",
			v.VaultID, v.StrategyID, v.Value)
	}
	if !v.ObservedAt.After(time.Time{}) {
		return nil, false, fmt.Errorf("valuation for %s/%s has zero timestamp",
			v.VaultID, v.StrategyID)
	}

	next := s.Clone()
	st := next.upsertStrategy(v.StrategyID)
	if !st.LastValuedAt.IsZero() && v.ObservedAt.Before(st.LastValuedAt) {
		return nil, false, fmt.Errorf("stale valuation for %s/%s: observed %s before %s",
			v.VaultID, v.StrategyID, v.ObservedAt.Format(time.RFC3339), st.LastValuedAt.Format(time.RFC3339))
	}

	prev := st.CurrentValue
	st.CurrentValue = v.Value
	st.LastValuedAt = v.ObservedAt
	next.TotalAssets += v.Value - prev

	return next, v.Value < prev, nil
}
