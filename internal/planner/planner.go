package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"vaultcore/internal/ledger"
	"vaultcore/internal/math"
)

var (
	ErrInvalidConfig = errors.New("planner: invalid config")
)

// Config bounds plan generation.
type Config struct {
	// Allocations within this many basis points of target are left alone.
	DriftToleranceBps int64

	// Strategies whose estimated entry/exit slippage exceeds this bound
	// are excluded from moves.
	MaxSlippageBps int64

	// How long a generated plan stays executable.
	Validity time.Duration
}

func (c Config) Validate() error {
	if c.DriftToleranceBps < 0 || c.DriftToleranceBps > math.FullBps {
		return fmt.Errorf("%w: drift tolerance %d bps", ErrInvalidConfig, c.DriftToleranceBps)
	}
	if c.MaxSlippageBps < 0 {
		return fmt.Errorf("%w: max slippage %d bps", ErrInvalidConfig, c.MaxSlippageBps)
	}
	if c.Validity <= 0 {
		return fmt.Errorf("%w: validity %s", ErrInvalidConfig, c.Validity)
	}
	return nil
}

// leg is one side of the balancing problem: a strategy or the idle buffer.
type leg struct {
	strategy string // empty for idle cash
	drift    int64  // current - target, positive means over-allocated
	slippage int64
}

func (l leg) endpoint() *string {
	if l.strategy == "" {
		return nil
	}
	s := l.strategy
	return &s
}

// BuildPlan computes the moves that bring state back within drift tolerance
// of its target allocation. slippage maps strategy ID to an estimated
// entry/exit cost in basis points; strategies missing from the map are
// treated as frictionless. Moves pair the largest surplus with the largest
// deficit until every leg is within tolerance or one side runs out.
func BuildPlan(ctx context.Context, state *ledger.VaultState, slippage map[string]int64, cfg Config, now time.Time) (*Plan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plan := &Plan{
		PlanID:      uuid.New(),
		VaultID:     state.VaultID,
		GeneratedAt: now,
		ExpiresAt:   now.Add(cfg.Validity),
		Status:      StatusActive,
	}

	total := state.TotalAssets
	if total <= 0 {
		return plan, nil
	}
	toleranceValue := math.BpsOf(total, cfg.DriftToleranceBps)

	var sources, sinks []leg
	var targetSum int64
	for _, st := range state.Strategies {
		targetSum += st.TargetBps
		target := math.BpsOf(total, st.TargetBps)
		drift := st.CurrentValue - target
		if math.AbsDiff(st.CurrentValue, target) <= toleranceValue {
			continue
		}
		if s := slippage[st.ID]; s > cfg.MaxSlippageBps {
			plan.Excluded = append(plan.Excluded, Exclusion{
				Strategy: st.ID,
				Reason:   fmt.Sprintf("estimated slippage %d bps exceeds bound %d", s, cfg.MaxSlippageBps),
			})
			continue
		}
		l := leg{strategy: st.ID, drift: drift, slippage: slippage[st.ID]}
		if drift > 0 {
			sources = append(sources, l)
		} else {
			l.drift = -drift
			sinks = append(sinks, l)
		}
	}

	// Idle cash absorbs whatever the targets leave unallocated. It moves
	// without slippage and is never excluded.
	idleTarget := total - math.BpsOf(total, targetSum)
	idle := state.Idle()
	if idle < 0 {
		idle = 0
	}
	if math.AbsDiff(idle, idleTarget) > toleranceValue {
		if drift := idle - idleTarget; drift > 0 {
			sources = append(sources, leg{drift: drift})
		} else {
			sinks = append(sinks, leg{drift: -drift})
		}
	}

	sortLegs(sources)
	sortLegs(sinks)

	var worst int64
	for len(sources) > 0 && len(sinks) > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		src, dst := &sources[0], &sinks[0]
		amount := src.drift
		if dst.drift < amount {
			amount = dst.drift
		}

		moveSlip := src.slippage
		if dst.slippage > moveSlip {
			moveSlip = dst.slippage
		}
		if moveSlip > worst {
			worst = moveSlip
		}

		plan.Moves = append(plan.Moves, Move{
			From:                 src.endpoint(),
			To:                   dst.endpoint(),
			Amount:               amount,
			EstimatedSlippageBps: moveSlip,
		})

		src.drift -= amount
		dst.drift -= amount
		if src.drift == 0 {
			sources = sources[1:]
		}
		if dst.drift == 0 {
			sinks = sinks[1:]
		}
		sortLegs(sources)
		sortLegs(sinks)
	}

	// Surplus with no eligible sink left is pulled back to cash. Deficits
	// with no funding source stay unserved until the next plan.
	for _, src := range sources {
		if src.strategy == "" {
			continue
		}
		if src.slippage > worst {
			worst = src.slippage
		}
		plan.Moves = append(plan.Moves, Move{
			From:                 src.endpoint(),
			Amount:               src.drift,
			EstimatedSlippageBps: src.slippage,
		})
	}
	plan.EstimatedSlippageBps = worst

	return plan, nil
}

// sortLegs orders by descending drift, strategy ID as tiebreak so plans are
// deterministic for a given state.
func sortLegs(legs []leg) {
	sort.SliceStable(legs, func(i, j int) bool {
		if legs[i].drift != legs[j].drift {
			return legs[i].drift > legs[j].drift
		}
		return legs[i].strategy < legs[j].strategy
	})
}
