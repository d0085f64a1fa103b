package planner

import (
	"context"
	"testing"
	"time"

	"vaultcore/internal/ledger"
)

var testCfg = Config{
	DriftToleranceBps: 100,
	MaxSlippageBps:    50,
	Validity:          15 * time.Minute,
}

func testNow() time.Time {
	return time.Unix(1_700_000_000, 0)
}

func vaultWith(total int64, strategies ...ledger.StrategyState) *ledger.VaultState {
	s := ledger.NewVaultState("vault-1")
	s.TotalAssets = total
	s.TotalShares = total
	s.Strategies = append(s.Strategies, strategies...)
	return s
}

func strategyName(s *string) string {
	if s == nil {
		return "idle"
	}
	return *s
}

func TestBuildPlanSingleMove(t *testing.T) {
	// 70/30 actual against a 50/50 target on 1000 total.
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 5000, CurrentValue: 700},
		ledger.StrategyState{ID: "compound", TargetBps: 5000, CurrentValue: 300},
	)

	plan, err := BuildPlan(context.Background(), state, nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Moves) != 1 {
		t.Fatalf("moves got %d, want 1", len(plan.Moves))
	}
	m := plan.Moves[0]
	if strategyName(m.From) != "aave" || strategyName(m.To) != "compound" || m.Amount != 200 {
		t.Errorf("move got %s->%s %d, want aave->compound 200",
			strategyName(m.From), strategyName(m.To), m.Amount)
	}
	if plan.Expired(testNow().Add(14 * time.Minute)) {
		t.Error("plan expired before validity elapsed")
	}
	if !plan.Expired(testNow().Add(15 * time.Minute)) {
		t.Error("plan still valid after expiry")
	}
}

func TestBuildPlanWithinToleranceIsEmpty(t *testing.T) {
	// 50.5/49.5 against 50/50 with 100 bps tolerance: leave it alone.
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 5000, CurrentValue: 505},
		ledger.StrategyState{ID: "compound", TargetBps: 5000, CurrentValue: 495},
	)
	plan, err := BuildPlan(context.Background(), state, nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("moves got %d, want none", len(plan.Moves))
	}
}

func TestBuildPlanDeploysIdleCash(t *testing.T) {
	// Fresh deposit sitting idle against a 50/30 target with a 20% cash
	// buffer. Idle is the source for both strategies.
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 5000},
		ledger.StrategyState{ID: "compound", TargetBps: 3000},
	)

	plan, err := BuildPlan(context.Background(), state, nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Moves) != 2 {
		t.Fatalf("moves got %d, want 2", len(plan.Moves))
	}
	// Largest deficit first.
	if m := plan.Moves[0]; m.From != nil || strategyName(m.To) != "aave" || m.Amount != 500 {
		t.Errorf("move 0 got %s->%s %d, want idle->aave 500",
			strategyName(m.From), strategyName(m.To), m.Amount)
	}
	if m := plan.Moves[1]; m.From != nil || strategyName(m.To) != "compound" || m.Amount != 300 {
		t.Errorf("move 1 got %s->%s %d, want idle->compound 300",
			strategyName(m.From), strategyName(m.To), m.Amount)
	}
}

func TestBuildPlanDrainsToIdle(t *testing.T) {
	// Targets leave 40% for cash but everything is deployed.
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 6000, CurrentValue: 1000},
	)
	plan, err := BuildPlan(context.Background(), state, nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Moves) != 1 {
		t.Fatalf("moves got %d, want 1", len(plan.Moves))
	}
	if m := plan.Moves[0]; strategyName(m.From) != "aave" || m.To != nil || m.Amount != 400 {
		t.Errorf("move got %s->%s %d, want aave->idle 400",
			strategyName(m.From), strategyName(m.To), m.Amount)
	}
}

func TestBuildPlanExcludesHighSlippage(t *testing.T) {
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 5000, CurrentValue: 700},
		ledger.StrategyState{ID: "compound", TargetBps: 5000, CurrentValue: 300},
	)
	slippage := map[string]int64{"compound": 80} // above the 50 bps bound

	plan, err := BuildPlan(context.Background(), state, slippage, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Excluded) != 1 || plan.Excluded[0].Strategy != "compound" {
		t.Fatalf("excluded got %+v, want compound", plan.Excluded)
	}
	// aave's surplus still drains, but only idle can take it.
	if len(plan.Moves) != 1 {
		t.Fatalf("moves got %d, want 1", len(plan.Moves))
	}
	if m := plan.Moves[0]; strategyName(m.From) != "aave" || m.To != nil {
		t.Errorf("move got %s->%s, want aave->idle", strategyName(m.From), strategyName(m.To))
	}
}

func TestBuildPlanGreedyPairing(t *testing.T) {
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 2500, CurrentValue: 600},
		ledger.StrategyState{ID: "compound", TargetBps: 2500, CurrentValue: 400},
		ledger.StrategyState{ID: "morpho", TargetBps: 2500, CurrentValue: 0},
		ledger.StrategyState{ID: "spark", TargetBps: 2500, CurrentValue: 0},
	)
	plan, err := BuildPlan(context.Background(), state, nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// Largest surplus (aave, 350) first feeds the larger deficits in
	// deterministic order, then compound covers the rest.
	want := []struct {
		from, to string
		amount   int64
	}{
		{"aave", "morpho", 250},
		{"compound", "spark", 150},
		{"aave", "spark", 100},
	}
	if len(plan.Moves) != len(want) {
		t.Fatalf("moves got %d, want %d: %+v", len(plan.Moves), len(want), plan.Moves)
	}
	for i, w := range want {
		m := plan.Moves[i]
		if strategyName(m.From) != w.from || strategyName(m.To) != w.to || m.Amount != w.amount {
			t.Errorf("move %d got %s->%s %d, want %s->%s %d",
				i, strategyName(m.From), strategyName(m.To), m.Amount, w.from, w.to, w.amount)
		}
	}
}

func TestBuildPlanCancellable(t *testing.T) {
	state := vaultWith(1000,
		ledger.StrategyState{ID: "aave", TargetBps: 5000, CurrentValue: 1000},
		ledger.StrategyState{ID: "compound", TargetBps: 5000},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BuildPlan(ctx, state, nil, testCfg, testNow()); err != context.Canceled {
		t.Errorf("got err %v, want context.Canceled", err)
	}
}

func TestBuildPlanEmptyVault(t *testing.T) {
	plan, err := BuildPlan(context.Background(), ledger.NewVaultState("vault-1"), nil, testCfg, testNow())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("moves got %d, want none", len(plan.Moves))
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{DriftToleranceBps: -1, MaxSlippageBps: 50, Validity: time.Minute},
		{DriftToleranceBps: 100, MaxSlippageBps: -1, Validity: time.Minute},
		{DriftToleranceBps: 100, MaxSlippageBps: 50},
	}
	for i, cfg := range bad {
		if _, err := BuildPlan(context.Background(), ledger.NewVaultState("v"), nil, cfg, testNow()); err == nil {
			t.Errorf("config %d accepted", i)
		}
	}
}

func TestPlanCancel(t *testing.T) {
	p := &Plan{Status: StatusActive}
	if !p.Cancel() {
		t.Error("active plan not cancellable")
	}
	if p.Status != StatusCancelled {
		t.Errorf("status got %s, want Cancelled", p.Status)
	}
	if p.Cancel() {
		t.Error("cancelled plan cancelled twice")
	}
	executed := &Plan{Status: StatusExecuted}
	if executed.Cancel() {
		t.Error("executed plan cancelled")
	}
}
