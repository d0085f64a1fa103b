package query

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"vaultcore/internal/core"
	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/ingestor"
	"vaultcore/internal/observability"
)

func buildSupervisor(t *testing.T) *core.Supervisor {
	t.Helper()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sup := core.NewSupervisor(metrics, zerolog.Nop())
	sup.AddChain(ingestor.ChainConfig{ChainID: 1, FinalityDepth: 2, ReorgWindow: 16})

	persist := make(chan event.Envelope, 256)
	faults := make(chan *fault.Fault, 16)
	go func() {
		for range faults {
		}
	}()
	sup.AddEngine(core.NewEngine(
		core.EngineConfig{VaultID: "vault-1", ChainID: 1, ReorgWindow: 16},
		nil, persist, faults, metrics, zerolog.Nop(),
	))
	return sup
}

func ingestDeposit(t *testing.T, sup *core.Supervisor, block uint64, user string, assets, shares int64) {
	t.Helper()
	err := sup.IngestBlock(context.Background(), 1, ingestor.Block{
		Number:     block,
		Hash:       fmt.Sprintf("0xb%d", block),
		ParentHash: fmt.Sprintf("0xb%d", block-1),
		Events: []event.ChainEvent{&event.Deposit{
			Meta: event.Meta{
				Vault:       "vault-1",
				ChainID:     1,
				BlockNumber: block,
				BlockHash:   fmt.Sprintf("0xb%d", block),
				TxHash:      fmt.Sprintf("0xt%d", block),
				Timestamp:   time.Unix(1_700_000_000, 0),
			},
			User: user, Assets: assets, Shares: shares,
		}},
	})
	if err != nil {
		t.Fatalf("ingest block %d: %v", block, err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestServiceViews(t *testing.T) {
	sup := buildSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	svc := NewService(sup, time.Minute)

	ingestDeposit(t, sup, 100, "alice", 1000, 1000)
	ingestDeposit(t, sup, 101, "bob", 500, 500)
	ingestDeposit(t, sup, 102, "carol", 250, 250)

	waitFor(t, func() bool {
		head, err := svc.VaultState("vault-1", ViewHead)
		return err == nil && head.TotalAssets == 1750
	})

	// Finality depth is 2, head is 102: block 100 is final.
	fin, err := svc.VaultState("vault-1", ViewFinalized)
	if err != nil {
		t.Fatalf("finalized: %v", err)
	}
	if fin.TotalAssets != 1000 || fin.Block != 100 {
		t.Errorf("finalized got assets=%d block=%d, want 1000/100", fin.TotalAssets, fin.Block)
	}

	head, _ := svc.VaultState("vault-1", ViewHead)
	if head.SharePrice != 1_000_000 {
		t.Errorf("share price got %d, want 1000000", head.SharePrice)
	}
	if head.Stale {
		t.Error("fresh snapshot flagged stale")
	}
}

func TestServicePositions(t *testing.T) {
	sup := buildSupervisor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	svc := NewService(sup, time.Minute)
	ingestDeposit(t, sup, 100, "alice", 1000, 1000)

	waitFor(t, func() bool {
		p, err := svc.Position("vault-1", "alice", ViewHead)
		return err == nil && p.Shares == 1000
	})

	p, _ := svc.Position("vault-1", "alice", ViewHead)
	if p.CostBasis != 1000 || p.UnrealizedPnL != 0 || p.MarketValue != 1000 {
		t.Errorf("position got %+v", p)
	}

	if _, err := svc.Position("vault-1", "nobody", ViewHead); err == nil {
		t.Error("missing position did not error")
	}
	// Finalized view does not include block 100 yet.
	if _, err := svc.Position("vault-1", "alice", ViewFinalized); err == nil {
		t.Error("finalized view already includes an unfinalized deposit")
	}
}

func TestParseView(t *testing.T) {
	if v, err := ParseView(""); err != nil || v != ViewFinalized {
		t.Errorf("empty view got %v/%v, want finalized", v, err)
	}
	if v, err := ParseView("head"); err != nil || v != ViewHead {
		t.Errorf("head view got %v/%v", v, err)
	}
	if _, err := ParseView("pending"); err == nil {
		t.Error("bad view accepted")
	}
}
