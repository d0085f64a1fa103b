package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/ingestor"
	"vaultcore/internal/observability"
)

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

func newTestSupervisor() *Supervisor {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sup := NewSupervisor(metrics, zerolog.Nop())
	sup.AddChain(ingestor.ChainConfig{ChainID: 1, FinalityDepth: 2, ReorgWindow: 8})

	persist := make(chan event.Envelope, 256)
	faults := make(chan *fault.Fault, 16)
	go func() { // tests here never fault; drain to be safe
		for range faults {
		}
	}()
	for _, vault := range []string{"vault-a", "vault-b"} {
		sup.AddEngine(NewEngine(
			EngineConfig{VaultID: vault, ChainID: 1, ReorgWindow: 8},
			nil, persist, faults, metrics, zerolog.Nop(),
		))
	}
	return sup
}

func TestSupervisorRoutesByVault(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	err := sup.IngestBlock(ctx, 1, ingestor.Block{
		Number: 100, Hash: "a",
		Events: []event.ChainEvent{
			deposit("vault-a", 100, 0, "alice", 1000, 1000),
			deposit("vault-b", 100, 1, "bob", 400, 400),
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	waitFor(t, func() bool {
		a, _ := sup.Head("vault-a")
		b, _ := sup.Head("vault-b")
		return a.Ledger.TotalAssets == 1000 && b.Ledger.TotalAssets == 400
	})

	a, _ := sup.Head("vault-a")
	if a.Book.Get("bob") != nil {
		t.Error("vault-a received vault-b's event")
	}
}

func TestSupervisorSurfacesTrackerErrors(t *testing.T) {
	sup := newTestSupervisor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	if err := sup.IngestBlock(ctx, 1, ingestor.Block{Number: 100, Hash: "a"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	err := sup.IngestBlock(ctx, 1, ingestor.Block{Number: 105, Hash: "f", ParentHash: "e"})
	if !errors.Is(err, ingestor.ErrGap) {
		t.Errorf("got err %v, want ErrGap", err)
	}

	if err := sup.IngestBlock(ctx, 99, ingestor.Block{Number: 1, Hash: "x"}); err == nil {
		t.Error("unknown chain accepted")
	}
	if _, err := sup.Head("vault-z"); !errors.Is(err, ErrUnknownVault) {
		t.Errorf("got err %v, want ErrUnknownVault", err)
	}
}
