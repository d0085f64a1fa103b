package ingestor

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vaultcore/internal/event"
)

func testTracker(finality uint64, window int) *Tracker {
	return NewTracker(ChainConfig{ChainID: 1, FinalityDepth: finality, ReorgWindow: window}, zerolog.Nop())
}

func depositAt(block uint64, logIndex uint32, tx string) *event.Deposit {
	return &event.Deposit{
		Meta: event.Meta{
			Vault:       "vault-1",
			ChainID:     1,
			BlockNumber: block,
			BlockHash:   fmt.Sprintf("0xb%d", block),
			LogIndex:    logIndex,
			TxHash:      tx,
			Timestamp:   time.Unix(1_700_000_000+int64(block), 0),
		},
		User:   "alice",
		Assets: 100,
		Shares: 100,
	}
}

func block(n uint64, hash, parent string, events ...event.ChainEvent) Block {
	return Block{Number: n, Hash: hash, ParentHash: parent, Events: events}
}

func mustIngest(t *testing.T, tr *Tracker, b Block) Delivery {
	t.Helper()
	d, err := tr.Ingest(b)
	if err != nil {
		t.Fatalf("ingest block %d: %v", b.Number, err)
	}
	return d
}

func TestIngestCanonicalChain(t *testing.T) {
	tr := testTracker(2, 8)

	d := mustIngest(t, tr, block(100, "a", "", depositAt(100, 0, "0xt1")))
	if len(d.Accepted) != 1 || d.Retracted {
		t.Errorf("first block got accepted=%d retracted=%v, want 1/false", len(d.Accepted), d.Retracted)
	}

	d = mustIngest(t, tr, block(101, "b", "a", depositAt(101, 0, "0xt2")))
	if len(d.Accepted) != 1 {
		t.Errorf("second block accepted got %d, want 1", len(d.Accepted))
	}
	if tr.Head() != 101 {
		t.Errorf("head got %d, want 101", tr.Head())
	}
}

func TestIngestDeduplicates(t *testing.T) {
	tr := testTracker(2, 8)
	mustIngest(t, tr, block(100, "a", "", depositAt(100, 0, "0xt1")))

	// The same event arrives again in the next block delivery.
	d := mustIngest(t, tr, block(101, "b", "a", depositAt(100, 0, "0xt1"), depositAt(101, 0, "0xt2")))
	if len(d.Accepted) != 1 {
		t.Fatalf("accepted got %d, want 1", len(d.Accepted))
	}
	if got := d.Accepted[0].IdempotencyKey(); got != "1:0xt2:0" {
		t.Errorf("accepted key got %s, want 1:0xt2:0", got)
	}
}

func TestIngestDuplicateBlockIsNoop(t *testing.T) {
	tr := testTracker(2, 8)
	mustIngest(t, tr, block(100, "a", "", depositAt(100, 0, "0xt1")))
	mustIngest(t, tr, block(101, "b", "a"))

	d := mustIngest(t, tr, block(101, "b", "a"))
	if len(d.Accepted) != 0 || d.Retracted {
		t.Errorf("redelivered block got accepted=%d retracted=%v, want 0/false", len(d.Accepted), d.Retracted)
	}
	if tr.Head() != 101 {
		t.Errorf("head got %d, want 101", tr.Head())
	}
}

func TestIngestGap(t *testing.T) {
	tr := testTracker(2, 8)
	mustIngest(t, tr, block(100, "a", ""))

	if _, err := tr.Ingest(block(102, "c", "b")); !errors.Is(err, ErrGap) {
		t.Errorf("got err %v, want ErrGap", err)
	}
	if tr.Head() != 100 {
		t.Errorf("head moved on gap: got %d, want 100", tr.Head())
	}
}

func TestIngestParentMismatch(t *testing.T) {
	tr := testTracker(2, 8)
	mustIngest(t, tr, block(100, "a", ""))

	if _, err := tr.Ingest(block(101, "b", "not-a")); !errors.Is(err, ErrParentMismatch) {
		t.Errorf("got err %v, want ErrParentMismatch", err)
	}
}

func TestIngestReorgRetracts(t *testing.T) {
	tr := testTracker(4, 8)
	mustIngest(t, tr, block(100, "a", ""))
	mustIngest(t, tr, block(101, "b", "a", depositAt(101, 0, "0xt1")))
	mustIngest(t, tr, block(102, "c", "b", depositAt(102, 0, "0xt2")))

	// A competing branch replaces blocks 101 and 102.
	d := mustIngest(t, tr, block(101, "b2", "a", depositAt(101, 0, "0xt1b")))
	if !d.Retracted || d.RetractFrom != 101 {
		t.Fatalf("got retracted=%v from=%d, want true/101", d.Retracted, d.RetractFrom)
	}
	if len(d.Accepted) != 1 || d.Accepted[0].IdempotencyKey() != "1:0xt1b:0" {
		t.Errorf("accepted got %+v, want the replacement event", d.Accepted)
	}
	if tr.Head() != 101 {
		t.Errorf("head got %d, want 101", tr.Head())
	}

	// The retracted branch's event identity is free again on the new
	// branch.
	d = mustIngest(t, tr, block(102, "c2", "b2", depositAt(102, 0, "0xt2")))
	if len(d.Accepted) != 1 {
		t.Errorf("redelivered event on new branch got accepted=%d, want 1", len(d.Accepted))
	}
}

func TestIngestReorgBelowFinalityDegrades(t *testing.T) {
	tr := testTracker(2, 16)
	for n := uint64(100); n <= 110; n++ {
		mustIngest(t, tr, block(n, fmt.Sprintf("h%d", n), fmt.Sprintf("h%d", n-1)))
	}
	if got := tr.FinalizedHeight(); got != 108 {
		t.Fatalf("finalized got %d, want 108", got)
	}

	// Replacing a finalized block is unrecoverable in place.
	_, err := tr.Ingest(block(105, "x", "h104"))
	if !errors.Is(err, ErrReorgTooDeep) {
		t.Fatalf("got err %v, want ErrReorgTooDeep", err)
	}
	if !tr.Degraded() {
		t.Error("tracker not degraded")
	}
	if _, err := tr.Ingest(block(111, "h111", "h110")); !errors.Is(err, ErrDegraded) {
		t.Errorf("degraded tracker got err %v, want ErrDegraded", err)
	}

	tr.Reset(108, "h108")
	if tr.Degraded() {
		t.Error("tracker still degraded after reset")
	}
	if _, err := tr.Ingest(block(109, "h109b", "h108")); err != nil {
		t.Errorf("ingest after reset: %v", err)
	}
}

func TestFinalizedHeightAdvances(t *testing.T) {
	tr := testTracker(3, 8)
	d := mustIngest(t, tr, block(100, "a", ""))
	if d.FinalizedHeight != 97 {
		t.Errorf("finalized got %d, want 97", d.FinalizedHeight)
	}
	mustIngest(t, tr, block(101, "b", "a"))
	d = mustIngest(t, tr, block(102, "c", "b"))
	if d.FinalizedHeight != 99 {
		t.Errorf("finalized got %d, want 99", d.FinalizedHeight)
	}
}
