package ingestion

import (
	"strings"
	"testing"
	"time"

	"vaultcore/internal/event"
)

const sampleBlock = `{
	"chain_id": 1,
	"number": 18000000,
	"hash": "0xhead",
	"parent_hash": "0xparent",
	"timestamp": 1700000000,
	"logs": [
		{
			"vault": "vault-1",
			"log_index": 3,
			"tx_hash": "0xt1",
			"event": "Deposit",
			"args": {"user": "0xalice", "assets": "1000000", "shares": "998000"}
		},
		{
			"vault": "vault-1",
			"log_index": 4,
			"tx_hash": "0xt1",
			"event": "ShareTransfer",
			"args": {"from": "0x0000000000000000000000000000000000000000", "to": "0xalice", "shares": "998000"}
		},
		{
			"vault": "vault-2",
			"log_index": 7,
			"tx_hash": "0xt2",
			"event": "AllocationUpdated",
			"args": {"targets": [{"strategy": "aave", "target_bps": 6000}, {"strategy": "compound", "target_bps": 4000}]}
		}
	]
}`

func TestParseBlock(t *testing.T) {
	chainID, block, err := ParseBlock([]byte(sampleBlock))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if chainID != 1 || block.Number != 18000000 || block.Hash != "0xhead" || block.ParentHash != "0xparent" {
		t.Errorf("block header got chain=%d %d/%s/%s", chainID, block.Number, block.Hash, block.ParentHash)
	}
	// The mint-leg transfer is dropped, leaving the deposit and the
	// allocation update.
	if len(block.Events) != 2 {
		t.Fatalf("events got %d, want 2", len(block.Events))
	}

	dep, ok := block.Events[0].(*event.Deposit)
	if !ok {
		t.Fatalf("event 0 is %T, want *event.Deposit", block.Events[0])
	}
	if dep.User != "0xalice" || dep.Assets != 1_000_000 || dep.Shares != 998_000 {
		t.Errorf("deposit got %+v", dep)
	}
	if dep.IdempotencyKey() != "1:0xt1:3" {
		t.Errorf("idempotency key got %s, want 1:0xt1:3", dep.IdempotencyKey())
	}
	if !dep.Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp got %s", dep.Timestamp)
	}

	alloc, ok := block.Events[1].(*event.AllocationUpdated)
	if !ok {
		t.Fatalf("event 1 is %T, want *event.AllocationUpdated", block.Events[1])
	}
	if len(alloc.Targets) != 2 || alloc.SumBps() != 10_000 {
		t.Errorf("allocation got %+v", alloc.Targets)
	}
}

func TestParseBlockRejectsUnknownEvent(t *testing.T) {
	body := strings.Replace(sampleBlock, `"event": "Deposit"`, `"event": "Rebase"`, 1)
	if _, _, err := ParseBlock([]byte(body)); err == nil || !strings.Contains(err.Error(), "unknown event") {
		t.Errorf("got err %v, want unknown event", err)
	}
}

func TestParseBlockRejectsBadAmount(t *testing.T) {
	body := strings.Replace(sampleBlock, `"assets": "1000000"`, `"assets": "1e6"`, 1)
	if _, _, err := ParseBlock([]byte(body)); err == nil {
		t.Error("non-integer amount accepted")
	}
}

func TestParseValuation(t *testing.T) {
	body := `{"vault_id": "vault-1", "strategy_id": "aave", "value_usd": "1250.75", "slippage_bps": 15, "observed_at": 1700000100}`
	v, slippage, err := ParseValuation([]byte(body), 6)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if v.VaultID != "vault-1" || v.StrategyID != "aave" || v.Value != 1_250_750_000 {
		t.Errorf("valuation got %+v", v)
	}
	if slippage != 15 {
		t.Errorf("slippage got %d, want 15", slippage)
	}
	if !v.ObservedAt.Equal(time.Unix(1_700_000_100, 0)) {
		t.Errorf("observed at got %s", v.ObservedAt)
	}
}

func TestParseValuationRejectsNegative(t *testing.T) {
	body := `{"vault_id": "v", "strategy_id": "s", "value_usd": "-5", "observed_at": 1700000100}`
	if _, _, err := ParseValuation([]byte(body), 6); err == nil {
		t.Error("negative valuation accepted")
	}
}
