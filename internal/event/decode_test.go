package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodePayload(t *testing.T) {
	in := &Deposit{
		Meta: Meta{
			Vault: "vault-1", ChainID: 1, BlockNumber: 100,
			BlockHash: "0xb", LogIndex: 2, TxHash: "0xt",
			Timestamp: time.Unix(1_700_000_000, 0).UTC(),
		},
		User: "alice", Assets: 1000, Shares: 998,
	}
	payload, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	out, err := DecodePayload(KindDeposit, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	dep, ok := out.(*Deposit)
	if !ok {
		t.Fatalf("decoded %T, want *Deposit", out)
	}
	if dep.User != "alice" || dep.Assets != 1000 || dep.IdempotencyKey() != in.IdempotencyKey() {
		t.Errorf("decoded %+v, want %+v", dep, in)
	}
	if dep.Ordinal() != in.Ordinal() {
		t.Errorf("ordinal got %s, want %s", dep.Ordinal(), in.Ordinal())
	}
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	if _, err := DecodePayload(KindUnknown, []byte(`{}`)); err == nil {
		t.Error("unknown kind decoded")
	}
}
