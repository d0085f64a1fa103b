package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"vaultcore/internal/event"
)

// StateHash chains a SHA-256 digest over every applied envelope, so two
// replicas that processed the same log in the same order carry the same
// hash. Any divergence in event content or ordering shows up immediately.
type StateHash [sha256.Size]byte

func (h StateHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// ParseStateHash decodes the hex form produced by Hex.
func ParseStateHash(s string) (StateHash, error) {
	var out StateHash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("core: bad state hash %q: %w", s, err)
	}
	if len(raw) != sha256.Size {
		return out, fmt.Errorf("core: state hash %q has %d bytes, want %d", s, len(raw), sha256.Size)
	}
	copy(out[:], raw)
	return out, nil
}

// hashInput is the subset of an envelope that determines state transitions.
type hashInput struct {
	Sequence       int64
	IdempotencyKey string
	Kind           int32
	BlockNumber    uint64
	LogIndex       uint32
	Payload        string
}

// canonicalPayload serializes the state-bearing fields of an event into a
// stable string, so the hash chain also covers amounts, not just identity
// and order.
func canonicalPayload(evt event.ChainEvent) string {
	switch e := evt.(type) {
	case *event.Deposit:
		return fmt.Sprintf("deposit|%s|%d|%d", e.User, e.Assets, e.Shares)
	case *event.Withdraw:
		return fmt.Sprintf("withdraw|%s|%d|%d", e.User, e.Assets, e.Shares)
	case *event.ShareTransfer:
		return fmt.Sprintf("transfer|%s|%s|%d", e.From, e.To, e.Shares)
	case *event.AllocationUpdated:
		parts := make([]string, 0, len(e.Targets)+1)
		parts = append(parts, "allocation")
		for _, t := range e.Targets {
			parts = append(parts, fmt.Sprintf("%s=%d", t.Strategy, t.TargetBps))
		}
		return strings.Join(parts, "|")
	default:
		return evt.Kind().String()
	}
}

// NextStateHash advances the hash chain by one envelope.
func NextStateHash(prev StateHash, in hashInput) StateHash {
	var buf [8]byte
	h := sha256.New()
	h.Write(prev[:])

	binary.BigEndian.PutUint64(buf[:], uint64(in.Sequence))
	h.Write(buf[:])
	h.Write([]byte(in.IdempotencyKey))
	binary.BigEndian.PutUint32(buf[:4], uint32(in.Kind))
	h.Write(buf[:4])
	binary.BigEndian.PutUint64(buf[:], in.BlockNumber)
	h.Write(buf[:])
	binary.BigEndian.PutUint32(buf[:4], in.LogIndex)
	h.Write(buf[:4])
	h.Write([]byte(in.Payload))

	var out StateHash
	h.Sum(out[:0])
	return out
}
