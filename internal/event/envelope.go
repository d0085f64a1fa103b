package event

import (
	"fmt"
	"time"
)

// Kind discriminator for event payloads
type Kind int32

const (
	KindUnknown Kind = iota
	KindDeposit
	KindWithdraw
	KindShareTransfer
	KindAllocationUpdated
)

// ID uniquely identifies a chain event across all chains.
// Per the contract log model, (chain_id, tx_hash, log_index) is unique.
type ID struct {
	ChainID  int64
	TxHash   string
	LogIndex uint32
}

// Key returns the stable idempotency key for this event.
func (id ID) Key() string {
	return fmt.Sprintf("%d:%s:%d", id.ChainID, id.TxHash, id.LogIndex)
}

// Ordinal is the total ordering key within one chain.
// Ties are impossible within a single chain by construction.
type Ordinal struct {
	BlockNumber uint64
	LogIndex    uint32
}

func (o Ordinal) Less(other Ordinal) bool {
	if o.BlockNumber != other.BlockNumber {
		return o.BlockNumber < other.BlockNumber
	}
	return o.LogIndex < other.LogIndex
}

func (o Ordinal) String() string {
	return fmt.Sprintf("%d:%d", o.BlockNumber, o.LogIndex)
}

// Meta carries the chain context common to every event payload.
type Meta struct {
	Vault       string
	ChainID     int64
	BlockNumber uint64
	BlockHash   string
	LogIndex    uint32
	TxHash      string
	Timestamp   time.Time // versioned input timestamp (NOT wall-clock)
}

func (m Meta) ID() ID {
	return ID{ChainID: m.ChainID, TxHash: m.TxHash, LogIndex: m.LogIndex}
}

// IdempotencyKey returns the stable dedup key
func (m Meta) IdempotencyKey() string {
	return m.ID().Key()
}

func (m Meta) Ordinal() Ordinal {
	return Ordinal{BlockNumber: m.BlockNumber, LogIndex: m.LogIndex}
}

func (m Meta) VaultID() string {
	return m.Vault
}

func (m Meta) Block() (uint64, string) {
	return m.BlockNumber, m.BlockHash
}

func (m Meta) Time() time.Time {
	return m.Timestamp
}

// ChainEvent is the interface all event payloads must implement
type ChainEvent interface {
	// IdempotencyKey returns the stable dedup key derived from
	// (chain_id, tx_hash, log_index).
	IdempotencyKey() string

	// ID returns the unique event identity.
	ID() ID

	// Kind returns the discriminator
	Kind() Kind

	// VaultID returns the vault this event belongs to.
	VaultID() string

	// Ordinal returns the (block_number, log_index) ordering key.
	Ordinal() Ordinal

	// Block returns the containing block's number and hash.
	Block() (uint64, string)

	// Time returns the block timestamp.
	Time() time.Time
}

// Envelope wraps every event accepted into a vault's log
type Envelope struct {
	// Per-vault monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from the event identity
	IdempotencyKey string

	Kind  Kind
	Vault string

	BlockNumber uint64
	BlockHash   string
	LogIndex    uint32
	TxHash      string
	ChainID     int64

	// Block timestamp (versioned input)
	Timestamp time.Time

	// Whether the containing block has reached finality depth
	Finalized bool

	// The typed payload
	Event ChainEvent
}

func (k Kind) String() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdraw:
		return "Withdraw"
	case KindShareTransfer:
		return "ShareTransfer"
	case KindAllocationUpdated:
		return "AllocationUpdated"
	default:
		return "Unknown"
	}
}

// KindFromString parses the wire event name.
func KindFromString(s string) Kind {
	switch s {
	case "Deposit":
		return KindDeposit
	case "Withdraw":
		return KindWithdraw
	case "ShareTransfer":
		return KindShareTransfer
	case "AllocationUpdated":
		return KindAllocationUpdated
	default:
		return KindUnknown
	}
}
