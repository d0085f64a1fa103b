// Package fault defines the reconciliation fault surface. A fault marks a
// mutation that was rejected to protect financial state: the prior state is
// retained and the affected vault halts until an operator acknowledges.
package fault

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"vaultcore/internal/event"
)

// Kind classifies consistency faults
type Kind int32

const (
	KindUnknown Kind = iota
	KindNegativeAssets
	KindNegativeShares
	KindAllocationSum
	KindOutOfOrder
	KindInsufficientShares
	KindUnknownEvent
	KindOverflow
)

func (k Kind) String() string {
	switch k {
	case KindNegativeAssets:
		return "NegativeAssets"
	case KindNegativeShares:
		return "NegativeShares"
	case KindAllocationSum:
		return "AllocationSum"
	case KindOutOfOrder:
		return "OutOfOrder"
	case KindInsufficientShares:
		return "InsufficientShares"
	case KindUnknownEvent:
		return "UnknownEvent"
	case KindOverflow:
		return "Overflow"
	default:
		return "Unknown"
	}
}

// KindFromString parses the stored kind name.
func KindFromString(s string) Kind {
	switch s {
	case "NegativeAssets":
		return KindNegativeAssets
	case "NegativeShares":
		return KindNegativeShares
	case "AllocationSum":
		return KindAllocationSum
	case "OutOfOrder":
		return KindOutOfOrder
	case "InsufficientShares":
		return KindInsufficientShares
	case "UnknownEvent":
		return KindUnknownEvent
	case "Overflow":
		return KindOverflow
	default:
		return KindUnknown
	}
}

// Fault is surfaced on the fault channel whenever an invariant violation is
// detected. It implements error so fold functions can return it directly.
type Fault struct {
	FaultID    uuid.UUID
	Vault      string
	Kind       Kind
	EventID    event.ID
	Detail     string
	ObservedAt time.Time
}

func New(vault string, kind Kind, eventID event.ID, detail string) *Fault {
	return &Fault{
		FaultID:    uuid.New(),
		Vault:      vault,
		Kind:       kind,
		EventID:    eventID,
		Detail:     detail,
		ObservedAt: time.Now().UTC(),
	}
}

func (f *Fault) Error() string {
	return fmt.Sprintf("consistency fault %s vault=%s event=%s: %s",
		f.Kind, f.Vault, f.EventID.Key(), f.Detail)
}

// AsFault unwraps an error into a *Fault if it is one.
func AsFault(err error) (*Fault, bool) {
	f, ok := err.(*Fault)
	return f, ok
}
