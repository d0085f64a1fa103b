package event

// TargetAllocation is one strategy's target weight in basis points
// (1 bps = 0.01%).
type TargetAllocation struct {
	Strategy  string
	TargetBps int64
}

// AllocationUpdated mirrors the on-chain allocation configuration event.
// Targets replace the previous set wholesale. The list is kept sorted by
// strategy ID upstream so replay stays deterministic.
type AllocationUpdated struct {
	Meta
	Targets []TargetAllocation
}

func (a *AllocationUpdated) Kind() Kind {
	return KindAllocationUpdated
}

// SumBps returns the total target weight of the update.
func (a *AllocationUpdated) SumBps() int64 {
	var sum int64
	for _, t := range a.Targets {
		sum += t.TargetBps
	}
	return sum
}
