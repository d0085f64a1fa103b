package core

import (
	"time"

	"vaultcore/internal/ledger"
	"vaultcore/internal/position"
)

// Snapshot is an immutable view of one vault's derived state. Snapshots are
// published through atomic pointers; readers never see a partially applied
// fold.
type Snapshot struct {
	VaultID string

	// Per-vault monotonic envelope sequence at this point.
	Sequence int64

	// Chained digest of every envelope applied so far.
	StateHash StateHash

	Ledger *ledger.VaultState
	Book   *position.Book

	// Height of the last chain event folded in.
	Block uint64

	// Whether this view is backed only by finalized blocks.
	Finalized bool

	Halted    bool
	UpdatedAt time.Time
}

// Clone deep-copies the snapshot so checkpoints stay isolated from the live
// fold state.
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Ledger = s.Ledger.Clone()
	out.Book = s.Book.Clone()
	return &out
}

// checkpointRing retains block-boundary snapshots inside the reorg window,
// keyed by block height. A reorg restores the latest checkpoint strictly
// below the retraction height.
type checkpointRing struct {
	byHeight map[uint64]*Snapshot
	window   int
}

func newCheckpointRing(window int) *checkpointRing {
	if window <= 0 {
		window = 64
	}
	return &checkpointRing{
		byHeight: make(map[uint64]*Snapshot),
		window:   window,
	}
}

func (r *checkpointRing) save(height uint64, snap *Snapshot) {
	r.byHeight[height] = snap.Clone()
	if height >= uint64(r.window) {
		floor := height - uint64(r.window) + 1
		for h := range r.byHeight {
			if h < floor {
				delete(r.byHeight, h)
			}
		}
	}
}

// latestBelow returns the newest checkpoint with height < bound.
func (r *checkpointRing) latestBelow(bound uint64) (*Snapshot, bool) {
	var best *Snapshot
	var bestHeight uint64
	for h, snap := range r.byHeight {
		if h < bound && (best == nil || h > bestHeight) {
			best, bestHeight = snap, h
		}
	}
	return best, best != nil
}

// latestAtOrBelow returns the newest checkpoint with height <= bound.
func (r *checkpointRing) latestAtOrBelow(bound uint64) (*Snapshot, bool) {
	return r.latestBelow(bound + 1)
}

// dropFrom removes checkpoints at or above height after a retraction.
func (r *checkpointRing) dropFrom(height uint64) {
	for h := range r.byHeight {
		if h >= height {
			delete(r.byHeight, h)
		}
	}
}
