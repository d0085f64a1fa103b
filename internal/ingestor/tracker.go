// Package ingestor maintains the canonical view of each chain's event
// stream: strictly ordered, deduplicated, reorg-aware. Downstream folds only
// ever see events through a Delivery, so they can stay pure.
package ingestor

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"vaultcore/internal/event"
)

var (
	// ErrGap means the block does not connect to the tracked head. The
	// caller backfills the missing range and retries.
	ErrGap = errors.New("ingestor: block gap")

	// ErrParentMismatch means the new block's parent hash disagrees with
	// the tracked head: the head has been reorged out. The caller
	// refetches from the head height, which arrives as a replacement
	// block and triggers a retraction.
	ErrParentMismatch = errors.New("ingestor: parent hash mismatch")

	// ErrReorgTooDeep means a reorg reached below the tracked window.
	// The tracker is degraded and refuses input until Reset.
	ErrReorgTooDeep = errors.New("ingestor: reorg deeper than tracked window")

	// ErrDegraded is returned for every block after ErrReorgTooDeep.
	ErrDegraded = errors.New("ingestor: tracker degraded, reset required")
)

// ChainConfig bounds one chain's tracker.
type ChainConfig struct {
	ChainID int64

	// Blocks this far behind the head are considered final.
	FinalityDepth uint64

	// How many recent block hashes to retain for reorg detection. Reorgs
	// deeper than this cannot be recovered in place.
	ReorgWindow int
}

// Block is one chain block with the vault events it contained, in log-index
// order.
type Block struct {
	Number     uint64
	Hash       string
	ParentHash string
	Events     []event.ChainEvent
}

// Delivery is the outcome of ingesting one block.
type Delivery struct {
	// Events accepted into the canonical stream, deduplicated and in
	// order.
	Accepted []event.ChainEvent

	// When Retracted, every previously delivered event at or above
	// RetractFrom has been invalidated by a reorg and must be unwound
	// before Accepted is applied.
	Retracted   bool
	RetractFrom uint64

	// Highest height at or below which delivered events are final.
	// Zero until the chain is FinalityDepth past its first tracked block.
	FinalizedHeight uint64
}

type trackedBlock struct {
	hash string
	keys []string // idempotency keys of this block's events
}

// Tracker follows one chain's canonical history.
type Tracker struct {
	cfg    ChainConfig
	logger zerolog.Logger

	head   uint64
	blocks map[uint64]*trackedBlock // last ReorgWindow heights
	seen   map[string]struct{}      // dedup keys within the window

	started  bool
	degraded bool
}

func NewTracker(cfg ChainConfig, logger zerolog.Logger) *Tracker {
	if cfg.ReorgWindow <= 0 {
		cfg.ReorgWindow = 64
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger.With().Int64("chain_id", cfg.ChainID).Logger(),
		blocks: make(map[uint64]*trackedBlock),
		seen:   make(map[string]struct{}),
	}
}

// Head returns the tracked head height.
func (t *Tracker) Head() uint64 {
	return t.head
}

// Degraded reports whether the tracker needs a Reset.
func (t *Tracker) Degraded() bool {
	return t.degraded
}

// FinalizedHeight returns the highest height considered final.
func (t *Tracker) FinalizedHeight() uint64 {
	if !t.started || t.head < t.cfg.FinalityDepth {
		return 0
	}
	return t.head - t.cfg.FinalityDepth
}

// Ingest folds one block into the canonical view.
func (t *Tracker) Ingest(b Block) (Delivery, error) {
	if t.degraded {
		return Delivery{}, ErrDegraded
	}

	var d Delivery
	switch {
	case !t.started:
		// First block establishes the tracking baseline.

	case b.Number == t.head+1:
		if parent := t.blocks[t.head]; parent != nil && parent.hash != b.ParentHash {
			return Delivery{}, fmt.Errorf("%w: height %d has parent %s, head is %s",
				ErrParentMismatch, b.Number, b.ParentHash, parent.hash)
		}

	case b.Number > t.head+1:
		return Delivery{}, fmt.Errorf("%w: got height %d, head is %d", ErrGap, b.Number, t.head)

	default: // b.Number <= t.head: a replacement block
		known := t.blocks[b.Number]
		if known != nil && known.hash == b.Hash {
			// Same block again: a duplicate delivery, nothing changes.
			return Delivery{FinalizedHeight: t.FinalizedHeight()}, nil
		}
		if b.Number > 0 {
			parent := t.blocks[b.Number-1]
			if parent == nil {
				t.degraded = true
				t.logger.Error().
					Uint64("height", b.Number).
					Uint64("head", t.head).
					Msg("reorg reaches below tracked window")
				return Delivery{}, fmt.Errorf("%w: replacement at height %d, window starts above %d",
					ErrReorgTooDeep, b.Number, b.Number-1)
			}
			if parent.hash != b.ParentHash {
				// The reorg extends further back. Caller walks down.
				return Delivery{}, fmt.Errorf("%w: height %d has parent %s, tracked %s",
					ErrParentMismatch, b.Number, b.ParentHash, parent.hash)
			}
		}
		if b.Number <= t.FinalizedHeight() {
			t.degraded = true
			t.logger.Error().
				Uint64("height", b.Number).
				Uint64("finalized", t.FinalizedHeight()).
				Msg("reorg below finality depth")
			return Delivery{}, fmt.Errorf("%w: replacement at finalized height %d", ErrReorgTooDeep, b.Number)
		}
		t.retract(b.Number)
		d.Retracted = true
		d.RetractFrom = b.Number
		t.logger.Warn().
			Uint64("from", b.Number).
			Str("new_hash", b.Hash).
			Msg("chain reorg, retracting blocks")
	}

	tb := &trackedBlock{hash: b.Hash}
	for _, evt := range b.Events {
		key := evt.IdempotencyKey()
		if _, dup := t.seen[key]; dup {
			t.logger.Debug().Str("event", key).Msg("duplicate event dropped")
			continue
		}
		t.seen[key] = struct{}{}
		tb.keys = append(tb.keys, key)
		d.Accepted = append(d.Accepted, evt)
	}

	t.blocks[b.Number] = tb
	t.head = b.Number
	t.started = true
	t.prune()

	d.FinalizedHeight = t.FinalizedHeight()
	return d, nil
}

// retract drops every tracked block at or above height, forgetting their
// events so a competing branch can redeliver them.
func (t *Tracker) retract(height uint64) {
	for h := height; h <= t.head; h++ {
		if tb := t.blocks[h]; tb != nil {
			for _, key := range tb.keys {
				delete(t.seen, key)
			}
			delete(t.blocks, h)
		}
	}
	if height > 0 {
		t.head = height - 1
	} else {
		t.head = 0
		t.started = false
	}
}

// prune discards blocks that fell out of the reorg window. Their dedup keys
// go with them; finality makes redelivery below the window harmless to
// downstream idempotency checks, which keep their own durable record.
func (t *Tracker) prune() {
	window := uint64(t.cfg.ReorgWindow)
	if t.head < window {
		return
	}
	floor := t.head - window + 1
	for h := range t.blocks {
		if h < floor {
			for _, key := range t.blocks[h].keys {
				delete(t.seen, key)
			}
			delete(t.blocks, h)
		}
	}
}

// Reset reinitializes a degraded tracker at a trusted height, typically the
// last finalized checkpoint.
func (t *Tracker) Reset(height uint64, hash string) {
	t.blocks = map[uint64]*trackedBlock{height: {hash: hash}}
	t.seen = make(map[string]struct{})
	t.head = height
	t.started = true
	t.degraded = false
	t.logger.Info().Uint64("height", height).Msg("tracker reset")
}
