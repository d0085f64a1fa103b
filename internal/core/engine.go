// Package core runs the deterministic fold for each vault. One engine owns
// one vault's state and processes commands on a single goroutine, so folds
// never race and replaying the same log always lands on the same state hash.
package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/ingestor"
	"vaultcore/internal/ledger"
	"vaultcore/internal/observability"
	"vaultcore/internal/position"
)

// EngineConfig bounds one vault engine.
type EngineConfig struct {
	VaultID string
	ChainID int64

	// Checkpoint retention, matching the chain's reorg window.
	ReorgWindow int

	// In-memory idempotency LRU size.
	IdempotencyCapacity int

	// Command channel buffer.
	CommandBuffer int
}

type command interface{}

type deliverCmd struct {
	d ingestor.Delivery
}

type valuationCmd struct {
	v ledger.Valuation
}

type ackCmd struct {
	faultID uuid.UUID
	reply   chan error
}

// Engine folds chain events and valuations into one vault's state.
type Engine struct {
	cfg     EngineConfig
	logger  zerolog.Logger
	metrics *observability.Metrics

	idempotency *IdempotencyChecker

	// Fold state, touched only by the run goroutine.
	led         *ledger.VaultState
	book        *position.Book
	seq         int64
	hash        StateHash
	block       uint64
	watermark   uint64
	checkpoints *checkpointRing
	window      []event.Envelope
	halt        *fault.Fault
	deferred    []deliverCmd
	planGate    *planGate

	head  atomic.Pointer[Snapshot]
	final atomic.Pointer[Snapshot]

	commands  chan command
	persistCh chan<- event.Envelope
	faultCh   chan<- *fault.Fault
}

func NewEngine(
	cfg EngineConfig,
	durable DurableChecker,
	persistCh chan<- event.Envelope,
	faultCh chan<- *fault.Fault,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Engine {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 256
	}
	e := &Engine{
		cfg:         cfg,
		logger:      logger.With().Str("vault", cfg.VaultID).Logger(),
		metrics:     metrics,
		idempotency: NewIdempotencyChecker(cfg.IdempotencyCapacity, durable),
		led:         ledger.NewVaultState(cfg.VaultID),
		book:        position.NewBook(cfg.VaultID),
		checkpoints: newCheckpointRing(cfg.ReorgWindow),
		planGate:    newPlanGate(),
		commands:    make(chan command, cfg.CommandBuffer),
		persistCh:   persistCh,
		faultCh:     faultCh,
	}
	genesis := e.snapshotNow()
	genesis.Finalized = true
	e.head.Store(genesis)
	e.final.Store(genesis)
	return e
}

// Restore seeds the fold state from a persisted snapshot. Must be called
// before Run.
func (e *Engine) Restore(snap *Snapshot) {
	e.led = snap.Ledger.Clone()
	e.book = snap.Book.Clone()
	e.seq = snap.Sequence
	e.hash = snap.StateHash
	e.block = snap.Block
	e.watermark = snap.Block
	e.checkpoints.save(snap.Block, snap)

	head := snap.Clone()
	final := snap.Clone()
	final.Finalized = true
	e.head.Store(head)
	e.final.Store(final)
	e.logger.Info().
		Uint64("block", snap.Block).
		Int64("sequence", snap.Sequence).
		Str("state_hash", snap.StateHash.Hex()).
		Msg("state restored from snapshot")
}

// SeedTargets installs configured allocation targets on the genesis state.
// Must be called before Run; a restored snapshot or an on-chain allocation
// update takes precedence.
func (e *Engine) SeedTargets(targets []event.TargetAllocation) error {
	if len(targets) == 0 {
		return nil
	}
	if err := e.led.SeedTargets(targets); err != nil {
		return err
	}
	genesis := e.snapshotNow()
	genesis.Finalized = true
	e.head.Store(genesis)
	e.final.Store(genesis)
	return nil
}

// Replay folds envelopes recovered from the durable event log on top of the
// restored state. Rows before the last snapshot are skipped; anything newer
// was finalized and acked upstream before the crash, so it only exists here.
// Must be called before Run. Replayed events never re-enter the persist
// pipeline.
func (e *Engine) Replay(envs []event.Envelope) error {
	if len(envs) == 0 {
		return nil
	}
	for _, env := range envs {
		if env.Sequence <= e.seq {
			continue
		}
		if env.Sequence != e.seq+1 {
			return fmt.Errorf("core: vault %s event log resumes at sequence %d, fold is at %d",
				e.cfg.VaultID, env.Sequence, e.seq)
		}
		evt := env.Event
		nextLed, err := ledger.Apply(e.led, evt)
		if err != nil {
			return fmt.Errorf("core: replay %s: %w", env.IdempotencyKey, err)
		}
		if _, err := e.book.Apply(evt, nextLed.SharePrice()); err != nil {
			return fmt.Errorf("core: replay %s: %w", env.IdempotencyKey, err)
		}
		e.led = nextLed
		e.seq++
		e.hash = NextStateHash(e.hash, hashInput{
			Sequence:       e.seq,
			IdempotencyKey: env.IdempotencyKey,
			Kind:           int32(evt.Kind()),
			BlockNumber:    evt.Ordinal().BlockNumber,
			LogIndex:       evt.Ordinal().LogIndex,
			Payload:        canonicalPayload(evt),
		})
		e.idempotency.Mark(env.IdempotencyKey)
		e.block = env.BlockNumber
	}

	// Everything in the log is finalized, so the watermark and the
	// finalized view move with the replayed head.
	e.watermark = e.block
	e.checkpointAt(e.block)
	final := e.snapshotNow()
	final.Finalized = true
	e.head.Store(final)
	e.final.Store(final.Clone())
	e.logger.Info().
		Uint64("block", e.block).
		Int64("sequence", e.seq).
		Str("state_hash", e.hash.Hex()).
		Msg("event log replayed")
	return nil
}

// Head returns the latest published state, including non-finalized blocks.
func (e *Engine) Head() *Snapshot {
	return e.head.Load()
}

// Finalized returns the latest state backed only by finalized blocks.
func (e *Engine) Finalized() *Snapshot {
	return e.final.Load()
}

// Deliver submits one block delivery for this vault.
func (e *Engine) Deliver(ctx context.Context, d ingestor.Delivery) error {
	select {
	case e.commands <- deliverCmd{d: d}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Valuate submits a strategy valuation snapshot.
func (e *Engine) Valuate(ctx context.Context, v ledger.Valuation) error {
	select {
	case e.commands <- valuationCmd{v: v}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Acknowledge clears a halt after an operator has reviewed the fault.
// Deliveries buffered during the halt are replayed; the faulted event itself
// stays rejected.
func (e *Engine) Acknowledge(ctx context.Context, faultID uuid.UUID) error {
	reply := make(chan error, 1)
	select {
	case e.commands <- ackCmd{faultID: faultID, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes commands until the context ends.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info().Msg("vault engine started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("vault engine stopped")
			return
		case cmd := <-e.commands:
			e.handle(ctx, cmd)
		}
	}
}

func (e *Engine) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case deliverCmd:
		if e.halt != nil {
			e.deferred = append(e.deferred, c)
			return
		}
		e.applyDelivery(ctx, c.d)
	case valuationCmd:
		e.applyValuation(c.v)
	case ackCmd:
		c.reply <- e.acknowledge(ctx, c.faultID)
	}
}

func (e *Engine) applyDelivery(ctx context.Context, d ingestor.Delivery) {
	if d.Retracted {
		e.rollback(d.RetractFrom)
	}

	applied := 0
	for i, evt := range d.Accepted {
		if evt.VaultID() != e.cfg.VaultID {
			continue
		}
		if err := e.applyEvent(ctx, evt); err != nil {
			f, ok := fault.AsFault(err)
			if !ok {
				f = fault.New(e.cfg.VaultID, fault.KindUnknown, evt.ID(), err.Error())
			}
			e.haltOn(f)
			// Events behind the rejected one are replayed once the
			// fault is acknowledged.
			if rest := d.Accepted[i+1:]; len(rest) > 0 {
				e.deferred = append(e.deferred, deliverCmd{d: ingestor.Delivery{
					Accepted:        rest,
					FinalizedHeight: d.FinalizedHeight,
				}})
			}
			return
		}
		applied++
	}
	if applied > 0 {
		// The block's fold is complete; record it as a reorg restore
		// point.
		e.checkpointAt(e.block)
	}

	e.finalizeThrough(d.FinalizedHeight)
	e.publishHead()
}

func (e *Engine) applyEvent(ctx context.Context, evt event.ChainEvent) error {
	start := time.Now()
	key := evt.IdempotencyKey()

	seen, err := e.idempotency.Seen(ctx, key)
	if err != nil {
		// The fold's ordering guard still rejects a true replay, so a
		// durable-tier outage degrades to that slower path.
		e.logger.Warn().Err(err).Str("event", key).Msg("durable idempotency check failed")
	}
	if seen {
		e.metrics.EventsDuplicate.WithLabelValues(e.cfg.VaultID).Inc()
		return nil
	}

	blockNumber, blockHash := evt.Block()
	if blockNumber != e.block && e.seq > 0 {
		// First event of a new block: the fold through the previous
		// block is complete and becomes the reorg restore point.
		e.checkpointAt(e.block)
	}

	nextLed, err := ledger.Apply(e.led, evt)
	if err != nil {
		return err
	}
	realized, err := e.book.Apply(evt, nextLed.SharePrice())
	if err != nil {
		return err
	}

	e.led = nextLed
	e.seq++
	e.hash = NextStateHash(e.hash, hashInput{
		Sequence:       e.seq,
		IdempotencyKey: key,
		Kind:           int32(evt.Kind()),
		BlockNumber:    evt.Ordinal().BlockNumber,
		LogIndex:       evt.Ordinal().LogIndex,
		Payload:        canonicalPayload(evt),
	})
	e.idempotency.Mark(key)
	e.block = blockNumber

	e.window = append(e.window, event.Envelope{
		Sequence:       e.seq,
		IdempotencyKey: key,
		Kind:           evt.Kind(),
		Vault:          e.cfg.VaultID,
		BlockNumber:    blockNumber,
		BlockHash:      blockHash,
		LogIndex:       evt.Ordinal().LogIndex,
		TxHash:         evt.ID().TxHash,
		ChainID:        evt.ID().ChainID,
		Timestamp:      evt.Time(),
		Event:          evt,
	})

	e.metrics.EventsApplied.WithLabelValues(e.cfg.VaultID, evt.Kind().String()).Inc()
	e.metrics.ApplyDuration.Observe(time.Since(start).Seconds())
	e.logger.Debug().
		Str("event", key).
		Str("kind", evt.Kind().String()).
		Int64("sequence", e.seq).
		Int64("realized_pnl", realized).
		Msg("event applied")
	return nil
}

// checkpointAt records the current fold state as the state at height.
func (e *Engine) checkpointAt(height uint64) {
	snap := e.snapshotNow()
	snap.Block = height
	e.checkpoints.save(height, snap)
}

func (e *Engine) rollback(from uint64) {
	var retracted []string
	kept := e.window[:0]
	for _, env := range e.window {
		if env.BlockNumber >= from {
			retracted = append(retracted, env.IdempotencyKey)
		} else {
			kept = append(kept, env)
		}
	}
	e.window = kept
	e.idempotency.Forget(retracted)
	e.checkpoints.dropFrom(from)

	if snap, ok := e.checkpoints.latestBelow(from); ok {
		e.led = snap.Ledger.Clone()
		e.book = snap.Book.Clone()
		e.seq = snap.Sequence
		e.hash = snap.StateHash
		e.block = snap.Block
	} else {
		e.led = ledger.NewVaultState(e.cfg.VaultID)
		e.book = position.NewBook(e.cfg.VaultID)
		e.seq = 0
		e.hash = StateHash{}
		e.block = 0
	}

	e.metrics.EventsRetracted.WithLabelValues(e.cfg.VaultID).Add(float64(len(retracted)))
	e.logger.Warn().
		Uint64("from", from).
		Int("events", len(retracted)).
		Uint64("restored_block", e.block).
		Msg("reorg rollback")
}

// finalizeThrough drains envelopes at or below the watermark to the persist
// pipeline and republishes the finalized view.
func (e *Engine) finalizeThrough(watermark uint64) {
	if watermark <= e.watermark {
		return
	}
	e.watermark = watermark

	// The live fold may still be mid-block; checkpoint the finalized
	// prefix if the fold has fully passed it.
	if e.block > 0 && e.block <= watermark {
		e.checkpointAt(e.block)
	}

	kept := e.window[:0]
	for _, env := range e.window {
		if env.BlockNumber <= watermark {
			env.Finalized = true
			e.persistCh <- env
		} else {
			kept = append(kept, env)
		}
	}
	e.window = kept

	if snap, ok := e.checkpoints.latestAtOrBelow(watermark); ok {
		final := snap.Clone()
		final.Finalized = true
		e.final.Store(final)
	}
}

func (e *Engine) applyValuation(v ledger.Valuation) {
	if e.halt != nil {
		e.logger.Warn().
			Str("strategy", v.StrategyID).
			Msg("valuation dropped while halted")
		return
	}
	next, impaired, err := ledger.ApplyValuation(e.led, v)
	if err != nil {
		e.logger.Warn().Err(err).Str("strategy", v.StrategyID).Msg("valuation rejected")
		return
	}
	e.led = next
	e.planGate.bump()
	e.metrics.ValuationUpdates.WithLabelValues(e.cfg.VaultID, v.StrategyID).Inc()
	if impaired {
		e.metrics.Impairments.WithLabelValues(e.cfg.VaultID, v.StrategyID).Inc()
		e.logger.Warn().
			Str("strategy", v.StrategyID).
			Int64("value", v.Value).
			Msg("strategy impairment")
	}
	e.publishHead()
}

func (e *Engine) haltOn(f *fault.Fault) {
	e.halt = f
	// The rejected event is remembered so a redelivery does not re-trip
	// the same fault.
	e.idempotency.Mark(f.EventID.Key())
	e.metrics.Faults.WithLabelValues(e.cfg.VaultID, f.Kind.String()).Inc()
	e.metrics.HaltedVaults.Inc()
	e.logger.Error().
		Str("fault_id", f.FaultID.String()).
		Str("kind", f.Kind.String()).
		Str("event", f.EventID.Key()).
		Str("detail", f.Detail).
		Msg("consistency fault, vault halted")
	e.publishHead()
	e.faultCh <- f
}

func (e *Engine) acknowledge(ctx context.Context, faultID uuid.UUID) error {
	if e.halt == nil {
		return fmt.Errorf("vault %s is not halted", e.cfg.VaultID)
	}
	if e.halt.FaultID != faultID {
		return fmt.Errorf("fault %s is not the active fault for vault %s", faultID, e.cfg.VaultID)
	}
	e.logger.Info().Str("fault_id", faultID.String()).Msg("fault acknowledged, resuming")
	e.halt = nil
	e.metrics.HaltedVaults.Dec()

	for e.halt == nil && len(e.deferred) > 0 {
		next := e.deferred[0]
		e.deferred = e.deferred[1:]
		e.applyDelivery(ctx, next.d)
	}
	e.publishHead()
	return nil
}

func (e *Engine) publishHead() {
	e.head.Store(e.snapshotNow())
}

func (e *Engine) snapshotNow() *Snapshot {
	return &Snapshot{
		VaultID:   e.cfg.VaultID,
		Sequence:  e.seq,
		StateHash: e.hash,
		Ledger:    e.led.Clone(),
		Book:      e.book.Clone(),
		Block:     e.block,
		Halted:    e.halt != nil,
		UpdatedAt: time.Now().UTC(),
	}
}
