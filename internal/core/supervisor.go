package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vaultcore/internal/ingestor"
	"vaultcore/internal/ledger"
	"vaultcore/internal/observability"
)

var ErrUnknownVault = errors.New("core: unknown vault")

// Supervisor owns the per-chain trackers and per-vault engines and routes
// between them. Each chain's blocks flow through its tracker once; the
// resulting delivery fans out to every vault on that chain.
type Supervisor struct {
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu       sync.Mutex // guards trackers; engines are fixed after New
	trackers map[int64]*ingestor.Tracker
	engines  map[string]*Engine
	byChain  map[int64][]*Engine
}

func NewSupervisor(metrics *observability.Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		logger:   observability.Component(logger, "supervisor"),
		metrics:  metrics,
		trackers: make(map[int64]*ingestor.Tracker),
		engines:  make(map[string]*Engine),
		byChain:  make(map[int64][]*Engine),
	}
}

// AddChain registers a chain tracker. Must be called before Run.
func (s *Supervisor) AddChain(cfg ingestor.ChainConfig) {
	s.trackers[cfg.ChainID] = ingestor.NewTracker(cfg, s.logger)
}

// AddEngine registers a vault engine on its chain. Must be called before Run.
func (s *Supervisor) AddEngine(e *Engine) {
	s.engines[e.cfg.VaultID] = e
	s.byChain[e.cfg.ChainID] = append(s.byChain[e.cfg.ChainID], e)
}

// Engine returns the engine for a vault.
func (s *Supervisor) Engine(vaultID string) (*Engine, error) {
	e, ok := s.engines[vaultID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVault, vaultID)
	}
	return e, nil
}

// Vaults returns all registered vault IDs.
func (s *Supervisor) Vaults() []string {
	out := make([]string, 0, len(s.engines))
	for id := range s.engines {
		out = append(out, id)
	}
	return out
}

// Run starts every engine and blocks until ctx ends.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, e := range s.engines {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			e.Run(ctx)
		}(e)
	}
	wg.Wait()
}

// IngestBlock feeds one block through its chain tracker and fans the
// delivery out to the chain's vaults. Tracker errors (gaps, parent
// mismatches) surface to the caller, which drives the refetch protocol.
func (s *Supervisor) IngestBlock(ctx context.Context, chainID int64, b ingestor.Block) error {
	s.mu.Lock()
	tracker, ok := s.trackers[chainID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("core: unknown chain %d", chainID)
	}

	d, err := tracker.Ingest(b)
	if err != nil {
		return err
	}
	if d.Retracted {
		s.metrics.Reorgs.WithLabelValues(fmt.Sprintf("%d", chainID)).Inc()
	}
	s.metrics.HeadHeight.WithLabelValues(fmt.Sprintf("%d", chainID)).Set(float64(tracker.Head()))
	s.metrics.FinalizedHeight.WithLabelValues(fmt.Sprintf("%d", chainID)).Set(float64(d.FinalizedHeight))

	for _, e := range s.byChain[chainID] {
		sub := ingestor.Delivery{
			Retracted:       d.Retracted,
			RetractFrom:     d.RetractFrom,
			FinalizedHeight: d.FinalizedHeight,
		}
		for _, evt := range d.Accepted {
			if evt.VaultID() == e.cfg.VaultID {
				sub.Accepted = append(sub.Accepted, evt)
			}
		}
		if err := e.Deliver(ctx, sub); err != nil {
			return err
		}
	}
	return nil
}

// ResetChain reinitializes a degraded tracker at a trusted finalized height.
func (s *Supervisor) ResetChain(chainID int64, height uint64, hash string) error {
	s.mu.Lock()
	tracker, ok := s.trackers[chainID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("core: unknown chain %d", chainID)
	}
	tracker.Reset(height, hash)
	return nil
}

// ChainDegraded reports whether a chain's tracker needs a reset.
func (s *Supervisor) ChainDegraded(chainID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker, ok := s.trackers[chainID]
	return ok && tracker.Degraded()
}

// Valuate routes a strategy valuation to its vault.
func (s *Supervisor) Valuate(ctx context.Context, v ledger.Valuation) error {
	e, err := s.Engine(v.VaultID)
	if err != nil {
		return err
	}
	return e.Valuate(ctx, v)
}

// Acknowledge clears a vault's active fault.
func (s *Supervisor) Acknowledge(ctx context.Context, vaultID string, faultID uuid.UUID) error {
	e, err := s.Engine(vaultID)
	if err != nil {
		return err
	}
	return e.Acknowledge(ctx, faultID)
}

// PlanContext derives a context for a vault's plan build that is cancelled
// by the next valuation the vault applies.
func (s *Supervisor) PlanContext(vaultID string, parent context.Context) (context.Context, context.CancelFunc, error) {
	e, err := s.Engine(vaultID)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := e.PlanContext(parent)
	return ctx, cancel, nil
}

// Head returns a vault's latest published snapshot.
func (s *Supervisor) Head(vaultID string) (*Snapshot, error) {
	e, err := s.Engine(vaultID)
	if err != nil {
		return nil, err
	}
	return e.Head(), nil
}

// Finalized returns a vault's latest finalized snapshot.
func (s *Supervisor) Finalized(vaultID string) (*Snapshot, error) {
	e, err := s.Engine(vaultID)
	if err != nil {
		return nil, err
	}
	return e.Finalized(), nil
}

// PublishGauges refreshes the per-vault state gauges from head snapshots.
func (s *Supervisor) PublishGauges() {
	for id, e := range s.engines {
		snap := e.Head()
		s.metrics.TotalAssets.WithLabelValues(id).Set(float64(snap.Ledger.TotalAssets))
		s.metrics.TotalShares.WithLabelValues(id).Set(float64(snap.Ledger.TotalShares))
		s.metrics.SharePrice.WithLabelValues(id).Set(float64(snap.Ledger.SharePrice()))
	}
}
