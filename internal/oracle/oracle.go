// Package oracle pulls strategy valuations from off-chain sources and feeds
// them to the vault engines. Values arrive as USD decimals and are converted
// to the vault asset's base units before they touch the ledger.
package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vaultcore/internal/ledger"
)

// StrategyValue is one observed strategy valuation.
type StrategyValue struct {
	VaultID    string
	StrategyID string

	// Current position value in USD.
	ValueUSD decimal.Decimal

	// Estimated cost of entering or exiting the strategy right now.
	EstimatedSlippageBps int64

	ObservedAt time.Time
}

// ToBaseUnits converts the USD value to integer base units at the asset's
// decimals, truncating sub-unit dust.
func (v StrategyValue) ToBaseUnits(decimals int32) (int64, error) {
	if v.ValueUSD.IsNegative() {
		return 0, fmt.Errorf("oracle: negative value %s for %s/%s", v.ValueUSD, v.VaultID, v.StrategyID)
	}
	scaled := v.ValueUSD.Shift(decimals).Truncate(0)
	if !scaled.BigInt().IsInt64() {
		return 0, fmt.Errorf("oracle: value %s overflows base units for %s/%s", v.ValueUSD, v.VaultID, v.StrategyID)
	}
	return scaled.IntPart(), nil
}

// SlippageCache holds the latest slippage estimate per vault strategy. The
// rebalance planner reads it; the poller and the push ingestion path write
// it, whichever saw the strategy last.
type SlippageCache struct {
	mu sync.RWMutex
	m  map[string]map[string]int64 // vault -> strategy -> bps
}

func NewSlippageCache() *SlippageCache {
	return &SlippageCache{m: make(map[string]map[string]int64)}
}

func (c *SlippageCache) Record(vaultID, strategyID string, bps int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m[vaultID] == nil {
		c.m[vaultID] = make(map[string]int64)
	}
	c.m[vaultID][strategyID] = bps
}

// Slippage returns a copy of the estimates for one vault.
func (c *SlippageCache) Slippage(vaultID string) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.m[vaultID]))
	for strategy, bps := range c.m[vaultID] {
		out[strategy] = bps
	}
	return out
}

// Fetcher retrieves current valuations for every tracked strategy.
type Fetcher interface {
	FetchValues(ctx context.Context) ([]StrategyValue, error)
}

// Sink receives converted valuations.
type Sink interface {
	Valuate(ctx context.Context, v ledger.Valuation) error
}

// PollerConfig bounds the valuation loop.
type PollerConfig struct {
	Interval     time.Duration
	FetchTimeout time.Duration

	// Base-unit decimals per vault. Values for vaults missing here are
	// dropped rather than converted at a guessed scale.
	AssetDecimals map[string]int32

	// Retry backoff for failed fetches, doubling up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *PollerConfig) withDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = time.Minute
	}
}

// Poller periodically fetches valuations and forwards them to the sink. It
// also records the latest slippage estimates for the rebalance planner.
type Poller struct {
	cfg     PollerConfig
	fetcher Fetcher
	sink    Sink
	slips   *SlippageCache
	logger  zerolog.Logger
}

func NewPoller(cfg PollerConfig, fetcher Fetcher, sink Sink, slips *SlippageCache, logger zerolog.Logger) *Poller {
	cfg.withDefaults()
	if slips == nil {
		slips = NewSlippageCache()
	}
	return &Poller{
		cfg:     cfg,
		fetcher: fetcher,
		sink:    sink,
		slips:   slips,
		logger:  logger.With().Str("component", "oracle").Logger(),
	}
}

// Slippage returns the latest slippage estimates for a vault's strategies.
func (p *Poller) Slippage(vaultID string) map[string]int64 {
	return p.slips.Slippage(vaultID)
}

// Run polls until the context ends. Fetch failures back off exponentially
// without blocking the next scheduled poll for longer than MaxBackoff.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("valuation poller started")
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("valuation poller stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	backoff := p.cfg.InitialBackoff
	for {
		fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
		values, err := p.fetcher.FetchValues(fetchCtx)
		cancel()
		if err == nil {
			p.dispatch(ctx, values)
			return
		}
		if ctx.Err() != nil {
			return
		}

		p.logger.Warn().Err(err).Dur("backoff", backoff).Msg("valuation fetch failed")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff >= p.cfg.MaxBackoff {
			// Give up on this cycle; the next tick starts fresh.
			p.logger.Error().Msg("valuation fetch abandoned until next poll")
			return
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, values []StrategyValue) {
	for _, v := range values {
		decimals, ok := p.cfg.AssetDecimals[v.VaultID]
		if !ok {
			p.logger.Error().
				Str("vault", v.VaultID).
				Str("strategy", v.StrategyID).
				Msg("valuation for unconfigured vault dropped")
			continue
		}
		base, err := v.ToBaseUnits(decimals)
		if err != nil {
			p.logger.Error().Err(err).Msg("valuation conversion failed")
			continue
		}
		if err := p.sink.Valuate(ctx, ledger.Valuation{
			VaultID:    v.VaultID,
			StrategyID: v.StrategyID,
			Value:      base,
			ObservedAt: v.ObservedAt,
		}); err != nil {
			p.logger.Error().Err(err).
				Str("vault", v.VaultID).
				Str("strategy", v.StrategyID).
				Msg("valuation delivery failed")
			continue
		}

		p.slips.Record(v.VaultID, v.StrategyID, v.EstimatedSlippageBps)
	}
}
