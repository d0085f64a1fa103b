package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"vaultcore/internal/ingestor"
	"vaultcore/internal/ledger"
)

const (
	blockSubjectPrefix     = "vault.blocks."
	valuationSubjectPrefix = "vault.valuations."
)

// BlockSink accepts parsed blocks, keyed by chain.
type BlockSink interface {
	IngestBlock(ctx context.Context, chainID int64, b ingestor.Block) error
}

// ValuationSink accepts pushed valuations.
type ValuationSink interface {
	Valuate(ctx context.Context, v ledger.Valuation) error
}

// SlippageRecorder captures the slippage estimate riding on each valuation
// message, for the rebalance planner.
type SlippageRecorder interface {
	Record(vaultID, strategyID string, bps int64)
}

// SubscriberConfig wires the JetStream consumer.
type SubscriberConfig struct {
	StreamName  string
	DurableName string

	// Base units per vault asset, used to convert pushed USD valuations.
	AssetDecimals map[string]int32

	// Redelivery delay for blocks that cannot be applied yet (gaps,
	// parent mismatches during a reorg walk-down).
	RetryDelay time.Duration

	// Optional; nil drops the estimates.
	Slippage SlippageRecorder
}

// Subscriber consumes indexer messages from JetStream and feeds the core.
type Subscriber struct {
	cfg    SubscriberConfig
	js     nats.JetStreamContext
	blocks BlockSink
	vals   ValuationSink
	logger zerolog.Logger

	subs []*nats.Subscription
}

func NewSubscriber(cfg SubscriberConfig, js nats.JetStreamContext, blocks BlockSink, vals ValuationSink, logger zerolog.Logger) *Subscriber {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Subscriber{
		cfg:    cfg,
		js:     js,
		blocks: blocks,
		vals:   vals,
		logger: logger.With().Str("component", "subscriber").Logger(),
	}
}

// EnsureStream creates the stream if the indexer side has not already.
func EnsureStream(js nats.JetStreamContext, name string) error {
	_, err := js.StreamInfo(name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("ingestion: stream info: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:      name,
		Subjects:  []string{"vault.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("ingestion: add stream: %w", err)
	}
	return nil
}

// Start subscribes to block and valuation subjects. Blocks use a durable
// consumer with explicit acks so the stream replays unacked messages after a
// crash.
func (s *Subscriber) Start(ctx context.Context) error {
	blockSub, err := s.js.Subscribe(
		blockSubjectPrefix+">",
		func(msg *nats.Msg) { s.handleBlock(ctx, msg) },
		nats.Durable(s.cfg.DurableName+"-blocks"),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxAckPending(256),
	)
	if err != nil {
		return fmt.Errorf("ingestion: subscribe blocks: %w", err)
	}
	s.subs = append(s.subs, blockSub)

	valSub, err := s.js.Subscribe(
		valuationSubjectPrefix+">",
		func(msg *nats.Msg) { s.handleValuation(ctx, msg) },
		nats.Durable(s.cfg.DurableName+"-valuations"),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverNew(),
	)
	if err != nil {
		return fmt.Errorf("ingestion: subscribe valuations: %w", err)
	}
	s.subs = append(s.subs, valSub)

	s.logger.Info().Str("stream", s.cfg.StreamName).Msg("subscriptions started")
	return nil
}

// Stop drains the subscriptions.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("drain subscription")
		}
	}
}

func (s *Subscriber) handleBlock(ctx context.Context, msg *nats.Msg) {
	chainID, block, err := ParseBlock(msg.Data)
	if err != nil {
		// Malformed messages never become valid; park them.
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("unparseable block message")
		_ = msg.Term()
		return
	}

	err = s.blocks.IngestBlock(ctx, chainID, block)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, ingestor.ErrGap), errors.Is(err, ingestor.ErrParentMismatch):
		// Out-of-order delivery or a reorg walk-down; redeliver after
		// the missing blocks arrive.
		s.logger.Warn().Err(err).Uint64("height", block.Number).Msg("block deferred")
		_ = msg.NakWithDelay(s.cfg.RetryDelay)
	case errors.Is(err, ingestor.ErrDegraded), errors.Is(err, ingestor.ErrReorgTooDeep):
		s.logger.Error().Err(err).Uint64("height", block.Number).Msg("tracker degraded, operator reset required")
		_ = msg.NakWithDelay(10 * s.cfg.RetryDelay)
	default:
		s.logger.Error().Err(err).Uint64("height", block.Number).Msg("block delivery failed")
		_ = msg.NakWithDelay(s.cfg.RetryDelay)
	}
}

func (s *Subscriber) handleValuation(ctx context.Context, msg *nats.Msg) {
	vaultID := msg.Subject[len(valuationSubjectPrefix):]
	decimals, ok := s.cfg.AssetDecimals[vaultID]
	if !ok {
		s.logger.Warn().Str("vault", vaultID).Msg("valuation for unconfigured vault")
		_ = msg.Term()
		return
	}

	v, slippageBps, err := ParseValuation(msg.Data, decimals)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("unparseable valuation")
		_ = msg.Term()
		return
	}
	if s.cfg.Slippage != nil {
		s.cfg.Slippage.Record(v.VaultID, v.StrategyID, slippageBps)
	}
	if err := s.vals.Valuate(ctx, v); err != nil {
		s.logger.Error().Err(err).Str("vault", vaultID).Msg("valuation delivery failed")
		_ = msg.NakWithDelay(s.cfg.RetryDelay)
		return
	}
	_ = msg.Ack()
}

// Connect dials NATS with reconnect handling.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("ingestion: connect nats: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("ingestion: jetstream: %w", err)
	}
	return nc, js, nil
}
