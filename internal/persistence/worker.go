package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"vaultcore/internal/event"
	"vaultcore/internal/observability"
)

// WorkerConfig bounds the persist pipeline.
type WorkerConfig struct {
	BatchSize     int
	FlushInterval time.Duration

	// Backoff for failed flushes, doubling up to MaxBackoff. Flushes
	// retry until they succeed; the log is the source of truth and must
	// not drop envelopes.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c *WorkerConfig) withDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 200 * time.Millisecond
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
}

// Worker drains the engines' persist channel into the event log in batches.
// The channel send in the engine is blocking, so database backpressure slows
// finalization instead of losing envelopes.
type Worker struct {
	cfg       WorkerConfig
	ch        <-chan event.Envelope
	writer    *EventWriter
	metrics   *observability.Metrics
	logger    zerolog.Logger
	persisted func(event.Envelope)
}

// OnPersisted registers a hook invoked for each envelope after its batch
// lands, used to publish finalized events downstream. Must be set before
// Run.
func (w *Worker) OnPersisted(fn func(event.Envelope)) {
	w.persisted = fn
}

func NewWorker(cfg WorkerConfig, ch <-chan event.Envelope, writer *EventWriter, metrics *observability.Metrics, logger zerolog.Logger) *Worker {
	cfg.withDefaults()
	return &Worker{
		cfg:     cfg,
		ch:      ch,
		writer:  writer,
		metrics: metrics,
		logger:  logger.With().Str("component", "persist_worker").Logger(),
	}
}

// Run consumes envelopes until the context ends, then drains what is already
// buffered with a short grace period.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Int("batch_size", w.cfg.BatchSize).Msg("persist worker started")
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]event.Envelope, 0, w.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			w.drain(batch)
			w.logger.Info().Msg("persist worker stopped")
			return
		case env := <-w.ch:
			batch = append(batch, env)
			if len(batch) >= w.cfg.BatchSize {
				batch = w.flush(ctx, batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				batch = w.flush(ctx, batch)
			}
		}
	}
}

// flush writes the batch, retrying with backoff until it lands or the
// context ends. Returns the reset batch slice.
func (w *Worker) flush(ctx context.Context, batch []event.Envelope) []event.Envelope {
	backoff := w.cfg.InitialBackoff
	for {
		start := time.Now()
		err := w.writer.WriteBatch(ctx, batch)
		if err == nil {
			w.metrics.PersistDuration.Observe(time.Since(start).Seconds())
			if w.persisted != nil {
				for _, env := range batch {
					w.persisted(env)
				}
			}
			return batch[:0]
		}
		if ctx.Err() != nil {
			return batch
		}

		w.logger.Error().Err(err).
			Int("events", len(batch)).
			Dur("backoff", backoff).
			Msg("batch write failed, retrying")
		select {
		case <-ctx.Done():
			return batch
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
}

// drain makes a final attempt to land buffered envelopes during shutdown.
func (w *Worker) drain(batch []event.Envelope) {
	for {
		select {
		case env := <-w.ch:
			batch = append(batch, env)
		default:
			if len(batch) == 0 {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := w.writer.WriteBatch(ctx, batch); err != nil {
				w.logger.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
			}
			cancel()
			return
		}
	}
}
