package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vaultcore/internal/config"
	"vaultcore/internal/core"
	"vaultcore/internal/event"
	"vaultcore/internal/fault"
	"vaultcore/internal/ingestion"
	"vaultcore/internal/ingestor"
	"vaultcore/internal/observability"
	"vaultcore/internal/oracle"
	"vaultcore/internal/persistence"
	"vaultcore/internal/planner"
	"vaultcore/internal/query"
	"vaultcore/internal/server"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML config file")
	flag.Parse()

	logger := observability.NewLogger()
	logger.Info().Msg("vaultcore starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := persistence.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	logger.Info().Msg("postgres connected")

	if cfg.Database.RunMigrations {
		migrator := persistence.NewMigrator(db, cfg.Database.MigrationsDir, logger)
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	health := observability.NewHealth()
	health.Register("postgres", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})

	// --- Stores ---
	snapStore := persistence.NewSnapshotStore(db)
	eventReader := persistence.NewEventReader(db)
	planStore := persistence.NewPlanStore(db)
	faultStore := persistence.NewFaultStore(db)
	durable := persistence.NewPostgresIdempotency(db)

	// --- Supervisor: one tracker per chain, one engine per vault ---
	persistCh := make(chan event.Envelope, 1024)
	faultCh := make(chan *fault.Fault, 64)

	sup := core.NewSupervisor(metrics, logger)
	for _, ch := range cfg.Chains {
		sup.AddChain(ingestor.ChainConfig{
			ChainID:       ch.ChainID,
			FinalityDepth: ch.FinalityDepth,
			ReorgWindow:   ch.ReorgWindow,
		})
	}

	type chainHead struct {
		height uint64
		hash   string
	}
	chainHeads := make(map[int64]chainHead)

	decimals := make(map[string]int32, len(cfg.Vaults))
	for _, v := range cfg.Vaults {
		decimals[v.ID] = v.AssetDecimals
		chain, _ := cfg.VaultChain(v.ID)

		engine := core.NewEngine(core.EngineConfig{
			VaultID:     v.ID,
			ChainID:     v.ChainID,
			ReorgWindow: chain.ReorgWindow,
		}, durable, persistCh, faultCh, metrics, logger)

		if err := engine.SeedTargets(configTargets(v)); err != nil {
			logger.Fatal().Err(err).Str("vault", v.ID).Msg("seed allocation targets")
		}

		// Recovery: resume from the last finalized snapshot, then fold
		// the event log past it. Events finalized after the snapshot
		// were acked upstream and only survive in the log.
		var afterSeq int64
		snap, err := snapStore.LoadLatest(ctx, v.ID)
		switch {
		case errors.Is(err, persistence.ErrNoSnapshot):
			logger.Info().Str("vault", v.ID).Msg("no snapshot, cold start")
		case err != nil:
			logger.Fatal().Err(err).Str("vault", v.ID).Msg("load snapshot")
		default:
			engine.Restore(snap)
			afterSeq = snap.Sequence
			logger.Info().Str("vault", v.ID).
				Int64("sequence", snap.Sequence).
				Uint64("block", snap.Block).
				Str("state_hash", snap.StateHash.Hex()).
				Msg("restored from snapshot")
		}

		envs, err := eventReader.ReadSince(ctx, v.ID, afterSeq)
		if err != nil {
			logger.Fatal().Err(err).Str("vault", v.ID).Msg("read event log")
		}
		if err := engine.Replay(envs); err != nil {
			logger.Fatal().Err(err).Str("vault", v.ID).Msg("replay event log")
		}
		if n := len(envs); n > 0 {
			last := envs[n-1]
			if h := chainHeads[v.ChainID]; last.BlockNumber > h.height {
				chainHeads[v.ChainID] = chainHead{height: last.BlockNumber, hash: last.BlockHash}
			}
			logger.Info().Str("vault", v.ID).
				Int("events", n).
				Uint64("block", last.BlockNumber).
				Msg("event log replayed")
		}
		sup.AddEngine(engine)
	}

	// Restart the trackers at the replayed heads so the next ingested
	// block must connect there; anything further ahead surfaces as a gap
	// and drives a backfill instead of silently diverging.
	for chainID, head := range chainHeads {
		if err := sup.ResetChain(chainID, head.height, head.hash); err != nil {
			logger.Fatal().Err(err).Int64("chain", chainID).Msg("seed tracker")
		}
	}

	// --- NATS ---
	nc, js, err := ingestion.Connect(cfg.NATS.URL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect nats")
	}
	defer nc.Close()
	logger.Info().Msg("nats connected")

	health.Register("nats", func() error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})

	if err := ingestion.EnsureStream(js, cfg.NATS.StreamName); err != nil {
		logger.Fatal().Err(err).Msg("ensure stream")
	}

	publisher := ingestion.NewPublisher(js, logger)
	slips := oracle.NewSlippageCache()
	subscriber := ingestion.NewSubscriber(ingestion.SubscriberConfig{
		StreamName:    cfg.NATS.StreamName,
		DurableName:   cfg.NATS.Durable,
		AssetDecimals: decimals,
		Slippage:      slips,
	}, js, sup, sup, logger)

	// --- Persist worker: finalized envelopes to the event log, then out ---
	worker := persistence.NewWorker(persistence.WorkerConfig{
		BatchSize:     cfg.Database.PersistBatch,
		FlushInterval: cfg.Database.PersistFlushDur.Std(),
	}, persistCh, persistence.NewEventWriter(db), metrics, logger)
	worker.OnPersisted(publisher.PublishFinalized)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		worker.Run(ctx)
	}()

	// --- Fault fanout: durable record plus operator notification ---
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-faultCh:
				saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := faultStore.Save(saveCtx, f); err != nil {
					logger.Error().Err(err).
						Str("fault_id", f.FaultID.String()).
						Msg("fault record not saved")
				}
				cancel()
				publisher.PublishFault(f)
			}
		}
	}()

	// --- Engines ---
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	if err := subscriber.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("subscribe")
	}

	// --- Valuation pull loop ---
	if cfg.Oracle.Endpoint != "" {
		poller := oracle.NewPoller(oracle.PollerConfig{
			Interval:      cfg.Oracle.Interval.Std(),
			FetchTimeout:  cfg.Oracle.FetchTimeout.Std(),
			AssetDecimals: decimals,
		}, oracle.NewHTTPFetcher(cfg.Oracle.Endpoint), sup, slips, logger)
		go poller.Run(ctx)
		logger.Info().Str("endpoint", cfg.Oracle.Endpoint).Msg("valuation poller enabled")
	}

	// --- Periodic snapshots of finalized state ---
	go func() {
		every := cfg.Database.SnapshotEvery.Std()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				saveSnapshots(ctx, sup, snapStore, logger)
			}
		}
	}()

	// --- Gauge refresh ---
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sup.PublishGauges()
			}
		}
	}()

	// --- Metrics server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Service.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
		logger.Info().Str("addr", cfg.Service.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server")
		}
	}()

	// --- HTTP API ---
	api := server.New(
		query.NewService(sup, 0),
		sup,
		planStore,
		faultStore,
		slips,
		publisher,
		planner.Config{
			DriftToleranceBps: cfg.Planner.DriftToleranceBps,
			MaxSlippageBps:    cfg.Planner.MaxSlippageBps,
			Validity:          cfg.Planner.Validity.Std(),
		},
		health,
		metrics,
		logger,
	)

	health.SetReady(true)
	logger.Info().
		Str("http", cfg.Service.HTTPAddr).
		Str("metrics", cfg.Service.MetricsAddr).
		Int("vaults", len(cfg.Vaults)).
		Msg("vaultcore ready")

	if err := api.Serve(ctx, cfg.Service.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server")
	}

	// --- Graceful shutdown ---
	logger.Info().Msg("shutting down")
	subscriber.Stop()
	<-supDone
	<-workerDone

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	saveSnapshots(shutCtx, sup, snapStore, logger)
	logger.Info().Msg("shutdown complete")
}

// configTargets converts a vault's configured allocations to the ledger's
// target form.
func configTargets(v config.Vault) []event.TargetAllocation {
	out := make([]event.TargetAllocation, 0, len(v.Targets))
	for _, t := range v.Targets {
		out = append(out, event.TargetAllocation{Strategy: t.Strategy, TargetBps: t.TargetBps})
	}
	return out
}

// saveSnapshots persists the finalized snapshot of each vault that has
// advanced since its last stored one. The store upserts on block height, so
// re-saving an unchanged snapshot is harmless.
func saveSnapshots(ctx context.Context, sup *core.Supervisor, store *persistence.SnapshotStore, logger zerolog.Logger) {
	for _, vaultID := range sup.Vaults() {
		snap, err := sup.Finalized(vaultID)
		if err != nil {
			continue
		}
		if snap.Sequence == 0 {
			continue
		}
		if err := store.Save(ctx, snap); err != nil {
			logger.Error().Err(err).Str("vault", vaultID).Msg("snapshot save failed")
			continue
		}
		if err := store.Prune(ctx, vaultID, 5); err != nil {
			logger.Warn().Err(err).Str("vault", vaultID).Msg("snapshot prune failed")
		}
	}
}
