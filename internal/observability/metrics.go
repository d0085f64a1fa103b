package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's Prometheus instruments. One instance is
// shared across all vault engines; series are split by label.
type Metrics struct {
	EventsApplied    *prometheus.CounterVec
	EventsDuplicate  *prometheus.CounterVec
	EventsRetracted  *prometheus.CounterVec
	Faults           *prometheus.CounterVec
	Reorgs           *prometheus.CounterVec
	ValuationUpdates *prometheus.CounterVec
	Impairments      *prometheus.CounterVec
	PlansGenerated   *prometheus.CounterVec

	TotalAssets     *prometheus.GaugeVec
	TotalShares     *prometheus.GaugeVec
	SharePrice      *prometheus.GaugeVec
	FinalizedHeight *prometheus.GaugeVec
	HeadHeight      *prometheus.GaugeVec
	HaltedVaults    prometheus.Gauge

	ApplyDuration   prometheus.Histogram
	PersistDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_events_applied_total",
			Help: "Chain events folded into vault state.",
		}, []string{"vault", "kind"}),
		EventsDuplicate: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_events_duplicate_total",
			Help: "Events dropped by idempotency checks.",
		}, []string{"vault"}),
		EventsRetracted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_events_retracted_total",
			Help: "Events unwound by chain reorgs.",
		}, []string{"vault"}),
		Faults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_consistency_faults_total",
			Help: "Events rejected for violating accounting invariants.",
		}, []string{"vault", "kind"}),
		Reorgs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_chain_reorgs_total",
			Help: "Reorgs observed per chain.",
		}, []string{"chain_id"}),
		ValuationUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_valuation_updates_total",
			Help: "Strategy valuation snapshots applied.",
		}, []string{"vault", "strategy"}),
		Impairments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_impairments_total",
			Help: "Valuation snapshots that marked a strategy down.",
		}, []string{"vault", "strategy"}),
		PlansGenerated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultcore_rebalance_plans_total",
			Help: "Rebalance plans generated.",
		}, []string{"vault"}),

		TotalAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultcore_total_assets",
			Help: "Vault total assets in base units (head state).",
		}, []string{"vault"}),
		TotalShares: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultcore_total_shares",
			Help: "Vault total shares outstanding (head state).",
		}, []string{"vault"}),
		SharePrice: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultcore_share_price",
			Help: "Share price at 1e6 scale (head state).",
		}, []string{"vault"}),
		FinalizedHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultcore_finalized_height",
			Help: "Highest finalized block per chain.",
		}, []string{"chain_id"}),
		HeadHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vaultcore_head_height",
			Help: "Tracked chain head per chain.",
		}, []string{"chain_id"}),
		HaltedVaults: factory.NewGauge(prometheus.GaugeOpts{
			Name: "vaultcore_halted_vaults",
			Help: "Vaults halted on an unacknowledged fault.",
		}),

		ApplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultcore_apply_duration_seconds",
			Help:    "Time to fold one event into vault state.",
			Buckets: prometheus.ExponentialBuckets(0.000005, 4, 10),
		}),
		PersistDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vaultcore_persist_duration_seconds",
			Help:    "Time to write one finalized batch.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		}),
	}
}
