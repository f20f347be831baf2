package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconcileCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_reconcile_cycles_total",
			Help: "Total reconciliation cycles by reconciler",
		},
		[]string{"reconciler"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_reconcile_duration_seconds",
			Help:    "Reconciliation cycle duration in seconds by reconciler",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reconciler"},
	)

	ReconcileErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_reconcile_errors_total",
			Help: "Total per-workload reconciliation errors by reconciler",
		},
		[]string{"reconciler"},
	)

	BotsOwned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_bots_owned",
			Help: "Bots assigned to this instance in the last cycle",
		},
	)

	InstancesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetwatch_instances_total",
			Help: "Control-plane instances visible in the coordination store",
		},
	)

	// Trade sync metrics
	TradesSynced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_trades_synced_total",
			Help: "Total trades upserted by the trade sync",
		},
	)

	TradeResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_trade_resets_total",
			Help: "Total upstream trade-ID resets detected",
		},
	)

	TradeSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_trade_sync_duration_seconds",
			Help:    "Per-bot trade sync duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Download metrics
	DownloadsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_downloads_started_total",
			Help: "Total dataset downloads triggered",
		},
	)

	DownloadsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_downloads_failed_total",
			Help: "Total dataset downloads that ended in failure",
		},
	)

	DownloadsStuck = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_downloads_stuck_total",
			Help: "Total downloads failed by stuck detection",
		},
	)

	// Usage metrics
	UsageSamples = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_usage_samples_total",
			Help: "Total usage samples appended",
		},
	)

	UsageSamplesPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_usage_samples_pruned_total",
			Help: "Total raw usage samples removed by retention pruning",
		},
	)
)

func init() {
	prometheus.MustRegister(ReconcileCycles)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileErrors)
	prometheus.MustRegister(BotsOwned)
	prometheus.MustRegister(InstancesTotal)
	prometheus.MustRegister(TradesSynced)
	prometheus.MustRegister(TradeResets)
	prometheus.MustRegister(TradeSyncDuration)
	prometheus.MustRegister(DownloadsStarted)
	prometheus.MustRegister(DownloadsFailed)
	prometheus.MustRegister(DownloadsStuck)
	prometheus.MustRegister(UsageSamples)
	prometheus.MustRegister(UsageSamplesPruned)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures one cycle for a histogram observation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on the histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
