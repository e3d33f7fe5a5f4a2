package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpDurationHistogram   *prometheus.HistogramVec
	idempotencyCounter      *prometheus.CounterVec
	depositCounter          *prometheus.CounterVec
	withdrawalCounter       *prometheus.CounterVec
	withdrawalDuration      prometheus.Histogram
	pendingWithdrawalsGauge prometheus.Gauge
	discrepancyGauge        prometheus.Gauge
	onchainBalanceGauge     prometheus.Gauge
	aggregateDriftCounter   prometheus.Counter
	staleClaimCounter       *prometheus.CounterVec
	alertCounter            *prometheus.CounterVec
	workerRunCounter        *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		depositCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_deposits_total",
			Help: "Deposit pipeline outcomes",
		}, []string{"outcome"})

		withdrawalCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_withdrawals_total",
			Help: "Withdrawal lifecycle outcomes",
		}, []string{"outcome"})

		withdrawalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_withdrawal_settlement_seconds",
			Help:    "Time from claim to completion of a withdrawal",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
		})

		pendingWithdrawalsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_pending_withdrawals",
			Help: "Withdrawal requests waiting to be processed",
		})

		discrepancyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_wallet_discrepancy_ether",
			Help: "Absolute difference between on-chain balance and ledger liabilities",
		})

		onchainBalanceGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "platform_wallet_onchain_balance_ether",
			Help: "Last observed on-chain balance of the active platform address",
		})

		aggregateDriftCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "platform_wallet_aggregate_drift_total",
			Help: "Reconciliations where the running user_balances aggregate diverged from the user sum",
		})

		staleClaimCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_stale_claims_total",
			Help: "Stale processing records resolved by the sweep",
		}, []string{"kind", "resolution"})

		alertCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "operator_alerts_total",
			Help: "Operator alerts raised",
		}, []string{"severity"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			idempotencyCounter,
			depositCounter,
			withdrawalCounter,
			withdrawalDuration,
			pendingWithdrawalsGauge,
			discrepancyGauge,
			onchainBalanceGauge,
			aggregateDriftCounter,
			staleClaimCounter,
			alertCounter,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementDeposit(outcome string) {
	if depositCounter == nil {
		return
	}
	depositCounter.WithLabelValues(outcome).Inc()
}

func IncrementWithdrawal(outcome string) {
	if withdrawalCounter == nil {
		return
	}
	withdrawalCounter.WithLabelValues(outcome).Inc()
}

func ObserveWithdrawalSettlement(d time.Duration) {
	if withdrawalDuration == nil {
		return
	}
	withdrawalDuration.Observe(d.Seconds())
}

func SetPendingWithdrawals(n int64) {
	if pendingWithdrawalsGauge == nil {
		return
	}
	pendingWithdrawalsGauge.Set(float64(n))
}

// SetReconciliation records the latest reconciliation snapshot.
func SetReconciliation(onchain, discrepancy float64, drifted bool) {
	if discrepancyGauge == nil {
		return
	}
	onchainBalanceGauge.Set(onchain)
	discrepancyGauge.Set(discrepancy)
	if drifted {
		aggregateDriftCounter.Inc()
	}
}

func IncrementStaleClaim(kind, resolution string) {
	if staleClaimCounter == nil {
		return
	}
	staleClaimCounter.WithLabelValues(kind, resolution).Inc()
}

func IncrementAlert(severity string) {
	if alertCounter == nil {
		return
	}
	alertCounter.WithLabelValues(severity).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
