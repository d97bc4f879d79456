package observability

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics

	mirrorMetricsOnce sync.Once
	mirrorRegistry    *MirrorMetrics
)

// ModuleMetrics returns the lazily-initialised registry for JSON-RPC handler
// activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error code.",
			}, []string{"module", "method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nervix",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by rate limiting.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of one request. code is zero on success.
func (m *moduleMetrics) Observe(module, method string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if code != 0 {
		outcome = "error"
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", code)).Inc()
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// LedgerMetrics tracks operations applied by the escrow ledger.
type LedgerMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	feesMinor  prometheus.Counter
	escrows    prometheus.Gauge
	paused     prometheus.Gauge
}

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = &LedgerMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by opcode and result kind.",
			}, []string{"op", "result"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nervix",
				Subsystem: "escrow",
				Name:      "apply_duration_seconds",
				Help:      "Time spent applying one ledger message including the commit.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
			}, []string{"op"}),
			feesMinor: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "escrow",
				Name:      "fees_collected_minor_total",
				Help:      "Platform fees sent to the treasury, in minor units.",
			}),
			escrows: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nervix",
				Subsystem: "escrow",
				Name:      "escrow_count",
				Help:      "Number of escrows ever created.",
			}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nervix",
				Subsystem: "escrow",
				Name:      "paused",
				Help:      "1 while the ledger is paused.",
			}),
		}
		prometheus.MustRegister(
			ledgerRegistry.operations,
			ledgerRegistry.latency,
			ledgerRegistry.feesMinor,
			ledgerRegistry.escrows,
			ledgerRegistry.paused,
		)
	})
	return ledgerRegistry
}

// RecordOperation counts an applied or rejected message.
func (m *LedgerMetrics) RecordOperation(op, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordFee adds a collected fee. Values beyond float64 precision are
// approximated.
func (m *LedgerMetrics) RecordFee(fee *big.Int) {
	if m == nil || fee == nil || fee.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(fee).Float64()
	m.feesMinor.Add(f)
}

// SetState publishes the escrow counter and the pause flag.
func (m *LedgerMetrics) SetState(escrowCount uint32, paused bool) {
	if m == nil {
		return
	}
	m.escrows.Set(float64(escrowCount))
	if paused {
		m.paused.Set(1)
	} else {
		m.paused.Set(0)
	}
}

// MirrorMetrics tracks the off-chain mirror's view of the ledger.
type MirrorMetrics struct {
	polls        *prometheus.CounterVec
	lastSnapshot prometheus.Gauge
	previews     *prometheus.CounterVec
	streamConns  prometheus.Gauge
}

// Mirror returns the singleton mirror metrics registry.
func Mirror() *MirrorMetrics {
	mirrorMetricsOnce.Do(func() {
		mirrorRegistry = &MirrorMetrics{
			polls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "mirror",
				Name:      "polls_total",
				Help:      "Ledger polls segmented by outcome (ok, timeout, error).",
			}, []string{"outcome"}),
			lastSnapshot: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nervix",
				Subsystem: "mirror",
				Name:      "last_snapshot_timestamp_seconds",
				Help:      "Unix time of the last successful ledger snapshot.",
			}),
			previews: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nervix",
				Subsystem: "mirror",
				Name:      "fee_previews_total",
				Help:      "Fee previews segmented by fee type.",
			}, []string{"fee_type"}),
			streamConns: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nervix",
				Subsystem: "mirror",
				Name:      "event_stream_connections",
				Help:      "Open websocket event stream connections.",
			}),
		}
		prometheus.MustRegister(
			mirrorRegistry.polls,
			mirrorRegistry.lastSnapshot,
			mirrorRegistry.previews,
			mirrorRegistry.streamConns,
		)
	})
	return mirrorRegistry
}

// RecordPoll counts a poll outcome and, on success, stamps the snapshot time.
func (m *MirrorMetrics) RecordPoll(outcome string, at time.Time) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.lastSnapshot.Set(float64(at.Unix()))
	}
}

func (m *MirrorMetrics) RecordPreview(feeType string) {
	if m == nil {
		return
	}
	m.previews.WithLabelValues(feeType).Inc()
}

// StreamOpened and StreamClosed track websocket subscribers.
func (m *MirrorMetrics) StreamOpened() {
	if m != nil {
		m.streamConns.Inc()
	}
}

func (m *MirrorMetrics) StreamClosed() {
	if m != nil {
		m.streamConns.Dec()
	}
}
