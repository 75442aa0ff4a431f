// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Reservations      *prometheus.CounterVec // result=ok|insufficient|error
	Refunds           prometheus.Counter
	RefundFailures    prometheus.Counter
	Conversions       *prometheus.CounterVec // kind, outcome
	FreeClaims        *prometheus.CounterVec // result
	AdminMutations    *prometheus.CounterVec // op
	BroadcastMessages *prometheus.CounterVec // result=sent|failed
	WorkdirsRemoved   prometheus.Counter

	// Histograms (seconds)
	TranscodeDuration  prometheus.Observer
	ConversionDuration prometheus.Observer

	// Gauges
	ActiveConversions prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Reservations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "circle_reservations_total", Help: "Credit reservations by result"}, []string{"result"})
		Refunds = promauto.NewCounter(prometheus.CounterOpts{Name: "circle_refunds_total", Help: "Reservations refunded after a failed conversion"})
		RefundFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "circle_refund_failures_total", Help: "Refunds that could not be written"})
		Conversions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "circle_conversions_total", Help: "Conversion attempts by media kind and outcome"}, []string{"kind", "outcome"})
		FreeClaims = promauto.NewCounterVec(prometheus.CounterOpts{Name: "circle_free_claims_total", Help: "Free credit claims by result"}, []string{"result"})
		AdminMutations = promauto.NewCounterVec(prometheus.CounterOpts{Name: "circle_admin_mutations_total", Help: "Admin ledger mutations by operation"}, []string{"op"})
		BroadcastMessages = promauto.NewCounterVec(prometheus.CounterOpts{Name: "circle_broadcast_messages_total", Help: "Broadcast deliveries by result"}, []string{"result"})
		WorkdirsRemoved = promauto.NewCounter(prometheus.CounterOpts{Name: "circle_workdirs_removed_total", Help: "Stale conversion work directories removed by the janitor"})
		TranscodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "circle_transcode_duration_seconds", Help: "ffmpeg run duration seconds", Buckets: prometheus.DefBuckets})
		ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "circle_conversion_duration_seconds", Help: "End to end conversion duration seconds", Buckets: prometheus.DefBuckets})
		ActiveConversions = promauto.NewGauge(prometheus.GaugeOpts{Name: "circle_active_conversions", Help: "Conversions currently holding a slot"})
	})
}

// RecordReservation counts a reservation attempt.
func RecordReservation(result string) {
	if Reservations != nil {
		Reservations.WithLabelValues(result).Inc()
	}
}

// RecordRefund counts a refund and whether it was written.
func RecordRefund(ok bool) {
	if ok {
		if Refunds != nil {
			Refunds.Inc()
		}
		return
	}
	if RefundFailures != nil {
		RefundFailures.Inc()
	}
}

// RecordConversion counts a finished conversion attempt.
func RecordConversion(kind, outcome string) {
	if Conversions != nil {
		Conversions.WithLabelValues(kind, outcome).Inc()
	}
}

// RecordFreeClaim counts a free-credit claim.
func RecordFreeClaim(result string) {
	if FreeClaims != nil {
		FreeClaims.WithLabelValues(result).Inc()
	}
}

// RecordAdminMutation counts an admin ledger change.
func RecordAdminMutation(op string) {
	if AdminMutations != nil {
		AdminMutations.WithLabelValues(op).Inc()
	}
}

// RecordBroadcast counts one broadcast delivery.
func RecordBroadcast(sent bool) {
	if BroadcastMessages == nil {
		return
	}
	if sent {
		BroadcastMessages.WithLabelValues("sent").Inc()
	} else {
		BroadcastMessages.WithLabelValues("failed").Inc()
	}
}

// AddWorkdirsRemoved counts janitor removals.
func AddWorkdirsRemoved(n int) {
	if WorkdirsRemoved != nil && n > 0 {
		WorkdirsRemoved.Add(float64(n))
	}
}

// SetActiveConversions adjusts the active conversion gauge by delta.
func SetActiveConversions(delta int) {
	if ActiveConversions != nil {
		ActiveConversions.Add(float64(delta))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation embeds a fresh random correlation id.
func NewCorrelation(ctx context.Context) context.Context {
	return WithCorrelation(ctx, uuid.NewString())
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
