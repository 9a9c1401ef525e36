// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	RelaySessionsTotal   prometheus.Counter
	RelayStatusChanges   prometheus.Counter
	RelayHeartbeats      prometheus.Counter
	RelayPolls           *prometheus.CounterVec // label: result (live|offline|unknown)
	RelayCredentialFetch *prometheus.CounterVec // labels: trigger (initial|scheduled|errors), outcome (ok|failed)
	ClipSyncs            *prometheus.CounterVec // label: outcome (ok|empty|failed)

	// Histograms (seconds)
	RelayBackoff      prometheus.Observer
	RelayPollDuration prometheus.Observer

	// Gauges
	RelaySessionsActive prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RelaySessionsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_sessions_total", Help: "Number of live-status relay sessions accepted"})
		RelayStatusChanges = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_status_changes_total", Help: "Number of status updates pushed to clients"})
		RelayHeartbeats = promauto.NewCounter(prometheus.CounterOpts{Name: "relay_heartbeats_total", Help: "Number of heartbeats sent during backoff"})
		RelayPolls = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_polls_total", Help: "Upstream stream status polls by result"}, []string{"result"})
		RelayCredentialFetch = promauto.NewCounterVec(prometheus.CounterOpts{Name: "relay_credential_refresh_total", Help: "App credential exchanges by trigger and outcome"}, []string{"trigger", "outcome"})
		RelayBackoff = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_backoff_seconds", Help: "Backoff delay applied after a failed poll", Buckets: []float64{5, 10, 20, 40, 60}})
		RelayPollDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "relay_poll_duration_seconds", Help: "Upstream stream status poll duration seconds", Buckets: prometheus.DefBuckets})
		ClipSyncs = promauto.NewCounterVec(prometheus.CounterOpts{Name: "clip_syncs_total", Help: "Clip synchronisations by outcome"}, []string{"outcome"})
		RelaySessionsActive = promauto.NewGauge(prometheus.GaugeOpts{Name: "relay_sessions_active", Help: "Current number of registered relay sessions"})
	})
}

// SessionStarted / SessionEnded track the active session gauge.
func SessionStarted() {
	if RelaySessionsTotal != nil {
		RelaySessionsTotal.Inc()
	}
	if RelaySessionsActive != nil {
		RelaySessionsActive.Inc()
	}
}

func SessionEnded() {
	if RelaySessionsActive != nil {
		RelaySessionsActive.Dec()
	}
}

// ObservePoll counts a poll by its result label.
func ObservePoll(result string) {
	if RelayPolls != nil {
		RelayPolls.WithLabelValues(result).Inc()
	}
}

// ObserveCredential counts a credential exchange.
func ObserveCredential(trigger string, ok bool) {
	if RelayCredentialFetch == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "ok"
	}
	RelayCredentialFetch.WithLabelValues(trigger, outcome).Inc()
}

// ObserveStatusChange counts a status update sent to a client.
func ObserveStatusChange() {
	if RelayStatusChanges != nil {
		RelayStatusChanges.Inc()
	}
}

// ObserveBackoff records a backoff delay in seconds.
func ObserveBackoff(seconds float64) {
	if RelayBackoff != nil {
		RelayBackoff.Observe(seconds)
	}
}

// ObserveClipSync counts a clip sync by outcome.
func ObserveClipSync(outcome string) {
	if ClipSyncs != nil {
		ClipSyncs.WithLabelValues(outcome).Inc()
	}
}

func ObserveHeartbeat() {
	if RelayHeartbeats != nil {
		RelayHeartbeats.Inc()
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
