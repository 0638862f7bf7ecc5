package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of external provider calls by outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
	ProviderCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Duration of external provider calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"provider", "operation"},
	)
	NotificationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_attempts_total",
			Help: "Total number of notification delivery attempts by type, channel and outcome",
		},
		[]string{"type", "channel", "outcome"},
	)
	SettingsCacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settings_cache_events_total",
			Help: "Decrypted settings cache hits, misses and invalidations",
		},
		[]string{"event"},
	)
)

// InitMetrics registers the collectors with the default registry.
func InitMetrics() {
	for name, c := range map[string]prometheus.Collector{
		"ProviderCalls":        ProviderCalls,
		"ProviderCallDuration": ProviderCallDuration,
		"NotificationAttempts": NotificationAttempts,
		"SettingsCacheEvents":  SettingsCacheEvents,
	} {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}
}

// ObserveProviderCall records the outcome and latency of one provider call.
func ObserveProviderCall(provider, operation string, start time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	ProviderCalls.WithLabelValues(provider, operation, outcome).Inc()
	ProviderCallDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}

// ObserveNotification records one delivery attempt.
func ObserveNotification(typ, channel string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	NotificationAttempts.WithLabelValues(typ, channel, outcome).Inc()
}
