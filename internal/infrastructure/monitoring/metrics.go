package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/lct/internal/domain/service"
)

const namespace = "lct"

// Metrics manages the Prometheus metrics and implements service.Metrics.
type Metrics struct {
	KeyRotations         *prometheus.CounterVec
	KeyRevocations       *prometheus.CounterVec
	KeysExpired          prometheus.Counter
	KeysCleaned          prometheus.Counter
	Signatures           *prometheus.CounterVec
	WitnessVerifications *prometheus.CounterVec
	WitnessLatency       prometheus.Histogram
	WitnessMarks         *prometheus.CounterVec
	Interactions         *prometheus.CounterVec
	TrustScores          prometheus.Histogram
	CacheAccess          *prometheus.CounterVec
	VaultCalls           *prometheus.HistogramVec
	DBQueries            *prometheus.HistogramVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		KeyRotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_rotations_total",
			Help:      "Total number of completed key rotations.",
		}, []string{"reason"}),
		KeyRevocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_revocations_total",
			Help:      "Total number of revoked key versions.",
		}, []string{"reason"}),
		KeysExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_expired_total",
			Help:      "Key versions moved from overlapping to expired.",
		}),
		KeysCleaned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_cleaned_total",
			Help:      "Expired key versions removed by cleanup.",
		}),
		Signatures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Sign and verify operations by outcome.",
		}, []string{"operation", "result"}),
		WitnessVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "witness_verifications_total",
			Help:      "Witness quorum evaluations by outcome.",
		}, []string{"result"}),
		WitnessLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "witness_verification_duration_seconds",
			Help:      "Latency of witness quorum evaluations.",
			Buckets:   prometheus.DefBuckets,
		}),
		WitnessMarks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "witness_marks_total",
			Help:      "Adaptive witness reputation marks.",
		}, []string{"outcome"}),
		Interactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Recorded identity interactions by outcome.",
		}, []string{"result"}),
		TrustScores: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "trust_score",
			Help:      "Distribution of computed trust scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		CacheAccess: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_access_total",
			Help:      "Trust snapshot cache lookups by tier and outcome.",
		}, []string{"cache", "hit"}),
		VaultCalls: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vault_api_duration_seconds",
			Help:      "Latency of Vault API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		DBQueries: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Latency of database queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

func (m *Metrics) RecordKeyRotation(reason string) {
	m.KeyRotations.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordKeyRevocation(reason string) {
	m.KeyRevocations.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordKeysExpired(count int) {
	m.KeysExpired.Add(float64(count))
}

func (m *Metrics) RecordKeysCleaned(count int) {
	m.KeysCleaned.Add(float64(count))
}

func (m *Metrics) RecordSignature(operation string, success bool) {
	m.Signatures.WithLabelValues(operation, result(success)).Inc()
}

func (m *Metrics) RecordWitnessVerification(satisfied bool, duration time.Duration) {
	m.WitnessVerifications.WithLabelValues(result(satisfied)).Inc()
	m.WitnessLatency.Observe(duration.Seconds())
}

func (m *Metrics) RecordWitnessMark(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.WitnessMarks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordInteraction(success bool) {
	m.Interactions.WithLabelValues(result(success)).Inc()
}

func (m *Metrics) ObserveTrustScore(score float64) {
	m.TrustScores.Observe(score)
}

func (m *Metrics) RecordCacheAccess(cacheType string, hit bool) {
	m.CacheAccess.WithLabelValues(cacheType, strconv.FormatBool(hit)).Inc()
}

func (m *Metrics) RecordVaultAPI(operation string, duration time.Duration, err error) {
	m.VaultCalls.WithLabelValues(operation, result(err == nil)).Observe(duration.Seconds())
}

func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.DBQueries.WithLabelValues(operation).Observe(duration.Seconds())
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
