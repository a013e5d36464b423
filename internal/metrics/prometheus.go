// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"hostwatch/internal/database"
)

// Prometheus metrics
var (
	CheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostwatch_check_duration_seconds",
			Help:    "Time spent probing targets",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"domain", "result"},
	)

	CheckTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_checks_total",
			Help: "Total number of probes executed",
		},
		[]string{"domain", "result"},
	)

	TargetUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwatch_target_up",
			Help: "Whether the target's last check was healthy (1) or not (0)",
		},
		[]string{"domain"},
	)

	AlarmPhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwatch_alarm_phase",
			Help: "Current alarm phase of a target (0=clear, 1=unacknowledged, 2=acknowledged)",
		},
		[]string{"domain"},
	)

	AlarmTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_alarm_transitions_total",
			Help: "Alarm state transitions by event",
		},
		[]string{"event"},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hostwatch_sweep_duration_seconds",
			Help:    "Wall time of a full probe sweep",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hostwatch_sweeps_skipped_total",
			Help: "Ticks skipped because the previous sweep was still running",
		},
	)

	ActiveTargets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_active_targets_total",
			Help: "Number of enabled monitor targets",
		},
	)

	CertDaysToExpiry = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hostwatch_certificate_days_to_expiry",
			Help: "Days until the presented certificate expires",
		},
		[]string{"domain"},
	)

	CertIssuance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_certificate_issuance_total",
			Help: "Certificate issuance attempts",
		},
		[]string{"status"},
	)

	DatabaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostwatch_database_operations_total",
			Help: "Total database operations performed",
		},
		[]string{"operation", "status"},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostwatch_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

// Collector is safe to share; a nil *Collector records nothing.
type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordCheckResult(domain string, healthy bool, duration time.Duration) {
	if c == nil {
		return
	}
	result := resultLabel(healthy)
	CheckDuration.WithLabelValues(domain, result).Observe(duration.Seconds())
	CheckTotal.WithLabelValues(domain, result).Inc()
}

func (c *Collector) UpdateAlarmState(domain string, state *database.AlarmState) {
	if c == nil {
		return
	}
	up := 0.0
	if state.Up() {
		up = 1
	}
	TargetUp.WithLabelValues(domain).Set(up)
	AlarmPhase.WithLabelValues(domain).Set(phaseValue(state.Phase))
}

func (c *Collector) RecordTransition(event string) {
	if c == nil {
		return
	}
	AlarmTransitions.WithLabelValues(event).Inc()
}

func (c *Collector) RecordSweep(duration time.Duration) {
	if c == nil {
		return
	}
	SweepDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordSweepSkipped() {
	if c == nil {
		return
	}
	SweepsSkipped.Inc()
}

func (c *Collector) UpdateCertificate(cert *database.CertificateState) {
	if c == nil {
		return
	}
	if cert.DaysUntilExpiry == nil {
		CertDaysToExpiry.DeleteLabelValues(cert.Domain)
		return
	}
	CertDaysToExpiry.WithLabelValues(cert.Domain).Set(float64(*cert.DaysUntilExpiry))
}

func (c *Collector) RecordIssuance(err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	CertIssuance.WithLabelValues(status).Inc()
}

func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	if c == nil {
		return nil
	}
	enabled := true
	targets, err := c.store.GetTargets(ctx, database.TargetFilters{Enabled: &enabled})
	if err != nil {
		DatabaseOperations.WithLabelValues("get_targets", "error").Inc()
		return err
	}
	DatabaseOperations.WithLabelValues("get_targets", "success").Inc()
	ActiveTargets.Set(float64(len(targets)))
	return nil
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	if c == nil {
		return
	}
	WebSocketConnections.Add(float64(delta))
}

func resultLabel(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "failing"
}

func phaseValue(p database.AlarmPhase) float64 {
	switch p {
	case database.PhaseAlarmUnacked:
		return 1
	case database.PhaseAlarmAcked:
		return 2
	default:
		return 0
	}
}
