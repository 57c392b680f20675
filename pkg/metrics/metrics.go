package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Device/target inventory metrics
	TargetsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_targets_total",
			Help: "Total number of targets by kind and state",
		},
		[]string{"kind", "state"},
	)

	DeviceHostsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_device_hosts_total",
			Help: "Total number of device_host rows in the merged device graph",
		},
	)

	DevicesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_devices_total",
			Help: "Total number of distinct devices in the merged device graph",
		},
	)

	// Session/dispatch metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_sessions_active",
			Help: "Number of hosts with a live agent session",
		},
	)

	ActionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_actions_in_flight",
			Help: "Number of actions dispatched to an agent awaiting a result",
		},
	)

	DispatchLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lustre_fleet_dispatch_latency_seconds",
			Help:    "Time from ActionStart to a completed ActionResult",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ingest metrics
	IngestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lustre_fleet_ingest_latency_seconds",
			Help:    "Time to merge and persist one host inventory report",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestSequenceGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lustre_fleet_ingest_sequence_gaps_total",
			Help: "Total number of detected gaps in a host's ingest sequence numbers",
		},
	)

	MailboxRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lustre_fleet_mailbox_records_total",
			Help: "Total number of mailbox records ingested, by task name",
		},
		[]string{"task"},
	)

	// Snapshot reconciliation (cadence + retention) metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lustre_fleet_reconciliation_duration_seconds",
			Help:    "Time taken for a snapshot cadence and retention reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lustre_fleet_reconciliation_cycles_total",
			Help: "Total number of snapshot cadence and retention reconciliation cycles completed",
		},
	)

	// Journal metrics
	JournalRowsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lustre_fleet_journal_rows_purged_total",
			Help: "Total number of journal rows purged past the retention cap",
		},
	)

	// Alert metrics
	AlertsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_alerts_active",
			Help: "Number of currently active alerts",
		},
	)

	AlertTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lustre_fleet_alert_transitions_total",
			Help: "Total number of alert raise/lower transitions, by kind and direction",
		},
		[]string{"kind", "direction"},
	)

	// Snapshot metrics
	SnapshotsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_snapshots_total",
			Help: "Total number of snapshots by filesystem",
		},
		[]string{"filesystem"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lustre_fleet_raft_is_leader",
			Help: "Whether this manager replica holds Raft leadership (1 = leader, 0 = follower)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TargetsTotal,
		DeviceHostsTotal,
		DevicesTotal,
		SessionsActive,
		ActionsInFlight,
		DispatchLatency,
		IngestLatency,
		IngestSequenceGapsTotal,
		MailboxRecordsTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		JournalRowsPurgedTotal,
		AlertsActive,
		AlertTransitionsTotal,
		SnapshotsTotal,
		RaftLeader,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording their duration
// to a histogram.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer starting now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec with
// labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
