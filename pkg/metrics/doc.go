/*
Package metrics provides Prometheus metrics collection and exposition
for the fleet manager.

Metrics fall into a few categories: inventory gauges (TargetsTotal,
DevicesTotal, DeviceHostsTotal) updated by Collector's periodic poll of
pkg/storage; dispatch gauges (SessionsActive, ActionsInFlight) updated by
the same poll from the dispatcher's counts; reconciliation duration and
cycle counters fed by pkg/reconciler; and a single RaftLeader gauge
reporting this replica's leader election status. The dispatch latency
histogram, ingest latency and sequence-gap counters, and journal purge
and alert transition counters are registered here, but pkg/dispatch,
pkg/ingest, pkg/journal and pkg/alert do not update them.

# Usage

	collector := metrics.NewCollector(source) // source satisfies Source
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())

Operation timing uses Timer:

	timer := metrics.NewTimer()
	err := doIngest()
	timer.ObserveDuration(metrics.IngestLatency)

# Health

health.go exposes /health, /ready, and /live handlers backed by a small
in-process HealthChecker. RegisterComponent/UpdateComponent let any
component (raft, storage, transport) report its own health; GetReadiness
additionally requires raft, storage, and transport to all be registered
and healthy before reporting "ready".
*/
package metrics
