/*
Package reconciler drives the periodic half of the Snapshot Manager
(C7): firing due snapshot cadences and sweeping retention for every
filesystem with a configured policy.

# Loop shape

Reconciler ticks every 10 seconds, skipping the cycle entirely on a
replica that does not hold Raft leadership (LeaderChecker), so that
only the active manager ever dispatches a snapshot action. Each cycle
lists known filesystems, resolves each one's active MGS host, and runs
cadence firing (package snapshot's FireCadence) followed by a
retention sweep (RunRetention) against it.

# Usage

	rec := reconciler.NewReconciler(store, dispatcher, manager)
	rec.Start()
	defer rec.Stop()

Cycle duration and count are reported through pkg/metrics'
ReconciliationDuration and ReconciliationCyclesTotal, matching the
instrumentation shape used throughout the rest of the manager process.

# See also

  - pkg/snapshot — the cadence and retention algorithms themselves
  - pkg/ostpool — OST pool reconciliation (C6), which is instead driven
    reactively off agent reports by pkg/manager.Manager.HandleFrame,
    not by this ticker
*/
package reconciler
