// Package metrics collects runtime statistics for the sweep scheduler and the
// account reaper.
//
// It uses a channel-based event pipeline. Producers call Emit, which never
// blocks: when the buffer is full the event is dropped. A single goroutine
// started by Start folds events into:
//   - Probe counts and failures per (account, target URL)
//   - Probe latencies with percentile calculations (P50, P95, P99)
//   - Up/down status per (account, target URL)
//   - Sweep count and last sweep duration
//   - Reaped account and pruned session totals
//
// The same events also feed Prometheus instruments registered on the
// registerer passed to NewCollector.
//
// Example usage:
//
//	collector := metrics.NewCollector(1024, logger, prometheus.NewRegistry())
//	collector.Start(ctx)
//
//	collector.Emit(metrics.Event{
//		Type:      metrics.EventProbeCompleted,
//		AccountID: accountID,
//		Target:    "https://example.com",
//		Duration:  150 * time.Millisecond,
//		Success:   true,
//	})
//
//	totals := collector.Snapshot()           // aggregates only
//	mine := collector.TargetStats(accountID) // one account's targets
//
// On shutdown the collector drains buffered events before returning.
package metrics
