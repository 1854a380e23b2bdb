// Package metrics collects routing metrics in the background.
//
// It uses a channel-based event pipeline to asynchronously record:
//   - Inbound request counts and response status distribution
//   - Forwarding attempts per instance, split into successes and failure kinds
//   - Attempt latency percentiles (P50, P95, P99) per instance
//   - Scheduled retries
//
// The Collector implements retry.Observer, so it can be attached to the retry
// controller directly. Sends never block the request path; when the buffer is
// full the event is dropped.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	controller, _ := retry.NewController(policy, lb, fwd, logger,
//		retry.WithObserver(collector))
//
//	snapshot := collector.Snapshot("round-robin")
package metrics
