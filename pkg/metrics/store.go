package metrics

import "time"

// StoreMetrics provides observability for container store operations.
//
// Implementations collect per-operation request counts and latency
// distributions. The interface is optional - a nil value passed to the
// store disables collection with zero overhead.
type StoreMetrics interface {
	// ObserveOp records a completed store operation with its name,
	// duration, and outcome.
	//
	// Parameters:
	//   - op: Operation name (e.g., "open", "map", "erase")
	//   - duration: Time taken to process the operation
	//   - failed: Whether the operation returned an error
	ObserveOp(op string, duration time.Duration, failed bool)
}

// noopStoreMetrics discards all observations.
type noopStoreMetrics struct{}

// NewNoopStoreMetrics creates a StoreMetrics that does nothing.
func NewNoopStoreMetrics() StoreMetrics {
	return noopStoreMetrics{}
}

func (noopStoreMetrics) ObserveOp(string, time.Duration, bool) {}
