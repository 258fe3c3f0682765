// Package metrics provides MetricsCollector implementations.
package metrics

import "github.com/arloliu/leaselect/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Returns:
//   - *NopMetrics: A new no-op metrics collector instance
//
// Example:
//
//	election, _ := leaselect.NewElection(session, "svc", leaselect.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// RecordCampaignStarted discards the campaign start metric.
func (n *NopMetrics) RecordCampaignStarted(_ /* rejoined */ bool) {
	// No-op
}

// RecordElectionWon discards the election win metric.
func (n *NopMetrics) RecordElectionWon() {
	// No-op
}

// RecordProclaim discards the proclaim metric.
func (n *NopMetrics) RecordProclaim(_ /* success */ bool) {
	// No-op
}

// RecordResign discards the resign metric.
func (n *NopMetrics) RecordResign() {
	// No-op
}

// RecordLeadershipLost discards the leadership loss metric.
func (n *NopMetrics) RecordLeadershipLost(_ /* reason */ string) {
	// No-op
}

// RecordPredecessorWait discards the predecessor wait metric.
func (n *NopMetrics) RecordPredecessorWait(_ /* predecessors */ int, _ /* duration */ float64) {
	// No-op
}

// SetLeading discards the leadership gauge update.
func (n *NopMetrics) SetLeading(_ /* leading */ bool) {
	// No-op
}
