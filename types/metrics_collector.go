package types

// MetricsCollector defines methods for recording operational metrics.
//
// Implementations should be non-blocking and handle failures gracefully.
// All methods may be called from internal goroutines and must be
// thread-safe.
type MetricsCollector interface {
	// RecordCampaignStarted records a campaign key commit, with whether
	// the commit created a new key or rejoined an existing one under the
	// same lease.
	RecordCampaignStarted(rejoined bool)

	// RecordElectionWon records a confirmed election win.
	RecordElectionWon()

	// RecordProclaim records a Proclaim attempt (success or failure).
	RecordProclaim(success bool)

	// RecordResign records a Resign call.
	RecordResign()

	// RecordLeadershipLost records an involuntary loss of leadership
	// (failed guarded commit or lease expiry).
	//
	// Parameters:
	//   - reason: Loss reason ("proclaim_rejected", "lease_expired")
	RecordLeadershipLost(reason string)

	// RecordPredecessorWait records one completed predecessor wait.
	//
	// Parameters:
	//   - predecessors: Number of predecessor keys waited on
	//   - duration: Total wait time in seconds
	RecordPredecessorWait(predecessors int, duration float64)

	// SetLeading sets the current leadership gauge (1 leading, 0 not).
	SetLeading(leading bool)
}
