package types

import "errors"

// Sentinel errors for the leaselect library.
//
// These errors provide type-safe error checking using errors.Is() and
// errors.As(). Components use these sentinels for known error conditions
// and wrap external store errors with context using
// fmt.Errorf("...: %w", err). The library never retries transient store
// failures internally; every failed store call surfaces to the immediate
// caller, who decides whether to retry the whole operation.
var (
	// ErrNoLeader is returned by Leader when no campaign key survives
	// under the election prefix.
	ErrNoLeader = errors.New("no leader elected")

	// ErrNotLeader is returned by Proclaim when this instance is not
	// leading, or by Proclaim/Resign when the guarded commit fails
	// because the recorded creation revision no longer matches. The
	// caller has definitively lost leadership.
	ErrNotLeader = errors.New("not the leader")

	// ErrCampaignCancelled is reserved for an explicit campaign
	// cancellation path. No operation in the current design returns it;
	// abandoning a campaign via Resign merely suppresses the elected
	// notification.
	ErrCampaignCancelled = errors.New("campaign cancelled")

	// ErrSessionRequired is returned when the store session is nil.
	ErrSessionRequired = errors.New("store session is required")

	// ErrEmptyKeyPrefix is returned when the election key prefix is empty.
	ErrEmptyKeyPrefix = errors.New("election key prefix is required")

	// ErrInvalidTTL is returned when the configured lease TTL is not
	// positive.
	ErrInvalidTTL = errors.New("lease TTL must be positive")

	// ErrElectionClosed is returned when an operation is invoked on a
	// closed Election.
	ErrElectionClosed = errors.New("election closed")

	// ErrWatchClosed indicates a watch subscription ended before the
	// awaited delete event was observed.
	ErrWatchClosed = errors.New("watch subscription closed unexpectedly")
)
