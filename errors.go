package leaselect

import "github.com/arloliu/leaselect/types"

// Sentinel errors re-exported from the types package.
var (
	// ErrNoLeader is returned by Leader when no campaign key survives
	// under the election prefix.
	ErrNoLeader = types.ErrNoLeader

	// ErrNotLeader is returned by Proclaim when this instance is not
	// leading, or when a guarded commit proves leadership was lost.
	ErrNotLeader = types.ErrNotLeader

	// ErrCampaignCancelled is reserved for an explicit cancellation path;
	// nothing returns it in the current design.
	ErrCampaignCancelled = types.ErrCampaignCancelled

	// ErrSessionRequired is returned when the store session is nil.
	ErrSessionRequired = types.ErrSessionRequired

	// ErrEmptyKeyPrefix is returned when the election key prefix is empty.
	ErrEmptyKeyPrefix = types.ErrEmptyKeyPrefix

	// ErrInvalidTTL is returned when the configured lease TTL is not positive.
	ErrInvalidTTL = types.ErrInvalidTTL

	// ErrElectionClosed is returned when Campaign is invoked after Close.
	ErrElectionClosed = types.ErrElectionClosed
)
