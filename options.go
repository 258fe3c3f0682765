package leaselect

import (
	"time"

	"github.com/arloliu/leaselect/internal/hooks"
	"github.com/arloliu/leaselect/internal/logger"
	"github.com/arloliu/leaselect/internal/metrics"
)

// DefaultTTL is the lease time-to-live requested by Campaign when no
// WithTTL option is given.
const DefaultTTL = 5 * time.Second

// Option configures an Election with optional dependencies.
type Option func(*electionOptions)

// electionOptions holds optional Election configuration.
type electionOptions struct {
	ttl     time.Duration
	logger  Logger
	metrics MetricsCollector
	hooks   Hooks
}

func defaultOptions() electionOptions {
	return electionOptions{
		ttl:     DefaultTTL,
		logger:  logger.NewNop(),
		metrics: metrics.NewNop(),
		hooks:   hooks.NewNop(),
	}
}

// WithTTL sets the lease time-to-live requested on Campaign.
//
// The TTL bounds how long a crashed leader's key survives before the
// store removes it. It does NOT bound the predecessor wait: a campaign
// with predecessors that never vacate suspends until Close().
//
// Parameters:
//   - ttl: Lease duration (must be positive)
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	election, _ := leaselect.NewElection(session, "svc", leaselect.WithTTL(10*time.Second))
func WithTTL(ttl time.Duration) Option {
	return func(o *electionOptions) {
		o.ttl = ttl
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	logger := zap.NewExample().Sugar()
//	election, _ := leaselect.NewElection(session, "svc", leaselect.WithLogger(logger))
func WithLogger(l Logger) Option {
	return func(o *electionOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - m: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewElection
func WithMetrics(m MetricsCollector) Option {
	return func(o *electionOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithHooks sets lifecycle event hooks.
//
// Nil callbacks inside the struct are replaced with no-ops, so partial
// hook sets are fine.
//
// Parameters:
//   - h: Hooks structure with callback functions
//
// Returns:
//   - Option: Functional option for NewElection
//
// Example:
//
//	h := leaselect.Hooks{
//	    OnElected: func(ctx context.Context, key string, rev int64) error {
//	        return startLeaderWork(ctx)
//	    },
//	}
//	election, _ := leaselect.NewElection(session, "svc", leaselect.WithHooks(h))
func WithHooks(h Hooks) Option {
	return func(o *electionOptions) {
		o.hooks = hooks.Fill(h)
	}
}
