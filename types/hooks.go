package types

import "context"

// Hooks defines callbacks for Election lifecycle events.
//
// All hooks are optional and called asynchronously in background
// goroutines so they never block the protocol's commit path or the
// predecessor wait loop. Each hook fires at most once per transition,
// for exactly one subscriber; there is no multi-subscriber fan-out.
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Don't block on long I/O operations
//   - Handle errors gracefully (return error for logging)
type Hooks struct {
	// OnElected is called once leadership is confirmed: the campaign key
	// is the oldest surviving key under the prefix and no concurrent
	// Resign cleared the local state while waiting.
	OnElected func(ctx context.Context, leaderKey string, revision int64) error

	// OnResigned is called after Resign clears the local leadership
	// state, whether or not the conditional delete succeeded.
	OnResigned func(ctx context.Context, leaderKey string) error

	// OnLeaseLost is called when the session reports this instance's
	// lease as expired or revoked and the local leadership state has
	// been invalidated. Only fires when the session implements
	// LeaseNotifier.
	OnLeaseLost func(ctx context.Context, id LeaseID) error

	// OnError is called when a background operation (the predecessor
	// wait, or another hook) fails.
	OnError func(ctx context.Context, err error) error
}
