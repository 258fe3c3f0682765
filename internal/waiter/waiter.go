// Package waiter implements the predecessor wait loop of the election
// protocol: blocking a candidate until no key created at or before a
// target revision survives under the election prefix.
package waiter

import (
	"context"
	"fmt"

	"github.com/arloliu/leaselect/types"
)

// WaitNoOlder blocks until the prefix contains no key with
// CreateRevision <= bound, then returns the header of the range query
// that observed the emptiness.
//
// The loop is intentionally poll-then-watch-one rather than a single
// range watch: each pass queries the surviving keys at or below the
// bound, and when any remain, watches only the single oldest one until
// its delete event. This guarantees a well-defined next key to wait on
// and bounds resource usage to one active watch at a time, at the cost
// of one extra range query per predecessor removed. Predecessor counts
// equal the number of candidates ahead in the queue, so the extra round
// trips stay small in practice.
//
// The bound is fixed for the lifetime of the call; keys created after
// the caller's own campaign key carry larger revisions and are never
// waited on.
//
// Parameters:
//   - ctx: Context bounding the whole wait (typically the election's
//     lifecycle context, not a per-call deadline)
//   - session: Store session the election runs against
//   - prefix: Full election prefix
//   - bound: Highest CreateRevision that may block this candidate
//   - logger: Structured logger for wait progress
//
// Returns:
//   - types.ResponseHeader: Header of the query that observed no
//     surviving predecessor
//   - int: Number of predecessor keys waited on
//   - error: Context or store error; the wait made no guarantee when
//     non-nil
func WaitNoOlder(ctx context.Context, session types.Session, prefix string, bound int64, logger types.Logger) (types.ResponseHeader, int, error) {
	// Revisions are assigned from 1, so nothing can block a non-positive
	// bound; a single query supplies the observation header.
	if bound <= 0 {
		resp, err := session.Range(ctx, types.RangeOptions{Prefix: prefix, Order: types.SortAscend})
		if err != nil {
			return types.ResponseHeader{}, 0, fmt.Errorf("failed to query predecessors: %w", err)
		}

		return resp.Header, 0, nil
	}

	waited := 0

	for {
		resp, err := session.Range(ctx, types.RangeOptions{
			Prefix:            prefix,
			MaxCreateRevision: bound,
			Order:             types.SortAscend,
		})
		if err != nil {
			return types.ResponseHeader{}, waited, fmt.Errorf("failed to query predecessors: %w", err)
		}

		if len(resp.Kvs) == 0 {
			return resp.Header, waited, nil
		}

		// Only the oldest surviving key can be the next to vacate; any
		// key behind it is someone else's problem.
		blocker := resp.Kvs[0]
		logger.Debug("waiting for predecessor to vacate",
			"key", blocker.Key,
			"createRevision", blocker.CreateRevision,
			"bound", bound,
			"remaining", len(resp.Kvs),
		)

		if err := awaitDelete(ctx, session, blocker.Key, resp.Header.Revision); err != nil {
			return types.ResponseHeader{}, waited, err
		}
		waited++
	}
}

// awaitDelete watches a single key from fromRevision until its delete
// event is observed. The subscription is released on every exit path.
func awaitDelete(ctx context.Context, session types.Session, key string, fromRevision int64) error {
	watcher, err := session.Watch(ctx, key, fromRevision)
	if err != nil {
		return fmt.Errorf("failed to watch predecessor %q: %w", key, err)
	}
	defer watcher.Close() //nolint:errcheck // release is best-effort on every exit path

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events():
			if !ok {
				return fmt.Errorf("predecessor %q: %w", key, types.ErrWatchClosed)
			}
			if ev.Type == types.EventDelete && ev.Kv.Key == key {
				return nil
			}
		}
	}
}
