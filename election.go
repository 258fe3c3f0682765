package leaselect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/leaselect/internal/keycodec"
	"github.com/arloliu/leaselect/internal/waiter"
	"github.com/arloliu/leaselect/types"
)

// namespacePrefix is the root of every election's key space on the wire.
// Campaign keys live under namespacePrefix + <keyPrefix> + "/".
const namespacePrefix = "election/"

// Election implements revision-ordered leader election on top of an
// external transactional key-value store.
//
// One Election instance represents one candidate in one logical election
// (a store session plus a key prefix). Campaigning commits a key bound to
// a fresh lease; the candidate whose surviving key carries the smallest
// creation revision is the leader. All mutual exclusion is delegated to
// the store's conditional commits and monotonic revision counter; the
// instance holds no cross-process locks of its own.
//
// Thread Safety:
//   - Campaign, Proclaim and Resign are serialized against each other by
//     an internal mutex, since each reads then writes the leadership
//     triple.
//   - Accessors (State, LeaderKey, LeaderRevision, LeaseID) are safe for
//     concurrent use.
//
// Lifecycle:
//   - Create with NewElection()
//   - Call Campaign() to enter the candidate queue
//   - Watch Elected() or use Hooks for the leadership notification
//   - Call Resign() to hand off, Close() to release background monitors
type Election struct {
	session types.Session
	prefix  string
	ttl     time.Duration

	logger  Logger
	metrics MetricsCollector
	hooks   Hooks

	// opMu serializes Campaign/Proclaim/Resign; each one reads then
	// writes the leader triple and interleaving them races on it.
	opMu sync.Mutex

	// mu guards the leader triple and state. The triple is all set or
	// all clear, never partial.
	mu          sync.RWMutex
	state       State
	leaderKey   string
	leaderRev   int64
	leaderLease types.LeaseID

	// Single-slot notification channels, signalled at most once per
	// transition. No multi-subscriber fan-out.
	elected  chan struct{}
	resigned chan struct{}

	lifecycle context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewElection creates a candidate handle for the election identified by
// keyPrefix, coordinated through session.
//
// Campaign keys are materialized under "election/<keyPrefix>/". Two
// instances created with the same session type and key prefix take part
// in the same election, across processes and hosts.
//
// When the session also implements types.LeaseNotifier, a background
// monitor invalidates local leadership as soon as the instance's own
// lease is reported expired.
//
// Parameters:
//   - session: Store session (required)
//   - keyPrefix: Logical election name (required, without the
//     "election/" namespace)
//   - opts: Optional configuration (TTL, logger, hooks, metrics)
//
// Returns:
//   - *Election: Initialized candidate handle in StateNotCampaigning
//   - error: Validation error when session or keyPrefix is missing
//
// Example:
//
//	election, err := leaselect.NewElection(session, "scheduler",
//	    leaselect.WithTTL(10*time.Second),
//	    leaselect.WithLogger(logger),
//	)
func NewElection(session types.Session, keyPrefix string, opts ...Option) (*Election, error) {
	if session == nil {
		return nil, ErrSessionRequired
	}
	if keyPrefix == "" {
		return nil, ErrEmptyKeyPrefix
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Election{
		session:   session,
		prefix:    namespacePrefix + keyPrefix + "/",
		ttl:       options.ttl,
		logger:    options.logger,
		metrics:   options.metrics,
		hooks:     options.hooks,
		state:     types.StateNotCampaigning,
		elected:   make(chan struct{}, 1),
		resigned:  make(chan struct{}, 1),
		lifecycle: ctx,
		cancel:    cancel,
	}

	if notifier, ok := session.(types.LeaseNotifier); ok {
		e.wg.Add(1)
		go e.monitorLease(notifier)
	}

	return e, nil
}

// Campaign commits a campaign key for a fresh lease and enters the
// candidate queue.
//
// The call returns as soon as the key is committed and the leadership
// triple recorded; the wait for older candidates runs in the background.
// Once no key with a smaller creation revision survives under the prefix
// and no concurrent Resign has cleared the local state, the instance
// transitions to StateLeading and signals Elected() and the OnElected
// hook. A campaign abandoned by a concurrent Resign fires no
// notification; its background wait runs to completion and is discarded.
//
// The commit is guarded on the key being absent. When the key already
// exists — a re-entrant campaign under the same lease — the existing
// value is read instead and the campaign proceeds; the two cases are
// only distinguishable in debug logs.
//
// ctx bounds only the synchronous part (lease grant and commit). The
// background wait is bounded by the election's lifetime: it has no
// per-campaign timeout even though the lease TTL is configurable, and
// only Close() tears it down.
//
// Only one outstanding Campaign per instance is supported; a second
// Campaign before the first resolves races on the leadership triple.
//
// Parameters:
//   - ctx: Context for the grant and commit round trips
//   - value: Candidate payload published as the key's value
//
// Returns:
//   - *Election: The instance itself, for chaining
//   - error: Lease grant or commit failure; no state was recorded
func (e *Election) Campaign(ctx context.Context, value string) (*Election, error) {
	if err := e.lifecycle.Err(); err != nil {
		return nil, ErrElectionClosed
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	leaseID, err := e.session.Grant(ctx, e.ttl)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}

	key := keycodec.CampaignKey(e.prefix, leaseID)
	resp, err := e.session.Commit(ctx,
		types.CreateRevisionEquals(key, 0),
		[]types.Op{types.PutOp(key, value, leaseID)},
		[]types.Op{types.GetOp(key)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to commit campaign key: %w", err)
	}

	// The commit revision is recorded on both branches. On the create
	// branch it equals the key's own creation revision.
	e.mu.Lock()
	e.state = types.StateCampaigning
	e.leaderKey = key
	e.leaderRev = resp.Header.Revision
	e.leaderLease = leaseID
	e.mu.Unlock()

	if !resp.Succeeded {
		// Re-entrant campaign under an existing lease; not escalated as
		// a typed error, only observable here.
		e.logger.Debug("campaign key already exists, rejoined",
			"key", key, "revision", resp.Header.Revision)
	}
	e.metrics.RecordCampaignStarted(!resp.Succeeded)
	e.logger.Info("campaign committed",
		"key", key,
		"revision", resp.Header.Revision,
		"lease", leaseID,
	)

	e.wg.Add(1)
	go e.awaitLeadership(resp.Header.Revision - 1)

	return e, nil
}

// awaitLeadership blocks until no older sibling survives, then confirms
// leadership unless the campaign was abandoned while waiting.
func (e *Election) awaitLeadership(bound int64) {
	defer e.wg.Done()

	start := time.Now()
	_, waited, err := waiter.WaitNoOlder(e.lifecycle, e.session, e.prefix, bound, e.logger)
	if err != nil {
		if e.lifecycle.Err() == nil {
			e.logger.Error("predecessor wait failed", "bound", bound, "error", err)
			e.invokeHook(func(ctx context.Context) error {
				return e.hooks.OnError(ctx, fmt.Errorf("predecessor wait failed: %w", err))
			})
		}
		return
	}
	e.metrics.RecordPredecessorWait(waited, time.Since(start).Seconds())

	e.mu.Lock()
	if e.leaderKey == "" {
		// A concurrent Resign cleared the triple; campaign abandoned.
		e.mu.Unlock()
		e.logger.Debug("campaign abandoned before confirmation", "bound", bound)
		return
	}
	e.state = types.StateLeading
	key, rev := e.leaderKey, e.leaderRev
	e.mu.Unlock()

	e.metrics.RecordElectionWon()
	e.metrics.SetLeading(true)
	e.logger.Info("elected", "key", key, "revision", rev)

	e.signal(e.elected)
	e.invokeHook(func(ctx context.Context) error {
		return e.hooks.OnElected(ctx, key, rev)
	})
}

// Proclaim replaces the leader value without touching the key's creation
// revision or lease binding.
//
// The commit is guarded on the campaign key still being the instance
// created at the recorded revision. A failed guard means the key was
// deleted (and possibly recreated by someone else) since this instance
// campaigned: local leadership is cleared and ErrNotLeader returned —
// the caller has definitively lost leadership.
//
// Parameters:
//   - ctx: Context for the commit round trip
//   - value: New leader payload
//
// Returns:
//   - error: ErrNotLeader when not leading or when leadership was lost;
//     otherwise any store error, wrapped
func (e *Election) Proclaim(ctx context.Context, value string) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	key, rev, lease := e.leaderTriple()
	if lease == types.NoLease {
		return ErrNotLeader
	}

	resp, err := e.session.Commit(ctx,
		types.CreateRevisionEquals(key, rev),
		[]types.Op{types.PutOp(key, value, lease)},
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to commit proclamation: %w", err)
	}

	if !resp.Succeeded {
		e.clearLeadership()
		e.metrics.RecordProclaim(false)
		e.metrics.RecordLeadershipLost("proclaim_rejected")
		e.logger.Warn("proclaim rejected, leadership lost", "key", key, "revision", rev)

		return ErrNotLeader
	}

	e.metrics.RecordProclaim(true)
	e.logger.Debug("proclaimed", "key", key, "revision", rev)

	return nil
}

// Resign deletes the campaign key and clears local leadership.
//
// A no-op when not campaigning. The delete is guarded on the recorded
// creation revision, so resigning after leadership was already lost is
// harmless: it clears local belief without deleting someone else's key.
// Local state is cleared and the resigned notification fired regardless
// of the guard's outcome.
//
// Parameters:
//   - ctx: Context for the commit round trip
//
// Returns:
//   - error: Store error from the conditional delete, wrapped; local
//     state is cleared even then
func (e *Election) Resign(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	key, rev, lease := e.leaderTriple()
	if lease == types.NoLease {
		return nil
	}

	_, err := e.session.Commit(ctx,
		types.CreateRevisionEquals(key, rev),
		[]types.Op{types.DeleteOp(key)},
		nil,
	)

	e.clearLeadership()
	e.metrics.RecordResign()
	e.logger.Info("resigned", "key", key)

	e.signal(e.resigned)
	e.invokeHook(func(hctx context.Context) error {
		return e.hooks.OnResigned(hctx, key)
	})

	if err != nil {
		return fmt.Errorf("failed to commit resignation: %w", err)
	}

	return nil
}

// Leader returns the value of the current leader key under the prefix.
//
// The query sorts the surviving keys by creation revision descending and
// returns the first row, i.e. the most recently created surviving key.
// Note that this differs from the ascending-smallest-wins rule Campaign
// uses to decide who leads and can disagree with it while multiple
// candidates survive. Kept for wire compatibility with existing
// deployments of the protocol.
//
// Leader reads only the store; it neither consults nor mutates this
// instance's local state.
//
// Parameters:
//   - ctx: Context for the range query
//
// Returns:
//   - string: Leader value per the selection rule above
//   - error: ErrNoLeader when no key survives; store errors wrapped
func (e *Election) Leader(ctx context.Context) (string, error) {
	resp, err := e.session.Range(ctx, types.RangeOptions{
		Prefix: e.prefix,
		Order:  types.SortDescend,
	})
	if err != nil {
		return "", fmt.Errorf("failed to query election prefix: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNoLeader
	}

	return resp.Kvs[0].Value, nil
}

// State returns the current election lifecycle state.
func (e *Election) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.state
}

// LeaderKey returns the campaign key this instance committed, or "" when
// not campaigning.
func (e *Election) LeaderKey() string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.leaderKey
}

// LeaderRevision returns the commit revision recorded by Campaign, or 0
// when not campaigning.
func (e *Election) LeaderRevision() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.leaderRev
}

// LeaseID returns the lease the campaign key is bound to, or NoLease.
func (e *Election) LeaseID() types.LeaseID {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.leaderLease
}

// Elected returns the single-slot channel signalled when leadership is
// confirmed. At most one signal is delivered per confirmed campaign.
func (e *Election) Elected() <-chan struct{} {
	return e.elected
}

// Resigned returns the single-slot channel signalled when Resign clears
// local leadership.
func (e *Election) Resigned() <-chan struct{} {
	return e.resigned
}

// Close releases the election's background goroutines: the lease monitor
// and any in-flight predecessor wait. It does not resign; a committed
// campaign key remains until deleted or its lease expires.
//
// Close never returns a non-nil error; the signature matches io.Closer
// for convenience.
func (e *Election) Close() error {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
	})

	return nil
}

// monitorLease invalidates local leadership when the session reports this
// instance's lease as expired.
func (e *Election) monitorLease(notifier types.LeaseNotifier) {
	defer e.wg.Done()

	for {
		select {
		case <-e.lifecycle.Done():
			return
		case id, ok := <-notifier.LeaseExpired():
			if !ok {
				return
			}

			e.mu.Lock()
			lost := id != types.NoLease && id == e.leaderLease
			if lost {
				e.state = types.StateNotCampaigning
				e.leaderKey = ""
				e.leaderRev = 0
				e.leaderLease = types.NoLease
			}
			e.mu.Unlock()

			if !lost {
				continue
			}

			e.metrics.RecordLeadershipLost("lease_expired")
			e.metrics.SetLeading(false)
			e.logger.Warn("lease expired, leadership invalidated", "lease", id)
			e.invokeHook(func(ctx context.Context) error {
				return e.hooks.OnLeaseLost(ctx, id)
			})
		}
	}
}

// leaderTriple snapshots the leadership triple.
func (e *Election) leaderTriple() (key string, rev int64, lease types.LeaseID) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.leaderKey, e.leaderRev, e.leaderLease
}

// clearLeadership resets the triple and state.
func (e *Election) clearLeadership() {
	e.mu.Lock()
	e.state = types.StateNotCampaigning
	e.leaderKey = ""
	e.leaderRev = 0
	e.leaderLease = types.NoLease
	e.mu.Unlock()

	e.metrics.SetLeading(false)
}

// signal performs a non-blocking send on a single-slot channel.
func (e *Election) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// invokeHook runs a hook asynchronously; hook errors are logged, never
// escalated.
func (e *Election) invokeHook(fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(e.lifecycle); err != nil {
			e.logger.Error("hook failed", "error", err)
		}
	}()
}
