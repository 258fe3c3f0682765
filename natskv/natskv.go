// Package natskv adapts a NATS JetStream KeyValue bucket to the
// types.Session interface.
//
// JetStream KV offers per-key atomic primitives (Create, revision-checked
// Update, revision-checked Delete) rather than multi-key transactions, so
// the adapter emulates the conditional-commit shapes the election
// protocol needs:
//
//   - "create if absent" maps directly to the atomic kv.Create
//   - guards on a key's creation revision piggyback on last-revision
//     compare-and-swap: the creation revision is carried inside a small
//     JSON envelope in the value, and a CAS on the last revision proves
//     the creation revision unchanged as well
//
// All keys in one bucket share the bucket's stream, so entry revisions
// are globally monotonic within the bucket and serve as the store
// revision counter.
//
// Leases are process-local bookkeeping: Grant mints an identifier and
// Revoke deletes the keys bound to it. Automatic expiry is enforced by
// the bucket's TTL (configure it when creating the bucket, e.g. via
// EnsureBucket); the TTL passed to Grant is advisory, matching how a
// bucket-level TTL cannot vary per lease. Lease expiry is therefore only
// observed through failed guarded commits, and the adapter does not
// implement types.LeaseNotifier.
package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/leaselect/types"
)

// envelope is the JSON wire form of one campaign key's value.
//
// CreateRevision is written back by a fixup update immediately after the
// atomic create, because the revision is only known once the create
// commits. A zero CreateRevision therefore means "read during the fixup
// window" and the entry's own revision is the creation revision.
type envelope struct {
	Value          string        `json:"v"`
	Lease          types.LeaseID `json:"l"`
	CreateRevision int64         `json:"c"`
}

// leaseState tracks the keys bound to one lease.
type leaseState struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

// Store implements types.Session on top of a JetStream KeyValue bucket.
//
// All methods are safe for concurrent use.
type Store struct {
	kv     jetstream.KeyValue
	leases *xsync.Map[types.LeaseID, *leaseState]
}

// Compile-time assertion that Store implements Session.
var _ types.Session = (*Store)(nil)

// New creates a Session backed by the given KV bucket.
//
// The bucket should be created with a TTL matching the election's lease
// duration so that a crashed leader's key vacates automatically (see
// EnsureBucket).
//
// Parameters:
//   - kv: JetStream KV bucket used for election coordination
//
// Returns:
//   - *Store: Session adapter over the bucket
func New(kv jetstream.KeyValue) *Store {
	return &Store{
		kv:     kv,
		leases: xsync.NewMap[types.LeaseID, *leaseState](),
	}
}

// Commit emulates a conditional commit using the bucket's per-key atomic
// primitives. See the package documentation for the mapping.
func (s *Store) Commit(ctx context.Context, cmp types.Cmp, thenOps, elseOps []types.Op) (*types.TxnResponse, error) {
	if cmp.CreateRevision == 0 {
		return s.commitIfAbsent(ctx, cmp, thenOps, elseOps)
	}

	return s.commitIfUnchanged(ctx, cmp, thenOps, elseOps)
}

// commitIfAbsent handles the "key does not exist" guard. A then-branch
// put uses the atomic Create; on ErrKeyExists the else branch runs.
func (s *Store) commitIfAbsent(ctx context.Context, cmp types.Cmp, thenOps, elseOps []types.Op) (*types.TxnResponse, error) {
	if len(thenOps) == 1 && thenOps[0].Type == types.OpPut && thenOps[0].Key == cmp.Key {
		op := thenOps[0]

		payload, err := json.Marshal(envelope{Value: op.Value, Lease: op.Lease})
		if err != nil {
			return nil, fmt.Errorf("failed to encode value envelope: %w", err)
		}

		rev, err := s.kv.Create(ctx, op.Key, payload)
		if err == nil {
			if err := s.fixupCreateRevision(ctx, op, rev); err != nil {
				return nil, err
			}
			s.bindLease(op.Lease, op.Key)

			return &types.TxnResponse{
				Succeeded: true,
				Header:    types.ResponseHeader{Revision: int64(rev)}, //nolint:gosec // stream sequences fit int64
				Responses: []types.OpResponse{{}},
			}, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("failed to create key %q: %w", op.Key, err)
		}

		return s.runBranch(ctx, false, elseOps)
	}

	// General absence guard without a create: probe, then run a branch.
	_, err := s.kv.Get(ctx, cmp.Key)
	switch {
	case err == nil:
		return s.runBranch(ctx, false, elseOps)
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return s.runBranch(ctx, true, thenOps)
	default:
		return nil, fmt.Errorf("failed to probe key %q: %w", cmp.Key, err)
	}
}

// commitIfUnchanged handles the "creation revision still equals rev"
// guard by CAS-ing on the entry's last revision.
func (s *Store) commitIfUnchanged(ctx context.Context, cmp types.Cmp, thenOps, elseOps []types.Op) (*types.TxnResponse, error) {
	entry, err := s.kv.Get(ctx, cmp.Key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return s.runBranch(ctx, false, elseOps)
		}

		return nil, fmt.Errorf("failed to read key %q: %w", cmp.Key, err)
	}

	env, createRev := decodeEntry(entry)
	if createRev != cmp.CreateRevision {
		return s.runBranch(ctx, false, elseOps)
	}

	responses := make([]types.OpResponse, 0, len(thenOps))
	for _, op := range thenOps {
		switch op.Type {
		case types.OpPut:
			payload, err := json.Marshal(envelope{Value: op.Value, Lease: op.Lease, CreateRevision: createRev})
			if err != nil {
				return nil, fmt.Errorf("failed to encode value envelope: %w", err)
			}
			if _, err := s.kv.Update(ctx, op.Key, payload, entry.Revision()); err != nil {
				// The key changed between the read and the CAS; the
				// guard no longer holds.
				return s.runBranch(ctx, false, elseOps)
			}
			s.bindLease(op.Lease, op.Key)
			responses = append(responses, types.OpResponse{})
		case types.OpDelete:
			if err := s.kv.Delete(ctx, op.Key, jetstream.LastRevision(entry.Revision())); err != nil {
				return s.runBranch(ctx, false, elseOps)
			}
			s.unbindLease(env.Lease, op.Key)
			responses = append(responses, types.OpResponse{})
		case types.OpGet:
			kvs, err := s.getKeyValues(ctx, op.Key)
			if err != nil {
				return nil, err
			}
			responses = append(responses, types.OpResponse{Kvs: kvs})
		}
	}

	rev, err := s.lastRevision(ctx)
	if err != nil {
		return nil, err
	}

	return &types.TxnResponse{
		Succeeded: true,
		Header:    types.ResponseHeader{Revision: rev},
		Responses: responses,
	}, nil
}

// runBranch executes a branch non-atomically. The election protocol's
// else branches are read-only, so the loss of atomicity is confined to
// observations that were already racy by nature.
func (s *Store) runBranch(ctx context.Context, succeeded bool, ops []types.Op) (*types.TxnResponse, error) {
	responses := make([]types.OpResponse, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case types.OpGet:
			kvs, err := s.getKeyValues(ctx, op.Key)
			if err != nil {
				return nil, err
			}
			responses = append(responses, types.OpResponse{Kvs: kvs})
		case types.OpPut:
			payload, err := json.Marshal(envelope{Value: op.Value, Lease: op.Lease})
			if err != nil {
				return nil, fmt.Errorf("failed to encode value envelope: %w", err)
			}
			if _, err := s.kv.Put(ctx, op.Key, payload); err != nil {
				return nil, fmt.Errorf("failed to put key %q: %w", op.Key, err)
			}
			s.bindLease(op.Lease, op.Key)
			responses = append(responses, types.OpResponse{})
		case types.OpDelete:
			if err := s.kv.Delete(ctx, op.Key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
				return nil, fmt.Errorf("failed to delete key %q: %w", op.Key, err)
			}
			responses = append(responses, types.OpResponse{})
		}
	}

	rev, err := s.lastRevision(ctx)
	if err != nil {
		return nil, err
	}

	return &types.TxnResponse{
		Succeeded: succeeded,
		Header:    types.ResponseHeader{Revision: rev},
		Responses: responses,
	}, nil
}

// Range lists the bucket's keys under the prefix and orders them by
// creation revision. JetStream KV has no server-side range query, so the
// scan is client-side: one ListKeys pass plus one Get per matching key.
func (s *Store) Range(ctx context.Context, opts types.RangeOptions) (*types.RangeResponse, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		if isNoKeys(err) {
			return s.emptyRange(ctx)
		}

		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	kvs := make([]types.KeyValue, 0)
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}

		entry, err := s.kv.Get(ctx, key)
		if err != nil {
			// Deleted between the listing and the read.
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			lister.Stop() //nolint:errcheck // already failing

			return nil, fmt.Errorf("failed to read key %q: %w", key, err)
		}

		env, createRev := decodeEntry(entry)
		if opts.MaxCreateRevision > 0 && createRev > opts.MaxCreateRevision {
			continue
		}

		kvs = append(kvs, types.KeyValue{
			Key:            key,
			Value:          env.Value,
			CreateRevision: createRev,
			Lease:          env.Lease,
		})
	}

	sort.Slice(kvs, func(i, j int) bool {
		if opts.Order == types.SortDescend {
			return kvs[i].CreateRevision > kvs[j].CreateRevision
		}
		return kvs[i].CreateRevision < kvs[j].CreateRevision
	})

	rev, err := s.lastRevision(ctx)
	if err != nil {
		return nil, err
	}

	return &types.RangeResponse{
		Header: types.ResponseHeader{Revision: rev},
		Kvs:    kvs,
	}, nil
}

// Watch opens a single-key subscription. JetStream KV watchers cannot
// start at an arbitrary revision; instead the adapter checks for the
// key's absence right after the watcher is established and synthesizes a
// delete event, so a delete committed between the caller's last read and
// the subscription is never missed.
func (s *Store) Watch(ctx context.Context, key string, _ /* fromRevision */ int64) (types.Watcher, error) {
	kw, err := s.kv.Watch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to watch key %q: %w", key, err)
	}

	w := &watcher{
		kw:   kw,
		ch:   make(chan types.Event, 16),
		done: make(chan struct{}),
	}

	missing := false
	if _, err := s.kv.Get(ctx, key); err != nil {
		if !errors.Is(err, jetstream.ErrKeyNotFound) {
			kw.Stop() //nolint:errcheck // already failing
			return nil, fmt.Errorf("failed to probe key %q: %w", key, err)
		}
		missing = true
	}

	go w.run(key, missing)

	return w, nil
}

// Grant mints a lease identifier and starts tracking keys bound to it.
// Expiry is enforced by the bucket TTL, not per lease; the ttl argument
// is advisory.
func (s *Store) Grant(_ context.Context, _ /* ttl */ time.Duration) (types.LeaseID, error) {
	for {
		id := types.LeaseID(rand.Int64()) //nolint:gosec // uniqueness, not secrecy
		if id == types.NoLease {
			continue
		}
		if _, loaded := s.leases.LoadOrStore(id, &leaseState{keys: make(map[string]struct{})}); !loaded {
			return id, nil
		}
	}
}

// Revoke deletes every key bound to the lease and forgets it.
func (s *Store) Revoke(ctx context.Context, id types.LeaseID) error {
	state, ok := s.leases.LoadAndDelete(id)
	if !ok {
		return nil
	}

	state.mu.Lock()
	keys := make([]string, 0, len(state.keys))
	for key := range state.keys {
		keys = append(keys, key)
	}
	state.mu.Unlock()
	sort.Strings(keys)

	for _, key := range keys {
		if err := s.kv.Delete(ctx, key); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("failed to delete leased key %q: %w", key, err)
		}
	}

	return nil
}

// fixupCreateRevision writes the creation revision into the envelope so
// later guards can compare against it. The CAS on the create's revision
// means only the creator can perform the fixup.
func (s *Store) fixupCreateRevision(ctx context.Context, op types.Op, createRev uint64) error {
	payload, err := json.Marshal(envelope{
		Value:          op.Value,
		Lease:          op.Lease,
		CreateRevision: int64(createRev), //nolint:gosec // stream sequences fit int64
	})
	if err != nil {
		return fmt.Errorf("failed to encode value envelope: %w", err)
	}

	if _, err := s.kv.Update(ctx, op.Key, payload, createRev); err != nil {
		return fmt.Errorf("failed to record creation revision for %q: %w", op.Key, err)
	}

	return nil
}

func (s *Store) getKeyValues(ctx context.Context, key string) ([]types.KeyValue, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}

	env, createRev := decodeEntry(entry)

	return []types.KeyValue{{
		Key:            key,
		Value:          env.Value,
		CreateRevision: createRev,
		Lease:          env.Lease,
	}}, nil
}

func (s *Store) emptyRange(ctx context.Context) (*types.RangeResponse, error) {
	rev, err := s.lastRevision(ctx)
	if err != nil {
		return nil, err
	}

	return &types.RangeResponse{Header: types.ResponseHeader{Revision: rev}}, nil
}

// lastRevision reports the bucket stream's last sequence, the adapter's
// stand-in for the store revision.
func (s *Store) lastRevision(ctx context.Context) (int64, error) {
	status, err := s.kv.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read bucket status: %w", err)
	}

	if bs, ok := status.(*jetstream.KeyValueBucketStatus); ok {
		return int64(bs.StreamInfo().State.LastSeq), nil //nolint:gosec // stream sequences fit int64
	}

	return 0, nil
}

func (s *Store) bindLease(id types.LeaseID, key string) {
	if id == types.NoLease {
		return
	}

	state, _ := s.leases.LoadOrStore(id, &leaseState{keys: make(map[string]struct{})})
	state.mu.Lock()
	state.keys[key] = struct{}{}
	state.mu.Unlock()
}

func (s *Store) unbindLease(id types.LeaseID, key string) {
	if id == types.NoLease {
		return
	}

	if state, ok := s.leases.Load(id); ok {
		state.mu.Lock()
		delete(state.keys, key)
		state.mu.Unlock()
	}
}

// decodeEntry recovers the envelope and the effective creation revision
// of a KV entry. Entries read during the fixup window carry a zero
// CreateRevision; their own revision is then the creation revision.
func decodeEntry(entry jetstream.KeyValueEntry) (envelope, int64) {
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		// Not one of ours; expose the raw bytes as the value.
		env = envelope{Value: string(entry.Value())}
	}

	createRev := env.CreateRevision
	if createRev == 0 {
		createRev = int64(entry.Revision()) //nolint:gosec // stream sequences fit int64
	}

	return env, createRev
}

func isNoKeys(err error) bool {
	return errors.Is(err, jetstream.ErrNoKeysFound) ||
		strings.Contains(err.Error(), "no keys found")
}

// watcher adapts a JetStream KeyWatcher to types.Watcher.
type watcher struct {
	kw   jetstream.KeyWatcher
	ch   chan types.Event
	done chan struct{}
	once sync.Once
}

var _ types.Watcher = (*watcher)(nil)

// Events returns the subscription's event channel. The channel closes
// when the subscription ends.
func (w *watcher) Events() <-chan types.Event {
	return w.ch
}

// Close releases the subscription. Safe to call more than once.
func (w *watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.kw.Stop()
	})

	return err
}

// run pumps KV updates into the event channel. The nil marker ending the
// initial replay is skipped; a key already missing when the watch was
// established surfaces as one synthesized delete.
func (w *watcher) run(key string, missing bool) {
	defer close(w.ch)

	if missing {
		w.deliver(types.Event{Type: types.EventDelete, Kv: types.KeyValue{Key: key}})
	}

	for {
		select {
		case <-w.done:
			return
		case entry, ok := <-w.kw.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}

			ev := types.Event{Type: types.EventPut}
			if entry.Operation() == jetstream.KeyValueDelete || entry.Operation() == jetstream.KeyValuePurge {
				ev.Type = types.EventDelete
			}

			env, createRev := decodeEntry(entry)
			ev.Kv = types.KeyValue{
				Key:            entry.Key(),
				Value:          env.Value,
				CreateRevision: createRev,
				Lease:          env.Lease,
			}

			if !w.deliver(ev) {
				return
			}
		}
	}
}

func (w *watcher) deliver(ev types.Event) bool {
	select {
	case w.ch <- ev:
		return true
	case <-w.done:
		return false
	}
}
