// Package memstore provides an in-process reference implementation of
// types.Session.
//
// The store is linearizable by construction: every mutation happens under
// one mutex and is assigned the next value of a strictly increasing
// revision counter. It supports conditional commits, prefix range queries
// ordered by creation revision, single-key watches with replay from a
// starting revision, and manually controlled leases.
//
// memstore exists for deterministic protocol tests and local development.
// Lease expiry never happens on its own; tests drive it explicitly with
// ExpireLease, which makes failover scenarios reproducible without timing
// dependence.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/leaselect/types"
)

type record struct {
	value     string
	createRev int64
	lease     types.LeaseID
}

type storedEvent struct {
	rev int64
	ev  types.Event
}

// Store is an in-memory linearizable transactional key-value store.
//
// All methods are safe for concurrent use.
type Store struct {
	mu            sync.Mutex
	rev           int64
	records       map[string]*record
	leases        map[types.LeaseID]map[string]struct{}
	nextLease     types.LeaseID
	watchers      map[int]*watcher
	nextWatcherID int
	events        []storedEvent
	expired       chan types.LeaseID
}

// Compile-time assertions for the interfaces Store implements.
var (
	_ types.Session       = (*Store)(nil)
	_ types.LeaseNotifier = (*Store)(nil)
)

// New creates an empty store with revision 0.
func New() *Store {
	return &Store{
		records:  make(map[string]*record),
		leases:   make(map[types.LeaseID]map[string]struct{}),
		watchers: make(map[int]*watcher),
		expired:  make(chan types.LeaseID, 16),
	}
}

// Commit atomically evaluates cmp and executes the matching branch.
//
// The guard compares the current creation revision of cmp.Key (0 when the
// key is absent) against cmp.CreateRevision. The whole evaluation and the
// chosen branch run under one lock acquisition, so no other commit can
// interleave.
func (s *Store) Commit(ctx context.Context, cmp types.Cmp, thenOps, elseOps []types.Op) (*types.TxnResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if rec, ok := s.records[cmp.Key]; ok {
		current = rec.createRev
	}
	succeeded := current == cmp.CreateRevision

	ops := elseOps
	if succeeded {
		ops = thenOps
	}

	responses := make([]types.OpResponse, 0, len(ops))
	for _, op := range ops {
		switch op.Type {
		case types.OpPut:
			s.putLocked(op.Key, op.Value, op.Lease)
			responses = append(responses, types.OpResponse{})
		case types.OpGet:
			responses = append(responses, types.OpResponse{Kvs: s.getLocked(op.Key)})
		case types.OpDelete:
			s.deleteLocked(op.Key)
			responses = append(responses, types.OpResponse{})
		}
	}

	return &types.TxnResponse{
		Succeeded: succeeded,
		Header:    types.ResponseHeader{Revision: s.rev},
		Responses: responses,
	}, nil
}

// Range performs a read-only prefix query ordered by creation revision.
func (s *Store) Range(ctx context.Context, opts types.RangeOptions) (*types.RangeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kvs := make([]types.KeyValue, 0)
	for key, rec := range s.records {
		if !strings.HasPrefix(key, opts.Prefix) {
			continue
		}
		if opts.MaxCreateRevision > 0 && rec.createRev > opts.MaxCreateRevision {
			continue
		}
		kvs = append(kvs, types.KeyValue{
			Key:            key,
			Value:          rec.value,
			CreateRevision: rec.createRev,
			Lease:          rec.lease,
		})
	}

	sort.Slice(kvs, func(i, j int) bool {
		if opts.Order == types.SortDescend {
			return kvs[i].CreateRevision > kvs[j].CreateRevision
		}
		return kvs[i].CreateRevision < kvs[j].CreateRevision
	})

	return &types.RangeResponse{
		Header: types.ResponseHeader{Revision: s.rev},
		Kvs:    kvs,
	}, nil
}

// Watch opens a single-key subscription starting at fromRevision.
//
// Events already committed with revision >= fromRevision are replayed
// into the subscription before any live events, so a delete that lands
// between a caller's range query and the watch being established is never
// missed.
func (s *Store) Watch(ctx context.Context, key string, fromRevision int64) (types.Watcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextWatcherID++
	w := &watcher{
		id:    s.nextWatcherID,
		key:   key,
		ch:    make(chan types.Event, 64),
		store: s,
	}
	s.watchers[w.id] = w

	for _, se := range s.events {
		if se.rev >= fromRevision && se.ev.Kv.Key == key {
			w.send(se.ev)
		}
	}

	return w, nil
}

// Grant acquires a lease. The TTL is recorded nowhere: memstore leases
// only end via Revoke or ExpireLease.
func (s *Store) Grant(_ context.Context, _ /* ttl */ time.Duration) (types.LeaseID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLease++
	id := s.nextLease
	s.leases[id] = make(map[string]struct{})

	return id, nil
}

// Revoke releases a lease and deletes all keys bound to it.
func (s *Store) Revoke(_ context.Context, id types.LeaseID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dropLeaseLocked(id)

	return nil
}

// LeaseExpired returns the channel on which ExpireLease reports expiries.
func (s *Store) LeaseExpired() <-chan types.LeaseID {
	return s.expired
}

// ExpireLease simulates the expiry of a lease: all keys bound to it are
// deleted (emitting delete events to watchers) and the lease ID is
// reported on the LeaseExpired channel.
func (s *Store) ExpireLease(id types.LeaseID) {
	s.mu.Lock()
	s.dropLeaseLocked(id)
	s.mu.Unlock()

	select {
	case s.expired <- id:
	default:
	}
}

// CurrentRevision returns the store's current revision.
func (s *Store) CurrentRevision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rev
}

// WatcherCount returns the number of open watch subscriptions. Tests use
// it to assert that watchers are always released.
func (s *Store) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.watchers)
}

func (s *Store) putLocked(key, value string, lease types.LeaseID) {
	s.rev++

	rec, exists := s.records[key]
	if exists {
		if rec.lease != lease {
			s.unbindLocked(rec.lease, key)
			s.bindLocked(lease, key)
			rec.lease = lease
		}
		rec.value = value
	} else {
		rec = &record{value: value, createRev: s.rev, lease: lease}
		s.records[key] = rec
		s.bindLocked(lease, key)
	}

	s.emitLocked(types.Event{
		Type: types.EventPut,
		Kv: types.KeyValue{
			Key:            key,
			Value:          rec.value,
			CreateRevision: rec.createRev,
			Lease:          rec.lease,
		},
	})
}

func (s *Store) getLocked(key string) []types.KeyValue {
	rec, ok := s.records[key]
	if !ok {
		return nil
	}

	return []types.KeyValue{{
		Key:            key,
		Value:          rec.value,
		CreateRevision: rec.createRev,
		Lease:          rec.lease,
	}}
}

func (s *Store) deleteLocked(key string) {
	rec, ok := s.records[key]
	if !ok {
		return
	}

	s.rev++
	delete(s.records, key)
	s.unbindLocked(rec.lease, key)

	s.emitLocked(types.Event{
		Type: types.EventDelete,
		Kv: types.KeyValue{
			Key:            key,
			Value:          rec.value,
			CreateRevision: rec.createRev,
			Lease:          rec.lease,
		},
	})
}

func (s *Store) dropLeaseLocked(id types.LeaseID) {
	keys, ok := s.leases[id]
	if !ok {
		return
	}
	delete(s.leases, id)

	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)
	for _, key := range ordered {
		s.deleteLocked(key)
	}
}

func (s *Store) bindLocked(lease types.LeaseID, key string) {
	if lease == types.NoLease {
		return
	}
	keys, ok := s.leases[lease]
	if !ok {
		keys = make(map[string]struct{})
		s.leases[lease] = keys
	}
	keys[key] = struct{}{}
}

func (s *Store) unbindLocked(lease types.LeaseID, key string) {
	if lease == types.NoLease {
		return
	}
	if keys, ok := s.leases[lease]; ok {
		delete(keys, key)
	}
}

func (s *Store) emitLocked(ev types.Event) {
	s.events = append(s.events, storedEvent{rev: s.rev, ev: ev})
	for _, w := range s.watchers {
		if w.key == ev.Kv.Key {
			w.send(ev)
		}
	}
}

func (s *Store) removeWatcher(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(w.ch)
	}
}

// watcher is a single-key subscription delivering events on a buffered
// channel. Sends happen under the store lock, Close removes the watcher
// under the same lock before closing the channel, so a send can never
// race a close.
type watcher struct {
	id    int
	key   string
	ch    chan types.Event
	store *Store
	once  sync.Once
}

var _ types.Watcher = (*watcher)(nil)

// Events returns the subscription's event channel. The channel closes
// when the watcher is closed.
func (w *watcher) Events() <-chan types.Event {
	return w.ch
}

// Close releases the subscription. Safe to call more than once.
func (w *watcher) Close() error {
	w.once.Do(func() {
		w.store.removeWatcher(w.id)
	})

	return nil
}

// send delivers ev without blocking. The channel is generously buffered;
// a full buffer drops the event, which only a test holding a watcher
// without draining can trigger.
func (w *watcher) send(ev types.Event) {
	select {
	case w.ch <- ev:
	default:
	}
}
