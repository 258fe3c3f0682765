// Package etcdkv adapts an etcd v3 client to the types.Session
// interface.
//
// etcd is the natural backend for the election protocol: its
// transactions compare directly on creation revisions, its range queries
// sort server-side, and its leases expire server-side. The adapter is
// therefore a thin translation layer with no emulation.
//
// Leases are kept alive automatically: Grant starts a keep-alive stream
// for the lease and the Store reports a lease whose stream ends on the
// LeaseExpired channel, so elections built on this Store invalidate
// their local leadership state when a lease is lost.
package etcdkv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/arloliu/leaselect/types"
)

// Store implements types.Session and types.LeaseNotifier on top of an
// etcd v3 client.
//
// All methods are safe for concurrent use. Close the Store (not the
// client) when done; the client stays owned by the caller.
type Store struct {
	cli *clientv3.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	keepalives map[types.LeaseID]context.CancelFunc
	expired    chan types.LeaseID
	closed     bool
}

var (
	_ types.Session       = (*Store)(nil)
	_ types.LeaseNotifier = (*Store)(nil)
)

// New creates a Session backed by the given etcd client.
//
// Parameters:
//   - cli: connected etcd v3 client, owned by the caller
//
// Returns:
//   - *Store: Session adapter over the client
func New(cli *clientv3.Client) *Store {
	ctx, cancel := context.WithCancel(context.Background())

	return &Store{
		cli:        cli,
		ctx:        ctx,
		cancel:     cancel,
		keepalives: make(map[types.LeaseID]context.CancelFunc),
		expired:    make(chan types.LeaseID, 16),
	}
}

// Commit runs a transaction guarded on the key's creation revision.
// A zero guard revision asserts the key does not exist, matching etcd's
// convention that absent keys have creation revision 0.
func (s *Store) Commit(ctx context.Context, cmp types.Cmp, thenOps, elseOps []types.Op) (*types.TxnResponse, error) {
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(cmp.Key), "=", cmp.CreateRevision)).
		Then(opsToEtcd(thenOps)...).
		Else(opsToEtcd(elseOps)...).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	out := &types.TxnResponse{
		Succeeded: resp.Succeeded,
		Header:    types.ResponseHeader{Revision: resp.Header.Revision},
		Responses: make([]types.OpResponse, 0, len(resp.Responses)),
	}
	for _, r := range resp.Responses {
		var op types.OpResponse
		if rr := r.GetResponseRange(); rr != nil {
			op.Kvs = kvsFromEtcd(rr.Kvs)
		}
		out.Responses = append(out.Responses, op)
	}

	return out, nil
}

// Range queries the keys under the prefix, sorted by creation revision.
func (s *Store) Range(ctx context.Context, opts types.RangeOptions) (*types.RangeResponse, error) {
	order := clientv3.SortAscend
	if opts.Order == types.SortDescend {
		order = clientv3.SortDescend
	}

	etcdOpts := []clientv3.OpOption{
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, order),
	}
	if opts.MaxCreateRevision > 0 {
		etcdOpts = append(etcdOpts, clientv3.WithMaxCreateRev(opts.MaxCreateRevision))
	}

	resp, err := s.cli.Get(ctx, opts.Prefix, etcdOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to range over prefix %q: %w", opts.Prefix, err)
	}

	return &types.RangeResponse{
		Header: types.ResponseHeader{Revision: resp.Header.Revision},
		Kvs:    kvsFromEtcd(resp.Kvs),
	}, nil
}

// Watch opens a single-key subscription starting at fromRevision, so
// events committed between the caller's last read and the subscription
// are replayed rather than lost.
func (s *Store) Watch(ctx context.Context, key string, fromRevision int64) (types.Watcher, error) {
	wctx, cancel := context.WithCancel(ctx)

	wch := s.cli.Watch(wctx, key, clientv3.WithRev(fromRevision))

	w := &watcher{
		cancel: cancel,
		ch:     make(chan types.Event, 16),
		done:   make(chan struct{}),
	}
	go w.run(wch)

	return w, nil
}

// Grant acquires a server-side lease and keeps it alive until Revoke or
// the Store is closed.
func (s *Store) Grant(ctx context.Context, ttl time.Duration) (types.LeaseID, error) {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	resp, err := s.cli.Grant(ctx, seconds)
	if err != nil {
		return types.NoLease, fmt.Errorf("failed to grant lease: %w", err)
	}
	id := types.LeaseID(resp.ID)

	kctx, kcancel := context.WithCancel(s.ctx)
	ch, err := s.cli.KeepAlive(kctx, resp.ID)
	if err != nil {
		kcancel()
		return types.NoLease, fmt.Errorf("failed to keep lease alive: %w", err)
	}

	s.mu.Lock()
	s.keepalives[id] = kcancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drainKeepAlive(id, ch)

	return id, nil
}

// Revoke releases the lease; etcd deletes every key bound to it.
func (s *Store) Revoke(ctx context.Context, id types.LeaseID) error {
	s.stopKeepAlive(id)

	if _, err := s.cli.Revoke(ctx, clientv3.LeaseID(id)); err != nil {
		return fmt.Errorf("failed to revoke lease %x: %w", int64(id), err)
	}

	return nil
}

// LeaseExpired reports leases whose keep-alive stream ended without a
// deliberate Revoke. The channel closes when the Store is closed.
func (s *Store) LeaseExpired() <-chan types.LeaseID {
	return s.expired
}

// Close stops all keep-alive streams. It does not close the underlying
// client.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.expired)

	return nil
}

// drainKeepAlive consumes keep-alive responses until the stream ends.
// An end without a prior Revoke means the lease is gone.
func (s *Store) drainKeepAlive(id types.LeaseID, ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer s.wg.Done()

	for range ch {
	}

	s.mu.Lock()
	_, tracked := s.keepalives[id]
	delete(s.keepalives, id)
	closed := s.closed
	s.mu.Unlock()

	if tracked && !closed {
		select {
		case s.expired <- id:
		default:
		}
	}
}

// stopKeepAlive cancels the lease's keep-alive stream and untracks it so
// the stream's end is not reported as an expiry.
func (s *Store) stopKeepAlive(id types.LeaseID) {
	s.mu.Lock()
	cancel, ok := s.keepalives[id]
	delete(s.keepalives, id)
	s.mu.Unlock()

	if ok {
		cancel()
	}
}

func opsToEtcd(ops []types.Op) []clientv3.Op {
	out := make([]clientv3.Op, 0, len(ops))
	for _, op := range ops {
		out = append(out, opToEtcd(op))
	}

	return out
}

func opToEtcd(op types.Op) clientv3.Op {
	switch op.Type {
	case types.OpPut:
		var opts []clientv3.OpOption
		if op.Lease != types.NoLease {
			opts = append(opts, clientv3.WithLease(clientv3.LeaseID(op.Lease)))
		}

		return clientv3.OpPut(op.Key, op.Value, opts...)
	case types.OpDelete:
		return clientv3.OpDelete(op.Key)
	default:
		return clientv3.OpGet(op.Key)
	}
}

func kvsFromEtcd(kvs []*mvccpb.KeyValue) []types.KeyValue {
	out := make([]types.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, types.KeyValue{
			Key:            string(kv.Key),
			Value:          string(kv.Value),
			CreateRevision: kv.CreateRevision,
			Lease:          types.LeaseID(kv.Lease),
		})
	}

	return out
}

// watcher adapts an etcd watch channel to types.Watcher.
type watcher struct {
	cancel context.CancelFunc
	ch     chan types.Event
	done   chan struct{}
	once   sync.Once
}

var _ types.Watcher = (*watcher)(nil)

// Events returns the subscription's event channel. The channel closes
// when the subscription ends.
func (w *watcher) Events() <-chan types.Event {
	return w.ch
}

// Close releases the subscription. Safe to call more than once.
func (w *watcher) Close() error {
	w.once.Do(func() {
		close(w.done)
		w.cancel()
	})

	return nil
}

func (w *watcher) run(wch clientv3.WatchChan) {
	defer close(w.ch)

	for resp := range wch {
		if resp.Canceled {
			return
		}
		for _, ev := range resp.Events {
			select {
			case w.ch <- eventFromEtcd(ev):
			case <-w.done:
				return
			}
		}
	}
}

func eventFromEtcd(ev *clientv3.Event) types.Event {
	out := types.Event{Type: types.EventPut}
	if ev.Type == mvccpb.DELETE {
		out.Type = types.EventDelete
	}
	out.Kv = types.KeyValue{
		Key:            string(ev.Kv.Key),
		Value:          string(ev.Kv.Value),
		CreateRevision: ev.Kv.CreateRevision,
		Lease:          types.LeaseID(ev.Kv.Lease),
	}

	return out
}
