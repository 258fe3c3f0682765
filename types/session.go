package types

import (
	"context"
	"time"
)

// LeaseID identifies a time-bound lease granted by the store.
//
// Keys bound to a lease are removed automatically by the store when the
// lease expires or is revoked. The identifier is opaque to the election
// protocol; it is only echoed back on writes and rendered into campaign
// key names.
type LeaseID int64

// NoLease is the zero LeaseID. A key written with NoLease is not bound to
// any lease and never expires on its own.
const NoLease LeaseID = 0

// KeyValue is a single key-value record materialized in the store.
type KeyValue struct {
	// Key is the full key name, including any namespace prefix.
	Key string

	// Value is the current payload of the key.
	Value string

	// CreateRevision is the revision at which this key was created.
	// It is assigned by the store at commit time and never changes while
	// the key exists, even when the value is replaced.
	CreateRevision int64

	// Lease is the lease the key is bound to, or NoLease.
	Lease LeaseID
}

// ResponseHeader carries store metadata attached to every response.
type ResponseHeader struct {
	// Revision is the store's revision at the time the response was
	// generated. Revisions are strictly increasing 64-bit integers,
	// totally ordering all mutations.
	Revision int64
}

// Cmp is a guard evaluated atomically by a conditional commit.
//
// The only comparison the election protocol needs is on a key's creation
// revision: CreateRevision == 0 means "the key does not exist", and a
// non-zero value means "the key still is the same instance that was
// created at that revision" (i.e. it was not deleted and recreated).
type Cmp struct {
	Key            string
	CreateRevision int64
}

// CreateRevisionEquals builds a guard asserting that key's creation
// revision equals rev. Pass rev == 0 to assert the key is absent.
func CreateRevisionEquals(key string, rev int64) Cmp {
	return Cmp{Key: key, CreateRevision: rev}
}

// OpType identifies a branch operation inside a conditional commit.
type OpType int

const (
	// OpPut writes a key, optionally bound to a lease.
	OpPut OpType = iota

	// OpGet reads a key.
	OpGet

	// OpDelete removes a key.
	OpDelete
)

// Op is a single operation executed inside a conditional commit branch.
// Use the PutOp, GetOp and DeleteOp constructors.
type Op struct {
	Type  OpType
	Key   string
	Value string
	Lease LeaseID
}

// PutOp builds a put operation binding key to lease (NoLease for none).
func PutOp(key, value string, lease LeaseID) Op {
	return Op{Type: OpPut, Key: key, Value: value, Lease: lease}
}

// GetOp builds a read operation for a single key.
func GetOp(key string) Op {
	return Op{Type: OpGet, Key: key}
}

// DeleteOp builds a delete operation for a single key.
func DeleteOp(key string) Op {
	return Op{Type: OpDelete, Key: key}
}

// OpResponse is the per-operation result of a committed branch.
// Only OpGet produces Kvs; mutations leave it empty.
type OpResponse struct {
	Kvs []KeyValue
}

// TxnResponse is the result of a conditional commit.
type TxnResponse struct {
	// Succeeded reports whether the guard held and the then-branch ran.
	Succeeded bool

	// Header carries the commit revision. For a commit whose then-branch
	// created a key, Header.Revision equals that key's CreateRevision.
	Header ResponseHeader

	// Responses holds one entry per operation of the branch that ran,
	// in order.
	Responses []OpResponse
}

// SortOrder controls the ordering of range query results by creation
// revision.
type SortOrder int

const (
	// SortAscend orders results from smallest to largest CreateRevision.
	SortAscend SortOrder = iota

	// SortDescend orders results from largest to smallest CreateRevision.
	SortDescend
)

// RangeOptions configures a prefix range query.
type RangeOptions struct {
	// Prefix selects all keys sharing this string prefix.
	Prefix string

	// MaxCreateRevision, when non-zero, filters out keys whose
	// CreateRevision is greater than this bound.
	MaxCreateRevision int64

	// Order sorts the results by CreateRevision.
	Order SortOrder
}

// RangeResponse is the result of a prefix range query.
type RangeResponse struct {
	Header ResponseHeader
	Kvs    []KeyValue
}

// EventType identifies a change observed by a watch subscription.
type EventType int

const (
	// EventPut indicates a key was created or its value replaced.
	EventPut EventType = iota

	// EventDelete indicates a key was removed, whether explicitly or by
	// lease expiry.
	EventDelete
)

// Event is a single change delivered by a watch subscription.
type Event struct {
	Type EventType

	// Kv is the affected record. For EventDelete the Value may be empty
	// depending on the backing store; Key is always set.
	Kv KeyValue
}

// Watcher is a single-key watch subscription.
//
// Watchers are scoped resources: callers must Close them on every exit
// path once the awaited event has been observed (or the wait abandoned),
// otherwise the store-side subscription leaks.
type Watcher interface {
	// Events returns the channel delivering change events for the watched
	// key. The channel is closed when the subscription ends.
	Events() <-chan Event

	// Close releases the subscription. It is safe to call more than once.
	Close() error
}

// Session is a handle to an external linearizable transactional key-value
// store, scoped to one logical namespace.
//
// All mutual exclusion in the election protocol is delegated to Commit's
// atomicity and to the store's monotonic revision counter; implementations
// must guarantee that the guard evaluation and the chosen branch execute
// as one atomic unit, and that revisions reported in headers totally order
// all mutations.
//
// Sessions must be safe for concurrent use. Transient store failures are
// returned as-is; the session layer performs no internal retries.
type Session interface {
	// Commit atomically evaluates cmp and executes thenOps when it holds,
	// elseOps otherwise. Either branch may be empty.
	Commit(ctx context.Context, cmp Cmp, thenOps, elseOps []Op) (*TxnResponse, error)

	// Range performs a read-only prefix query. An empty result is not an
	// error; the response header still carries the revision at which the
	// emptiness was observed.
	Range(ctx context.Context, opts RangeOptions) (*RangeResponse, error)

	// Watch opens a subscription for changes to exactly one key, starting
	// at fromRevision. Events with revisions at or after fromRevision are
	// delivered, including ones committed between the caller's last read
	// and the subscription being established.
	Watch(ctx context.Context, key string, fromRevision int64) (Watcher, error)

	// Grant acquires a lease with the given time-to-live.
	Grant(ctx context.Context, ttl time.Duration) (LeaseID, error)

	// Revoke releases a lease, removing all keys bound to it.
	Revoke(ctx context.Context, id LeaseID) error
}

// LeaseNotifier is optionally implemented by sessions that can report
// lease expiry or loss asynchronously.
//
// When a Session also implements LeaseNotifier, the election monitors the
// channel and invalidates its local leadership state as soon as its own
// lease is reported expired, instead of discovering the loss on the next
// failed conditional commit.
type LeaseNotifier interface {
	// LeaseExpired returns a channel delivering the IDs of leases the
	// store considers expired or revoked.
	LeaseExpired() <-chan LeaseID
}
