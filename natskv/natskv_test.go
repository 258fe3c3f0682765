package natskv_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leaselect"
	"github.com/arloliu/leaselect/natskv"
	electest "github.com/arloliu/leaselect/testing"
	"github.com/arloliu/leaselect/types"
)

func newStore(t *testing.T) *natskv.Store {
	t.Helper()

	_, nc := electest.StartEmbeddedNATS(t)
	kv := electest.CreateJetStreamKV(t, nc, "elections")

	return natskv.New(kv)
}

func TestStore_CommitCreate(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	t.Run("creates absent key", func(t *testing.T) {
		lease, err := store.Grant(ctx, time.Minute)
		require.NoError(t, err)

		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("votes.alpha", 0),
			[]types.Op{types.PutOp("votes.alpha", "candidate-1", lease)},
			[]types.Op{types.GetOp("votes.alpha")},
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)
		require.Positive(t, resp.Header.Revision)

		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "votes."})
		require.NoError(t, err)
		require.Len(t, rng.Kvs, 1)
		require.Equal(t, "votes.alpha", rng.Kvs[0].Key)
		require.Equal(t, "candidate-1", rng.Kvs[0].Value)
		require.Equal(t, lease, rng.Kvs[0].Lease)
		require.Equal(t, resp.Header.Revision, rng.Kvs[0].CreateRevision)
	})

	t.Run("existing key runs else branch", func(t *testing.T) {
		lease, err := store.Grant(ctx, time.Minute)
		require.NoError(t, err)

		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("votes.alpha", 0),
			[]types.Op{types.PutOp("votes.alpha", "candidate-2", lease)},
			[]types.Op{types.GetOp("votes.alpha")},
		)
		require.NoError(t, err)
		require.False(t, resp.Succeeded)
		require.Len(t, resp.Responses, 1)
		require.Len(t, resp.Responses[0].Kvs, 1)
		require.Equal(t, "candidate-1", resp.Responses[0].Kvs[0].Value)
	})
}

func TestStore_CommitGuarded(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	lease, err := store.Grant(ctx, time.Minute)
	require.NoError(t, err)

	resp, err := store.Commit(ctx,
		types.CreateRevisionEquals("guard.key", 0),
		[]types.Op{types.PutOp("guard.key", "v1", lease)},
		nil,
	)
	require.NoError(t, err)
	require.True(t, resp.Succeeded)
	createRev := resp.Header.Revision

	t.Run("update with matching creation revision", func(t *testing.T) {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("guard.key", createRev),
			[]types.Op{types.PutOp("guard.key", "v2", lease)},
			nil,
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)

		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "guard."})
		require.NoError(t, err)
		require.Len(t, rng.Kvs, 1)
		require.Equal(t, "v2", rng.Kvs[0].Value)
		// Updates keep the creation revision stable.
		require.Equal(t, createRev, rng.Kvs[0].CreateRevision)
	})

	t.Run("update with stale creation revision fails", func(t *testing.T) {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("guard.key", createRev+100),
			[]types.Op{types.PutOp("guard.key", "intruder", lease)},
			nil,
		)
		require.NoError(t, err)
		require.False(t, resp.Succeeded)

		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "guard."})
		require.NoError(t, err)
		require.Equal(t, "v2", rng.Kvs[0].Value)
	})

	t.Run("guarded delete removes the key", func(t *testing.T) {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("guard.key", createRev),
			[]types.Op{types.DeleteOp("guard.key")},
			nil,
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)

		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "guard."})
		require.NoError(t, err)
		require.Empty(t, rng.Kvs)
	})

	t.Run("guard against deleted key fails", func(t *testing.T) {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("guard.key", createRev),
			[]types.Op{types.PutOp("guard.key", "late", lease)},
			nil,
		)
		require.NoError(t, err)
		require.False(t, resp.Succeeded)
	})
}

func TestStore_RangeOrdering(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	keys := []string{"queue.c", "queue.a", "queue.b"}
	revs := make(map[string]int64, len(keys))
	for _, key := range keys {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals(key, 0),
			[]types.Op{types.PutOp(key, key, types.NoLease)},
			nil,
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)
		revs[key] = resp.Header.Revision
	}

	t.Run("ascending by creation revision", func(t *testing.T) {
		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "queue.", Order: types.SortAscend})
		require.NoError(t, err)
		require.Len(t, rng.Kvs, 3)
		require.Equal(t, "queue.c", rng.Kvs[0].Key)
		require.Equal(t, "queue.a", rng.Kvs[1].Key)
		require.Equal(t, "queue.b", rng.Kvs[2].Key)
	})

	t.Run("descending by creation revision", func(t *testing.T) {
		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "queue.", Order: types.SortDescend})
		require.NoError(t, err)
		require.Len(t, rng.Kvs, 3)
		require.Equal(t, "queue.b", rng.Kvs[0].Key)
	})

	t.Run("max creation revision filter", func(t *testing.T) {
		rng, err := store.Range(ctx, types.RangeOptions{
			Prefix:            "queue.",
			MaxCreateRevision: revs["queue.a"],
			Order:             types.SortAscend,
		})
		require.NoError(t, err)
		require.Len(t, rng.Kvs, 2)
		require.Equal(t, "queue.c", rng.Kvs[0].Key)
		require.Equal(t, "queue.a", rng.Kvs[1].Key)
	})

	t.Run("empty prefix match", func(t *testing.T) {
		rng, err := store.Range(ctx, types.RangeOptions{Prefix: "nothing."})
		require.NoError(t, err)
		require.Empty(t, rng.Kvs)
		require.Positive(t, rng.Header.Revision)
	})
}

func TestStore_Watch(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	t.Run("delivers delete", func(t *testing.T) {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals("watch.one", 0),
			[]types.Op{types.PutOp("watch.one", "v", types.NoLease)},
			nil,
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)

		w, err := store.Watch(ctx, "watch.one", resp.Header.Revision)
		require.NoError(t, err)
		defer w.Close() //nolint:errcheck

		del, err := store.Commit(ctx,
			types.CreateRevisionEquals("watch.one", resp.Header.Revision),
			[]types.Op{types.DeleteOp("watch.one")},
			nil,
		)
		require.NoError(t, err)
		require.True(t, del.Succeeded)

		require.Eventually(t, func() bool {
			select {
			case ev := <-w.Events():
				return ev.Type == types.EventDelete && ev.Kv.Key == "watch.one"
			default:
				return false
			}
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("synthesizes delete for missing key", func(t *testing.T) {
		w, err := store.Watch(ctx, "watch.gone", 1)
		require.NoError(t, err)
		defer w.Close() //nolint:errcheck

		select {
		case ev := <-w.Events():
			require.Equal(t, types.EventDelete, ev.Type)
			require.Equal(t, "watch.gone", ev.Kv.Key)
		case <-time.After(5 * time.Second):
			t.Fatal("expected synthesized delete event")
		}
	})
}

func TestStore_Revoke(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	lease, err := store.Grant(ctx, time.Minute)
	require.NoError(t, err)

	for _, key := range []string{"sess.a", "sess.b"} {
		resp, err := store.Commit(ctx,
			types.CreateRevisionEquals(key, 0),
			[]types.Op{types.PutOp(key, "v", lease)},
			nil,
		)
		require.NoError(t, err)
		require.True(t, resp.Succeeded)
	}

	require.NoError(t, store.Revoke(ctx, lease))

	rng, err := store.Range(ctx, types.RangeOptions{Prefix: "sess."})
	require.NoError(t, err)
	require.Empty(t, rng.Kvs)

	// Revoking an unknown lease is harmless.
	require.NoError(t, store.Revoke(ctx, lease))
}

func TestStore_ElectionHandoff(t *testing.T) {
	store := newStore(t)
	ctx := t.Context()

	logger := electest.NewTestLogger(t)

	first, err := leaselect.NewElection(store, "orders", leaselect.WithLogger(logger))
	require.NoError(t, err)
	defer first.Close()

	second, err := leaselect.NewElection(store, "orders", leaselect.WithLogger(logger))
	require.NoError(t, err)
	defer second.Close()

	_, err = first.Campaign(ctx, "node-1")
	require.NoError(t, err)
	select {
	case <-first.Elected():
	case <-time.After(10 * time.Second):
		t.Fatal("first candidate was not elected")
	}

	leader, err := first.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-1", leader)

	_, err = second.Campaign(ctx, "node-2")
	require.NoError(t, err)
	select {
	case <-second.Elected():
		t.Fatal("second candidate elected while first still leads")
	case <-time.After(500 * time.Millisecond):
	}

	require.NoError(t, first.Resign(ctx))
	select {
	case <-second.Elected():
	case <-time.After(10 * time.Second):
		t.Fatal("second candidate was not elected after resignation")
	}

	leader, err = second.Leader(ctx)
	require.NoError(t, err)
	require.Equal(t, "node-2", leader)
}
