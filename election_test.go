package leaselect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leaselect/memstore"
	"github.com/arloliu/leaselect/types"
)

func waitElected(t *testing.T, e *Election) {
	t.Helper()

	select {
	case <-e.Elected():
	case <-time.After(2 * time.Second):
		t.Fatal("elected notification not delivered")
	}
}

func requireNotElected(t *testing.T, e *Election, wait time.Duration) {
	t.Helper()

	select {
	case <-e.Elected():
		t.Fatal("unexpected elected notification")
	case <-time.After(wait):
	}
}

func TestNewElection(t *testing.T) {
	t.Run("requires a session", func(t *testing.T) {
		_, err := NewElection(nil, "svc")
		require.ErrorIs(t, err, ErrSessionRequired)
	})

	t.Run("requires a key prefix", func(t *testing.T) {
		_, err := NewElection(memstore.New(), "")
		require.ErrorIs(t, err, ErrEmptyKeyPrefix)
	})

	t.Run("rejects a non-positive TTL", func(t *testing.T) {
		_, err := NewElection(memstore.New(), "svc", WithTTL(0))
		require.ErrorIs(t, err, ErrInvalidTTL)
	})

	t.Run("starts in NotCampaigning", func(t *testing.T) {
		e, err := NewElection(memstore.New(), "svc")
		require.NoError(t, err)
		defer e.Close()

		require.Equal(t, StateNotCampaigning, e.State())
		require.Empty(t, e.LeaderKey())
		require.Equal(t, NoLease, e.LeaseID())
	})
}

func TestElection_Campaign(t *testing.T) {
	t.Run("sole candidate is elected immediately", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		self, err := e.Campaign(ctx, "x")
		require.NoError(t, err)
		require.Same(t, e, self)

		waitElected(t, e)
		require.Equal(t, StateLeading, e.State())

		value, err := e.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "x", value)
	})

	t.Run("records the full leadership triple", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)

		require.NotEmpty(t, e.LeaderKey())
		require.Positive(t, e.LeaderRevision())
		require.NotEqual(t, NoLease, e.LeaseID())
	})

	t.Run("second candidate blocks until the first resigns", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		a, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer a.Close()
		b, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer b.Close()

		_, err = a.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, a)

		_, err = b.Campaign(ctx, "y")
		require.NoError(t, err)
		requireNotElected(t, b, 100*time.Millisecond)
		require.Equal(t, StateCampaigning, b.State())

		require.NoError(t, a.Resign(ctx))

		waitElected(t, b)
		require.Equal(t, StateLeading, b.State())

		value, err := b.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "y", value)
	})

	t.Run("exactly one of N concurrent candidates wins, the oldest key", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		const n = 5
		elections := make([]*Election, n)
		var wg sync.WaitGroup
		for i := range elections {
			e, err := NewElection(store, "svc")
			require.NoError(t, err)
			elections[i] = e
			defer e.Close()

			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.Campaign(ctx, "candidate")
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		// The winner must be the candidate whose create commit obtained
		// the smallest revision.
		oldest := elections[0]
		for _, e := range elections[1:] {
			if e.LeaderRevision() < oldest.LeaderRevision() {
				oldest = e
			}
		}

		waitElected(t, oldest)
		for _, e := range elections {
			if e == oldest {
				continue
			}
			requireNotElected(t, e, 50*time.Millisecond)
		}
	})

	t.Run("candidates succeed in creation-revision order", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		var order []*Election
		for range 3 {
			e, err := NewElection(store, "svc")
			require.NoError(t, err)
			defer e.Close()
			_, err = e.Campaign(ctx, "v")
			require.NoError(t, err)
			order = append(order, e)
		}

		for _, e := range order {
			waitElected(t, e)
			require.NoError(t, e.Resign(ctx))
		}
	})

	t.Run("rejoins an existing key under the same lease", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		// memstore grants lease IDs sequentially from 1, so the first
		// campaign key of this election is known in advance.
		_, err := store.Commit(ctx, types.CreateRevisionEquals("election/svc/1", 0),
			[]types.Op{types.PutOp("election/svc/1", "pre-existing", types.NoLease)}, nil)
		require.NoError(t, err)

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "replacement")
		require.NoError(t, err)
		require.Equal(t, "election/svc/1", e.LeaderKey())

		// The rejoin branch reads the existing value instead of writing.
		value, err := e.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "pre-existing", value)
	})

	t.Run("fails after Close", func(t *testing.T) {
		e, err := NewElection(memstore.New(), "svc")
		require.NoError(t, err)
		require.NoError(t, e.Close())

		_, err = e.Campaign(t.Context(), "x")
		require.ErrorIs(t, err, ErrElectionClosed)
	})
}

func TestElection_Proclaim(t *testing.T) {
	t.Run("replaces the leader value", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "v1")
		require.NoError(t, err)
		waitElected(t, e)

		rev := e.LeaderRevision()
		require.NoError(t, e.Proclaim(ctx, "v2"))

		value, err := e.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "v2", value)

		// The creation revision is untouched, so proclaiming again still
		// passes the guard.
		require.Equal(t, rev, e.LeaderRevision())
		require.NoError(t, e.Proclaim(ctx, "v3"))
	})

	t.Run("fails with ErrNotLeader before campaigning", func(t *testing.T) {
		e, err := NewElection(memstore.New(), "svc")
		require.NoError(t, err)
		defer e.Close()

		require.ErrorIs(t, e.Proclaim(t.Context(), "v"), ErrNotLeader)
	})

	t.Run("detects external key deletion and demotes locally", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "v1")
		require.NoError(t, err)
		waitElected(t, e)

		// Delete the key behind the election's back, as lease expiry would.
		_, err = store.Commit(ctx, types.CreateRevisionEquals(e.LeaderKey(), e.LeaderRevision()),
			[]types.Op{types.DeleteOp(e.LeaderKey())}, nil)
		require.NoError(t, err)

		require.ErrorIs(t, e.Proclaim(ctx, "v2"), ErrNotLeader)
		require.Equal(t, StateNotCampaigning, e.State())
		require.Empty(t, e.LeaderKey())
		require.Equal(t, NoLease, e.LeaseID())
	})

	t.Run("fails when the key was recreated by another candidate", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "v1")
		require.NoError(t, err)
		waitElected(t, e)
		key, rev := e.LeaderKey(), e.LeaderRevision()

		// Delete and recreate: same key name, different creation revision.
		_, err = store.Commit(ctx, types.CreateRevisionEquals(key, rev),
			[]types.Op{types.DeleteOp(key)}, nil)
		require.NoError(t, err)
		_, err = store.Commit(ctx, types.CreateRevisionEquals(key, 0),
			[]types.Op{types.PutOp(key, "intruder", types.NoLease)}, nil)
		require.NoError(t, err)

		require.ErrorIs(t, e.Proclaim(ctx, "v2"), ErrNotLeader)

		// The intruder's key must be untouched.
		value, err := e.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "intruder", value)
	})
}

func TestElection_Resign(t *testing.T) {
	t.Run("is a no-op when not campaigning", func(t *testing.T) {
		e, err := NewElection(memstore.New(), "svc")
		require.NoError(t, err)
		defer e.Close()

		require.NoError(t, e.Resign(t.Context()))

		select {
		case <-e.Resigned():
			t.Fatal("no-op resign must not signal")
		default:
		}
	})

	t.Run("deletes the key and signals", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, e)

		require.NoError(t, e.Resign(ctx))

		select {
		case <-e.Resigned():
		case <-time.After(time.Second):
			t.Fatal("resigned notification not delivered")
		}

		require.Equal(t, StateNotCampaigning, e.State())
		_, err = e.Leader(ctx)
		require.ErrorIs(t, err, ErrNoLeader)
	})

	t.Run("after leadership was already lost it clears belief without deleting", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, e)
		key, rev := e.LeaderKey(), e.LeaderRevision()

		// Someone else's key now lives under the same name.
		_, err = store.Commit(ctx, types.CreateRevisionEquals(key, rev),
			[]types.Op{types.DeleteOp(key)}, nil)
		require.NoError(t, err)
		_, err = store.Commit(ctx, types.CreateRevisionEquals(key, 0),
			[]types.Op{types.PutOp(key, "other", types.NoLease)}, nil)
		require.NoError(t, err)

		require.NoError(t, e.Resign(ctx))
		require.Equal(t, StateNotCampaigning, e.State())

		value, err := e.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "other", value)
	})

	t.Run("abandons a pending campaign without an elected signal", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		// An older blocker keeps the candidate waiting.
		resp, err := store.Commit(ctx, types.CreateRevisionEquals("election/svc/blocker", 0),
			[]types.Op{types.PutOp("election/svc/blocker", "b", types.NoLease)}, nil)
		require.NoError(t, err)
		blockerRev := resp.Header.Revision

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)
		require.Equal(t, StateCampaigning, e.State())

		require.NoError(t, e.Resign(ctx))

		// Unblock the queue; the abandoned campaign must stay silent.
		_, err = store.Commit(ctx, types.CreateRevisionEquals("election/svc/blocker", blockerRev),
			[]types.Op{types.DeleteOp("election/svc/blocker")}, nil)
		require.NoError(t, err)

		requireNotElected(t, e, 200*time.Millisecond)
		require.Equal(t, StateNotCampaigning, e.State())
	})
}

func TestElection_Leader(t *testing.T) {
	t.Run("fails with ErrNoLeader on an empty prefix", func(t *testing.T) {
		e, err := NewElection(memstore.New(), "svc")
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Leader(t.Context())
		require.ErrorIs(t, err, ErrNoLeader)
	})

	t.Run("returns the most recently created surviving key", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		a, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer a.Close()
		b, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer b.Close()

		_, err = a.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, a)
		_, err = b.Campaign(ctx, "y")
		require.NoError(t, err)

		// The descending-sort/first-row selection picks the newest key,
		// even though the campaign ordering says a leads while its key
		// survives.
		value, err := a.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "y", value)
	})
}

func TestElection_LeaseLoss(t *testing.T) {
	t.Run("expiry invalidates leadership and fires the hook", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		lost := make(chan types.LeaseID, 1)
		e, err := NewElection(store, "svc", WithHooks(Hooks{
			OnLeaseLost: func(_ context.Context, id types.LeaseID) error {
				lost <- id
				return nil
			},
		}))
		require.NoError(t, err)
		defer e.Close()

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, e)
		lease := e.LeaseID()

		store.ExpireLease(lease)

		select {
		case id := <-lost:
			require.Equal(t, lease, id)
		case <-time.After(2 * time.Second):
			t.Fatal("lease loss hook not invoked")
		}

		require.Equal(t, StateNotCampaigning, e.State())
		require.Empty(t, e.LeaderKey())
		require.Equal(t, NoLease, e.LeaseID())

		_, err = e.Leader(ctx)
		require.ErrorIs(t, err, ErrNoLeader)
	})

	t.Run("ignores expiry of other leases", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		e, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer e.Close()

		other, err := store.Grant(ctx, time.Second)
		require.NoError(t, err)

		_, err = e.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, e)

		store.ExpireLease(other)
		time.Sleep(50 * time.Millisecond)

		require.Equal(t, StateLeading, e.State())
	})
}

func TestElection_Handoff(t *testing.T) {
	// The concrete two-candidate scenario: campaign, blocked wait,
	// resignation, takeover, proclamation.
	t.Run("resign hands leadership to the waiting candidate", func(t *testing.T) {
		ctx := t.Context()
		store := memstore.New()

		a, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer a.Close()
		b, err := NewElection(store, "svc")
		require.NoError(t, err)
		defer b.Close()

		_, err = a.Campaign(ctx, "x")
		require.NoError(t, err)
		waitElected(t, a)

		_, err = b.Campaign(ctx, "y")
		require.NoError(t, err)
		require.Less(t, a.LeaderRevision(), b.LeaderRevision())

		require.NoError(t, a.Resign(ctx))
		waitElected(t, b)

		value, err := b.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "y", value)

		require.NoError(t, b.Proclaim(ctx, "z"))
		value, err = b.Leader(ctx)
		require.NoError(t, err)
		require.Equal(t, "z", value)
	})
}
