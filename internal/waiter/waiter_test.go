package waiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/leaselect/internal/logger"
	"github.com/arloliu/leaselect/memstore"
	"github.com/arloliu/leaselect/types"
)

func put(t *testing.T, s *memstore.Store, key, value string) int64 {
	t.Helper()

	resp, err := s.Commit(t.Context(), types.CreateRevisionEquals(key, 0),
		[]types.Op{types.PutOp(key, value, types.NoLease)}, nil)
	require.NoError(t, err)
	require.True(t, resp.Succeeded)

	return resp.Header.Revision
}

func del(t *testing.T, s *memstore.Store, key string, createRev int64) {
	t.Helper()

	resp, err := s.Commit(t.Context(), types.CreateRevisionEquals(key, createRev),
		[]types.Op{types.DeleteOp(key)}, nil)
	require.NoError(t, err)
	require.True(t, resp.Succeeded)
}

func TestWaitNoOlder(t *testing.T) {
	t.Run("resolves immediately on an empty range", func(t *testing.T) {
		s := memstore.New()

		header, waited, err := WaitNoOlder(t.Context(), s, "e/", 100, logger.NewNop())
		require.NoError(t, err)
		require.Zero(t, waited)
		require.Equal(t, s.CurrentRevision(), header.Revision)
	})

	t.Run("ignores keys created above the bound", func(t *testing.T) {
		s := memstore.New()
		bound := s.CurrentRevision()
		put(t, s, "e/a", "newer")

		_, waited, err := WaitNoOlder(t.Context(), s, "e/", bound, logger.NewNop())
		require.NoError(t, err)
		require.Zero(t, waited)
	})

	t.Run("blocks until the predecessor is deleted", func(t *testing.T) {
		s := memstore.New()
		rev := put(t, s, "e/a", "older")

		done := make(chan error, 1)
		go func() {
			_, _, err := WaitNoOlder(context.Background(), s, "e/", rev, logger.NewNop())
			done <- err
		}()

		select {
		case err := <-done:
			t.Fatalf("wait resolved while predecessor exists: %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		del(t, s, "e/a", rev)

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not resolve after predecessor removal")
		}
	})

	t.Run("waits out a chain of predecessors removed one at a time", func(t *testing.T) {
		s := memstore.New()
		revA := put(t, s, "e/a", "1")
		revB := put(t, s, "e/b", "2")
		revC := put(t, s, "e/c", "3")

		done := make(chan int, 1)
		go func() {
			_, waited, err := WaitNoOlder(context.Background(), s, "e/", revC, logger.NewNop())
			if err != nil {
				done <- -1
				return
			}
			done <- waited
		}()

		time.Sleep(20 * time.Millisecond)
		del(t, s, "e/a", revA)
		time.Sleep(20 * time.Millisecond)
		del(t, s, "e/b", revB)
		time.Sleep(20 * time.Millisecond)
		del(t, s, "e/c", revC)

		select {
		case waited := <-done:
			require.GreaterOrEqual(t, waited, 1)
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not resolve after chain removal")
		}
	})

	t.Run("releases every watcher on the happy path", func(t *testing.T) {
		s := memstore.New()
		rev := put(t, s, "e/a", "older")

		done := make(chan struct{})
		go func() {
			defer close(done)
			_, _, _ = WaitNoOlder(context.Background(), s, "e/", rev, logger.NewNop())
		}()

		time.Sleep(20 * time.Millisecond)
		del(t, s, "e/a", rev)
		<-done

		require.Equal(t, 0, s.WatcherCount())
	})

	t.Run("releases the watcher when the context is cancelled", func(t *testing.T) {
		s := memstore.New()
		rev := put(t, s, "e/a", "older")

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, _, err := WaitNoOlder(ctx, s, "e/", rev, logger.NewNop())
			done <- err
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not observe cancellation")
		}
		require.Equal(t, 0, s.WatcherCount())
	})

	t.Run("never resolves while a key at the bound survives", func(t *testing.T) {
		s := memstore.New()
		rev := put(t, s, "e/a", "exactly-at-bound")

		done := make(chan struct{}, 1)
		go func() {
			_, _, _ = WaitNoOlder(context.Background(), s, "e/", rev, logger.NewNop())
			done <- struct{}{}
		}()

		select {
		case <-done:
			t.Fatal("wait resolved with a key at the bound still present")
		case <-time.After(100 * time.Millisecond):
		}

		del(t, s, "e/a", rev)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("wait did not resolve")
		}
	})
}
