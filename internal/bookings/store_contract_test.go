package bookings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	contractNow = time.Date(2026, time.October, 21, 11, 59, 45, 0, time.UTC)
	// claimAll is late enough for any request in these tests to be due.
	claimAll = contractNow.Add(24 * time.Hour)
)

func newReq(name string, due time.Time) NewRequest {
	return NewRequest{Name: name, Date: clock.Date(2026, time.October, 28), Time: "08:00", DueAt: due}
}

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("Jane Doe", contractNow))
		require.NoError(t, err)
		assert.Equal(t, StatusPending, r.Status)
		assert.Zero(t, r.Attempts)
		assert.Equal(t, "08:00", r.RequestedTime)
		assert.True(t, contractNow.Equal(r.DueAt))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, got.ID)
		assert.Equal(t, "Jane Doe", got.Name)
		assert.Equal(t, clock.Date(2026, time.October, 28), got.RequestedDate)

		_, err = s.Get(ctx, r.ID+1000)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list all keeps creation order", func(t *testing.T) {
		s := newStore(t)
		var ids []int64
		for _, n := range []string{"a", "b", "c"} {
			r, err := s.Create(ctx, newReq(n, contractNow.Add(-time.Duration(len(ids))*time.Hour)))
			require.NoError(t, err)
			ids = append(ids, r.ID)
		}
		all, err := s.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, r := range all {
			assert.Equal(t, ids[i], r.ID)
		}
	})

	t.Run("list due only returns pending requests that are due", func(t *testing.T) {
		s := newStore(t)
		due, err := s.Create(ctx, newReq("due", contractNow.Add(-time.Minute)))
		require.NoError(t, err)
		exact, err := s.Create(ctx, newReq("exact", contractNow))
		require.NoError(t, err)
		_, err = s.Create(ctx, newReq("future", contractNow.Add(time.Second)))
		require.NoError(t, err)
		cancelled, err := s.Create(ctx, newReq("cancelled", contractNow.Add(-time.Hour)))
		require.NoError(t, err)
		require.NoError(t, s.Cancel(ctx, cancelled.ID))
		running, err := s.Create(ctx, newReq("running", contractNow.Add(-time.Hour)))
		require.NoError(t, err)
		_, ok, err := s.Claim(ctx, running.ID, claimAll)
		require.NoError(t, err)
		require.True(t, ok)

		list, err := s.ListDue(ctx, contractNow)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, due.ID, list[0].ID)
		assert.Equal(t, exact.ID, list[1].ID)
		for _, r := range list {
			assert.Equal(t, StatusPending, r.Status)
			assert.False(t, r.DueAt.After(contractNow))
		}
	})

	t.Run("claim is exclusive", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("race", contractNow))
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := s.Claim(ctx, r.ID, claimAll)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRunning, got.Status)

		_, _, err = s.Claim(ctx, r.ID+1000, claimAll)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update status counts attempts and appends history", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("retry", contractNow))
		require.NoError(t, err)

		for i := 1; i <= 3; i++ {
			_, ok, err := s.Claim(ctx, r.ID, claimAll)
			require.NoError(t, err)
			require.True(t, ok, "claim %d", i)

			u := StatusUpdate{Status: StatusFailed, Error: "no tee time obtained"}
			if i < 3 {
				next := contractNow.Add(time.Duration(i) * 5 * time.Minute)
				u = StatusUpdate{Status: StatusRetryPending, Error: "no tee time obtained", NextRetryAt: &next}
			}
			got, err := s.UpdateStatus(ctx, r.ID, u)
			require.NoError(t, err)
			assert.Equal(t, i, got.Attempts)
			assert.NotNil(t, got.LastAttemptAt)
		}

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, 3, got.Attempts)
		assert.Nil(t, got.NextRetryAt)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "no tee time obtained", *got.LastError)

		hist, err := s.History(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, hist, 3)
		for i, h := range hist {
			assert.Equal(t, i+1, h.Details.Attempt)
			assert.False(t, h.Success)
			if i > 0 {
				assert.True(t, h.CreatedAt.After(hist[i-1].CreatedAt), "history timestamps must increase")
			}
		}
		assert.Equal(t, StatusFailed, hist[2].Status)
	})

	t.Run("update status requires a running request", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("idle", contractNow))
		require.NoError(t, err)

		_, err = s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusCompleted, Success: true})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		_, ok, err := s.Claim(ctx, r.ID, claimAll)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusRetryPending})
		var verr *ValidationError
		assert.True(t, errors.As(err, &verr))

		done, err := s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusCompleted, Success: true, BookedTime: "08:10"})
		require.NoError(t, err)
		require.NotNil(t, done.BookedTime)
		assert.Equal(t, "08:10", *done.BookedTime)

		_, err = s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusFailed})
		assert.ErrorIs(t, err, ErrInvalidTransition)

		hist, err := s.History(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.True(t, hist[0].Success)
		assert.Equal(t, "08:10", hist[0].Details.BookedTime)
	})

	t.Run("retry due lists only elapsed retries", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("retry", contractNow.Add(-time.Hour)))
		require.NoError(t, err)
		_, ok, err := s.Claim(ctx, r.ID, claimAll)
		require.NoError(t, err)
		require.True(t, ok)
		next := contractNow.Add(5 * time.Minute)
		_, err = s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusRetryPending, NextRetryAt: &next})
		require.NoError(t, err)

		list, err := s.ListRetryDue(ctx, contractNow)
		require.NoError(t, err)
		assert.Empty(t, list)

		list, err = s.ListRetryDue(ctx, next)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, r.ID, list[0].ID)

		due, err := s.ListDue(ctx, next)
		require.NoError(t, err)
		assert.Empty(t, due, "retry_pending requests are not pending")

		_, ok, err = s.Claim(ctx, r.ID, claimAll)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("cancel only from pending", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("cancel me", contractNow.Add(-time.Minute)))
		require.NoError(t, err)
		require.NoError(t, s.Cancel(ctx, r.ID))

		got, err := s.Get(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)

		assert.ErrorIs(t, s.Cancel(ctx, r.ID), ErrInvalidTransition)

		due, err := s.ListDue(ctx, contractNow)
		require.NoError(t, err)
		assert.Empty(t, due)

		_, ok, err := s.Claim(ctx, r.ID, claimAll)
		require.NoError(t, err)
		assert.False(t, ok)

		running, err := s.Create(ctx, newReq("busy", contractNow))
		require.NoError(t, err)
		_, _, err = s.Claim(ctx, running.ID, claimAll)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Cancel(ctx, running.ID), ErrInvalidTransition)

		assert.ErrorIs(t, s.Cancel(ctx, running.ID+1000), ErrNotFound)
	})

	t.Run("claim waits for the due time and returns the claimed row", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Create(ctx, newReq("early", contractNow))
		require.NoError(t, err)

		_, ok, err := s.Claim(ctx, r.ID, contractNow.Add(-time.Second))
		require.NoError(t, err)
		assert.False(t, ok, "pending request is not due yet")

		claimed, ok, err := s.Claim(ctx, r.ID, contractNow)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, StatusRunning, claimed.Status)
		assert.NotNil(t, claimed.ClaimedAt)

		next := contractNow.Add(5 * time.Minute)
		_, err = s.UpdateStatus(ctx, r.ID, StatusUpdate{Status: StatusRetryPending, Error: "no slot", NextRetryAt: &next})
		require.NoError(t, err)

		_, ok, err = s.Claim(ctx, r.ID, next.Add(-time.Second))
		require.NoError(t, err)
		assert.False(t, ok, "retry is not claimable before its backoff elapses")

		claimed, ok, err = s.Claim(ctx, r.ID, next)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 1, claimed.Attempts, "claimed row reflects the previous attempt")
		require.NotNil(t, claimed.NextRetryAt)
		assert.True(t, next.Equal(*claimed.NextRetryAt))
	})

	t.Run("requeue stale moves abandoned runs back to retry", func(t *testing.T) {
		s := newStore(t)
		stuck, err := s.Create(ctx, newReq("stuck", contractNow))
		require.NoError(t, err)
		idle, err := s.Create(ctx, newReq("idle", contractNow))
		require.NoError(t, err)
		_, ok, err := s.Claim(ctx, stuck.ID, claimAll)
		require.NoError(t, err)
		require.True(t, ok)

		ids, err := s.RequeueStale(ctx, time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC), contractNow)
		require.NoError(t, err)
		assert.Empty(t, ids, "recent claims are left alone")

		ids, err = s.RequeueStale(ctx, time.Date(2100, time.January, 1, 0, 0, 0, 0, time.UTC), contractNow)
		require.NoError(t, err)
		assert.ElementsMatch(t, []int64{stuck.ID}, ids)

		got, err := s.Get(ctx, stuck.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusRetryPending, got.Status)
		assert.Zero(t, got.Attempts)
		require.NotNil(t, got.LastError)
		assert.Equal(t, MsgAbandoned, *got.LastError)

		due, err := s.ListRetryDue(ctx, contractNow)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, stuck.ID, due[0].ID)

		untouched, err := s.Get(ctx, idle.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, untouched.Status)

		hist, err := s.History(ctx, stuck.ID)
		require.NoError(t, err)
		assert.Empty(t, hist)
	})

	t.Run("history of an unknown request is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.History(ctx, 4242)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
