// Package storetest holds the contract suite every feedback store backend runs.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/FeedbackForge/internal/domain/feedback"
	"github.com/Strob0t/FeedbackForge/internal/port/feedbackstore"
)

// Factory returns an empty store. The suite closes it.
type Factory func(t *testing.T) feedbackstore.Store

func record(domain string, rating int) *feedback.Record {
	return &feedback.Record{
		FeedbackAuthID: "0xauth",
		AuthIDSource:   "request",
		AgentSkillID:   "find",
		TaskID:         "task-" + domain,
		ContextID:      "ctx-1",
		Rating:         rating,
		Domain:         domain,
		Notes:          "notes for " + domain,
	}
}

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("EmptyStats", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		stats, err := s.GetStats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Total)
		assert.Zero(t, stats.AverageRating)
		assert.NotNil(t, stats.ByDomain)
		assert.NotNil(t, stats.ByRating)
		assert.Empty(t, stats.ByDomain)

		all, err := s.GetAll(context.Background())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("AddAssignsIncreasingIDs", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		id1, err := s.Add(ctx, record("a.test", 80))
		require.NoError(t, err)
		id2, err := s.Add(ctx, record("b.test", 100))
		require.NoError(t, err)
		assert.Greater(t, id1, int64(0))
		assert.Greater(t, id2, id1)
	})

	t.Run("GetAllNewestFirst", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		for _, d := range []string{"a.test", "b.test", "c.test"} {
			_, err := s.Add(ctx, record(d, 60))
			require.NoError(t, err)
		}
		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c.test", all[0].Domain)
		assert.Equal(t, "a.test", all[2].Domain)
		assert.Equal(t, "notes for c.test", all[0].Notes)
		assert.Equal(t, "request", all[0].AuthIDSource)
		assert.False(t, all[0].CreatedAt.IsZero())
	})

	t.Run("GetByDomain", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		_, _ = s.Add(ctx, record("a.test", 20))
		_, _ = s.Add(ctx, record("b.test", 40))
		_, _ = s.Add(ctx, record("a.test", 60))

		got, err := s.GetByDomain(ctx, "a.test")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 60, got[0].Rating)
		assert.Equal(t, 20, got[1].Rating)

		none, err := s.GetByDomain(ctx, "missing.test")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("StatsTwoDomains", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		_, _ = s.Add(ctx, record("a.test", 80))
		_, _ = s.Add(ctx, record("b.test", 100))

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Total)
		assert.InDelta(t, 90.0, stats.AverageRating, 1e-9)
		assert.Equal(t, map[string]int{"a.test": 1, "b.test": 1}, stats.ByDomain)
		assert.Equal(t, map[int]int{80: 1, 100: 1}, stats.ByRating)
	})

	t.Run("ProofOfPaymentRoundTrip", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		r := record("pay.test", 100)
		r.ProofOfPayment = "0xfeed"
		r.CreatedAt = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
		_, err := s.Add(ctx, r)
		require.NoError(t, err)

		all, err := s.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "0xfeed", all[0].ProofOfPayment)
		assert.True(t, all[0].CreatedAt.Equal(r.CreatedAt), "created at %v", all[0].CreatedAt)
	})

	t.Run("RejectsInvalidRecord", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()

		_, err := s.Add(context.Background(), &feedback.Record{Rating: 50})
		assert.Error(t, err)
	})

	t.Run("ConcurrentAdds", func(t *testing.T) {
		s := newStore(t)
		defer s.Close()
		ctx := context.Background()

		const n = 20
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Add(ctx, record("c.test", 40)); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		stats, err := s.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, n, stats.Total)
	})
}
