package store

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/testutil"
)

func enqueueTestAction(t *testing.T, s *Store, payload string, createdAt time.Time) *domain.Action {
	t.Helper()

	act, err := domain.NewAction(domain.KindJob, domain.ActionCreate,
		json.RawMessage(payload), createdAt)
	require.NoError(t, err)
	require.NoError(t, s.EnqueueAction(context.Background(), act))
	return act
}

func TestQueue_FIFOByCreation(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		act := enqueueTestAction(t, s,
			fmt.Sprintf(`{"id":"j%d"}`, i),
			testutil.Epoch.Add(time.Duration(i)*time.Minute))
		ids = append(ids, act.ID)
	}

	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for i, act := range pending {
		assert.Equal(t, ids[i], act.ID, "pending actions must be in creation order")
	}
}

func TestQueue_DedupePendingActions(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	// Same mutation content, different key order: one queue entry.
	enqueueTestAction(t, s, `{"id":"j1","title":"x"}`, testutil.Epoch)
	enqueueTestAction(t, s, `{"title":"x","id":"j1"}`, testutil.Epoch.Add(time.Minute))

	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	// Different content enqueues normally.
	enqueueTestAction(t, s, `{"id":"j2","title":"y"}`, testutil.Epoch.Add(2*time.Minute))
	pending, err = s.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestQueue_DedupeReleasedAfterRemoval(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	first := enqueueTestAction(t, s, `{"id":"j1"}`, testutil.Epoch)
	require.NoError(t, s.RemoveAction(ctx, first.ID))

	// Once the first application succeeded and was removed, the same
	// mutation may legitimately be queued again.
	enqueueTestAction(t, s, `{"id":"j1"}`, testutil.Epoch.Add(time.Hour))

	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestQueue_RoundTripFields(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	queryKey := "jobs-list"
	act, err := domain.NewAction(domain.KindMessage, domain.ActionCreate,
		json.RawMessage(`{"id":"m1","body":"hello"}`), testutil.Epoch)
	require.NoError(t, err)
	act.QueryKey = &queryKey
	require.NoError(t, s.EnqueueAction(ctx, act))

	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	got := pending[0]
	assert.Equal(t, act.ID, got.ID)
	assert.Equal(t, domain.ActionCreate, got.Kind)
	assert.Equal(t, domain.KindMessage, got.Entity)
	assert.JSONEq(t, string(act.Payload), string(got.Payload))
	assert.Equal(t, act.DedupeKey, got.DedupeKey)
	assert.Equal(t, domain.DefaultMaxRetries, got.MaxRetries)
	require.NotNil(t, got.QueryKey)
	assert.Equal(t, queryKey, *got.QueryKey)
	assert.Nil(t, got.SyncedAt)
}

func TestRemoveAction_NotFound(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.RemoveAction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBumpRetry_IncrementsAndSchedules(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	act := enqueueTestAction(t, s, `{"id":"j1"}`, testutil.Epoch)
	next := testutil.Epoch.Add(30 * time.Second)

	got, err := s.BumpRetry(ctx, act.ID, next)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.False(t, got.DeadLettered)
	assert.True(t, got.NextAttemptAt.Equal(next))

	// Still pending for the next cycle.
	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestBumpRetry_DeadLettersAtBudget(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	act := enqueueTestAction(t, s, `{"id":"j1"}`, testutil.Epoch)

	var got *domain.Action
	var err error
	for i := 0; i < domain.DefaultMaxRetries; i++ {
		got, err = s.BumpRetry(ctx, act.ID, testutil.Epoch.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	assert.Equal(t, domain.DefaultMaxRetries, got.RetryCount)
	assert.True(t, got.DeadLettered, "exhausted budget must dead-letter the action")

	pending, err := s.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "dead-lettered actions leave the pending queue")

	dead, err := s.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, act.ID, dead[0].ID)
}

func TestEnqueueAction_RejectsInvalid(t *testing.T) {
	s, _ := openTestStore(t)

	bad := &domain.Action{ID: "", Entity: domain.KindJob, Kind: domain.ActionCreate}
	err := s.EnqueueAction(context.Background(), bad)
	assert.Error(t, err)
}
