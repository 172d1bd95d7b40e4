package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/plan"
	"github.com/bidstack/marketsync/internal/remote"
	"github.com/bidstack/marketsync/internal/store"
	"github.com/bidstack/marketsync/internal/testutil"
)

type fixture struct {
	store   *store.Store
	collab  *remote.Collaborators
	clients map[domain.Kind]*remote.FakeClient
	network *remote.FakeConnectivity
	cache   *remote.FakeCache
	clock   *testutil.Clock
}

func newTestEngine(t *testing.T, p *plan.Plan, opts ...Option) (*Engine, *fixture) {
	t.Helper()

	clock := testutil.NewClock()
	s, err := store.Open(filepath.Join(t.TempDir(), "marketsync.db"),
		store.WithNow(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	collab, clients, network, cache := remote.NewFakeCollaborators()

	base := []Option{
		WithNow(clock.Now),
		WithInterval(0),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e := New(s, collab, p, append(base, opts...)...)

	return e, &fixture{
		store:   s,
		collab:  collab,
		clients: clients,
		network: network,
		cache:   cache,
		clock:   clock,
	}
}

func remoteJob(id, title string, updated time.Time) *domain.Job {
	return &domain.Job{
		ID:          id,
		AccountID:   "acct-1",
		Title:       title,
		Status:      "open",
		BudgetCents: 125_00,
		CreatedAt:   testutil.Epoch,
		UpdatedAt:   updated,
	}
}

func remoteAccount(id string, updated time.Time) *domain.Account {
	return &domain.Account{
		ID:          id,
		Email:       id + "@example.com",
		DisplayName: "Fixture " + id,
		Rating:      4.5,
		CreatedAt:   testutil.Epoch,
		UpdatedAt:   updated,
	}
}

func TestSyncAll_DownloadPopulatesStore(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindAccount].Seed(remoteAccount("acct-1", testutil.Epoch))
	fx.clients[domain.KindJob].Seed(
		remoteJob("job-1", "paint the fence", testutil.Epoch),
		remoteJob("job-2", "fix the roof", testutil.Epoch),
	)

	status, err := e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)

	require.NotNil(t, status.LastSyncTime)
	assert.Equal(t, int64(1), status.LastCycle)
	assert.Empty(t, status.Errors)
	assert.False(t, status.Active)
	assert.Equal(t, 3, status.Stats.TotalRecords)
	assert.Equal(t, 0, status.Stats.DirtyRecords)

	got, err := fx.store.GetEntity(context.Background(), domain.KindJob, "job-1")
	require.NoError(t, err)
	job := got.(*domain.Job)
	assert.Equal(t, "paint the fence", job.Title)
	assert.False(t, job.Dirty, "downloaded records are clean")
	assert.NotNil(t, job.SyncedAt)

	assert.Equal(t, 1, fx.cache.Invalidations())
}

func TestSyncAll_UploadMarksClean(t *testing.T) {
	e, fx := newTestEngine(t, nil)

	local := remoteJob("job-9", "local edit", testutil.Epoch)
	require.NoError(t, fx.store.UpsertEntity(context.Background(), local, true))

	_, err := e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)

	pushed, ok := fx.clients[domain.KindJob].Record("job-9")
	require.True(t, ok, "dirty record reaches the remote")
	assert.Equal(t, "local edit", pushed.(*domain.Job).Title)

	got, err := fx.store.GetEntity(context.Background(), domain.KindJob, "job-9")
	require.NoError(t, err)
	assert.False(t, got.(*domain.Job).Dirty, "confirmed upload clears the dirty flag")
}

func TestSyncAll_DropsConcurrentRequest(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))

	require.NoError(t, e.beginCycle(), "fixture holds the in-flight slot")

	status, err := e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, status.Active, "status reports the in-flight cycle")
	assert.Nil(t, status.LastSyncTime, "dropped request changes nothing")

	fetches, _, _ := fx.clients[domain.KindJob].Calls()
	assert.Zero(t, fetches, "dropped request never reaches the remote")

	e.endCycle(e.Snapshot())

	status, err = e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncTime, "slot released, next request runs")
}

func TestSyncAll_OfflineAborts(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	fx.network.SetOnline(false)

	status, err := e.SyncAll(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsConnectivityError(err))

	assert.Nil(t, status.LastSyncTime, "aborted cycle stamps no sync time")
	assert.Zero(t, fx.cache.Invalidations())

	_, getErr := fx.store.GetEntity(context.Background(), domain.KindJob, "job-1")
	assert.ErrorIs(t, getErr, store.ErrNotFound, "store untouched while offline")
}

func TestSyncAll_NoSessionAborts(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.collab.Session.(*remote.FakeSession).SignOut()

	status, err := e.SyncAll(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, IsNoSessionError(err))
	assert.Nil(t, status.LastSyncTime)
}

func TestForceSync_RunsBidirectional(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	require.NoError(t, fx.store.UpsertEntity(context.Background(),
		remoteJob("job-2", "local", testutil.Epoch), true))

	status, err := e.ForceSync(context.Background())
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncTime)

	_, ok := fx.clients[domain.KindJob].Record("job-2")
	assert.True(t, ok, "upload phase ran")
	_, err = fx.store.GetEntity(context.Background(), domain.KindJob, "job-1")
	assert.NoError(t, err, "download phase ran")
}

func TestResetAndResync_RebuildsFromRemote(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	ctx := context.Background()

	// Local state: a dirty record and a queued action, both doomed.
	require.NoError(t, fx.store.UpsertEntity(ctx,
		remoteJob("job-stale", "stale", testutil.Epoch), true))
	action, err := domain.NewAction(domain.KindJob, domain.ActionDelete,
		[]byte(`{"id":"job-stale"}`), fx.clock.Now())
	require.NoError(t, err)
	require.NoError(t, fx.store.EnqueueAction(ctx, action))

	fx.clients[domain.KindJob].Seed(remoteJob("job-fresh", "fresh", testutil.Epoch))

	status, err := e.ResetAndResync(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSyncTime)

	_, err = fx.store.GetEntity(ctx, domain.KindJob, "job-stale")
	assert.ErrorIs(t, err, store.ErrNotFound, "reset discards local state")

	_, err = fx.store.GetEntity(ctx, domain.KindJob, "job-fresh")
	assert.NoError(t, err, "resync repopulates from the remote")

	pending, err := fx.store.ListPendingActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending, "reset discards the action queue")

	_, pushes, _ := fx.clients[domain.KindJob].Calls()
	assert.Zero(t, pushes, "resync is download-only")
}

func TestResetAndResync_RefusedWhileSyncing(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.beginCycle())
	defer e.endCycle(e.Snapshot())

	_, err := e.ResetAndResync(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}

func TestOnStatusChange_NotifiesAndUnsubscribes(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	var seen []Status
	unsubscribe := e.OnStatusChange(func(s Status) { seen = append(seen, s) })

	_, err := e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, int64(1), seen[0].LastCycle)
	assert.False(t, seen[0].Active)

	unsubscribe()

	_, err = e.SyncAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Len(t, seen, 1, "unsubscribed listener stays silent")
}

func TestSnapshot_CopiesErrors(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	fx.clients[domain.KindJob].FailFetch(assert.AnError)

	_, err := e.SyncAll(context.Background(), Options{})
	require.NoError(t, err, "per-kind fetch failure does not abort")

	a := e.Snapshot()
	b := e.Snapshot()
	require.Len(t, a.Errors, 1)
	a.Errors[0] = nil
	require.NotNil(t, b.Errors[0], "snapshots do not share the error slice")
}

func TestCleanup_Idempotent(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	require.NoError(t, e.Init())

	require.NoError(t, e.Cleanup())
	require.NoError(t, e.Cleanup())

	_, err := fx.store.StorageStats(context.Background())
	assert.ErrorIs(t, err, store.ErrStorageUnavailable, "cleanup closes the store")
}

// blockingClient parks its first Push until released, holding a cycle in
// flight at a known point.
type blockingClient struct {
	*remote.FakeClient
	entered chan struct{}
	release chan struct{}
}

func (b *blockingClient) Push(ctx context.Context, s remote.Session, e domain.Entity) error {
	close(b.entered)
	<-b.release
	return b.FakeClient.Push(ctx, s, e)
}

func TestCleanup_WaitsForInFlightCycle(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	blocking := &blockingClient{
		FakeClient: fx.clients[domain.KindJob],
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	fx.collab.Jobs = blocking

	require.NoError(t, fx.store.UpsertEntity(context.Background(),
		remoteJob("job-1", "t", testutil.Epoch), true))

	syncDone := make(chan Status, 1)
	go func() {
		status, _ := e.SyncAll(context.Background(), Options{Direction: DirectionUpload})
		syncDone <- status
	}()
	<-blocking.entered

	cleanupDone := make(chan error, 1)
	go func() { cleanupDone <- e.Cleanup() }()

	select {
	case err := <-cleanupDone:
		t.Fatalf("cleanup returned while a cycle was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	require.NoError(t, <-cleanupDone)

	status := <-syncDone
	assert.Empty(t, status.Errors, "in-flight cycle finished against an open store")
	require.NotNil(t, status.LastSyncTime)
	assert.Zero(t, status.Stats.DirtyRecords, "push confirmed and marked synced before close")
}

func TestSyncAll_AfterCleanupRefused(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	require.NoError(t, e.Cleanup())

	_, err := e.SyncAll(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cleaned up")

	fetches, _, _ := fx.clients[domain.KindJob].Calls()
	assert.Zero(t, fetches, "refused request never reaches the remote")
}

func TestInit_AfterCleanupFails(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Cleanup())
	require.Error(t, e.Init())
}

func TestParseDirection(t *testing.T) {
	cases := []struct {
		in   string
		want Direction
	}{
		{"", DirectionBidirectional},
		{"bidirectional", DirectionBidirectional},
		{"download", DirectionDownload},
		{"upload", DirectionUpload},
	}
	for _, tc := range cases {
		got, err := ParseDirection(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	_, err := ParseDirection("sideways")
	require.Error(t, err)
}
