package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/testutil"
)

// awaitCycle subscribes before the trigger fires and returns a channel
// that receives each completed cycle's status.
func awaitCycle(t *testing.T, e *Engine) <-chan Status {
	t.Helper()
	ch := make(chan Status, 8)
	unsubscribe := e.OnStatusChange(func(s Status) {
		select {
		case ch <- s:
		default:
		}
	})
	t.Cleanup(unsubscribe)
	return ch
}

func waitStatus(t *testing.T, ch <-chan Status) Status {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sync cycle")
		return Status{}
	}
}

func TestNotifyForeground_TriggersBidirectionalCycle(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	done := awaitCycle(t, e)

	require.NoError(t, e.Init())
	defer func() { _ = e.Cleanup() }()

	e.NotifyForeground()

	status := waitStatus(t, done)
	require.NotNil(t, status.LastSyncTime)

	fetches, _, _ := fx.clients[domain.KindJob].Calls()
	assert.Equal(t, 1, fetches, "foreground trigger runs the download phase")
}

func TestConnectivityRestored_TriggersCycle(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	done := awaitCycle(t, e)

	require.NoError(t, e.Init())
	defer func() { _ = e.Cleanup() }()

	fx.network.SetOnline(false)
	fx.network.SetOnline(true)

	status := waitStatus(t, done)
	require.NotNil(t, status.LastSyncTime)
	assert.Empty(t, status.Errors)
}

func TestConnectivityLost_DoesNotTrigger(t *testing.T) {
	e, fx := newTestEngine(t, nil)
	done := awaitCycle(t, e)

	require.NoError(t, e.Init())
	defer func() { _ = e.Cleanup() }()

	fx.network.SetOnline(false)

	select {
	case <-done:
		t.Fatal("offline transition must not start a cycle")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTimer_TriggersUploadOnlyCycle(t *testing.T) {
	e, fx := newTestEngine(t, nil, WithInterval(20*time.Millisecond))
	fx.clients[domain.KindJob].Seed(remoteJob("job-1", "t", testutil.Epoch))
	done := awaitCycle(t, e)

	require.NoError(t, e.Init())
	defer func() { _ = e.Cleanup() }()

	waitStatus(t, done)

	fetches, _, _ := fx.clients[domain.KindJob].Calls()
	assert.Zero(t, fetches, "the recurring timer only flushes outbound state")
}

func TestEnqueueTrigger_DropsWhenQueueFull(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	// The runner is not started, so the buffer fills and overflow drops.
	for i := 0; i < cap(e.commands)+5; i++ {
		e.enqueueTrigger(Options{}, "test")
	}
	assert.Len(t, e.commands, cap(e.commands))
}

func TestCleanup_StopsRunner(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	require.NoError(t, e.Init())
	require.NoError(t, e.Cleanup())

	select {
	case <-e.done:
	case <-time.After(time.Second):
		t.Fatal("runner goroutine did not exit")
	}

	// Triggers after shutdown are ignored.
	e.NotifyForeground()
	assert.Empty(t, e.commands)
}
