package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jobRecord(id, title string) map[string]any {
	return map[string]any{
		"id":           id,
		"account_id":   "acct-1",
		"title":        title,
		"description":  "",
		"status":       "open",
		"budget_cents": 1000,
		"created_at":   "2026-01-01T00:00:00Z",
		"updated_at":   "2026-01-01T00:00:00Z",
	}
}

func TestRun_UploadMarksClean(t *testing.T) {
	scenario := &Scenario{
		Name:        "upload_marks_clean",
		Description: "a dirty row reaches the remote and becomes clean",
		Local: []LocalRecord{
			{Kind: "job", Dirty: true, Record: jobRecord("job-1", "local edit")},
		},
		Steps: []Step{{Sync: "upload"}},
		Assertions: []Assertion{
			{Type: AssertRemoteHas, Kind: "job", ID: "job-1"},
			{Type: AssertStoreRecord, Kind: "job", ID: "job-1",
				Expect: map[string]any{"dirty": false, "title": "local edit"}},
			{Type: AssertCycleErrors, Count: 0},
		},
	}
	require.NoError(t, scenario.Validate())

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass(), "%v", result.Errors)
	require.Len(t, result.Statuses, 1)
	assert.NotNil(t, result.Statuses[0].LastSyncTime)
}

func TestRun_RejectsInvalidScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_kind",
		Description: "a hand-built scenario with an unknown kind is refused",
		Local: []LocalRecord{
			{Kind: "invoice", Record: jobRecord("job-1", "t")},
		},
		Steps: []Step{{Sync: "upload"}},
	}

	_, err := Run(scenario, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown entity kind "invoice"`)
}

func TestRun_ResetDiscardsLocalState(t *testing.T) {
	scenario := &Scenario{
		Name:        "reset_discards",
		Description: "reset drops dirty rows and repopulates from the remote",
		Remote: map[string][]map[string]any{
			"job": {jobRecord("job-fresh", "fresh")},
		},
		Local: []LocalRecord{
			{Kind: "job", Dirty: true, Record: jobRecord("job-stale", "stale")},
		},
		Steps: []Step{{Reset: true}},
		Assertions: []Assertion{
			{Type: AssertStoreMissing, Kind: "job", ID: "job-stale"},
			{Type: AssertStoreRecord, Kind: "job", ID: "job-fresh",
				Expect: map[string]any{"dirty": false}},
			{Type: AssertRemoteMissing, Kind: "job", ID: "job-stale"},
		},
	}
	require.NoError(t, scenario.Validate())

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass(), "%v", result.Errors)
}

func TestRun_BackoffDefersRetry(t *testing.T) {
	scenario := &Scenario{
		Name:        "backoff_defers",
		Description: "a failed action waits out its backoff before replaying",
		Queue: []QueuedAction{
			{Entity: "job", Action: "update", Payload: jobRecord("job-f", "flaky")},
		},
		Failures: Failures{Push: []string{"job-f"}},
		Steps: []Step{
			{Sync: "upload"},
			{ClearFailures: true},
			{Sync: "upload"},
			{Advance: "2m"},
			{Sync: "upload"},
		},
		Assertions: []Assertion{
			{Type: AssertQueuePending, Count: 0},
			{Type: AssertRemoteHas, Kind: "job", ID: "job-f"},
			{Type: AssertCycleErrors, Count: 1},
		},
	}
	require.NoError(t, scenario.Validate())

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.True(t, result.Pass(), "%v", result.Errors)
}

func TestRun_FailedAssertionIsReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "deliberate_mismatch",
		Description: "assertion failures surface as errors, not panics",
		Steps:       []Step{{Sync: "upload"}},
		Assertions: []Assertion{
			{Type: AssertStoreRecord, Kind: "job", ID: "job-none",
				Expect: map[string]any{"title": "missing"}},
		},
	}
	require.NoError(t, scenario.Validate())

	result, err := Run(scenario, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass())
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "job-none")
}
