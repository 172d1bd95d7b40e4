package harness

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/store"
)

// Snapshot is the deterministic final-state capture compared against
// golden files. Volatile values (UUIDs, timestamps) are reduced to
// stable booleans and counts.
type Snapshot struct {
	Scenario string              `json:"scenario"`
	Cycles   []CycleSnapshot     `json:"cycles"`
	Stats    store.Stats         `json:"stats"`
	Records  []RecordSnapshot    `json:"records"`
	Pending  []ActionSnapshot    `json:"pending"`
	Dead     []ActionSnapshot    `json:"dead"`
	Remote   map[string][]string `json:"remote"`
}

// CycleSnapshot summarizes one executed sync or reset step.
type CycleSnapshot struct {
	Synced bool     `json:"synced"`
	Errors []string `json:"errors,omitempty"`
}

// RecordSnapshot is one mirrored row's bookkeeping state.
type RecordSnapshot struct {
	Kind   string `json:"kind"`
	ID     string `json:"id"`
	Dirty  bool   `json:"dirty"`
	Synced bool   `json:"synced"`
}

// ActionSnapshot is one queued action. IDs are stable because the
// harness seeds the queue from a deterministic sequence.
type ActionSnapshot struct {
	ID      string `json:"id"`
	Entity  string `json:"entity"`
	Action  string `json:"action"`
	Retries int    `json:"retries"`
}

// RunGolden executes a scenario, requires every assertion to pass, and
// compares the final-state snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	h, err := newHarness(scenario, t.TempDir())
	if err != nil {
		t.Fatalf("harness: %v", err)
	}
	defer h.close()

	if err := h.seed(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result := &Result{}
	for i, step := range scenario.Steps {
		if err := h.runStep(step, result); err != nil {
			t.Fatalf("steps[%d]: %v", i, err)
		}
	}

	h.assertAll(result)
	for _, assertErr := range result.Errors {
		t.Error(assertErr)
	}

	snap, err := h.snapshot(result)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, body)
}

// snapshot captures the final state of a completed run.
func (h *Harness) snapshot(result *Result) (*Snapshot, error) {
	ctx := context.Background()

	snap := &Snapshot{
		Scenario: h.scenario.Name,
		Cycles:   make([]CycleSnapshot, 0, len(result.Statuses)),
		Records:  []RecordSnapshot{},
		Pending:  []ActionSnapshot{},
		Dead:     []ActionSnapshot{},
		Remote:   make(map[string][]string),
	}

	for _, status := range result.Statuses {
		cs := CycleSnapshot{Synced: status.LastSyncTime != nil}
		for _, se := range status.Errors {
			cs.Errors = append(cs.Errors, string(se.Code))
		}
		snap.Cycles = append(snap.Cycles, cs)
	}

	stats, err := h.store.StorageStats(ctx)
	if err != nil {
		return nil, err
	}
	snap.Stats = stats

	for _, kind := range domain.DownloadOrder() {
		rows, err := h.store.ListEntities(ctx, kind, store.Filter{})
		if err != nil {
			return nil, err
		}
		records := make([]RecordSnapshot, 0, len(rows))
		for _, e := range rows {
			records = append(records, RecordSnapshot{
				Kind:   string(kind),
				ID:     e.EntityID(),
				Dirty:  isDirty(e),
				Synced: isSynced(e),
			})
		}
		sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
		snap.Records = append(snap.Records, records...)

		snap.Remote[string(kind)] = h.clients[kind].IDs()
	}

	pending, err := h.store.ListPendingActions(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range pending {
		snap.Pending = append(snap.Pending, actionSnapshot(a))
	}

	dead, err := h.store.ListDeadLetters(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range dead {
		snap.Dead = append(snap.Dead, actionSnapshot(a))
	}

	return snap, nil
}

func actionSnapshot(a *domain.Action) ActionSnapshot {
	return ActionSnapshot{
		ID:      a.ID,
		Entity:  string(a.Entity),
		Action:  string(a.Kind),
		Retries: a.RetryCount,
	}
}

func isDirty(e domain.Entity) bool {
	switch rec := e.(type) {
	case *domain.Account:
		return rec.Dirty
	case *domain.Job:
		return rec.Dirty
	case *domain.Message:
		return rec.Dirty
	case *domain.Bid:
		return rec.Dirty
	}
	return false
}

func isSynced(e domain.Entity) bool {
	switch rec := e.(type) {
	case *domain.Account:
		return rec.SyncedAt != nil
	case *domain.Job:
		return rec.SyncedAt != nil
	case *domain.Message:
		return rec.SyncedAt != nil
	case *domain.Bid:
		return rec.SyncedAt != nil
	}
	return false
}
