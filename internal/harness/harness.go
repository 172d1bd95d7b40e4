package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/engine"
	"github.com/bidstack/marketsync/internal/plan"
	"github.com/bidstack/marketsync/internal/remote"
	"github.com/bidstack/marketsync/internal/store"
	"github.com/bidstack/marketsync/internal/testutil"
)

// Harness runs a scenario against a real store and engine with fake
// collaborators and a deterministic clock.
type Harness struct {
	scenario *Scenario

	store   *store.Store
	engine  *engine.Engine
	clients map[domain.Kind]*remote.FakeClient
	network *remote.FakeConnectivity
	clock   *testutil.Clock
	ids     *testutil.IDSequence
}

// Result collects everything a scenario run produced.
type Result struct {
	// Statuses holds one engine status per executed sync or reset step.
	Statuses []engine.Status

	// Errors are assertion failures; empty means the scenario passed.
	Errors []error
}

// Pass reports whether every assertion held.
func (r *Result) Pass() bool {
	return len(r.Errors) == 0
}

// Run executes a scenario in a temporary directory and evaluates its
// assertions. The returned result is valid even when assertions fail;
// a non-nil error means the scenario could not run at all.
func Run(scenario *Scenario, dir string) (*Result, error) {
	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %q: %w", scenario.Name, err)
	}

	h, err := newHarness(scenario, dir)
	if err != nil {
		return nil, err
	}
	defer h.close()

	if err := h.seed(); err != nil {
		return nil, err
	}

	result := &Result{}
	for i, step := range scenario.Steps {
		if err := h.runStep(step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	h.assertAll(result)
	return result, nil
}

func newHarness(scenario *Scenario, dir string) (*Harness, error) {
	clock := testutil.NewClock()
	st, err := store.Open(filepath.Join(dir, "harness.db"), store.WithNow(clock.Now))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	collab, clients, network, _ := remote.NewFakeCollaborators()
	network.SetOnline(!scenario.Offline)

	eng := engine.New(st, collab, plan.Default(),
		engine.WithNow(clock.Now),
		engine.WithInterval(0),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	return &Harness{
		scenario: scenario,
		store:    st,
		engine:   eng,
		clients:  clients,
		network:  network,
		clock:    clock,
		ids:      testutil.NewIDSequence("action"),
	}, nil
}

func (h *Harness) close() {
	_ = h.store.Close()
}

// seed loads the scenario's remote, local, queue, and failure fixtures.
func (h *Harness) seed() error {
	ctx := context.Background()

	for kindName, records := range h.scenario.Remote {
		kind, _ := domain.ParseKind(kindName)
		for i, rec := range records {
			e, err := decodeRecord(kind, rec)
			if err != nil {
				return fmt.Errorf("remote %s[%d]: %w", kindName, i, err)
			}
			h.clients[kind].Seed(e)
		}
	}

	for i, rec := range h.scenario.Local {
		kind, _ := domain.ParseKind(rec.Kind)
		e, err := decodeRecord(kind, rec.Record)
		if err != nil {
			return fmt.Errorf("local[%d]: %w", i, err)
		}
		if err := h.store.UpsertEntity(ctx, e, rec.Dirty); err != nil {
			return fmt.Errorf("local[%d]: %w", i, err)
		}
	}

	for i, qa := range h.scenario.Queue {
		entity, _ := domain.ParseKind(qa.Entity)
		kind, _ := domain.ParseActionKind(qa.Action)
		payload, err := json.Marshal(qa.Payload)
		if err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
		action, err := domain.NewAction(entity, kind, payload, h.clock.Now())
		if err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
		// Deterministic IDs so golden snapshots can include them.
		action.ID = h.ids.Next()
		if qa.MaxRetries > 0 {
			action.MaxRetries = qa.MaxRetries
		}
		if err := h.store.EnqueueAction(ctx, action); err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
	}

	h.applyFailures()
	return nil
}

func (h *Harness) applyFailures() {
	for _, kindName := range h.scenario.Failures.Fetch {
		if kind, err := domain.ParseKind(kindName); err == nil {
			h.clients[kind].FailFetch(errInjected)
		}
	}
	for _, id := range h.scenario.Failures.Push {
		for _, client := range h.clients {
			client.FailPush(id, errInjected)
		}
	}
}

func (h *Harness) clearFailures() {
	for _, client := range h.clients {
		client.FailFetch(nil)
	}
	for _, id := range h.scenario.Failures.Push {
		for _, client := range h.clients {
			client.FailPush(id, nil)
		}
	}
}

var errInjected = errors.New("injected remote failure")

func (h *Harness) runStep(step Step, result *Result) error {
	ctx := context.Background()

	switch {
	case step.Sync != "":
		direction, err := engine.ParseDirection(step.Sync)
		if err != nil {
			return err
		}
		status, err := h.engine.SyncAll(ctx, engine.Options{Direction: direction})
		if err != nil && !isExpectedAbort(err) {
			return err
		}
		result.Statuses = append(result.Statuses, status)

	case step.Reset:
		status, err := h.engine.ResetAndResync(ctx)
		if err != nil && !isExpectedAbort(err) {
			return err
		}
		result.Statuses = append(result.Statuses, status)

	case step.Online != nil:
		h.network.SetOnline(*step.Online)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		h.clock.Advance(d)

	case step.ClearFailures:
		h.clearFailures()
	}

	return nil
}

// isExpectedAbort lets scenarios run cycles that abort on purpose
// (offline, signed out); the abort shows up in the recorded status.
func isExpectedAbort(err error) bool {
	return engine.IsConnectivityError(err) || engine.IsNoSessionError(err)
}

// decodeRecord converts a YAML map into a typed entity via its JSON form.
func decodeRecord(kind domain.Kind, rec map[string]any) (domain.Entity, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return domain.DecodeEntity(kind, payload)
}
