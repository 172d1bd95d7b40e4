package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/bidstack/marketsync/internal/domain"
	"github.com/bidstack/marketsync/internal/store"
)

// assertAll evaluates every assertion and appends failures to the result.
func (h *Harness) assertAll(result *Result) {
	for i, a := range h.scenario.Assertions {
		if err := h.assert(a, result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Errorf("assertions[%d] (%s): %w", i, a.Type, err))
		}
	}
}

func (h *Harness) assert(a Assertion, result *Result) error {
	ctx := context.Background()

	switch a.Type {
	case AssertStoreRecord:
		kind, _ := domain.ParseKind(a.Kind)
		e, err := h.store.GetEntity(ctx, kind, a.ID)
		if err != nil {
			return fmt.Errorf("record %s/%s: %w", a.Kind, a.ID, err)
		}
		return matchRecord(e, a.Expect)

	case AssertStoreMissing:
		kind, _ := domain.ParseKind(a.Kind)
		_, err := h.store.GetEntity(ctx, kind, a.ID)
		if err == nil {
			return fmt.Errorf("record %s/%s unexpectedly present", a.Kind, a.ID)
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil

	case AssertRemoteHas:
		kind, _ := domain.ParseKind(a.Kind)
		e, ok := h.clients[kind].Record(a.ID)
		if !ok {
			return fmt.Errorf("remote %s/%s missing", a.Kind, a.ID)
		}
		if len(a.Expect) > 0 {
			return matchRecord(e, a.Expect)
		}
		return nil

	case AssertRemoteMissing:
		kind, _ := domain.ParseKind(a.Kind)
		if _, ok := h.clients[kind].Record(a.ID); ok {
			return fmt.Errorf("remote %s/%s unexpectedly present", a.Kind, a.ID)
		}
		return nil

	case AssertQueuePending:
		pending, err := h.store.ListPendingActions(ctx)
		if err != nil {
			return err
		}
		if len(pending) != a.Count {
			return fmt.Errorf("pending actions: got %d, want %d", len(pending), a.Count)
		}
		return nil

	case AssertDeadLetters:
		dead, err := h.store.ListDeadLetters(ctx)
		if err != nil {
			return err
		}
		if len(dead) != a.Count {
			return fmt.Errorf("dead letters: got %d, want %d", len(dead), a.Count)
		}
		return nil

	case AssertCycleErrors:
		total := 0
		for _, status := range result.Statuses {
			total += len(status.Errors)
		}
		if total != a.Count {
			return fmt.Errorf("cycle errors: got %d, want %d", total, a.Count)
		}
		return nil
	}

	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// matchRecord checks a subset match of expected fields against the
// record's JSON form. The synthetic "dirty" key matches the sync flag.
func matchRecord(e domain.Entity, expect map[string]any) error {
	payload, err := domain.EncodeEntity(e)
	if err != nil {
		return err
	}
	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		return err
	}

	for key, want := range expect {
		field := key
		if key == "dirty" {
			field = "is_dirty"
		}
		gotVal, ok := got[field]
		if !ok {
			return fmt.Errorf("field %q missing from record %s", key, e.EntityID())
		}
		if !looseEqual(gotVal, want) {
			return fmt.Errorf("field %q: got %v, want %v", key, gotVal, want)
		}
	}
	return nil
}

// looseEqual compares YAML-decoded expectations against JSON-decoded
// values, bridging the int/float64 mismatch between the two decoders.
func looseEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
