package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bidstack/marketsync/internal/domain"
)

// Scenario defines a declarative sync test: initial local and remote
// state, a sequence of steps (cycles, connectivity changes, clock
// advances), and assertions on the final state.
type Scenario struct {
	// Name uniquely identifies this scenario; golden snapshots use it as
	// the fixture name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Remote seeds the fake remote authority, keyed by entity kind
	// ("account", "job", "message", "bid"). Records are JSON-shaped maps.
	Remote map[string][]map[string]any `yaml:"remote,omitempty"`

	// Local seeds the mirror before the first cycle.
	Local []LocalRecord `yaml:"local,omitempty"`

	// Queue seeds the offline action queue in order.
	Queue []QueuedAction `yaml:"queue,omitempty"`

	// Failures injects remote faults that hold until cleared by a step.
	Failures Failures `yaml:"failures,omitempty"`

	// Offline starts the scenario with no connectivity.
	Offline bool `yaml:"offline,omitempty"`

	// Steps is the ordered list of things the scenario does.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// LocalRecord seeds one mirrored record.
type LocalRecord struct {
	// Kind is the entity kind.
	Kind string `yaml:"kind"`

	// Dirty stores the record as a pending local mutation.
	Dirty bool `yaml:"dirty,omitempty"`

	// Record is the JSON-shaped record body.
	Record map[string]any `yaml:"record"`
}

// QueuedAction seeds one offline action.
type QueuedAction struct {
	// Entity is the entity kind the action targets.
	Entity string `yaml:"entity"`

	// Action is "create", "update", or "delete".
	Action string `yaml:"action"`

	// Payload is the action payload: a full record for create/update, or
	// {id: ...} for delete.
	Payload map[string]any `yaml:"payload"`

	// MaxRetries overrides the default retry budget when positive.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// Failures describes injected remote faults.
type Failures struct {
	// Fetch lists entity kinds whose download fails.
	Fetch []string `yaml:"fetch,omitempty"`

	// Push lists record ids whose upload or delete fails.
	Push []string `yaml:"push,omitempty"`
}

// Step is one scenario action. Exactly one field must be set.
type Step struct {
	// Sync runs one cycle: "bidirectional", "download", or "upload".
	Sync string `yaml:"sync,omitempty"`

	// Reset clears the store and resyncs from the remote.
	Reset bool `yaml:"reset,omitempty"`

	// Online flips connectivity.
	Online *bool `yaml:"online,omitempty"`

	// Advance moves the scenario clock forward (e.g. "1m30s"), letting
	// backed-off actions become eligible.
	Advance string `yaml:"advance,omitempty"`

	// ClearFailures removes all injected faults.
	ClearFailures bool `yaml:"clear_failures,omitempty"`
}

// Assertion validates final state. Type selects which fields apply.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is the entity kind (store_record, store_missing, remote_has,
	// remote_missing).
	Kind string `yaml:"kind,omitempty"`

	// ID is the record id.
	ID string `yaml:"id,omitempty"`

	// Expect contains expected field values; subset match against the
	// record's JSON form, plus the "dirty" bookkeeping flag.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected size (queue_pending, dead_letters,
	// cycle_errors).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertStoreRecord   = "store_record"
	AssertStoreMissing  = "store_missing"
	AssertRemoteHas     = "remote_has"
	AssertRemoteMissing = "remote_missing"
	AssertQueuePending  = "queue_pending"
	AssertDeadLetters   = "dead_letters"
	AssertCycleErrors   = "cycle_errors"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if err := scenario.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

// Validate checks structural requirements before a scenario runs.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for kind := range s.Remote {
		if _, err := domain.ParseKind(kind); err != nil {
			return fmt.Errorf("remote: %w", err)
		}
	}
	for i, rec := range s.Local {
		if _, err := domain.ParseKind(rec.Kind); err != nil {
			return fmt.Errorf("local[%d]: %w", i, err)
		}
		if len(rec.Record) == 0 {
			return fmt.Errorf("local[%d]: record is required", i)
		}
	}
	for i, qa := range s.Queue {
		if _, err := domain.ParseKind(qa.Entity); err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
		if _, err := domain.ParseActionKind(qa.Action); err != nil {
			return fmt.Errorf("queue[%d]: %w", i, err)
		}
		if len(qa.Payload) == 0 {
			return fmt.Errorf("queue[%d]: payload is required", i)
		}
	}

	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func (st *Step) validate() error {
	set := 0
	if st.Sync != "" {
		set++
		switch st.Sync {
		case "bidirectional", "download", "upload":
		default:
			return fmt.Errorf("unknown sync direction %q", st.Sync)
		}
	}
	if st.Reset {
		set++
	}
	if st.Online != nil {
		set++
	}
	if st.Advance != "" {
		set++
	}
	if st.ClearFailures {
		set++
	}
	if set != 1 {
		return fmt.Errorf("exactly one of sync, reset, online, advance, clear_failures must be set")
	}
	return nil
}

func (a *Assertion) validate() error {
	switch a.Type {
	case AssertStoreRecord:
		if a.Kind == "" || a.ID == "" || len(a.Expect) == 0 {
			return fmt.Errorf("store_record needs kind, id, and expect")
		}
	case AssertStoreMissing, AssertRemoteHas, AssertRemoteMissing:
		if a.Kind == "" || a.ID == "" {
			return fmt.Errorf("%s needs kind and id", a.Type)
		}
	case AssertQueuePending, AssertDeadLetters, AssertCycleErrors:
		if a.Count < 0 {
			return fmt.Errorf("%s count must be non-negative", a.Type)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	if a.Kind != "" {
		if _, err := domain.ParseKind(a.Kind); err != nil {
			return err
		}
	}
	return nil
}
