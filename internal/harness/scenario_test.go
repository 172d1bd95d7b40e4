package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: smoke
description: "one empty cycle"
steps:
  - sync: bidirectional
assertions:
  - type: queue_pending
    count: 0
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "smoke", s.Name)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "bidirectional", s.Steps[0].Sync)
}

func TestLoadScenario_RejectsUnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "x"
steps:
  - sync: upload
assertion:
  - type: queue_pending
`)
	_, err := LoadScenario(path)
	require.Error(t, err, "misspelled top-level keys must not be silently dropped")
}

func TestLoadScenario_Rejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing name", "description: x\nsteps:\n  - sync: upload\n"},
		{"missing steps", "name: a\ndescription: x\n"},
		{"bad direction", "name: a\ndescription: x\nsteps:\n  - sync: sideways\n"},
		{"two step fields", "name: a\ndescription: x\nsteps:\n  - sync: upload\n    reset: true\n"},
		{"unknown entity", "name: a\ndescription: x\nremote:\n  spaceship: []\nsteps:\n  - sync: upload\n"},
		{"bad action kind", "name: a\ndescription: x\nqueue:\n  - entity: job\n    action: upsert\n    payload: {id: j}\nsteps:\n  - sync: upload\n"},
		{"bad assertion type", "name: a\ndescription: x\nsteps:\n  - sync: upload\nassertions:\n  - type: trace_contains\n"},
		{"store_record without expect", "name: a\ndescription: x\nsteps:\n  - sync: upload\nassertions:\n  - type: store_record\n    kind: job\n    id: j\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tc.body))
			require.Error(t, err)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
