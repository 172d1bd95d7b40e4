package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitSyncFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError,
		GetExitCode(WrapExitError(ExitCommandError, "bad flag", nil)))
	assert.Equal(t, ExitCommandError,
		GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitCommandError, "inner", nil))))
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitSyncFailure, "sync aborted", errors.New("offline"))
	assert.Equal(t, "sync aborted: offline", err.Error())
	assert.Equal(t, "offline", errors.Unwrap(err).Error())

	bare := &ExitError{Code: ExitCommandError, Message: "no database"}
	assert.Equal(t, "no database", bare.Error())
}

func TestOutputFormatter_JSONEnvelope(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Success(map[string]int{"records": 3}))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}

	require.NoError(t, f.Error("CONNECTIVITY", "network unreachable", nil))

	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "CONNECTIVITY", resp.Error.Code)
}

func TestOutputFormatter_TextError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Error("NO_SESSION", "sign in first", nil))
	assert.Contains(t, buf.String(), "NO_SESSION")
	assert.Contains(t, buf.String(), "sign in first")
}

func TestOutputFormatter_VerbosefRouting(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.Verbosef("opened %s", "db")
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")
	assert.Contains(t, errOut.String(), "opened db")

	f.Verbose = false
	errOut.Reset()
	f.Verbosef("hidden")
	assert.Empty(t, errOut.String())
}
