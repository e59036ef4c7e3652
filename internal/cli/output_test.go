package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_VerboseDiagnosticsGoToStderr(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	f := newFormatter(&RootOptions{Format: "json", Verbose: true}, cmd)
	f.VerboseLog("opening queue at %s", "/tmp/q.db")
	require.NoError(t, f.Success(map[string]int{"count": 2}))

	assert.Contains(t, errOut.String(), "opening queue at /tmp/q.db")

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp),
		"diagnostics must not corrupt the JSON stream")
	assert.Equal(t, "ok", resp.Status)
}

func TestFormatter_TextError(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&out)

	f := newFormatter(&RootOptions{Format: "text"}, cmd)
	require.NoError(t, f.Error(ErrCodeQueue, "open queue", nil))
	assert.Equal(t, "Error [E002]: open queue\n", out.String())
}
