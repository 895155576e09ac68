package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/taskflow"
	"github.com/baxromumarov/taskflow/internal/scenario"
)

// executeCommand runs a fresh command tree with args and returns stdout and
// stderr separately.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err = root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestRootCommand(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "taskflow", root.Use)

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "demo", "scenarios"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	for _, flag := range []string{"config", "metrics-addr", "log-level"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), "missing flag %q", flag)
	}
}

func TestScenariosCommand(t *testing.T) {
	out, _, err := executeCommand(t, "scenarios")
	require.NoError(t, err)

	got, err := scenario.Decode(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, scenario.Builtin(), got)
}

func TestRunCommand_Files(t *testing.T) {
	first := writeFile(t, "plain.yaml", "name: plain\nvalues: [1, 2, 3]\nexpect: [1, 2, 3]\n")
	second := writeFile(t, "catch.yaml", "name: catch\nvalues: [1, 2]\nfail_after: 1\nfallback: 9\nexpect: [1, 9]\n")

	out, _, err := executeCommand(t, "run", first, second)
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace([]byte(out)), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), "plain: [1 2 3] (completed")
	assert.Contains(t, string(lines[1]), "catch: [1 9] (completed")
}

func TestRunCommand_Mismatch(t *testing.T) {
	path := writeFile(t, "wrong.yaml", "name: wrong\nvalues: [1]\nexpect: [2]\n")

	_, stderr, err := executeCommand(t, "run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected values in: wrong")
	assert.Contains(t, stderr, "unexpected values in: wrong")
}

func TestRunCommand_BadFile(t *testing.T) {
	good := writeFile(t, "good.yaml", "name: good\nvalues: [1]\n")
	bad := writeFile(t, "bad.yaml", "name: bad\nstrategy: sideways\n")

	_, _, err := executeCommand(t, "run", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown strategy "sideways"`)

	_, _, err = executeCommand(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDemoCommand(t *testing.T) {
	out, _, err := executeCommand(t, "demo", "--latency", "0s")
	require.NoError(t, err)
	assert.Equal(t, "#1 books\n#2 music\n#3 games\nstored 3 categories\n", out)
}

func TestDemoCommand_Failure(t *testing.T) {
	_, stderr, err := executeCommand(t, "demo", "--latency", "0s", "--fail", "--log-level", "debug")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo: ")
	assert.Contains(t, stderr, "level=")
}

func TestConfigFlag(t *testing.T) {
	path := writeFile(t, "taskflow.yaml", "logging:\n  level: loud\n")

	_, _, err := executeCommand(t, "--config", path, "scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")

	_, _, err = executeCommand(t, "--config", filepath.Join(t.TempDir(), "none.yaml"), "scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read")
}

func TestMetricsEndpoint(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	a := &app{}
	cmd := &cobra.Command{}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("log-level", "", "")
	cmd.SetErr(io.Discard)
	require.NoError(t, cmd.Flags().Set("metrics-addr", "127.0.0.1:0"))

	require.NoError(t, a.setup(cmd))
	defer func() { assert.NoError(t, a.teardown(context.Background())) }()
	require.NotEmpty(t, a.metricsAddr)

	require.NoError(t, a.sched.Run(context.Background(), func(context.Context, *taskflow.Scope) error {
		return nil
	}))

	resp, err := http.Get("http://" + a.metricsAddr + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "taskflow_live_tasks")
	assert.Contains(t, string(body), `taskflow_task_events_total{dispatcher="default",event="completed"} 1`)
}
