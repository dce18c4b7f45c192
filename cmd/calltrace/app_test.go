package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/calltrace"
	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/domain"
	"github.com/aretw0/calltrace/pkg/threads"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProgram = `
main: main
functions:
  main:
    body:
      - call: work
      - call: broken
  work: {native: true}
  broken: {native: true, fail: true}
`

func writeProgram(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(sampleProgram), 0o644))
	return path
}

func TestThreadName(t *testing.T) {
	tests := map[string]string{
		"demo.yaml":           "demo",
		"/tmp/x/pipeline.yml": "pipeline",
		"flow.json":           "flow",
		"plain":               "plain",
	}
	for path, want := range tests {
		assert.Equal(t, want, threadName(path), path)
	}
}

func TestExecute_FailureIsATrace(t *testing.T) {
	m := threads.NewManager()
	defer m.Close()

	th, err := execute(context.Background(), m, writeProgram(t, "demo.yaml"), logging.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "demo", th.Name())

	work, _ := domain.ParseCallStack("call:main/stmt:0/call:work")
	broken, _ := domain.ParseCallStack("call:main/stmt:1/call:broken")
	main, _ := domain.ParseCallStack("call:main")
	assert.Equal(t, domain.Successful, th.RunState(work))
	assert.Equal(t, domain.Failed, th.RunState(broken))
	assert.Equal(t, domain.Failed, th.RunState(main))

	_, err = execute(context.Background(), m, writeProgram(t, "demo.yaml"), logging.NewNop())
	assert.ErrorIs(t, err, domain.ErrThreadExists)
}

func TestExecute_InvalidProgram(t *testing.T) {
	m := threads.NewManager()
	defer m.Close()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("main: nowhere\n"), 0o644))

	_, err := execute(context.Background(), m, path, logging.NewNop())
	assert.Error(t, err)
	assert.Empty(t, m.List())
}

func TestCommands(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	defer rootCmd.SetOut(nil)

	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "calltrace version "+strings.TrimSpace(calltrace.Version)+"\n", out.String())

	out.Reset()
	rootCmd.SetArgs([]string{"run", "--no-banner", "--quiet", "--log-level", "error", writeProgram(t, "demo.yaml")})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "call:main failed")
	assert.Contains(t, out.String(), "  stmt:0/call:work successful")
	assert.Contains(t, out.String(), "  stmt:1/call:broken failed")
}
