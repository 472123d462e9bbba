package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// captureOutput captures stdout during fn execution and returns it as a string.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old

	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}

// testHome points a CLI run at a config and database under a temp dir.
type testHome struct {
	config string
	db     string
}

func newTestHome(t *testing.T) *testHome {
	t.Helper()
	dir := t.TempDir()
	return &testHome{
		config: filepath.Join(dir, "config.yaml"),
		db:     filepath.Join(dir, "History"),
	}
}

// run executes the CLI with the home's global flags and returns stdout.
func (h *testHome) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", h.config, "--db", h.db}, args...)
	var err error
	out := captureOutput(t, func() { err = RunWithArgs("test", full) })
	return out, err
}

// runJSON executes the CLI with --json and decodes stdout into v.
func (h *testHome) runJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := h.run(t, append([]string{"--json"}, args...)...)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}
