package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfirmInput(t *testing.T, text string) {
	t.Helper()
	old := confirmInput
	confirmInput = strings.NewReader(text)
	t.Cleanup(func() { confirmInput = old })
}

func seedPurge(t *testing.T, h *testHome) {
	t.Helper()
	_, err := h.run(t, "add", "--url", "https://example.com/")
	require.NoError(t, err)
}

func TestPurge_RequiresAll(t *testing.T) {
	h := newTestHome(t)
	_, err := h.run(t, "purge")
	assert.ErrorContains(t, err, "--all")
}

func TestPurge_AbortsWithoutConfirmation(t *testing.T) {
	h := newTestHome(t)
	seedPurge(t, h)

	withConfirmInput(t, "nope\n")
	out, err := h.run(t, "purge", "--all")
	assert.ErrorContains(t, err, "did not match")
	assert.Contains(t, out, `Type "PURGE" to confirm`)

	withConfirmInput(t, "")
	_, err = h.run(t, "purge", "--all")
	assert.ErrorContains(t, err, "no input")

	var st statusJSON
	h.runJSON(t, &st, "status")
	assert.Equal(t, int64(1), st.TotalURLs)
}

func TestPurge_Confirmed(t *testing.T) {
	h := newTestHome(t)
	seedPurge(t, h)

	withConfirmInput(t, "PURGE\n")
	out, err := h.run(t, "purge", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "Purged all history.")

	var st statusJSON
	h.runJSON(t, &st, "status")
	assert.Zero(t, st.TotalURLs)
	assert.Zero(t, st.TotalVisits)
}

func TestPurge_ForceJSON(t *testing.T) {
	h := newTestHome(t)
	seedPurge(t, h)

	var got map[string]any
	h.runJSON(t, &got, "purge", "--all", "--force")
	assert.Equal(t, true, got["purged"])
}
