package usecase

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPromptDefault(t *testing.T) {
	t.Parallel()

	got, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, got)
	assert.Contains(t, got, "life_stage")
	assert.Contains(t, got, "adult_behaviors")
	assert.Contains(t, got, "larva_stage")
}

func TestLoadPromptFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("custom prompt\n"), 0o600))

	got, err := LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "custom prompt\n", got)
}

func TestLoadPromptMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadPrompt(filepath.Join(t.TempDir(), "absent.txt"))
	require.Error(t, err)
}
