package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemPromptMentionsWorkDir(t *testing.T) {
	assert.Contains(t, SystemPrompt(""), WorkDir)
	assert.Contains(t, SystemPrompt("/srv/app"), "/srv/app")
}

func TestContinuePrompt(t *testing.T) {
	assert.Contains(t, ContinuePrompt, "Continue your prior response")
	assert.Contains(t, ContinuePrompt, "Do not repeat any content")
}

func TestResolve(t *testing.T) {
	got, err := Resolve("custom", "")
	require.NoError(t, err)
	assert.Equal(t, "custom", got)

	path := filepath.Join(t.TempDir(), "system.txt")
	require.NoError(t, os.WriteFile(path, []byte("  from file \n"), 0o644))
	got, err = Resolve("", path)
	require.NoError(t, err)
	assert.Equal(t, "from file", got)

	got, err = Resolve("", "")
	require.NoError(t, err)
	assert.Equal(t, SystemPrompt(WorkDir), got)

	_, err = Resolve("", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
