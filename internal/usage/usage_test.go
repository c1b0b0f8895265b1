package usage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator(t *testing.T) {
	var acc Accumulator
	acc.Update(Tokens{PromptTokens: 10, CompletionTokens: 5})
	acc.Update(Tokens{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 4})
	assert.Equal(t, Tokens{PromptTokens: 11, CompletionTokens: 7, TotalTokens: 19}, acc.Snapshot())

	acc.Reset()
	assert.Equal(t, Tokens{}, acc.Snapshot())
}

func TestAccumulatorConcurrent(t *testing.T) {
	var acc Accumulator
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Update(Tokens{PromptTokens: 1, CompletionTokens: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, acc.Snapshot().TotalTokens)
}

func TestLoggerWritesDailyFiles(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(dir)

	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.Local)
	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, l.Log(LogEntry{Timestamp: day1, Provider: "Anthropic", Model: "claude", InputTokens: 10, OutputTokens: 20, Segments: 2}))
	require.NoError(t, l.Log(LogEntry{Timestamp: day1.Add(time.Hour), Provider: "Anthropic", Model: "claude", InputTokens: 1, OutputTokens: 1}))
	require.NoError(t, l.Log(LogEntry{Timestamp: day2, Provider: "OpenAI", Model: "gpt-4o", InputTokens: 5, OutputTokens: 5, TotalTokens: 10}))

	_, err := os.Stat(filepath.Join(dir, "2026-03-01.jsonl"))
	require.NoError(t, err)

	all := Load(dir, time.Time{}, time.Time{})
	require.Empty(t, all.Errors)
	require.Len(t, all.Entries, 3)
	assert.Equal(t, 2, all.Entries[0].Segments)

	onlyDay2 := Load(dir, day2, day2)
	require.Len(t, onlyDay2.Entries, 1)
	assert.Equal(t, "OpenAI", onlyDay2.Entries[0].Provider)

	sums := Summarize(all.Entries)
	require.Len(t, sums, 2)
	assert.Equal(t, Summary{Provider: "Anthropic", Model: "claude", Requests: 2, InputTokens: 11, OutputTokens: 21, TotalTokens: 32}, sums[0])
	assert.Equal(t, 10, sums[1].TotalTokens)
}

func TestLoadMissingDir(t *testing.T) {
	res := Load(filepath.Join(t.TempDir(), "nope"), time.Time{}, time.Time{})
	assert.Len(t, res.MissingDirectories, 1)
	assert.Empty(t, res.Entries)
}

func TestDefaultDirHonoursXDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "llm-relay", "usage"), DefaultDir())
}
