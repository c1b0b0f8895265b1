package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, cfg Config) *SQLiteStore {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "exchanges.db")
	}
	store, err := NewSQLiteStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteRecordAndList(t *testing.T) {
	store := newTestStore(t, Config{Enabled: true})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	first := &Exchange{
		Provider: "Anthropic", Model: "claude-3-5-sonnet-20241022",
		Prompt: "write a haiku", Response: "falling leaves...",
		Segments: 1, FinishReason: "stop", InputTokens: 20, OutputTokens: 12,
		Duration: 1500 * time.Millisecond, CreatedAt: base,
	}
	second := &Exchange{
		Provider: "OpenAI", Model: "gpt-4o", Prompt: "long essay", Response: "part one part two",
		Segments: 2, FinishReason: "length", Error: "Cannot continue message: Maximum segments (2) reached",
		RequestID: "req-1", CreatedAt: base.Add(time.Minute),
	}
	require.NoError(t, store.Record(ctx, first))
	require.NoError(t, store.Record(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 200, first.Status)

	list, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")
	assert.True(t, list[0].Failed())
	assert.Equal(t, "req-1", list[0].RequestID)
	assert.Equal(t, 2, list[0].Segments)

	got := list[1]
	assert.Equal(t, "write a haiku", got.Prompt)
	assert.Equal(t, 1500*time.Millisecond, got.Duration)
	assert.Equal(t, 12, got.OutputTokens)
	assert.True(t, base.Equal(got.CreatedAt))
	assert.False(t, got.Failed())

	limited, err := store.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteGetByPrefix(t *testing.T) {
	store := newTestStore(t, Config{Enabled: true})
	ctx := context.Background()

	a := &Exchange{ID: "20260301-120000-aaaaaa", Provider: "Groq", Model: "m", Prompt: "p", Response: "r"}
	b := &Exchange{ID: "20260301-120000-aabbbb", Provider: "Groq", Model: "m", Prompt: "p", Response: "r"}
	require.NoError(t, store.Record(ctx, a))
	require.NoError(t, store.Record(ctx, b))

	got, err := store.Get(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	got, err = store.Get(ctx, "20260301-120000-aab")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, b.ID, got.ID)

	_, err = store.Get(ctx, "20260301-120000-aa")
	assert.ErrorContains(t, err, "ambiguous")

	got, err = store.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteSearch(t *testing.T) {
	store := newTestStore(t, Config{Enabled: true})
	ctx := context.Background()

	require.NoError(t, store.Record(ctx, &Exchange{Provider: "Anthropic", Model: "m", Prompt: "explain goroutines", Response: "they are lightweight threads"}))
	require.NoError(t, store.Record(ctx, &Exchange{Provider: "Anthropic", Model: "m", Prompt: "bake bread", Response: "flour and water"}))

	results, err := store.Search(ctx, "goroutines", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "explain goroutines", results[0].Prompt)
	assert.Contains(t, results[0].Snippet, "**goroutines**")
}

func TestSQLiteCleanupMaxCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exchanges.db")
	store := newTestStore(t, Config{Enabled: true, Path: path})
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, &Exchange{
			Provider: "Groq", Model: "m", Prompt: "p", Response: "r",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Close())

	reopened := newTestStore(t, Config{Enabled: true, Path: path, MaxCount: 2})
	list, err := reopened.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSQLiteMigratesUnversionedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE exchanges (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		request_id TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		segments INTEGER NOT NULL DEFAULT 0,
		finish_reason TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	store := newTestStore(t, Config{Enabled: true, Path: path})
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, &Exchange{Provider: "Groq", Model: "m", Prompt: "p", Response: "r", Status: 500, Error: "boom"}))

	var version int
	require.NoError(t, store.db.QueryRow("SELECT version FROM schema_version").Scan(&version))
	assert.Equal(t, schemaVersion, version)

	list, err := store.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 500, list[0].Status)
	assert.Equal(t, "boom", list[0].Error)
}

func TestOpenDisabledReturnsNoop(t *testing.T) {
	store, err := Open(Config{})
	require.NoError(t, err)
	_, ok := store.(*NoopStore)
	assert.True(t, ok)

	ex := &Exchange{}
	require.NoError(t, store.Record(context.Background(), ex))
	assert.NotEmpty(t, ex.ID)
	list, err := store.List(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetDBPathDefaultsUnderDataHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dir)
	path, err := GetDBPath(DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "llm-relay", "exchanges.db"), path)
}
