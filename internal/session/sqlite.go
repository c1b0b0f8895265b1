package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// schema always holds the full current schema.
const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
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
    status INTEGER NOT NULL DEFAULT 200,
    error TEXT,
    duration_ms INTEGER,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created_at ON exchanges(created_at DESC);

CREATE VIRTUAL TABLE IF NOT EXISTS exchanges_fts USING fts5(
    prompt,
    response,
    content='exchanges',
    content_rowid='seq'
);

CREATE TRIGGER IF NOT EXISTS exchanges_ai AFTER INSERT ON exchanges BEGIN
    INSERT INTO exchanges_fts(rowid, prompt, response) VALUES (new.seq, new.prompt, new.response);
END;

CREATE TRIGGER IF NOT EXISTS exchanges_ad AFTER DELETE ON exchanges BEGIN
    INSERT INTO exchanges_fts(exchanges_fts, rowid, prompt, response) VALUES ('delete', old.seq, old.prompt, old.response);
END;
`

// NewSQLiteStore opens (creating if needed) the exchange database.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	dbPath, err := GetDBPath(cfg)
	if err != nil {
		return nil, fmt.Errorf("get db path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	store := &SQLiteStore{db: db, cfg: cfg}
	if err := store.cleanup(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: exchange cleanup failed: %v\n", err)
	}
	return store, nil
}

// schemaVersion is the current schema version. Fresh databases start here;
// older ones run the migrations above their recorded version.
const schemaVersion = 1

type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations upgrade databases created before a schema change. The schema
// const must already contain the result of every migration.
var migrations = []migration{
	{
		version:     1,
		description: "add status and error columns",
		up: func(db *sql.DB) error {
			for _, stmt := range []string{
				"ALTER TABLE exchanges ADD COLUMN status INTEGER NOT NULL DEFAULT 200",
				"ALTER TABLE exchanges ADD COLUMN error TEXT",
			} {
				if _, err := db.Exec(stmt); err != nil && !isDuplicateColumnError(err) {
					return err
				}
			}
			return nil
		},
	},
}

// initSchema is a single SELECT when the schema is already current.
func initSchema(db *sql.DB) error {
	var currentVersion int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&currentVersion)
	if err == nil && currentVersion >= schemaVersion {
		return nil
	}
	return initSchemaFull(db, err, currentVersion)
}

func initSchemaFull(db *sql.DB, versionErr error, currentVersion int) error {
	// Probe before creating the base schema so a pre-versioning database is
	// told apart from a fresh one.
	var tableCount int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='exchanges'`).Scan(&tableCount); err != nil {
		return fmt.Errorf("check exchanges table: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create base schema: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	if versionErr != nil && (versionErr == sql.ErrNoRows || strings.Contains(versionErr.Error(), "no such table")) {
		if tableCount > 0 {
			currentVersion = 0
		} else {
			currentVersion = schemaVersion
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentVersion); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	} else if versionErr != nil {
		return fmt.Errorf("get current version: %w", versionErr)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update version to %d: %w", m.version, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}

// cleanup enforces MaxAgeDays and MaxCount.
func (s *SQLiteStore) cleanup(ctx context.Context) error {
	if s.cfg.MaxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.MaxAgeDays)
		if _, err := s.db.ExecContext(ctx, "DELETE FROM exchanges WHERE created_at < ?", cutoff); err != nil {
			return fmt.Errorf("delete old exchanges: %w", err)
		}
	}
	if s.cfg.MaxCount > 0 {
		_, err := s.db.ExecContext(ctx, `
			DELETE FROM exchanges WHERE seq IN (
				SELECT seq FROM exchanges
				ORDER BY created_at DESC, seq DESC
				LIMIT -1 OFFSET ?
			)`, s.cfg.MaxCount)
		if err != nil {
			return fmt.Errorf("enforce max count: %w", err)
		}
	}
	return nil
}

// Record inserts ex, assigning an ID and timestamp when missing.
func (s *SQLiteStore) Record(ctx context.Context, ex *Exchange) error {
	if ex.ID == "" {
		ex.ID = NewID()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}
	if ex.Status == 0 {
		ex.Status = 200
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO exchanges (id, request_id, provider, model, prompt, response, segments,
			finish_reason, input_tokens, output_tokens, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, nullString(ex.RequestID), ex.Provider, ex.Model, ex.Prompt, ex.Response, ex.Segments,
		nullString(ex.FinishReason), ex.InputTokens, ex.OutputTokens, ex.Status, nullString(ex.Error),
		ex.Duration.Milliseconds(), ex.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert exchange: %w", err)
	}
	return nil
}

const exchangeColumns = `e.id, e.request_id, e.provider, e.model, e.prompt, e.response, e.segments,
	e.finish_reason, e.input_tokens, e.output_tokens, e.status, e.error, e.duration_ms, e.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExchange(row rowScanner, extra ...any) (Exchange, error) {
	var ex Exchange
	var requestID, finish, errText sql.NullString
	var durationMs sql.NullInt64
	dest := []any{&ex.ID, &requestID, &ex.Provider, &ex.Model, &ex.Prompt, &ex.Response, &ex.Segments,
		&finish, &ex.InputTokens, &ex.OutputTokens, &ex.Status, &errText, &durationMs, &ex.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Exchange{}, err
	}
	ex.RequestID = requestID.String
	ex.FinishReason = finish.String
	ex.Error = errText.String
	ex.Duration = time.Duration(durationMs.Int64) * time.Millisecond
	return ex, nil
}

// List returns up to limit exchanges, newest first. A zero limit means 50.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges e
		ORDER BY e.created_at DESC, e.seq DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query exchanges: %w", err)
	}
	defer rows.Close()

	var results []Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		results = append(results, ex)
	}
	return results, rows.Err()
}

// Get finds an exchange by full ID or by a prefix matching exactly one ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Exchange, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exchangeColumns+`
		FROM exchanges e
		WHERE e.id = ? OR e.id LIKE ? ESCAPE '\'
		ORDER BY (e.id = ?) DESC
		LIMIT 2`, id, escapeLike(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("query exchange: %w", err)
	}
	defer rows.Close()

	var found []Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan exchange: %w", err)
		}
		found = append(found, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, nil
	case found[0].ID == id || len(found) == 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("exchange prefix %q is ambiguous", id)
	}
}

// Search matches query against prompts and responses using FTS5.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+exchangeColumns+`, snippet(exchanges_fts, -1, '**', '**', '...', 24)
		FROM exchanges_fts f
		JOIN exchanges e ON e.seq = f.rowid
		WHERE exchanges_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search exchanges: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var snippet string
		ex, err := scanExchange(rows, &snippet)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, SearchResult{Exchange: ex, Snippet: snippet})
	}
	return results, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
