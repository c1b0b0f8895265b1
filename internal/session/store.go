// Package session records completed chat exchanges so they can be listed and
// inspected from the CLI.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Exchange is one finished (or failed) chat turn.
type Exchange struct {
	ID           string
	RequestID    string
	Provider     string
	Model        string
	Prompt       string // last user message, directive headers removed
	Response     string // bytes streamed to the client
	Segments     int
	FinishReason string
	InputTokens  int
	OutputTokens int
	Status       int // HTTP status sent, or 200 when the failure happened mid-stream
	Error        string
	Duration     time.Duration
	CreatedAt    time.Time
}

// Failed reports whether the exchange ended with an error.
func (e *Exchange) Failed() bool {
	return e.Error != ""
}

// SearchResult is an exchange matched by Search.
type SearchResult struct {
	Exchange
	Snippet string
}

// Store persists exchanges.
type Store interface {
	Record(ctx context.Context, ex *Exchange) error
	// List returns the newest exchanges first.
	List(ctx context.Context, limit int) ([]Exchange, error)
	// Get looks an exchange up by ID or unique ID prefix. Missing is (nil, nil).
	Get(ctx context.Context, id string) (*Exchange, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Close() error
}

// Config controls the exchange store.
type Config struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path,omitempty"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxCount   int    `mapstructure:"max_count" yaml:"max_count"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		MaxAgeDays: 30,
		MaxCount:   5000,
	}
}

// GetDBPath returns the database location for cfg. Without an explicit path
// the database lives under $XDG_DATA_HOME/llm-relay.
func GetDBPath(cfg Config) (string, error) {
	if cfg.Path != "" {
		return cfg.Path, nil
	}
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home dir: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "llm-relay", "exchanges.db"), nil
}

// Open returns the SQLite store when cfg is enabled and a NoopStore otherwise.
func Open(cfg Config) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg)
}

// NoopStore discards writes and returns empty results; used when recording is disabled.
type NoopStore struct{}

func (s *NoopStore) Record(ctx context.Context, ex *Exchange) error {
	if ex.ID == "" {
		ex.ID = NewID()
	}
	return nil
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]Exchange, error) {
	return nil, nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Exchange, error) {
	return nil, nil
}

func (s *NoopStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (s *NoopStore) Close() error {
	return nil
}
