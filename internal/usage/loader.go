package usage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LoadResult holds the entries read from a usage directory.
type LoadResult struct {
	Entries            []LogEntry
	Errors             []error
	MissingDirectories []string
}

// Load reads the daily files of dir between since and until (inclusive dates).
// A zero since loads every file.
func Load(dir string, since, until time.Time) LoadResult {
	var result LoadResult

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		result.MissingDirectories = append(result.MissingDirectories, dir)
		return result
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		result.Errors = append(result.Errors, err)
		return result
	}

	for _, file := range files {
		name := file.Name()
		if file.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if !since.IsZero() {
			day, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(name, ".jsonl"), since.Location())
			if err != nil || day.Before(truncateDay(since)) || day.After(truncateDay(until)) {
				continue
			}
		}
		entries, errs := loadFile(filepath.Join(dir, name))
		result.Entries = append(result.Entries, entries...)
		result.Errors = append(result.Errors, errs...)
	}

	sort.SliceStable(result.Entries, func(i, j int) bool {
		return result.Entries[i].Timestamp.Before(result.Entries[j].Timestamp)
	})
	return result
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func loadFile(path string) ([]LogEntry, []error) {
	var entries []LogEntry
	var errs []error

	file, err := os.Open(path)
	if err != nil {
		return nil, []error{err}
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue // skip invalid lines
		}
		if entry.InputTokens == 0 && entry.OutputTokens == 0 {
			continue
		}
		entries = append(entries, entry)
	}

	if err := scanner.Err(); err != nil {
		errs = append(errs, err)
	}

	return entries, errs
}

// Summary aggregates token counts for one provider/model pair.
type Summary struct {
	Provider     string `json:"provider" yaml:"provider"`
	Model        string `json:"model" yaml:"model"`
	Requests     int    `json:"requests" yaml:"requests"`
	InputTokens  int    `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int    `json:"output_tokens" yaml:"output_tokens"`
	TotalTokens  int    `json:"total_tokens" yaml:"total_tokens"`
}

// Summarize groups entries by provider and model, sorted by total tokens descending.
func Summarize(entries []LogEntry) []Summary {
	byKey := map[string]*Summary{}
	var order []string
	for _, e := range entries {
		key := e.Provider + "\x00" + e.Model
		s, ok := byKey[key]
		if !ok {
			s = &Summary{Provider: e.Provider, Model: e.Model}
			byKey[key] = s
			order = append(order, key)
		}
		s.Requests++
		s.InputTokens += e.InputTokens
		s.OutputTokens += e.OutputTokens
		total := e.TotalTokens
		if total == 0 {
			total = e.InputTokens + e.OutputTokens
		}
		s.TotalTokens += total
	}
	out := make([]Summary, 0, len(order))
	for _, k := range order {
		out = append(out, *byKey[k])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalTokens > out[j].TotalTokens })
	return out
}
