package logs

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"stagehand/internal/logging"
)

// RunPath returns the per-run log file for runID under logDir.
func RunPath(logDir, runID string) string {
	return filepath.Join(logDir, "runs", runID+".log")
}

// Entry is one decoded log line.
type Entry struct {
	Time      time.Time
	Level     string
	Message   string
	Component string
	Stage     string
	Branch    string
	EventType string
	Error     string
	// Fields holds every remaining attribute.
	Fields map[string]any
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	Stage    string
	MinLevel string
	// Limit keeps only the last N matching entries when positive.
	Limit int
}

// Read decodes the log at path. A missing file yields no entries. Lines that
// are not JSON objects are skipped.
func Read(path string, filter Filter) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("log path %q is a directory", path)
	}

	var minLevel slog.Level
	if filter.MinLevel != "" {
		minLevel = logging.ParseLevel(filter.MinLevel)
	} else {
		minLevel = slog.LevelDebug
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	limit := filter.Limit
	var ring []Entry
	idx := 0
	for scanner.Scan() {
		entry, ok := decode(scanner.Bytes())
		if !ok || !filter.matches(entry, minLevel) {
			continue
		}
		if limit <= 0 || len(ring) < limit {
			ring = append(ring, entry)
			continue
		}
		ring[idx] = entry
		idx = (idx + 1) % limit
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}

	if idx == 0 {
		return ring, nil
	}
	entries := make([]Entry, 0, len(ring))
	entries = append(entries, ring[idx:]...)
	entries = append(entries, ring[:idx]...)
	return entries, nil
}

func (f Filter) matches(entry Entry, minLevel slog.Level) bool {
	if f.Stage != "" && entry.Stage != f.Stage {
		return false
	}
	return logging.ParseLevel(entry.Level) >= minLevel
}

func decode(line []byte) (Entry, bool) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return Entry{}, false
	}
	entry := Entry{
		Level:     take(raw, "level"),
		Message:   take(raw, "msg"),
		Component: take(raw, logging.FieldComponent),
		Stage:     take(raw, logging.FieldStage),
		Branch:    take(raw, logging.FieldBranch),
		EventType: take(raw, logging.FieldEventType),
		Error:     take(raw, "error"),
	}
	if ts := take(raw, "ts"); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			entry.Time = parsed
		}
	}
	delete(raw, logging.FieldRunID)
	if len(raw) > 0 {
		entry.Fields = raw
	}
	return entry, true
}

// take removes key from raw and returns its string form.
func take(raw map[string]any, key string) string {
	value, ok := raw[key]
	if !ok {
		return ""
	}
	delete(raw, key)
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
