package tracker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"

	"stagehand/internal/logging"
)

const (
	lockFileName = ".outputs.lock"
	recordKeyLen = 10
)

// Tracker writes output records beneath a metadata directory.
type Tracker struct {
	dir    string
	logger *slog.Logger
}

// New returns a Tracker rooted at dir.
func New(dir string, logger *slog.Logger) *Tracker {
	return &Tracker{dir: dir, logger: logging.NewComponentLogger(logger, "tracker")}
}

// Dir returns the metadata directory.
func (t *Tracker) Dir() string { return t.dir }

// RecordPath is the record file for output produced by stageName. Outputs
// sharing a base name in different directories get distinct records.
func (t *Tracker) RecordPath(stageName, output string) string {
	name := filepath.Base(output) + "." + pathKey(output)
	if stageName != "" {
		name = stageName + "." + name
	}
	return filepath.Join(t.dir, name+".toml")
}

// pathKey is a short digest of the absolute output path.
func pathKey(output string) string {
	path := filepath.Clean(output)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])[:recordKeyLen]
}

// Track writes one record per non-empty output of every tracked command and
// returns the written record paths.
func (t *Tracker) Track(ctx context.Context, stageName string, tracked map[string][]string) ([]string, error) {
	if t == nil || len(tracked) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return nil, fmt.Errorf("tracker: ensure metadata dir: %w", err)
	}

	lock := flock.New(filepath.Join(t.dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("tracker: lock metadata dir: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	commands := make([]string, 0, len(tracked))
	for command := range tracked {
		commands = append(commands, command)
	}
	sort.Strings(commands)

	var written []string
	for _, command := range commands {
		for _, output := range tracked[command] {
			if strings.TrimSpace(output) == "" {
				continue
			}
			path := t.RecordPath(stageName, output)
			if err := writeRecord(path, NewRecord(command, output)); err != nil {
				return written, err
			}
			written = append(written, path)
			logging.WithContext(ctx, t.logger).Debug("stored output record",
				logging.String("output", output),
				logging.String("record", path),
			)
		}
	}
	return written, nil
}

// UpToDate reports whether output has a record matching command and the
// output file still exists. Callers decide what to do with the answer.
func (t *Tracker) UpToDate(stageName, command, output string) (bool, error) {
	rec, err := Load(t.RecordPath(stageName, output))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if rec.Fingerprint != Fingerprint(command, output) {
		return false, nil
	}
	if _, err := os.Stat(output); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("tracker: stat output: %w", err)
	}
	return true, nil
}

func writeRecord(target string, rec Record) error {
	payload, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tracker: encode record: %w", err)
	}
	dir := filepath.Dir(target)
	tmp := filepath.Join(dir, fmt.Sprintf(".record-%d.tmp", time.Now().UnixNano()))
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("tracker: write record temp: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tracker: rename record: %w", err)
	}
	return nil
}

// NeedsRun is the inverse of UpToDate.
func (t *Tracker) NeedsRun(stageName, command, output string) (bool, error) {
	ok, err := t.UpToDate(stageName, command, output)
	if err != nil {
		return true, err
	}
	return !ok, nil
}
