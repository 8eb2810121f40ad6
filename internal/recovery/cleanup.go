package recovery

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"stagehand/internal/logging"
)

// Result contains the outcome of a rollback.
type Result struct {
	Removed []string
	Kept    []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its removal error.
type CleanupError struct {
	Path  string
	Error error
}

// Cleanup deletes every candidate whose canonical path is not in keep.
// Candidates are the stage's declared outputs plus the files it created;
// keep is the set of files present before the stage ran.
func Cleanup(ctx context.Context, candidates, keep []string, logger *slog.Logger) Result {
	result := Result{}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.WithContext(ctx, logger)

	kept := make(map[string]struct{}, len(keep))
	for _, path := range keep {
		kept[Canonical(path)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(candidates))
	for _, path := range candidates {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		canonical := Canonical(path)
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		if _, ok := kept[canonical]; ok {
			result.Kept = append(result.Kept, path)
			continue
		}

		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			result.Errors = append(result.Errors, CleanupError{Path: path, Error: err})
			logger.Warn("failed to remove partial output",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "rollback_failed"),
				logging.String(logging.FieldErrorHint, "check output_dir permissions"),
				logging.String(logging.FieldImpact, "partial output left on disk"),
			)
			continue
		}
		result.Removed = append(result.Removed, path)
		logger.Info("removed partial output",
			logging.String("path", path),
			logging.String(logging.FieldEventType, "rollback"),
		)
	}

	return result
}

// Canonical resolves path to an absolute, symlink-free form. When the file no
// longer exists the cleaned absolute path is returned.
func Canonical(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	dir, name := filepath.Split(abs)
	if resolvedDir, err := filepath.EvalSymlinks(dir); err == nil {
		return filepath.Join(resolvedDir, name)
	}
	return abs
}
