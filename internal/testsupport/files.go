package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Touch writes content to path, creating parent directories, and sets the
// modification time when mod is non-zero.
func Touch(t testing.TB, path, content string, mod time.Time) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if mod.IsZero() {
		return
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}
