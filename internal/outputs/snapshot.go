package outputs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// CommandLogFile is the per-directory command log written by command bodies.
const CommandLogFile = "commandlog.txt"

// File is a directory entry with its last modification time.
type File struct {
	Path    string
	ModTime time.Time
}

// Snapshot maps output-directory-relative file names to modification times.
// It belongs to exactly one stage execution.
type Snapshot struct {
	Dir   string
	Files map[string]time.Time
	// Ignored lists bookkeeping files present at capture time.
	Ignored []string
}

// Has reports whether name was present when the snapshot was taken.
func (s Snapshot) Has(name string) bool {
	_, ok := s.Files[name]
	return ok
}

// Existing returns the full paths of every file present at capture time,
// bookkeeping files included.
func (s Snapshot) Existing() []string {
	out := s.Paths()
	for _, name := range s.Ignored {
		out = append(out, filepath.Join(s.Dir, name))
	}
	return out
}

// Paths returns the full paths of every captured file.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s.Files))
	for name := range s.Files {
		out = append(out, filepath.Join(s.Dir, name))
	}
	return out
}

// IgnoreSet holds names and glob patterns of bookkeeping files that are never
// candidate outputs.
type IgnoreSet struct {
	names    map[string]struct{}
	patterns []string
}

// NewIgnoreSet returns the default ignore set (command log, *.log) extended
// with extra names or glob patterns.
func NewIgnoreSet(extra ...string) IgnoreSet {
	set := IgnoreSet{names: map[string]struct{}{CommandLogFile: {}}, patterns: []string{"*.log"}}
	for _, entry := range extra {
		if entry == "" {
			continue
		}
		if hasMeta(entry) {
			set.patterns = append(set.patterns, entry)
			continue
		}
		set.names[entry] = struct{}{}
	}
	return set
}

// Matches reports whether name (a bare file name) is ignored.
func (s IgnoreSet) Matches(name string) bool {
	if _, ok := s.names[name]; ok {
		return true
	}
	for _, pattern := range s.patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func hasMeta(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

// Snapshotter captures directory state before a stage body runs.
type Snapshotter struct {
	Ignore IgnoreSet
}

// NewSnapshotter builds a Snapshotter with the default ignore set plus extra.
func NewSnapshotter(extra ...string) *Snapshotter {
	return &Snapshotter{Ignore: NewIgnoreSet(extra...)}
}

// Take lists every non-directory, non-ignored entry of dir. A missing
// directory yields an empty snapshot.
func (s *Snapshotter) Take(dir string) (Snapshot, error) {
	files, ignored, err := list(dir, s.Ignore)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Dir: dir, Files: make(map[string]time.Time, len(files)), Ignored: ignored}
	for _, f := range files {
		snap.Files[filepath.Base(f.Path)] = f.ModTime
	}
	return snap, nil
}

// list returns candidate files in directory order (sorted by name) and the
// names of ignored files.
func list(dir string, ignore IgnoreSet) ([]File, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("list output dir %s: %w", dir, err)
	}
	files := make([]File, 0, len(entries))
	var ignored []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ignore.Matches(entry.Name()) {
			ignored = append(ignored, entry.Name())
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, File{Path: filepath.Join(dir, entry.Name()), ModTime: info.ModTime()})
	}
	return files, ignored, nil
}
