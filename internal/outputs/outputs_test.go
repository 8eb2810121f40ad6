package outputs

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeAt(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestTakeSkipsDirectoriesAndIgnoredNames(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeAt(t, filepath.Join(dir, "a.bam"), base)
	writeAt(t, filepath.Join(dir, CommandLogFile), base)
	writeAt(t, filepath.Join(dir, "run.log"), base)
	writeAt(t, filepath.Join(dir, "scratch.tmp"), base)
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	snap, err := NewSnapshotter("*.tmp").Take(dir)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(snap.Files) != 1 || !snap.Has("a.bam") {
		t.Fatalf("unexpected snapshot: %v", snap.Files)
	}
	if len(snap.Ignored) != 3 {
		t.Fatalf("expected three ignored files, got %v", snap.Ignored)
	}
	if got := len(snap.Existing()); got != 4 {
		t.Fatalf("expected four existing files, got %d", got)
	}
}

func TestTakeMissingDirectory(t *testing.T) {
	snap, err := NewSnapshotter().Take(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if len(snap.Files) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Files)
	}
}

func TestChangedPrefersCreatedFiles(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeAt(t, filepath.Join(dir, "old.txt"), base)

	s := NewSnapshotter()
	snap, err := s.Take(dir)
	if err != nil {
		t.Fatal(err)
	}

	writeAt(t, filepath.Join(dir, "old.txt"), base.Add(time.Minute))
	writeAt(t, filepath.Join(dir, "new.txt"), base.Add(time.Minute))
	writeAt(t, filepath.Join(dir, "tmp.log"), base.Add(time.Minute))

	diff, err := s.Changed(snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(diff.Created) != 1 || diff.Created[0].Path != filepath.Join(dir, "new.txt") {
		t.Fatalf("unexpected created set: %v", diff.Created)
	}
	if len(diff.Modified) != 0 {
		t.Fatalf("modified should not be computed when files were created: %v", diff.Modified)
	}
}

func TestChangedFallsBackToModified(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeAt(t, filepath.Join(dir, "a.txt"), base)
	writeAt(t, filepath.Join(dir, "b.txt"), base)

	s := NewSnapshotter()
	snap, err := s.Take(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeAt(t, filepath.Join(dir, "b.txt"), base.Add(time.Minute))

	diff, err := s.Changed(snap)
	if err != nil {
		t.Fatal(err)
	}
	got := diff.Candidates()
	if len(got) != 1 || got[0].Path != filepath.Join(dir, "b.txt") {
		t.Fatalf("unexpected candidates: %v", got)
	}
}

func TestForwardPrecedence(t *testing.T) {
	now := time.Now()
	older := File{Path: "/out/a.sam", ModTime: now.Add(-time.Minute)}
	newer := File{Path: "/out/a.bam", ModTime: now}
	index := File{Path: "/out/a.bam.bai", ModTime: now.Add(time.Minute)}

	tests := []struct {
		name string
		in   ForwardInput
		want []string
	}{
		{
			name: "explicit output wins over created files",
			in:   ForwardInput{Explicit: []string{"/out/result.vcf"}, Candidates: []File{newer}, Inputs: []string{"a.txt"}},
			want: []string{"/out/result.vcf"},
		},
		{
			name: "already forwarded inputs are kept",
			in:   ForwardInput{Next: []string{"/out/x"}, Explicit: []string{"/out/result.vcf"}},
			want: []string{"/out/x"},
		},
		{
			name: "most recently modified unmasked candidate",
			in:   ForwardInput{Candidates: []File{older, newer, index}, Mask: []string{".bai"}},
			want: []string{"/out/a.bam"},
		},
		{
			name: "default output preferred when present",
			in:   ForwardInput{Candidates: []File{older, newer}, DefaultOutput: "/out/a.sam"},
			want: []string{"/out/a.sam"},
		},
		{
			name: "fully masked candidates pass inputs through",
			in:   ForwardInput{Candidates: []File{index}, Mask: []string{".bai"}, Inputs: []string{"a.txt", "b.txt"}},
			want: []string{"a.txt", "b.txt"},
		},
		{
			name: "no candidates pass inputs through",
			in:   ForwardInput{Inputs: []string{"a.txt"}},
			want: []string{"a.txt"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Forward(tc.in); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Forward() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewestKeepsListingOrderOnTies(t *testing.T) {
	now := time.Now()
	files := []File{{Path: "first", ModTime: now}, {Path: "second", ModTime: now}}
	if got := Newest(files).Path; got != "first" {
		t.Fatalf("expected first entry on tie, got %q", got)
	}
}

func TestStripExtension(t *testing.T) {
	tests := map[string]string{
		"a.bam":           "a",
		"/x/y/a.sort.bam": "/x/y/a.sort",
		"noext":           "noext",
		".hidden":         ".hidden",
		"dir.v1/file":     "dir.v1/file",
	}
	for in, want := range tests {
		if got := StripExtension(in); got != want {
			t.Fatalf("StripExtension(%q) = %q, want %q", in, got, want)
		}
	}
}
