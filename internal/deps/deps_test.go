package deps

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	script := []byte("#!/bin/sh\nexit 0\n")
	if err := os.WriteFile(present, script, 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Blank"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for blank command: %q", results[2].Detail)
	}
}

func TestProgramName(t *testing.T) {
	cases := []struct {
		command string
		want    string
	}{
		{"samtools sort -o $output $input", "samtools"},
		{"  LC_ALL=C sort $input > $output", "sort"},
		{"$TOOL run", ""},
		{"(cd $dir && make)", ""},
		{"", ""},
		{"/usr/bin/env python3 x.py", "/usr/bin/env"},
	}
	for _, tc := range cases {
		if got := ProgramName(tc.command); got != tc.want {
			t.Errorf("ProgramName(%q) = %q, want %q", tc.command, got, tc.want)
		}
	}
}

func TestCommandRequirementsDeduplicates(t *testing.T) {
	reqs := CommandRequirements("sh", []string{"sort a", "sort b", "gzip c", "$x"})
	if len(reqs) != 3 {
		t.Fatalf("expected shell plus two programs, got %#v", reqs)
	}
	if reqs[0].Command != "sh" || reqs[0].Optional {
		t.Fatalf("shell must be a required first entry, got %#v", reqs[0])
	}
	if !reqs[1].Optional || reqs[1].Command != "sort" || reqs[2].Command != "gzip" {
		t.Fatalf("unexpected program requirements %#v", reqs[1:])
	}
}
