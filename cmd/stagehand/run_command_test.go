package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stagehand/internal/history"
	"stagehand/internal/testsupport"
	"stagehand/internal/tracker"
)

const sortHeadPipeline = `name = "demo"

[[stage]]
name = "sort"
command = "sort $input > $output"

[[stage]]
name = "head"
command = "head -n 1 $input > $output"
`

func TestRunCommandExecutesPipeline(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "b\na\nc\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, sortHeadPipeline)

	out, _, err := runCLI(t, []string{"run", "--pipeline", pipelinePath, input}, env.configPath)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	requireContains(t, out, "[OK] completed")

	final := filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.sort.head")
	requireContains(t, out, final)
	data, err := os.ReadFile(final)
	if err != nil {
		t.Fatalf("read final output: %v", err)
	}
	if strings.TrimSpace(string(data)) != "a" {
		t.Fatalf("final output = %q, want %q", data, "a")
	}

	store := testsupport.MustOpenHistory(t, env.cfg)
	runs, err := store.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Pipeline != "demo" || runs[0].Status != history.RunCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestRunCommandNamesPipelineAfterFile(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "x\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, "[[stage]]\ncommand = \"cp $input $output\"\n")

	if out, _, err := runCLI(t, []string{"run", "-f", pipelinePath, input}, env.configPath); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	store := testsupport.MustOpenHistory(t, env.cfg)
	runs, err := store.ListRuns(context.Background(), 1)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Pipeline != "pipeline" {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.1")); err != nil {
		t.Fatalf("expected counter-named output: %v", err)
	}
}

func TestRunCommandDryRunStopsWithoutError(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "b\na\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, sortHeadPipeline)

	out, _, err := runCLI(t, []string{"run", "--dry-run", "--pipeline", pipelinePath, input}, env.configPath)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	requireContains(t, out, "stopped")
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.sort")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not produce outputs, stat err = %v", err)
	}
}

func TestRunCommandReportsFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "b\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, "[[stage]]\nname = \"broken\"\ncommand = \"echo partial > $output; exit 3\"\n")

	out, _, err := runCLI(t, []string{"run", "--pipeline", pipelinePath, input}, env.configPath)
	if err == nil {
		t.Fatal("expected failing stage to fail the run")
	}
	requireContains(t, out, "[ERROR] failed")
	requireContains(t, err.Error(), "broken")
	if _, statErr := os.Stat(filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.broken")); !os.IsNotExist(statErr) {
		t.Fatalf("partial output should be rolled back, stat err = %v", statErr)
	}
}

func TestRunCommandRequiresInputs(t *testing.T) {
	env := setupCLITestEnv(t)
	pipelinePath := writePipeline(t, env.baseDir, sortHeadPipeline)
	if _, _, err := runCLI(t, []string{"run", "--pipeline", pipelinePath}, env.configPath); err == nil {
		t.Fatal("expected missing inputs to fail")
	}
}

func TestRunCommandPassesVariables(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "b\na\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, "[[stage]]\nname = \"tag\"\ncommand = \"echo $label > $output\"\n")

	if out, _, err := runCLI(t, []string{"run", "--pipeline", pipelinePath, "--var", "label=sample1", input}, env.configPath); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	data, err := os.ReadFile(filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.tag"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.TrimSpace(string(data)) != "sample1" {
		t.Fatalf("output = %q, want sample1", data)
	}
}

func TestParseVars(t *testing.T) {
	cases := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", in: nil},
		{name: "pairs", in: []string{"a=1", " b =x=y"}, want: map[string]string{"a": "1", "b": "x=y"}},
		{name: "missing separator", in: []string{"oops"}, wantErr: true},
		{name: "empty key", in: []string{"=v"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseVars(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseVars: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("%s = %v, want %s", k, got[k], v)
				}
			}
		})
	}
}

func TestOutputsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	input := filepath.Join(env.baseDir, "reads.txt")
	testsupport.Touch(t, input, "b\na\n", time.Time{})
	pipelinePath := writePipeline(t, env.baseDir, sortHeadPipeline)
	if out, _, err := runCLI(t, []string{"run", "--pipeline", pipelinePath, input}, env.configPath); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}

	out, _, err := runCLI(t, []string{"outputs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("outputs list: %v", err)
	}
	records := tracker.New(env.cfg.OutputsDir(), nil)
	sorted := filepath.Join(env.cfg.Paths.OutputDir, "reads.txt.sort")
	recordPath := records.RecordPath("sort", sorted)
	requireContains(t, out, filepath.Base(recordPath))
	requireContains(t, out, filepath.Base(records.RecordPath("head", sorted+".head")))

	out, _, err = runCLI(t, []string{"outputs", "show", recordPath}, "")
	if err != nil {
		t.Fatalf("outputs show: %v", err)
	}
	requireContains(t, out, "[OK]")
	requireContains(t, out, "present")

	rec, err := tracker.Load(recordPath)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	out, _, err = runCLI(t, []string{"outputs", "check", "sort", rec.Command, rec.OutputFile}, env.configPath)
	if err != nil {
		t.Fatalf("outputs check: %v", err)
	}
	requireContains(t, out, "up to date")

	out, _, err = runCLI(t, []string{"outputs", "check", "sort", rec.Command + " -r", rec.OutputFile}, env.configPath)
	if err != nil {
		t.Fatalf("outputs check changed command: %v", err)
	}
	requireContains(t, out, "needs run")
}

func TestOutputsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)
	out, _, err := runCLI(t, []string{"outputs", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("outputs list: %v", err)
	}
	requireContains(t, out, "No output records")
}
