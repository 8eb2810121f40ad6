package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"stagehand/internal/command"
	"stagehand/internal/config"
	"stagehand/internal/history"
	"stagehand/internal/notifications"
	"stagehand/internal/stage"
	"stagehand/internal/testsupport"
	"stagehand/internal/tracker"
)

func writeInput(t *testing.T, cfg *config.Config, name, content string) string {
	t.Helper()
	path := filepath.Join(testsupport.BaseDir(cfg), name)
	testsupport.Touch(t, path, content, time.Time{})
	return path
}

func newRun(t *testing.T, cfg *config.Config, opts Options) *Run {
	t.Helper()
	run, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = run.Close() })
	return run
}

func TestExecuteLinearPipeline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, "reads.txt", "b\na\nc\n")
	p, err := Parse([]byte(`
[[stage]]
name = "sort"
command = "sort $input > $output"

[[stage]]
name = "head"
command = "head -n 2 $input > $output"
`), command.Options{})
	if err != nil {
		t.Fatal(err)
	}

	rec := &notifications.Recorder{}
	run := newRun(t, cfg, Options{Listeners: []notifications.Notifier{rec}})
	final, err := run.Execute(context.Background(), p, []string{input})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := filepath.Join(cfg.Paths.OutputDir, "reads.txt.sort.head")
	if !reflect.DeepEqual(final, []string{want}) {
		t.Fatalf("final = %v, want %s", final, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a\nb\n" {
		t.Fatalf("unexpected output %q", data)
	}
	if got := len(rec.Events()); got != 4 {
		t.Fatalf("expected 4 events, got %v", rec.Types())
	}
	if _, err := os.Stat(tracker.New(cfg.OutputsDir(), nil).RecordPath("head", filepath.Join(cfg.Paths.OutputDir, "reads.txt.sort.head"))); err != nil {
		t.Fatalf("expected output record: %v", err)
	}
	if run.LogPath() == "" {
		t.Fatal("expected a per-run log")
	}
}

func TestExecuteBranchesRunConcurrentlyAndMergeInOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, "calls.txt", "chr1 a\nchr2 b\nchr1 c\n")
	p, err := Parse([]byte(`
[[stage]]
name = "copy"
command = "cp $input $output"

  [[stage.branch]]
  name = "chr1"
    [[stage.branch.stage]]
    name = "pick"
    command = "grep chr1 $input > $output"

  [[stage.branch]]
  name = "chr2"
    [[stage.branch.stage]]
    name = "pick"
    command = "grep chr2 $input > $output"

[[stage]]
name = "merge"
joiner = true

[[stage]]
name = "concat"
command = "cat $inputs > $output"
output = "merged.txt"
`), command.Options{})
	if err != nil {
		t.Fatal(err)
	}

	run := newRun(t, cfg, Options{})
	final, err := run.Execute(context.Background(), p, []string{input})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	merged := filepath.Join(cfg.Paths.OutputDir, "merged.txt")
	if !reflect.DeepEqual(final, []string{merged}) {
		t.Fatalf("final = %v", final)
	}
	data, err := os.ReadFile(merged)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "chr1 a\nchr1 c\nchr2 b\n" {
		t.Fatalf("branches merged out of order: %q", data)
	}
	branchOut := filepath.Join(cfg.Paths.OutputDir, "chr1", "calls.txt.copy.chr1.pick")
	if _, err := os.Stat(branchOut); err != nil {
		t.Fatalf("expected branch output with branch name applied once: %v", err)
	}
}

func TestExecuteFailureStopsAndRecordsHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, "a.txt", "x\n")
	store := testsupport.MustOpenHistory(t, cfg)
	p, err := Parse([]byte(`
[[stage]]
name = "bad"
command = "echo partial > $output; exit 1"

[[stage]]
name = "never"
command = "touch $dir/never"
`), command.Options{})
	if err != nil {
		t.Fatal(err)
	}

	run := newRun(t, cfg, Options{History: store})
	_, err = run.Execute(context.Background(), p, []string{input})
	var stageErr *stage.Error
	if !errors.As(err, &stageErr) || stageErr.Stage != "bad" {
		t.Fatalf("expected failure of stage bad, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.OutputDir, "a.txt.bad")); !os.IsNotExist(statErr) {
		t.Fatal("partial output should be rolled back")
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Paths.OutputDir, "never")); !os.IsNotExist(statErr) {
		t.Fatal("later stages must not run")
	}
	lines, _ := ReadUnclean(cfg.UncleanDir())
	if len(lines) != 1 {
		t.Fatalf("unclean marker should name the failed command, got %v", lines)
	}

	recorded, err := store.GetRun(context.Background(), run.ID())
	if err != nil {
		t.Fatal(err)
	}
	if recorded.Status != history.RunFailed {
		t.Fatalf("status = %s", recorded.Status)
	}
	events, err := store.ListEvents(context.Background(), run.ID())
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, ev := range events {
		types = append(types, ev.Event)
	}
	want := []string{"stage_started", "stage_failed", "stage_completed"}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}

	next := newRun(t, cfg, Options{})
	if _, err := next.Execute(context.Background(), &Pipeline{Stages: []*stage.Definition{{Name: "noop", Body: Join}}}, []string{input}); err != nil {
		t.Fatal(err)
	}
	if !next.Interrupted() {
		t.Fatal("a run after a failure should see the unclean marker")
	}
}

func TestExecuteBranchesKeepSeparateUncleanMarkers(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutTracking())
	input := writeInput(t, cfg, "a.txt", "x\n")

	bDone := make(chan struct{})
	var seen string
	inFlight := func(_ context.Context, sc *stage.Context, _ stage.Bindings) ([]string, error) {
		f, err := os.OpenFile(sc.UncleanFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		_, _ = f.WriteString("long running command\n")
		_ = f.Close()
		select {
		case <-bDone:
		case <-time.After(5 * time.Second):
			return nil, errors.New("branch b never finished")
		}
		data, err := os.ReadFile(sc.UncleanFile)
		seen = string(data)
		return nil, err
	}
	quick := func(_ context.Context, sc *stage.Context, _ stage.Bindings) ([]string, error) {
		testsupport.Touch(t, sc.UncleanFile, "quick command\n", time.Time{})
		testsupport.Touch(t, filepath.Join(sc.OutputDir, "quick.txt"), "done", time.Time{})
		return nil, nil
	}
	signalDone := func(context.Context, *stage.Context, stage.Bindings) ([]string, error) {
		close(bDone)
		return nil, nil
	}

	p := &Pipeline{Stages: []*stage.Definition{{
		Name: "split",
		Body: Join,
		Branches: []stage.Branch{
			{Name: "a", Stages: []*stage.Definition{{Name: "slow", Body: inFlight}}},
			{Name: "b", Stages: []*stage.Definition{{Name: "quick", Body: quick}, {Name: "after", Body: signalDone}}},
		},
	}}}

	run := newRun(t, cfg, Options{SkipPreflight: true})
	if _, err := run.Execute(context.Background(), p, []string{input}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(seen, "long running command") {
		t.Fatalf("branch a's marker was cleared by branch b: %q", seen)
	}
	if cfg.UncleanMarker("a") == cfg.UncleanMarker("b") || cfg.UncleanMarker("") == cfg.UncleanMarker("a") {
		t.Fatal("each branch needs its own marker")
	}
	lines, err := ReadUnclean(cfg.UncleanDir())
	if err != nil || len(lines) != 0 {
		t.Fatalf("markers should be empty after success, got %v %v", lines, err)
	}
}

func TestReadUncleanCollectsEveryMarker(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.Touch(t, cfg.UncleanMarker("b"), "cmd b\n", time.Time{})
	testsupport.Touch(t, cfg.UncleanMarker(""), "cmd main\n", time.Time{})
	testsupport.Touch(t, cfg.UncleanMarker("a"), "", time.Time{})

	lines, err := ReadUnclean(cfg.UncleanDir())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"cmd main", "cmd b"}) {
		t.Fatalf("lines = %v", lines)
	}

	run := newRun(t, cfg, Options{})
	if _, err := run.Execute(context.Background(), &Pipeline{Stages: []*stage.Definition{{Name: "noop", Body: Join, Joiner: true}}}, []string{writeInput(t, cfg, "a.txt", "x")}); err != nil {
		t.Fatal(err)
	}
	if !run.Interrupted() {
		t.Fatal("a non-empty branch marker should flag the previous run")
	}
}

func TestExecuteDryRunAborts(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDryRun())
	input := writeInput(t, cfg, "a.txt", "x\n")
	store := testsupport.MustOpenHistory(t, cfg)
	p, err := Parse([]byte("[[stage]]\nname = \"s\"\ncommand = \"sort $input > $output\"\n"), command.Options{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, cfg, Options{History: store})
	_, err = run.Execute(context.Background(), p, []string{input})
	if !stage.IsAbort(err) {
		t.Fatalf("expected abort, got %v", err)
	}
	recorded, err := store.GetRun(context.Background(), run.ID())
	if err != nil {
		t.Fatal(err)
	}
	if recorded.Status != history.RunAborted {
		t.Fatalf("status = %s", recorded.Status)
	}
}

func TestExecuteFailsFastWhenLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(cfg.Paths.StateDir, lockFileName))
	if ok, err := held.TryLock(); err != nil || !ok {
		t.Fatalf("lock: %v %v", ok, err)
	}
	defer held.Unlock()

	input := writeInput(t, cfg, "a.txt", "x\n")
	run := newRun(t, cfg, Options{SkipPreflight: true})
	_, err := run.Execute(context.Background(), &Pipeline{Stages: []*stage.Definition{{Body: Join}}}, []string{input})
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestExecuteMissingInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	run := newRun(t, cfg, Options{})
	p := &Pipeline{Stages: []*stage.Definition{{Name: "s", Body: Join}}}
	_, err := run.Execute(context.Background(), p, []string{filepath.Join(t.TempDir(), "missing")})
	var pre *stage.PreconditionError
	if !errors.As(err, &pre) || pre.Kind != stage.KindMissingInput {
		t.Fatalf("expected missing input, got %v", err)
	}
}

func TestExecuteNamesUnnamedStagesPerRun(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithoutTracking())
	input := writeInput(t, cfg, "a.txt", "x\n")
	noop := func(context.Context, *stage.Context, stage.Bindings) ([]string, error) { return nil, nil }
	p := &Pipeline{Stages: []*stage.Definition{{Body: noop}, {Body: noop}}}

	for i := 0; i < 2; i++ {
		rec := &notifications.Recorder{}
		run := newRun(t, cfg, Options{Listeners: []notifications.Notifier{rec}})
		if _, err := run.Execute(context.Background(), p, []string{input}); err != nil {
			t.Fatal(err)
		}
		var names []string
		for _, ev := range rec.Events() {
			if ev.Event == notifications.EventStageStarted {
				names = append(names, ev.Stage)
			}
		}
		sort.Strings(names)
		if !reflect.DeepEqual(names, []string{"1", "2"}) {
			t.Fatalf("run %d names = %v", i, names)
		}
	}
}

func TestExecutePassesVariables(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := writeInput(t, cfg, "a.txt", "x\n")
	p, err := Parse([]byte(`
[vars]
label = "from-file"

[[stage]]
name = "echo"
command = "echo $label $extra > $output"
`), command.Options{})
	if err != nil {
		t.Fatal(err)
	}
	run := newRun(t, cfg, Options{Bindings: stage.Bindings{"extra": "from-cli"}})
	final, err := run.Execute(context.Background(), p, []string{input})
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(final[0])
	if strings.TrimSpace(string(data)) != "from-file from-cli" {
		t.Fatalf("unexpected output %q", data)
	}
}
