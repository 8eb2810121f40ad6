package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stagehand/internal/config"
	"stagehand/internal/history"
	"stagehand/internal/logging"
	"stagehand/internal/logs"
	"stagehand/internal/notifications"
	"stagehand/internal/outputs"
	"stagehand/internal/preflight"
	"stagehand/internal/services"
	"stagehand/internal/stage"
	"stagehand/internal/tracker"
)

const lockFileName = "run.lock"

// ErrLocked is returned when another run holds the state directory.
var ErrLocked = errors.New("another run is using the state directory")

// Options carries optional collaborators for a Run.
type Options struct {
	Logger *slog.Logger
	// History records the run and its events when set.
	History *history.Store
	// Listeners receive every lifecycle event alongside the log notifier.
	Listeners []notifications.Notifier
	// Bindings are pipeline variables passed to every stage body.
	Bindings stage.Bindings
	// SkipPreflight disables directory and program checks.
	SkipPreflight bool
}

// Run is a single pipeline execution.
type Run struct {
	id          string
	cfg         *config.Config
	logger      *slog.Logger
	history     *history.Store
	runner      *stage.Runner
	names       *stage.NameRegistry
	bindings    stage.Bindings
	preflight   bool
	logFile     *os.File
	interrupted bool
}

// New prepares a run against cfg. Call Close when done.
func New(cfg *config.Config, opts Options) (*Run, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config is required")
	}
	id := uuid.NewString()
	r := &Run{
		id:        id,
		cfg:       cfg,
		history:   opts.History,
		names:     stage.NewNameRegistry(),
		bindings:  opts.Bindings,
		preflight: !opts.SkipPreflight,
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		f, err := logging.OpenLogFile(logs.RunPath(dir, id))
		if err != nil {
			return nil, fmt.Errorf("open run log: %w", err)
		}
		r.logFile = f
		logger = logging.TeeLogger(logger, logging.NewJSONHandler(f, slog.LevelDebug, false))
	}
	r.logger = logging.NewComponentLogger(logger, "pipeline")

	listeners := []notifications.Notifier{notifications.NewLogNotifier(logger)}
	if opts.History != nil {
		listeners = append(listeners, opts.History)
	}
	listeners = append(listeners, opts.Listeners...)

	var outputTracker *tracker.Tracker
	if cfg.Pipeline.TrackOutputs {
		outputTracker = tracker.New(cfg.OutputsDir(), logger)
	}
	r.runner = stage.NewRunner(stage.Options{
		Logger:         logger,
		Notifier:       notifications.NewFanout(logger, listeners...),
		Snapshotter:    outputs.NewSnapshotter(cfg.Pipeline.IgnoreFiles...),
		Tracker:        outputTracker,
		Names:          r.names,
		LevelOverrides: cfg.Logging.StageOverrides,
	})
	return r, nil
}

// ID returns the run identifier.
func (r *Run) ID() string { return r.id }

// Names returns the run's stage name registry.
func (r *Run) Names() *stage.NameRegistry { return r.names }

// Interrupted reports whether the previous run left the unclean marker set.
func (r *Run) Interrupted() bool { return r.interrupted }

// LogPath returns the per-run JSON log, if any.
func (r *Run) LogPath() string {
	if r.logFile == nil {
		return ""
	}
	return r.logFile.Name()
}

// Close releases the per-run log file.
func (r *Run) Close() error {
	if r.logFile == nil {
		return nil
	}
	return r.logFile.Close()
}

// Execute runs every stage of p starting from inputs and returns the final
// forwarded outputs. Abort errors are returned unchanged.
func (r *Run) Execute(ctx context.Context, p *Pipeline, inputs []string) (final []string, err error) {
	if p == nil || len(p.Stages) == 0 {
		return nil, errors.New("pipeline: no stages to run")
	}
	if err := r.cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.cfg.UncleanDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create unclean marker directory: %w", err)
	}

	lock := flock.New(filepath.Join(r.cfg.Paths.StateDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, r.cfg.Paths.StateDir)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			r.logger.Warn("failed to release run lock", logging.Error(unlockErr))
		}
	}()

	ctx = services.WithRunID(ctx, r.id)
	logger := logging.WithContext(ctx, r.logger)

	if r.preflight {
		if err := r.runPreflight(logger, p); err != nil {
			return nil, err
		}
	}
	r.checkUnclean(logger)

	if r.history != nil {
		if err := r.history.StartRun(ctx, r.id, p.Name, inputs); err != nil {
			logging.WarnWithContext(logger, "failed to record run start", "history_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run will be missing from history"),
			)
		}
	}

	logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "run_start"),
		logging.String("pipeline", p.Name),
		logging.Strings("inputs", inputs),
		logging.Int("stages", len(p.Stages)),
	)
	started := time.Now()

	defer func() {
		status := history.RunCompleted
		switch {
		case stage.IsAbort(err):
			status = history.RunAborted
			logger.Info("pipeline aborted",
				logging.String(logging.FieldEventType, "run_abort"),
				logging.Duration("elapsed", time.Since(started)),
			)
		case err != nil:
			status = history.RunFailed
			logger.Error("pipeline failed",
				logging.String(logging.FieldEventType, "run_failure"),
				logging.String(logging.FieldErrorKind, services.Kind(err)),
				logging.String(logging.FieldErrorHint, "fix the failing stage and rerun"),
				logging.Error(err),
			)
		default:
			logger.Info("pipeline completed",
				logging.String(logging.FieldEventType, "run_complete"),
				logging.Strings("outputs", final),
				logging.Duration("elapsed", time.Since(started)),
			)
		}
		if r.history != nil {
			if histErr := r.history.FinishRun(context.WithoutCancel(ctx), r.id, status, err); histErr != nil {
				logger.Warn("failed to record run result", logging.Error(histErr))
			}
		}
	}()

	vars := p.Vars.Merge(r.bindings)
	return r.runStages(ctx, p.Stages, inputs, scope{outputDir: r.cfg.Paths.OutputDir}, vars)
}

// scope is the per-branch state threaded from stage to stage.
type scope struct {
	outputDir     string
	branch        string
	branchApplied bool
}

func (r *Run) runStages(ctx context.Context, defs []*stage.Definition, inputs []string, sc scope, vars stage.Bindings) ([]string, error) {
	current := inputs
	for _, def := range defs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stageCtx := &stage.Context{
			Input:         current,
			OutputDir:     sc.outputDir,
			OutputMask:    r.cfg.Pipeline.OutputMask,
			UncleanFile:   r.cfg.UncleanMarker(sc.branch),
			Branch:        sc.branch,
			BranchApplied: sc.branchApplied,
		}
		next, err := r.runner.Run(ctx, stage.New(def, stageCtx), vars)
		if err != nil {
			return nil, err
		}
		sc.branchApplied = sc.branchApplied || stageCtx.BranchApplied
		current = next

		if len(def.Branches) > 0 {
			current, err = r.runBranches(ctx, def.Branches, current, sc, vars)
			if err != nil {
				return nil, err
			}
		}
	}
	return current, nil
}

func (r *Run) runBranches(ctx context.Context, branches []stage.Branch, inputs []string, parent scope, vars stage.Bindings) ([]string, error) {
	results := make([][]string, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range branches {
		child := scope{outputDir: filepath.Join(parent.outputDir, b.Name), branch: b.Name}
		if err := os.MkdirAll(child.outputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create branch directory: %w", err)
		}
		g.Go(func() error {
			branchCtx := services.WithBranch(gctx, b.Name)
			out, err := r.runStages(branchCtx, b.Stages, inputs, child, vars)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []string
	for _, out := range results {
		merged = append(merged, out...)
	}
	return merged, nil
}

func (r *Run) runPreflight(logger *slog.Logger, p *Pipeline) error {
	results := preflight.RunAll(r.cfg, p.Commands)
	for _, res := range results {
		switch {
		case !res.Passed:
			logger.Error("preflight check failed",
				logging.String("check", res.Name),
				logging.String("detail", res.Detail),
				logging.String(logging.FieldEventType, "preflight_failed"),
				logging.String(logging.FieldErrorHint, "fix the reported issue and rerun"),
			)
		case res.Warning:
			logging.WarnWithContext(logger, "preflight check warning", "preflight_warning",
				logging.String("check", res.Name),
				logging.String("detail", res.Detail),
				logging.String(logging.FieldImpact, "stages using this program will fail"),
			)
		default:
			logger.Debug("preflight check passed",
				logging.String("check", res.Name),
				logging.String("detail", res.Detail),
				logging.String(logging.FieldEventType, "preflight_passed"),
			)
		}
	}
	return preflight.Err(results)
}

// checkUnclean flags a previous run that stopped between a command and its
// successful completion.
func (r *Run) checkUnclean(logger *slog.Logger) {
	lines, err := ReadUnclean(r.cfg.UncleanDir())
	if err != nil {
		logger.Debug("unclean marker unreadable", logging.Error(err))
		return
	}
	if len(lines) == 0 {
		return
	}
	r.interrupted = true
	logging.WarnWithContext(logger, "previous run was interrupted", "unclean_run",
		logging.Strings("commands", lines),
		logging.String(logging.FieldErrorHint, "outputs of these commands may be incomplete"),
		logging.String(logging.FieldImpact, "affected stages will run again"),
	)
}

// ReadUnclean returns the commands recorded in every marker under dir, main
// sequence first, then branches by name. A missing directory yields no
// commands.
func ReadUnclean(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() == "main" && entries[j].Name() != "main"
	})

	var lines []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		marker, err := readMarker(filepath.Join(dir, entry.Name()))
		if err != nil {
			return lines, err
		}
		lines = append(lines, marker...)
	}
	return lines, nil
}

func readMarker(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

// Join is the body of joiner stages: it forwards its inputs unchanged.
func Join(_ context.Context, sc *stage.Context, _ stage.Bindings) ([]string, error) {
	return append([]string(nil), sc.Input...), nil
}
