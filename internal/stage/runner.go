package stage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stagehand/internal/logging"
	"stagehand/internal/notifications"
	"stagehand/internal/outputs"
	"stagehand/internal/recovery"
	"stagehand/internal/services"
	"stagehand/internal/tracker"
)

// Options configures a Runner. Zero values are usable.
type Options struct {
	Logger      *slog.Logger
	Notifier    notifications.Notifier
	Snapshotter *outputs.Snapshotter
	// Tracker persists output fingerprints; nil disables tracking.
	Tracker *tracker.Tracker
	Names   *NameRegistry
	// LevelOverrides maps stage names to log levels.
	LevelOverrides map[string]string
}

// Runner drives stages through their lifecycle. A Runner is safe for
// concurrent use as long as each Stage is run once.
type Runner struct {
	logger      *slog.Logger
	notifier    notifications.Notifier
	snapshotter *outputs.Snapshotter
	tracker     *tracker.Tracker
	names       *NameRegistry
	overrides   map[string]string
}

// NewRunner builds a runner from opts.
func NewRunner(opts Options) *Runner {
	r := &Runner{
		logger:      logging.NewComponentLogger(opts.Logger, "stage"),
		notifier:    opts.Notifier,
		snapshotter: opts.Snapshotter,
		tracker:     opts.Tracker,
		names:       opts.Names,
		overrides:   opts.LevelOverrides,
	}
	if r.notifier == nil {
		r.notifier = notifications.Nop{}
	}
	if r.snapshotter == nil {
		r.snapshotter = outputs.NewSnapshotter()
	}
	if r.names == nil {
		r.names = NewNameRegistry()
	}
	return r
}

// Names exposes the registry used for name resolution.
func (r *Runner) Names() *NameRegistry { return r.names }

// Run executes st and returns the inputs for the next stage.
//
// Abort errors are returned unchanged with no events or rollback. Missing
// inputs or outputs yield *PreconditionError. Any other failure emits
// STAGE_FAILED, removes files the stage created, and returns *Error.
// STAGE_COMPLETED follows every non-aborted, non-joiner execution.
func (r *Runner) Run(ctx context.Context, st *Stage, bindings Bindings) (next []string, err error) {
	sc := st.sc
	if missing := missingFiles(sc.Input); len(missing) > 0 {
		return nil, &PreconditionError{Stage: st.Name(), Kind: KindMissingInput, Paths: missing}
	}

	if st.def.Joiner {
		return r.runJoiner(ctx, st, bindings)
	}

	before, err := r.snapshotter.Take(sc.OutputDir)
	if err != nil {
		return nil, &Error{Stage: st.Name(), Err: err}
	}

	name := r.resolveName(st)
	ctx = services.WithStage(ctx, name)
	ctx = services.WithBranch(ctx, sc.Branch)
	logger := logging.WithContext(ctx, logging.ForStage(r.logger, r.overrides, name))

	r.signal(ctx, logger, notifications.EventStageStarted, fmt.Sprintf("Stage %s started", name), st, nil)
	logger.Info(
		"stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.Strings("inputs", sc.Input),
		logging.String("output_dir", sc.OutputDir),
		logging.String("default_output", sc.DefaultOutput),
	)

	started := time.Now()
	defer func() {
		if IsAbort(err) {
			logger.Info("stage aborted",
				logging.String(logging.FieldEventType, "stage_abort"),
				logging.Duration("elapsed", time.Since(started)),
			)
			return
		}
		details := notifications.Details{notifications.DetailOutput: sc.NextInputs}
		if err != nil {
			details[notifications.DetailError] = err
		}
		r.signal(ctx, logger, notifications.EventStageCompleted, fmt.Sprintf("Stage %s completed", name), st, details)
		if err == nil {
			logger.Info(
				"stage completed",
				logging.String(logging.FieldEventType, "stage_complete"),
				logging.Strings("next_inputs", sc.NextInputs),
				logging.Duration("elapsed", time.Since(started)),
			)
		}
	}()

	if err := r.execute(ctx, logger, st, before, bindings); err != nil {
		return nil, err
	}
	if err := r.persist(ctx, st); err != nil {
		logger.Error(
			"stage output check failed",
			logging.String(logging.FieldEventType, "stage_failure"),
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.String(logging.FieldErrorHint, "ensure the stage writes every output it declares"),
			logging.Error(err),
		)
		return nil, err
	}
	return sc.NextInputs, nil
}

func (r *Runner) runJoiner(ctx context.Context, st *Stage, bindings Bindings) ([]string, error) {
	result, err := r.invoke(ctx, st, bindings)
	if err != nil {
		if IsAbort(err) {
			return nil, err
		}
		label := st.Name()
		if label == "" {
			label = "joiner"
		}
		return nil, &Error{Stage: label, Err: err}
	}
	st.sc.NextInputs = result
	return result, nil
}

// resolveName sets the stage name and derives the default output from the
// first input when nothing else was declared.
func (r *Runner) resolveName(st *Stage) string {
	sc := st.sc
	name := r.names.Resolve(st.def)
	st.setName(name)
	sc.StageName = name

	if len(sc.Output) == 0 && sc.DefaultOutput == "" && len(sc.Input) > 0 {
		base := filepath.Base(sc.FirstInput())
		if sc.Branch != "" && !sc.BranchApplied {
			base += "." + sc.Branch
			sc.BranchApplied = true
		}
		sc.DefaultOutput = filepath.Join(sc.OutputDir, base+"."+name)
	}
	return name
}

func (r *Runner) execute(ctx context.Context, logger *slog.Logger, st *Stage, before outputs.Snapshot, bindings Bindings) error {
	_, err := r.invoke(ctx, st, bindings)
	if err == nil {
		err = r.infer(st, before)
	}
	if err == nil {
		return nil
	}
	if IsAbort(err) {
		return err
	}

	name := st.Name()
	logger.Error(
		"stage failed",
		logging.String(logging.FieldEventType, "stage_failure"),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.String(logging.FieldErrorHint, "see commandlog.txt in the output directory"),
		logging.Error(err),
	)
	r.signal(ctx, logger, notifications.EventStageFailed, fmt.Sprintf("Stage %s failed", name), st,
		notifications.Details{notifications.DetailError: err})

	candidates := append([]string(nil), st.sc.Output...)
	if diff, diffErr := r.snapshotter.Changed(before); diffErr != nil {
		logger.Warn("could not list files created by failed stage",
			logging.Error(diffErr),
			logging.String(logging.FieldEventType, "rollback_failed"),
			logging.String(logging.FieldImpact, "undeclared partial outputs may remain"),
		)
	} else {
		for _, f := range diff.Created {
			candidates = append(candidates, f.Path)
		}
	}
	keep := append(before.Existing(), st.sc.Input...)
	result := recovery.Cleanup(ctx, candidates, keep, logger)
	if len(result.Removed) > 0 || len(result.Errors) > 0 {
		logger.Info("rollback finished",
			logging.Int("removed", len(result.Removed)),
			logging.Int("kept", len(result.Kept)),
			logging.Int("errors", len(result.Errors)),
		)
	}
	return &Error{Stage: name, Err: err}
}

// invoke calls the body with the inputs bound. Panics surface as errors.
func (r *Runner) invoke(ctx context.Context, st *Stage, bindings Bindings) (result []string, err error) {
	if st.def.Body == nil {
		return nil, errors.New("stage has no body")
	}
	st.running.Store(true)
	defer st.running.Store(false)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage body panicked: %v", p)
		}
	}()

	sc := st.sc
	merged := bindings.Merge(Bindings{
		BindInput:  sc.FirstInput(),
		BindInputs: append([]string(nil), sc.Input...),
		BindDir:    sc.OutputDir,
	})
	return st.def.Body(ctx, sc, merged)
}

func (r *Runner) infer(st *Stage, before outputs.Snapshot) error {
	sc := st.sc
	if err := truncateMarker(sc.UncleanFile); err != nil {
		return err
	}
	diff, err := r.snapshotter.Changed(before)
	if err != nil {
		return fmt.Errorf("infer outputs: %w", err)
	}
	forwarded := outputs.Forward(outputs.ForwardInput{
		Explicit:      sc.Output,
		Next:          sc.NextInputs,
		Candidates:    diff.Candidates(),
		Mask:          sc.OutputMask,
		DefaultOutput: sc.DefaultOutput,
		Inputs:        sc.Input,
	})
	if len(sc.Output) == 0 {
		sc.Output = append([]string(nil), forwarded...)
	}
	attachInferred(sc, produced(forwarded, diff.Candidates()))
	sc.DefaultOutput = ""
	sc.NextInputs = forwarded
	st.succeeded.Store(true)
	return nil
}

func (r *Runner) persist(ctx context.Context, st *Stage) error {
	sc := st.sc
	if missing := missingFiles(sc.Output); len(missing) > 0 {
		return &PreconditionError{Stage: st.Name(), Kind: KindMissingOutput, Paths: missing}
	}
	if r.tracker == nil || len(sc.TrackedOutputs) == 0 {
		return nil
	}
	if _, err := r.tracker.Track(ctx, st.Name(), sc.TrackedOutputs); err != nil {
		return &Error{Stage: st.Name(), Err: err}
	}
	return nil
}

// signal delivers an event. Listener errors never affect the stage.
func (r *Runner) signal(ctx context.Context, logger *slog.Logger, event notifications.Event, description string, st *Stage, details notifications.Details) {
	payload := notifications.Details{
		notifications.DetailStage:  st,
		notifications.DetailInputs: st.sc.Input,
	}
	for k, v := range details {
		payload[k] = v
	}
	if err := r.notifier.Signal(ctx, event, description, payload); err != nil {
		logger.Debug("event delivery failed", logging.String("event", string(event)), logging.Error(err))
	}
}

// produced keeps the forwarded paths that the stage wrote. Forwarded inputs
// are never treated as outputs.
func produced(forwarded []string, candidates []outputs.File) []string {
	written := make(map[string]struct{}, len(candidates))
	for _, f := range candidates {
		written[filepath.Clean(f.Path)] = struct{}{}
	}
	var out []string
	for _, path := range forwarded {
		if _, ok := written[filepath.Clean(path)]; ok {
			out = append(out, path)
		}
	}
	return out
}

// attachInferred gives tracked commands that named no output the outputs
// inferred from the directory.
func attachInferred(sc *Context, inferred []string) {
	if len(inferred) == 0 {
		return
	}
	for command, paths := range sc.TrackedOutputs {
		if len(paths) == 0 {
			sc.TrackedOutputs[command] = append([]string(nil), inferred...)
		}
	}
}

func truncateMarker(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Truncate(path, 0); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear unclean marker: %w", err)
	}
	return nil
}

func missingFiles(paths []string) []string {
	var missing []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, path)
		}
	}
	return missing
}
