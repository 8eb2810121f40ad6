package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"stagehand/internal/logging"
	"stagehand/internal/outputs"
	"stagehand/internal/services"
	"stagehand/internal/stage"
)

const stderrTailLines = 20

// Executor runs script with shell. Tests substitute their own.
type Executor func(ctx context.Context, shell, script string, stdout io.Writer, onStderr func(string)) error

// Spec is one command stage as written in a pipeline file.
type Spec struct {
	Command string
	// Output, when set, is the explicit output. Relative paths resolve
	// against the stage's output directory.
	Output string
}

// Options configures command bodies.
type Options struct {
	Shell  string
	DryRun bool
	Logger *slog.Logger
	// Stdout receives command standard output; nil discards it.
	Stdout   io.Writer
	Executor Executor
}

// Body returns a stage body that runs spec.Command through the shell.
func Body(spec Spec, opts Options) stage.Body {
	template := spec.Command
	shell := strings.TrimSpace(opts.Shell)
	if shell == "" {
		shell = "sh"
	}
	run := opts.Executor
	if run == nil {
		run = runShell
	}
	base := logging.NewComponentLogger(opts.Logger, "command")
	declaresOutput := ReferencesOutput(template)

	return func(ctx context.Context, sc *stage.Context, bindings stage.Bindings) ([]string, error) {
		logger := logging.WithContext(ctx, base)
		if spec.Output != "" && len(sc.Output) == 0 {
			out := Expand(spec.Output, sc, bindings)
			if !filepath.IsAbs(out) {
				out = filepath.Join(sc.OutputDir, out)
			}
			sc.SetOutput(out)
		}
		if declaresOutput && len(sc.Output) == 0 && sc.DefaultOutput != "" {
			sc.SetOutput(sc.DefaultOutput)
		}
		script := Expand(template, sc, bindings)

		if opts.DryRun {
			logger.Info("dry run command", logging.String("command", script))
			return nil, fmt.Errorf("dry run stopped before %q: %w", sc.StageName, stage.ErrAbort)
		}

		if err := appendLine(filepath.Join(sc.OutputDir, outputs.CommandLogFile), script); err != nil {
			return nil, services.Wrap(services.ErrTransient, sc.StageName, "write command log", "", err)
		}
		if sc.UncleanFile != "" {
			if err := appendLine(sc.UncleanFile, script); err != nil {
				return nil, services.Wrap(services.ErrTransient, sc.StageName, "mark run unclean", "", err)
			}
		}
		sc.TrackOutput(script, sc.Output...)

		logger.Debug("running command", logging.String("command", script), logging.String("shell", shell))
		tail := newTail(stderrTailLines)
		err := run(ctx, shell, script, opts.Stdout, func(line string) {
			tail.add(line)
			logger.Debug("command stderr", logging.String("line", line))
		})
		if err != nil {
			message := "command failed"
			if last := tail.String(); last != "" {
				message = last
			}
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				message = fmt.Sprintf("exit status %d: %s", exitErr.ExitCode(), message)
			}
			return nil, services.Wrap(services.ErrExternalTool, sc.StageName, "run command", message, err)
		}
		return nil, nil
	}
}

func runShell(ctx context.Context, shell, script string, stdout io.Writer, onStderr func(string)) error {
	cmd := exec.CommandContext(ctx, shell, "-c", script) //nolint:gosec
	if stdout == nil {
		stdout = io.Discard
	}
	cmd.Stdout = stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			onStderr(scanner.Text())
		}
	}()
	wg.Wait()
	return cmd.Wait()
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

type tail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(n int) *tail { return &tail{max: n} }

func (t *tail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}
