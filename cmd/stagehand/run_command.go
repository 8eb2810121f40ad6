package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"stagehand/internal/command"
	"stagehand/internal/history"
	"stagehand/internal/logging"
	"stagehand/internal/pipeline"
	"stagehand/internal/stage"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var pipelinePath string
	var dryRun bool
	var skipPreflight bool
	var vars []string

	cmd := &cobra.Command{
		Use:   "run --pipeline FILE [inputs...]",
		Short: "Run a pipeline file over input files",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *loaded
			if dryRun {
				cfg.Pipeline.DryRun = true
			}

			bindings, err := parseVars(vars)
			if err != nil {
				return err
			}
			inputs, err := absolutePaths(args)
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(&cfg)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}

			p, err := pipeline.LoadFile(pipelinePath, command.Options{
				Shell:  cfg.Pipeline.Shell,
				DryRun: cfg.Pipeline.DryRun,
				Logger: logger,
				Stdout: cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			if p.Name == "" {
				p.Name = strings.TrimSuffix(filepath.Base(pipelinePath), filepath.Ext(pipelinePath))
			}

			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			run, err := pipeline.New(&cfg, pipeline.Options{
				Logger:        logger,
				History:       store,
				Bindings:      bindings,
				SkipPreflight: skipPreflight,
			})
			if err != nil {
				return err
			}
			defer run.Close()

			final, runErr := run.Execute(cmd.Context(), p, inputs)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if run.Interrupted() {
				fmt.Fprintln(out, renderStatusLine("Previous run", statusWarn, "interrupted; partial outputs may remain", colorize))
			}
			switch {
			case stage.IsAbort(runErr):
				fmt.Fprintln(out, renderStatusLine("Run "+shortID(run.ID()), statusWarn, "stopped: "+runErr.Error(), colorize))
				return nil
			case runErr != nil:
				fmt.Fprintln(out, renderStatusLine("Run "+shortID(run.ID()), statusError, "failed", colorize))
				if path := run.LogPath(); path != "" {
					fmt.Fprintf(out, "%sLog: %s\n", statusIndent, path)
				}
				return runErr
			}
			fmt.Fprintln(out, renderStatusLine("Run "+shortID(run.ID()), statusOK, "completed", colorize))
			for _, path := range final {
				fmt.Fprintf(out, "%s%s\n", statusIndent, path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&pipelinePath, "pipeline", "f", "", "Pipeline definition file (TOML)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the first command instead of running it")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip directory and program checks")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Pipeline variable as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("pipeline")
	return cmd
}

func parseVars(values []string) (stage.Bindings, error) {
	if len(values) == 0 {
		return nil, nil
	}
	bindings := stage.Bindings{}
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", raw)
		}
		bindings[key] = value
	}
	return bindings, nil
}

func absolutePaths(paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one input file is required")
	}
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve input %q: %w", path, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
