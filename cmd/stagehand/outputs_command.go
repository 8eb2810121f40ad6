package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"stagehand/internal/logging"
	"stagehand/internal/tracker"
)

func newOutputsCommand(ctx *commandContext) *cobra.Command {
	outputsCmd := &cobra.Command{
		Use:   "outputs",
		Short: "Inspect output fingerprint records",
	}
	outputsCmd.AddCommand(newOutputsListCommand(ctx))
	outputsCmd.AddCommand(newOutputsShowCommand())
	outputsCmd.AddCommand(newOutputsCheckCommand(ctx))
	return outputsCmd
}

func newOutputsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every record in the state directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dir := cfg.OutputsDir()
			entries, err := os.ReadDir(dir)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("read outputs directory: %w", err)
			}

			out := cmd.OutOrStdout()
			var rows [][]string
			for _, entry := range entries {
				if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
					continue
				}
				rec, err := tracker.Load(filepath.Join(dir, entry.Name()))
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), renderStatusLine(entry.Name(), statusWarn, err.Error(), false))
					continue
				}
				rows = append(rows, []string{entry.Name(), rec.OutputFile, rec.Command})
			}
			if len(rows) == 0 {
				fmt.Fprintln(out, "No output records")
				return nil
			}
			sort.Slice(rows, func(i, j int) bool { return rows[i][0] < rows[j][0] })
			fmt.Fprintln(out, renderTable([]string{"Record", "Output", "Command"}, rows, nil))
			return nil
		},
	}
}

func newOutputsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "show <record>",
		Short:       "Print one output record and verify its fingerprint",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := tracker.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine("Command", statusInfo, rec.Command, colorize))
			fmt.Fprintln(out, renderStatusLine("Output", statusInfo, rec.OutputFile, colorize))
			if rec.Fingerprint == tracker.Fingerprint(rec.Command, rec.OutputFile) {
				fmt.Fprintln(out, renderStatusLine("Fingerprint", statusOK, rec.Fingerprint, colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Fingerprint", statusError, rec.Fingerprint+" (does not match command and output)", colorize))
			}
			if _, err := os.Stat(rec.OutputFile); err != nil {
				fmt.Fprintln(out, renderStatusLine("Output file", statusWarn, "missing", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Output file", statusOK, "present", colorize))
			}
			return nil
		},
	}
}

func newOutputsCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check <stage> <command> <output>",
		Short: "Report whether a stage output needs to be rebuilt",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			output, err := filepath.Abs(args[2])
			if err != nil {
				return fmt.Errorf("resolve output: %w", err)
			}
			t := tracker.New(cfg.OutputsDir(), logging.NewNop())
			needsRun, err := t.NeedsRun(args[0], args[1], output)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if needsRun {
				fmt.Fprintln(out, renderStatusLine(args[0], statusWarn, "needs run", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine(args[0], statusOK, "up to date", colorize))
			}
			fmt.Fprintf(out, "%sRecord: %s\n", statusIndent, t.RecordPath(args[0], output))
			return nil
		},
	}
}
