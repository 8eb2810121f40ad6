package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/history"
	"stagehand/internal/logs"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var stageFilter string
	var level string
	var lines int

	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Show the structured log of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()
			run, err := findRun(cmd, store, args[0])
			if err != nil {
				return err
			}

			path := logs.RunPath(cfg.Paths.LogDir, run.ID)
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no log for run %s at %s", run.ID, path)
			}
			entries, err := logs.Read(path, logs.Filter{Stage: stageFilter, MinLevel: level, Limit: lines})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, entry := range entries {
				fmt.Fprintln(out, formatLogEntry(entry, colorize))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stageFilter, "stage", "", "Only show lines from this stage")
	cmd.Flags().StringVar(&level, "level", "info", "Minimum level (debug, info, warn, error)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 0, "Show only the last N lines (0 for all)")
	return cmd
}

func formatLogEntry(entry logs.Entry, colorize bool) string {
	var b strings.Builder
	if !entry.Time.IsZero() {
		b.WriteString(entry.Time.Local().Format(time.TimeOnly))
		b.WriteByte(' ')
	}
	b.WriteString(colorizeText(fmt.Sprintf("%-5s", strings.ToUpper(entry.Level)), levelKind(entry.Level), colorize))
	b.WriteByte(' ')
	if entry.Stage != "" {
		scope := entry.Stage
		if entry.Branch != "" {
			scope = entry.Branch + "/" + scope
		}
		fmt.Fprintf(&b, "[%s] ", scope)
	}
	b.WriteString(entry.Message)
	if entry.Error != "" {
		fmt.Fprintf(&b, " error=%q", entry.Error)
	}
	keys := make([]string, 0, len(entry.Fields))
	for key := range entry.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%v", key, entry.Fields[key])
	}
	return b.String()
}

func levelKind(level string) statusKind {
	switch strings.ToLower(level) {
	case "error":
		return statusError
	case "warn":
		return statusWarn
	default:
		return statusInfo
	}
}
