package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs or show the events of one run",
		Args:  cobra.MaximumNArgs(1),
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

			if len(args) == 0 {
				runs, err := store.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd, runs)
				}
				return printRuns(cmd, runs)
			}

			run, err := findRun(cmd, store, args[0])
			if err != nil {
				return err
			}
			events, err := store.ListEvents(cmd.Context(), run.ID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, struct {
					Run    *history.Run    `json:"run"`
					Events []history.Event `json:"events"`
				}{run, events})
			}
			return printRunDetail(cmd, run, events)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit JSON instead of tables")
	return cmd
}

// findRun resolves a full run ID or a unique prefix of one.
func findRun(cmd *cobra.Command, store *history.Store, id string) (*history.Run, error) {
	id = strings.TrimSpace(id)
	run, err := store.GetRun(cmd.Context(), id)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, history.ErrRunNotFound) {
		return nil, err
	}
	runs, listErr := store.ListRuns(cmd.Context(), 0)
	if listErr != nil {
		return nil, listErr
	}
	var match *history.Run
	for i := range runs {
		if !strings.HasPrefix(runs[i].ID, id) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
		}
		match = &runs[i]
	}
	if match == nil {
		return nil, err
	}
	return match, nil
}

func printRuns(cmd *cobra.Command, runs []history.Run) error {
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}
	colorize := shouldColorize(out)
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		rows = append(rows, []string{
			shortID(run.ID),
			run.Pipeline,
			colorizeText(humanLabel(string(run.Status)), runStatusKind(run.Status), colorize),
			run.StartedAt.Local().Format(time.DateTime),
			formatDuration(run.Duration()),
			strconv.Itoa(len(run.Inputs)),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Run", "Pipeline", "Status", "Started", "Duration", "Inputs"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))
	return nil
}

func printRunDetail(cmd *cobra.Command, run *history.Run, events []history.Event) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Run "+run.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, renderStatusLine("Pipeline", statusInfo, run.Pipeline, colorize))
	fmt.Fprintln(out, renderStatusLine("Status", runStatusKind(run.Status), humanLabel(string(run.Status)), colorize))
	fmt.Fprintln(out, renderStatusLine("Started", statusInfo, run.StartedAt.Local().Format(time.DateTime), colorize))
	if run.FinishedAt != nil {
		fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
	}
	if run.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
	}
	for _, input := range run.Inputs {
		fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Input:", input)
	}
	fmt.Fprintln(out)

	if len(events) == 0 {
		fmt.Fprintln(out, "No stage events recorded")
		return nil
	}
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		detail := strings.Join(ev.Outputs, ", ")
		if ev.ErrorMessage != "" {
			detail = ev.ErrorMessage
		}
		rows = append(rows, []string{
			ev.CreatedAt.Local().Format(time.TimeOnly),
			ev.Stage,
			ev.Branch,
			colorizeText(humanLabel(ev.Event), eventKind(ev), colorize),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Time", "Stage", "Branch", "Event", "Detail"},
		rows,
		nil,
	))
	return nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(10 * time.Millisecond).String()
}
