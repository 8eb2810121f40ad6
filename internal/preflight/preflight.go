package preflight

import (
	"errors"
	"fmt"
	"strings"

	"stagehand/internal/config"
	"stagehand/internal/deps"
	"stagehand/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name    string
	Passed  bool
	Warning bool
	Detail  string
}

// RunAll checks the configured directories and the programs used by commands.
func RunAll(cfg *config.Config, commands []string) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	statuses := deps.CheckBinaries(deps.CommandRequirements(cfg.Pipeline.Shell, commands))
	return append(results, CheckPrograms(statuses)...)
}

// Err joins the failed results into a configuration error, or returns nil.
func Err(results []Result) error {
	var failed []string
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "preflight", "check environment",
		strings.Join(failed, "; "), errors.New("preflight failed"))
}
