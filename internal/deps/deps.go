package deps

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// Requirement names an external program a pipeline relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries resolves each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		switch {
		case cmd == "":
			status.Detail = "command not configured"
		default:
			if _, err := exec.LookPath(cmd); err != nil {
				status.Detail = fmt.Sprintf("binary %q not found", cmd)
			} else {
				status.Available = true
			}
		}
		results = append(results, status)
	}
	return results
}

// ProgramName returns the program a shell command template starts with,
// skipping leading VAR=value assignments. Templates that start with a
// variable reference or shell syntax yield "".
func ProgramName(command string) string {
	for _, field := range strings.Fields(command) {
		if strings.Contains(field, "=") && !strings.HasPrefix(field, "=") {
			continue
		}
		if strings.ContainsAny(field[:1], "$({[<>|&;'\"`") {
			return ""
		}
		return field
	}
	return ""
}

// CommandRequirements builds one optional requirement per distinct program
// used by the given command templates, plus a required entry for shell.
func CommandRequirements(shell string, commands []string) []Requirement {
	reqs := []Requirement{{
		Name:        "Shell",
		Command:     shell,
		Description: "Runs every stage command",
	}}
	seen := map[string]struct{}{}
	for _, command := range commands {
		program := ProgramName(command)
		if program == "" {
			continue
		}
		if _, ok := seen[program]; ok {
			continue
		}
		seen[program] = struct{}{}
		reqs = append(reqs, Requirement{
			Name:        filepath.Base(program),
			Command:     program,
			Description: "Used by a stage command",
			Optional:    true,
		})
	}
	return reqs
}
