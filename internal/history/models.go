package history

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunAborted   RunStatus = "aborted"
)

// Run is one pipeline execution.
type Run struct {
	ID           string
	Pipeline     string
	Inputs       []string
	Status       RunStatus
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// Duration is the elapsed time of a finished run, or zero.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Event is one recorded stage lifecycle event.
type Event struct {
	ID           int64
	RunID        string
	Stage        string
	Branch       string
	Event        string
	Description  string
	ErrorMessage string
	Outputs      []string
	CreatedAt    time.Time
}
