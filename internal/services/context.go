package services

import "context"

type contextKey string

const (
	runIDKey  contextKey = "run_id"
	stageKey  contextKey = "stage"
	branchKey contextKey = "branch"
)

// WithRunID annotates context with the pipeline run identifier.
func WithRunID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext extracts the pipeline run identifier if present.
func RunIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the resolved stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(stageKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}

// WithBranch annotates context with the branch (sub-pipeline) name.
func WithBranch(ctx context.Context, branch string) context.Context {
	if branch == "" {
		return ctx
	}
	return context.WithValue(ctx, branchKey, branch)
}

// BranchFromContext returns the branch name if present.
func BranchFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(branchKey)
	if str, ok := v.(string); ok && str != "" {
		return str, true
	}
	return "", false
}
