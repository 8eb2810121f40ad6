package stage

import (
	"context"
	"sync/atomic"
)

// Body is the executable unit of a stage. It must keep all per-execution
// state in sc; the same Body value is shared across concurrent branches.
// Only joiners use the returned paths, which become the next inputs.
type Body func(ctx context.Context, sc *Context, bindings Bindings) ([]string, error)

// Definition describes a stage. It is never mutated by the runner.
type Definition struct {
	Name     string
	Body     Body
	Joiner   bool
	Branches []Branch
}

// Branch is a named sub-pipeline spawned after its parent stage.
type Branch struct {
	Name   string
	Stages []*Definition
}

// Stage is a single invocation of a Definition.
type Stage struct {
	def       *Definition
	sc        *Context
	name      atomic.Value
	running   atomic.Bool
	succeeded atomic.Bool
}

// New binds def to the per-execution context sc.
func New(def *Definition, sc *Context) *Stage {
	if sc == nil {
		sc = &Context{}
	}
	return &Stage{def: def, sc: sc}
}

// Name returns the resolved name, or the definition name before resolution.
func (s *Stage) Name() string {
	if v, ok := s.name.Load().(string); ok && v != "" {
		return v
	}
	return s.def.Name
}

func (s *Stage) setName(name string) { s.name.Store(name) }

// Definition returns the shared definition.
func (s *Stage) Definition() *Definition { return s.def }

// Context returns the execution context.
func (s *Stage) Context() *Context { return s.sc }

// Joiner reports whether the stage only glues sub-pipelines together.
func (s *Stage) Joiner() bool { return s.def.Joiner }

// Branches returns the child branches of the definition.
func (s *Stage) Branches() []Branch { return s.def.Branches }

// Running reports whether the body is executing.
func (s *Stage) Running() bool { return s.running.Load() }

// Succeeded reports whether the body and output inference completed.
func (s *Stage) Succeeded() bool { return s.succeeded.Load() }
