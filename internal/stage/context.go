package stage

// Binding keys the runner injects for every body call.
const (
	BindInput  = "input"
	BindInputs = "inputs"
	BindDir    = "dir"
)

// Bindings are named values made available to a body. The runner passes a
// fresh merged copy on each call.
type Bindings map[string]any

// Merge returns a new map holding b overlaid with each of others in order.
func (b Bindings) Merge(others ...Bindings) Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	for _, other := range others {
		for k, v := range other {
			out[k] = v
		}
	}
	return out
}

// String returns the binding under key when it is a string.
func (b Bindings) String(key string) (string, bool) {
	v, ok := b[key].(string)
	return v, ok
}

// Context is the mutable state of one stage execution. It is never shared
// between executions.
type Context struct {
	Input         []string
	Output        []string
	DefaultOutput string
	NextInputs    []string
	// OutputMask holds file name suffixes excluded from output inference.
	OutputMask []string
	OutputDir  string
	// TrackedOutputs maps command text to the outputs it produced.
	TrackedOutputs map[string][]string
	// UncleanFile is truncated after a successful body.
	UncleanFile string
	StageName   string
	Branch      string
	// BranchApplied is set once the branch name has been added to a default output.
	BranchApplied bool
}

// SetOutput declares the stage's explicit outputs.
func (c *Context) SetOutput(paths ...string) {
	c.Output = append([]string(nil), paths...)
}

// Forward sets the next stage's inputs directly, bypassing inference.
func (c *Context) Forward(paths ...string) {
	c.NextInputs = append([]string(nil), paths...)
}

// TrackOutput records outputs produced by command for fingerprinting.
func (c *Context) TrackOutput(command string, outputs ...string) {
	if c.TrackedOutputs == nil {
		c.TrackedOutputs = make(map[string][]string)
	}
	c.TrackedOutputs[command] = append(c.TrackedOutputs[command], outputs...)
}

// FirstInput returns the first input or "".
func (c *Context) FirstInput() string {
	if len(c.Input) == 0 {
		return ""
	}
	return c.Input[0]
}

// Outputs returns the explicit outputs, falling back to the default output.
func (c *Context) Outputs() []string {
	if len(c.Output) > 0 {
		return c.Output
	}
	if c.DefaultOutput != "" {
		return []string{c.DefaultOutput}
	}
	return nil
}
