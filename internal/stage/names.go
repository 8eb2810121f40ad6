package stage

import (
	"strconv"
	"sync"
)

// NameRegistry resolves display names for one pipeline run. Unnamed
// definitions get the next number from the run's counter, remembered per
// definition.
type NameRegistry struct {
	mu      sync.Mutex
	names   map[*Definition]string
	counter int
}

// NewNameRegistry returns an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{names: make(map[*Definition]string)}
}

// Register assigns name to def for the lifetime of the registry.
func (r *NameRegistry) Register(def *Definition, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[def] = name
}

// Resolve returns the definition's own name, its registered name, or a
// counter-assigned number.
func (r *NameRegistry) Resolve(def *Definition) string {
	if def.Name != "" {
		return def.Name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.names[def]; ok {
		return name
	}
	r.counter++
	name := strconv.Itoa(r.counter)
	r.names[def] = name
	return name
}
