package pipeline

import (
	"maps"
	"sync"

	"github.com/booksapi/release-pipeline/internal/core/domain"
)

// Variables holds the output variables published during a run, keyed by
// namespace. It is safe for concurrent use by actions of the same runOrder
// group.
type Variables struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

// NewVariables returns an empty registry.
func NewVariables() *Variables {
	return &Variables{values: make(map[string]map[string]string)}
}

// Publish records the variables of a completed action.
func (v *Variables) Publish(namespace string, vars map[string]string) {
	if namespace == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	ns := make(map[string]string, len(vars))
	maps.Copy(ns, vars)
	v.values[namespace] = ns
}

// Lookup resolves a single reference.
func (v *Variables) Lookup(ref domain.VariableRef) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ns, ok := v.values[ref.Namespace]
	if !ok {
		return "", false
	}
	val, ok := ns[ref.Key]
	return val, ok
}

// Namespace returns a copy of the variables published under namespace.
func (v *Variables) Namespace(namespace string) (map[string]string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	ns, ok := v.values[namespace]
	if !ok {
		return nil, false
	}
	return maps.Clone(ns), true
}

// Snapshot returns a deep copy of every published namespace.
func (v *Variables) Snapshot() map[string]map[string]string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string]map[string]string, len(v.values))
	for ns, vars := range v.values {
		out[ns] = maps.Clone(vars)
	}
	return out
}

// Resolve expands every value of env against the registry.
func (v *Variables) Resolve(env map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(env))
	for k, raw := range env {
		val, err := domain.ExpandVariables(raw, v.Lookup)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}
