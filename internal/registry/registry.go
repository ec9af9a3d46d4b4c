// Package registry implements the Procedure Registry: an ordered,
// concurrency-safe table mapping a builtin name to its audit/remediate
// functions and parameter schema.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wharflab/complianceengine/internal/cctx"
	"github.com/wharflab/complianceengine/internal/status"
)

// AuditFunc is the function pointer a builtin registers for the audit
// action. rawArgs has already had $-references substituted by the
// evaluator; the builtin binds it into its own typed parameter struct via
// bindings.Bind.
type AuditFunc func(ctx Context, rawArgs map[string]string) status.Result[status.Status]

// RemediateFunc mirrors AuditFunc for the remediate action.
type RemediateFunc func(ctx Context, rawArgs map[string]string) status.Result[status.Status]

// Context is the full evaluator-facing environment a builtin runs with:
// log handle, command runner, file reader, clock, tempdir, and the
// indicator tree it writes evidence into.
type Context = cctx.Context

// Builtin is one immutable registry entry: a name, optional audit and
// remediate functions, the parameter names its schema accepts, and a
// human-readable description. FieldNames and Description feed the CLI's
// builtins listing; argument validation itself happens in
// internal/bindings against the builtin's own parameter struct.
type Builtin struct {
	Name        string
	Audit       AuditFunc
	Remediate   RemediateFunc
	FieldNames  []string
	Description string
}

// Registry is the ordered table of builtins. Zero value is not usable; use
// New.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Builtin
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{items: make(map[string]Builtin)}
}

// Register adds a builtin to the registry. A duplicate name is a
// programming error caught at init time, not a runtime condition, so it
// panics rather than returning an error.
func (r *Registry) Register(b Builtin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[b.Name]; exists {
		panic(fmt.Sprintf("builtin %q already registered", b.Name))
	}
	r.items[b.Name] = b
}

// Get returns the builtin registered under name, if any.
func (r *Registry) Get(name string) (Builtin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.items[name]
	return b, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[name]
	return ok
}

// All returns every registered builtin sorted by name.
func (r *Registry) All() []Builtin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Builtin, 0, len(r.items))
	for _, b := range r.items {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns every registered builtin name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// defaultRegistry is the process-wide registry that builtin families
// register themselves into via init().
var defaultRegistry = New()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// Register adds b to the default registry.
func Register(b Builtin) {
	defaultRegistry.Register(b)
}

// Get looks up name in the default registry.
func Get(name string) (Builtin, bool) {
	return defaultRegistry.Get(name)
}

// Names returns every name in the default registry, sorted.
func Names() []string {
	return defaultRegistry.Names()
}
