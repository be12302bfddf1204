package hostfunc

import (
	"sort"
	"sync"
)

// Entry is a registered host function.
type Entry struct {
	Name      string
	Signature Signature
	Fn        Func
}

// Registry holds the host functions a guest may import from one namespace.
type Registry struct {
	namespace string
	mu        sync.RWMutex
	funcs     map[string]Entry
}

func NewRegistry(namespace string) *Registry {
	return &Registry{namespace: namespace, funcs: make(map[string]Entry)}
}

func (r *Registry) Namespace() string {
	return r.namespace
}

// Register adds fn under name, replacing any earlier registration.
func (r *Registry) Register(name string, sig Signature, fn Func) {
	r.mu.Lock()
	r.funcs[name] = Entry{Name: name, Signature: sig, Fn: fn}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	e, ok := r.funcs[name]
	r.mu.RUnlock()
	return e, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy, so per-session registrations do not
// leak into the original.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{namespace: r.namespace, funcs: make(map[string]Entry, len(r.funcs))}
	for name, e := range r.funcs {
		c.funcs[name] = e
	}
	return c
}
