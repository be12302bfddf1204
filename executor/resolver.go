package executor

import (
	"fmt"
	"sync"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/memory"
	"go.uber.org/zap"
)

// Resolver answers a module's imports from one host namespace. Every
// function import must match a registered handler exactly, and at most one
// memory is provided, bounded by the resolver's page limit. A Resolver binds
// a single session.
type Resolver struct {
	cfg      resolverConfig
	registry *hostfunc.Registry
	table    *hostfunc.Table
	logger   *zap.Logger

	mu       sync.Mutex
	slots    map[string]hostfunc.Slot
	mem      *memory.Memory
	memField string
	inUse    bool
}

// NewResolver builds a resolver over a copy of reg, so registrations made
// for one session stay local to it.
func NewResolver(reg *hostfunc.Registry, opts ...ResolverOption) *Resolver {
	cfg := defaultResolverConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if reg == nil {
		reg = hostfunc.NewRegistry("env")
	}
	return &Resolver{
		cfg:      cfg,
		registry: reg.Clone(),
		table:    hostfunc.NewTable(),
		logger:   zap.NewNop(),
		slots:    make(map[string]hostfunc.Slot),
	}
}

// Namespace is the only import module name the resolver answers.
func (r *Resolver) Namespace() string {
	return r.Registry().Namespace()
}

// Registry is the resolver's own registry. Functions added here are visible
// to the session that binds this resolver.
func (r *Resolver) Registry() *hostfunc.Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry
}

func (r *Resolver) Table() *hostfunc.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table
}

// MaxMemoryPages is the configured page limit.
func (r *Resolver) MaxMemoryPages() uint32 {
	return r.cfg.maxMemoryPages
}

// ResolveFunc binds namespace.field to the registered handler and returns
// its slot. Resolving the same field again returns the same slot.
func (r *Resolver) ResolveFunc(namespace, field string, sig hostfunc.Signature) (hostfunc.Slot, error) {
	if namespace != r.Namespace() {
		return 0, importError(namespace, field, ErrUnknownImport)
	}
	entry, ok := r.Registry().Get(field)
	if !ok {
		return 0, importError(namespace, field, ErrUnknownImport)
	}
	if !entry.Signature.Equal(sig) {
		return 0, importError(namespace, field,
			fmt.Errorf("%w: module declares %s, host provides %s", ErrSignatureMismatch, sig, entry.Signature))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[field]; ok {
		return slot, nil
	}
	slot := r.table.Bind(namespace, field, entry.Signature, entry.Fn)
	r.slots[field] = slot
	r.logger.Debug("import resolved",
		zap.String("namespace", namespace),
		zap.String("field", field),
		zap.Stringer("signature", entry.Signature),
		zap.Uint32("slot", uint32(slot)),
	)
	return slot, nil
}

// ResolveMemory allocates the memory for namespace.field. A memory without
// a declared maximum is treated as asking for more than the limit.
func (r *Resolver) ResolveMemory(namespace, field string, limits memory.Limits) (*memory.Memory, error) {
	if namespace != r.Namespace() {
		return nil, importError(namespace, field, ErrUnknownImport)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mem != nil {
		if r.memField != field {
			return nil, importError(namespace, field,
				fmt.Errorf("%w: already bound %s", ErrMultipleMemories, r.memField))
		}
		return r.mem, nil
	}
	if field != r.cfg.memoryField {
		return nil, importError(namespace, field, ErrUnknownImport)
	}

	maxAllowed := r.cfg.maxMemoryPages
	effectiveMax := uint64(maxAllowed) + 1
	if limits.HasMaximum {
		effectiveMax = uint64(limits.Maximum)
	}
	if limits.Initial > maxAllowed || effectiveMax > uint64(maxAllowed) {
		return nil, importError(namespace, field,
			fmt.Errorf("%w: module declares %s, limit is %d pages", ErrMemoryLimitExceeded, limits, maxAllowed))
	}

	mem, err := memory.New(limits)
	if err != nil {
		return nil, importError(namespace, field, err)
	}
	r.mem = mem
	r.memField = field
	r.table.BindMemory(mem)
	r.logger.Debug("memory resolved",
		zap.String("namespace", namespace),
		zap.String("field", field),
		zap.Stringer("limits", limits),
	)
	return mem, nil
}

// Memory returns the bound memory, or a zero-sized placeholder when the
// module imports none.
func (r *Resolver) Memory() *memory.Memory {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return r.table.Memory()
	}
	return r.mem
}

func (r *Resolver) memoryField() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.memField, r.mem != nil
}

func (r *Resolver) acquire(logger *zap.Logger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inUse {
		return ErrResolverInUse
	}
	r.inUse = true
	r.logger = logger
	return nil
}

// resolve answers every import of mod. The first failure aborts and leaves
// nothing bound.
func (r *Resolver) resolve(mod *Module) error {
	for _, imp := range mod.Imports() {
		if err := r.resolveImport(imp); err != nil {
			r.unbind()
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveImport(imp ImportRequest) error {
	switch imp.Kind {
	case ImportFunc:
		if imp.Err != nil {
			return importError(imp.Namespace, imp.Field, fmt.Errorf("%w: %v", ErrSignatureMismatch, imp.Err))
		}
		_, err := r.ResolveFunc(imp.Namespace, imp.Field, imp.Signature)
		return err
	case ImportMemory:
		_, err := r.ResolveMemory(imp.Namespace, imp.Field, imp.Limits)
		return err
	}
	return importError(imp.Namespace, imp.Field, fmt.Errorf("%w: %s imports are not provided", ErrUnknownImport, imp.Kind))
}

// unbind drops every slot and the memory.
func (r *Resolver) unbind() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table = hostfunc.NewTable()
	r.slots = make(map[string]hostfunc.Slot)
	r.mem = nil
	r.memField = ""
}

// release returns a resolver whose session could not be created to its
// state before acquire, with reg as its registry again.
func (r *Resolver) release(reg *hostfunc.Registry) {
	r.unbind()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registry = reg
	r.inUse = false
	r.logger = zap.NewNop()
}
