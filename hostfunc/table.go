package hostfunc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/wasmgate/memory"
	"github.com/caffeineduck/wasmgate/trap"
)

// Slot identifies a bound import within one Table. Slots start at 1 and are
// never reused or rebound.
type Slot uint32

// Binding is the immutable target of a slot.
type Binding struct {
	Slot      Slot
	Namespace string
	Field     string
	Signature Signature
	Fn        Func
}

// Observer is told about every dispatched call. err is nil on success and a
// *trap.Trap otherwise.
type Observer func(b Binding, err error)

// Table maps slots to host functions and dispatches guest calls to them.
type Table struct {
	mu       sync.RWMutex
	bindings []Binding
	mem      *memory.Memory
	observer Observer
}

func NewTable() *Table {
	return &Table{mem: memory.Empty()}
}

// Bind assigns the next slot to fn.
func (t *Table) Bind(namespace, field string, sig Signature, fn Func) Slot {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := Slot(len(t.bindings) + 1)
	t.bindings = append(t.bindings, Binding{
		Slot:      slot,
		Namespace: namespace,
		Field:     field,
		Signature: sig,
		Fn:        fn,
	})
	return slot
}

// BindMemory sets the memory passed to handlers.
func (t *Table) BindMemory(m *memory.Memory) {
	t.mu.Lock()
	t.mem = m
	t.mu.Unlock()
}

func (t *Table) Memory() *memory.Memory {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mem
}

// Observe installs o, replacing any previous observer.
func (t *Table) Observe(o Observer) {
	t.mu.Lock()
	t.observer = o
	t.mu.Unlock()
}

func (t *Table) Lookup(slot Slot) (Binding, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot == 0 || int(slot) > len(t.bindings) {
		return Binding{}, false
	}
	return t.bindings[slot-1], true
}

// Bindings returns every binding in slot order.
func (t *Table) Bindings() []Binding {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Binding, len(t.bindings))
	copy(out, t.bindings)
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bindings)
}

// Invoke dispatches a guest call. Every failure comes back as a *trap.Trap;
// a panicking handler is recovered here.
func (t *Table) Invoke(ctx context.Context, slot Slot, args []Value) (Value, error) {
	b, ok := t.Lookup(slot)
	if !ok {
		return Void, trap.Newf(trap.UndefinedImportInvoked, "slot %d", slot)
	}
	t.mu.RLock()
	mem, observer := t.mem, t.observer
	t.mu.RUnlock()

	result, err := dispatch(ctx, b, mem, args)
	if observer != nil {
		observer(b, err)
	}
	return result, err
}

func dispatch(ctx context.Context, b Binding, mem *memory.Memory, args []Value) (result Value, err error) {
	if err := checkArgs(b, args); err != nil {
		return Void, err
	}

	defer func() {
		if r := recover(); r != nil {
			result = Void
			if e, ok := r.(error); ok {
				err = toTrap(b, e)
				return
			}
			err = trap.Newf(trap.HostSignaledAbort, "%s: panic: %v", b.Field, r)
		}
	}()

	result, err = b.Fn(&Call{ctx: ctx, Name: b.Field, Args: args, Memory: mem})
	if err != nil {
		return Void, toTrap(b, err)
	}
	if result.Kind() != b.Signature.Result {
		return Void, trap.Newf(trap.TypeMismatch, "%s: returned %s, signature wants %s",
			b.Field, result.Kind(), b.Signature.Result)
	}
	return result, nil
}

func checkArgs(b Binding, args []Value) error {
	if len(args) != len(b.Signature.Params) {
		return trap.Newf(trap.TypeMismatch, "%s: got %d arguments, signature %s",
			b.Field, len(args), b.Signature)
	}
	for i, a := range args {
		if a.Kind() != b.Signature.Params[i] {
			return trap.Newf(trap.TypeMismatch, "%s: argument %d is %s, signature %s",
				b.Field, i, a.Kind(), b.Signature)
		}
	}
	return nil
}

func toTrap(b Binding, err error) *trap.Trap {
	if t, ok := trap.As(err); ok {
		return t
	}
	if errors.Is(err, memory.ErrOutOfBounds) {
		return trap.Wrap(trap.MemoryAccessOutOfBounds, fmt.Errorf("%s: %w", b.Field, err))
	}
	return trap.Abort(fmt.Errorf("%s: %w", b.Field, err))
}
