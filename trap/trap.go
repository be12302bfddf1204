package trap

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why an invocation stopped abnormally.
type Kind int

const (
	Unreachable Kind = iota + 1
	StackOverflow
	MemoryAccessOutOfBounds
	TypeMismatch
	UndefinedImportInvoked
	HostSignaledAbort
	IntegerDivideByZero
	IntegerOverflow
	InvalidConversionToInteger
	TableAccessOutOfBounds
)

var kindNames = map[Kind]string{
	Unreachable:                "unreachable",
	StackOverflow:              "stack_overflow",
	MemoryAccessOutOfBounds:    "memory_access_out_of_bounds",
	TypeMismatch:               "type_mismatch",
	UndefinedImportInvoked:     "undefined_import_invoked",
	HostSignaledAbort:          "host_signaled_abort",
	IntegerDivideByZero:        "integer_divide_by_zero",
	IntegerOverflow:            "integer_overflow",
	InvalidConversionToInteger: "invalid_conversion_to_integer",
	TableAccessOutOfBounds:     "table_access_out_of_bounds",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Kinds returns every defined kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		Unreachable, StackOverflow, MemoryAccessOutOfBounds, TypeMismatch,
		UndefinedImportInvoked, HostSignaledAbort, IntegerDivideByZero,
		IntegerOverflow, InvalidConversionToInteger, TableAccessOutOfBounds,
	}
}

// Trap terminates an invocation. Reason is free text, set for host aborts
// and for engine traps whose message adds detail.
type Trap struct {
	Kind   Kind
	Reason string
	Cause  error
}

// New returns a trap of kind k.
func New(k Kind, reason string) *Trap {
	return &Trap{Kind: k, Reason: reason}
}

// Newf returns a trap of kind k with a formatted reason.
func Newf(k Kind, format string, args ...any) *Trap {
	return &Trap{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

// Abort returns a HostSignaledAbort trap carrying err.
func Abort(err error) *Trap {
	return &Trap{Kind: HostSignaledAbort, Reason: err.Error(), Cause: err}
}

// Wrap returns a trap of kind k caused by err.
func Wrap(k Kind, err error) *Trap {
	return &Trap{Kind: k, Reason: err.Error(), Cause: err}
}

func (t *Trap) Error() string {
	if t.Reason == "" {
		return "trap: " + t.Kind.String()
	}
	return "trap: " + t.Kind.String() + ": " + t.Reason
}

func (t *Trap) Unwrap() error {
	return t.Cause
}

// Is matches any trap of the same kind, so errors.Is(err, trap.New(k, ""))
// tests for a kind.
func (t *Trap) Is(target error) bool {
	var other *Trap
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == t.Kind
}

// Recoverable reports whether the instance is still consistent after the
// trap. A stack overflow unwinds every frame before it surfaces.
func (t *Trap) Recoverable() bool {
	return t.Kind == StackOverflow
}

// As extracts the first trap in err's chain.
func As(err error) (*Trap, bool) {
	var t *Trap
	if errors.As(err, &t) {
		return t, true
	}
	return nil, false
}

// KindOf returns the kind of the first trap in err's chain.
func KindOf(err error) (Kind, bool) {
	if t, ok := As(err); ok {
		return t.Kind, true
	}
	return 0, false
}

const engineErrorPrefix = "wasm error: "

var engineReasons = []struct {
	text string
	kind Kind
}{
	{"stack overflow", StackOverflow},
	{"unreachable", Unreachable},
	{"out of bounds memory access", MemoryAccessOutOfBounds},
	{"indirect call type mismatch", TypeMismatch},
	{"integer divide by zero", IntegerDivideByZero},
	{"integer overflow", IntegerOverflow},
	{"invalid conversion to integer", InvalidConversionToInteger},
	{"invalid table access", TableAccessOutOfBounds},
}

// Classify maps an error returned by the engine to a trap. A *Trap anywhere
// in the chain wins. Otherwise the engine's "wasm error: <reason>" text is
// matched. The second result is false when err is not a trap at all.
func Classify(err error) (*Trap, bool) {
	if err == nil {
		return nil, false
	}
	if t, ok := As(err); ok {
		return t, true
	}
	msg := err.Error()
	idx := strings.Index(msg, engineErrorPrefix)
	if idx < 0 {
		return nil, false
	}
	reason := msg[idx+len(engineErrorPrefix):]
	if nl := strings.IndexByte(reason, '\n'); nl >= 0 {
		reason = reason[:nl]
	}
	for _, r := range engineReasons {
		if strings.HasPrefix(reason, r.text) {
			return &Trap{Kind: r.kind, Cause: err}, true
		}
	}
	return nil, false
}
