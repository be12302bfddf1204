package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/trap"
	"github.com/tetratelabs/wazero/sys"
)

// Status is how an invocation ended.
type Status int

const (
	// Completed means the export returned; Value holds its result.
	Completed Status = iota
	// Trapped means the guest was stopped by a trap; Trap says which.
	Trapped
	// Failed means the host could not run or finish the call; Error says why.
	Failed
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Trapped:
		return "trapped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result holds the outcome and metadata of one invocation.
type Result struct {
	Status   Status
	Value    hostfunc.Value
	Trap     *trap.Trap
	Error    error
	Duration time.Duration
}

// Err returns nil for a completed invocation, the trap or the host error
// otherwise.
func (r Result) Err() error {
	switch r.Status {
	case Trapped:
		return r.Trap
	case Failed:
		return r.Error
	}
	return nil
}

func (r Result) String() string {
	switch r.Status {
	case Completed:
		return "completed: " + r.Value.String()
	case Trapped:
		return "trapped: " + r.Trap.Kind.String()
	}
	return "failed: " + r.Error.Error()
}

func failed(err error, start time.Time) Result {
	return Result{Status: Failed, Error: err, Duration: time.Since(start)}
}

func trapped(t *trap.Trap, start time.Time) Result {
	return Result{Status: Trapped, Trap: t, Duration: time.Since(start)}
}

// classify turns an engine call error into a result. Traps win; an engine
// exit caused by the context is a timeout; anything else is an engine fault.
func classify(err error, timeout time.Duration, start time.Time) Result {
	if t, ok := trap.Classify(err); ok {
		return trapped(t, start)
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch exitErr.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return failed(fmt.Errorf("%w after %v", ErrTimeout, timeout), start)
		case sys.ExitCodeContextCanceled:
			return failed(fmt.Errorf("%w: %w", ErrTimeout, context.Canceled), start)
		}
	}
	return failed(fmt.Errorf("%w: %w", ErrEngineFault, err), start)
}
