package executor

import (
	"errors"
	"fmt"
)

var (
	ErrParse               = errors.New("invalid module")
	ErrUnknownImport       = errors.New("unknown import")
	ErrSignatureMismatch   = errors.New("import signature mismatch")
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")
	ErrMultipleMemories    = errors.New("multiple memories")
	ErrResolverInUse       = errors.New("resolver already bound to a session")
	ErrExportNotFound      = errors.New("export not found")
	ErrUnsupportedExport   = errors.New("unsupported export signature")
	ErrEngineFault         = errors.New("engine fault")
	ErrTimeout             = errors.New("invocation timed out")
	ErrSessionClosed       = errors.New("session closed")
	ErrExecutorClosed      = errors.New("executor closed")
)

// ImportError reports the import that stopped instantiation.
type ImportError struct {
	Namespace string
	Field     string
	Err       error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s.%s: %v", e.Namespace, e.Field, e.Err)
}

func (e *ImportError) Unwrap() error {
	return e.Err
}

func importError(namespace, field string, err error) error {
	return &ImportError{Namespace: namespace, Field: field, Err: err}
}
