package errors

import (
	stderrors "errors"
	"fmt"
)

var (
	ErrWorkerPanic           = fmt.Errorf("worker panic")
	ErrValidation            = fmt.Errorf("validation error")
	ErrPermission            = fmt.Errorf("permission denied")
	ErrTransport             = fmt.Errorf("transport error")
	ErrImport                = fmt.Errorf("import error")
	ErrDependencyUnavailable = fmt.Errorf("dependency unavailable")
	ErrRoomNotFound          = fmt.Errorf("room not found")
	ErrSuggestionNotFound    = fmt.Errorf("suggestion not found")
	ErrSuggestionResolved    = fmt.Errorf("suggestion already resolved")
	ErrConnectionClosed      = fmt.Errorf("connection closed")
	ErrSlowConsumer          = fmt.Errorf("outbound buffer full")
)

// Kind is the error category reported to clients in the "kind" field
// of an error message.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission"
	KindImport     Kind = "import"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

func KindOf(err error) Kind {
	switch {
	case stderrors.Is(err, ErrValidation), stderrors.Is(err, ErrSuggestionResolved):
		return KindValidation
	case stderrors.Is(err, ErrPermission):
		return KindPermission
	case stderrors.Is(err, ErrImport):
		return KindImport
	case stderrors.Is(err, ErrSuggestionNotFound), stderrors.Is(err, ErrRoomNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// Validationf wraps a formatted reason into ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permissionf wraps a formatted reason into ErrPermission.
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// Importf wraps a formatted reason into ErrImport.
func Importf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrImport, fmt.Sprintf(format, args...))
}

func Is(err, target error) bool {
	return stderrors.Is(err, target)
}
