package scanerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline error. Kinds are stable strings; they are persisted
// as the failure kind of a job and returned to API callers.
type Kind string

const (
	KindArtifactInvalid       Kind = "ArtifactInvalid"
	KindRuleTimeout           Kind = "RuleTimeout"
	KindBudgetExceeded        Kind = "BudgetExceeded"
	KindScanInProgress        Kind = "ScanInProgress"
	KindNotFound              Kind = "NotFound"
	KindLockAcquisitionFailed Kind = "LockAcquisitionFailed"
	KindInfrastructure        Kind = "Infrastructure"
	KindDeadlineExceeded      Kind = "DeadlineExceeded"
	KindCancelled             Kind = "Cancelled"
	KindCancelNotAllowed      Kind = "CancelNotAllowed"
	KindInvalidRequest        Kind = "InvalidRequest"
)

// Sentinels for errors.Is. Any *Error matches the sentinel of its kind.
var (
	ErrArtifactInvalid       = &Error{Kind: KindArtifactInvalid}
	ErrRuleTimeout           = &Error{Kind: KindRuleTimeout}
	ErrBudgetExceeded        = &Error{Kind: KindBudgetExceeded}
	ErrScanInProgress        = &Error{Kind: KindScanInProgress}
	ErrNotFound              = &Error{Kind: KindNotFound}
	ErrLockAcquisitionFailed = &Error{Kind: KindLockAcquisitionFailed}
	ErrInfrastructure        = &Error{Kind: KindInfrastructure}
	ErrDeadlineExceeded      = &Error{Kind: KindDeadlineExceeded}
	ErrCancelled             = &Error{Kind: KindCancelled}
	ErrCancelNotAllowed      = &Error{Kind: KindCancelNotAllowed}
	ErrInvalidRequest        = &Error{Kind: KindInvalidRequest}
)

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Kind)
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same kind, so errors.Is(err, ErrNotFound) works
// for every NotFound error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind. A nil err yields nil.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInfrastructure for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}
