package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")

	ErrInvalidSessionState   = errors.New("invalid session state")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrLeaseConflict         = errors.New("lease conflict")
	ErrValidation            = errors.New("validation failure")
	ErrTransientCollaborator = errors.New("transient collaborator error")
	ErrPermanentCollaborator = errors.New("permanent collaborator error")
	ErrStorage               = errors.New("storage failure")
	ErrUnsupportedFormat     = errors.New("unsupported import format")
	ErrEmptyImport           = errors.New("import contains no candidates")
)

// kindError tags a cause with one of the sentinels above while keeping the
// cause reachable through errors.Is / errors.As.
type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *kindError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

func wrapKind(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &kindError{kind: kind, cause: cause}
}

func Transient(err error) error {
	return wrapKind(ErrTransientCollaborator, err)
}

func Permanent(err error) error {
	return wrapKind(ErrPermanentCollaborator, err)
}

func Storage(err error) error {
	return wrapKind(ErrStorage, err)
}

func Validation(format string, args ...interface{}) error {
	return &kindError{kind: ErrValidation, cause: fmt.Errorf(format, args...)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientCollaborator)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanentCollaborator)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

func IsLeaseConflict(err error) bool {
	return errors.Is(err, ErrLeaseConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Cause returns the message of the wrapped cause without the category prefix.
func Cause(err error) string {
	var ke *kindError
	if errors.As(err, &ke) && ke.cause != nil {
		return ke.cause.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
