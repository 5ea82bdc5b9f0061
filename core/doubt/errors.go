package doubt

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/doubtbuddy/core"
)

// Kind distinguishes why a lifecycle operation was rejected.
type Kind string

const (
	KindInvalidState    Kind = "InvalidState"
	KindForbidden       Kind = "Forbidden"
	KindValidationError Kind = "ValidationError"
	KindConflict        Kind = "Conflict"
	KindNotFound        Kind = "NotFound"
	KindAlreadyRated    Kind = "AlreadyRated"
)

var (
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "question not found"}
	ErrConflict     = &Error{Kind: KindConflict, Message: "question was changed by someone else, reload and try again"}
	ErrAlreadyRated = &Error{Kind: KindAlreadyRated, Message: "question has already been rated"}
)

// Error is a rejected lifecycle operation. Message is meant for display.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func invalidState(q Question, ev Event) *Error {
	return newError(KindInvalidState, "cannot %s a question that is %s", ev, q.Status)
}

func forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func invalidInput(msg string) *Error {
	return &Error{Kind: KindValidationError, Message: msg}
}

// KindOf returns the Kind of err, looking through wrapped errors.
// Validation errors of the core package count as KindValidationError; anything else yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Kind
	}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return KindValidationError
	}
	var fldErrs validator.ValidationErrors
	if errors.As(err, &fldErrs) {
		return KindValidationError
	}
	return ""
}

// IsKind reports whether err is a rejection of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
