package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrNotFoundOrForbidden = errors.New("not found")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrGateway             = errors.New("payment gateway error")
	ErrGatewayTimeout      = errors.New("payment gateway timeout")
	ErrSignatureInvalid    = errors.New("webhook signature invalid")
	ErrAccessRequired      = errors.New("access requirement not met")
	ErrConcurrentUpdate    = errors.New("transaction was modified concurrently")
)

// Validation wraps ErrValidation with a message
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// PreconditionError means the entity exists but is in the wrong state.
// Conceal makes the transport report it as not found so party-scoped
// callers cannot infer internal status.
type PreconditionError struct {
	Reason  string
	Conceal bool
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPreconditionFailed, e.Reason)
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// Precondition returns a concealed precondition failure
func Precondition(reason string) error {
	return &PreconditionError{Reason: reason, Conceal: true}
}

// StatelessPrecondition returns a precondition failure that may be shown as is
func StatelessPrecondition(reason string) error {
	return &PreconditionError{Reason: reason}
}

// ErrNotOverdue is returned by the late fee transition before the end date has passed
var ErrNotOverdue = StatelessPrecondition("not overdue")

// AccessError carries the first unmet access gate step
type AccessError struct {
	NextStep AccessStep
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("%s: next step %s", ErrAccessRequired, e.NextStep)
}

func (e *AccessError) Is(target error) bool {
	return target == ErrAccessRequired
}
