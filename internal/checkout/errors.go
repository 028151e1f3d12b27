package checkout

import (
	"errors"
	"strings"
)

var (
	// ErrUnknownField is returned when an input event names a field the form does not have
	ErrUnknownField = errors.New("checkout: unknown field")

	// ErrUnknownEnrollment is returned for radio values outside the enrollment set
	ErrUnknownEnrollment = errors.New("checkout: unknown enrollment option")

	// ErrStepOutOfOrder is returned when an action is not valid for the current step
	ErrStepOutOfOrder = errors.New("checkout: action not allowed at this step")

	// ErrSessionNotFound is returned when a session id is unknown or expired
	ErrSessionNotFound = errors.New("checkout: session not found")

	// ErrRegistryClosed is returned when sessions are requested after shutdown
	ErrRegistryClosed = errors.New("checkout: registry closed")

	// ErrInvalidToken is returned when a session token cannot be verified
	ErrInvalidToken = errors.New("checkout: invalid session token")

	// ErrValidation matches any *ValidationError via errors.Is
	ErrValidation = errors.New("checkout: validation failed")
)

// Validation messages shown to the learner.
const (
	MsgFirstNameRequired = "Please enter your first name"
	MsgLastNameRequired  = "Please enter your last name"
	MsgPhoneRequired     = "Please enter your phone number"
	MsgPhoneInvalid      = "Please enter a valid phone number"
	MsgEmailRequired     = "Please enter your email address"
	MsgEmailInvalid      = "Please enter a valid email address"
)

// FieldError is a single failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists failed checks in guard order, at most one per field.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Message)
	}
	return strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// First is the earliest failing guard.
func (e *ValidationError) First() FieldError {
	if e == nil || len(e.Errors) == 0 {
		return FieldError{}
	}
	return e.Errors[0]
}

// Focus names the input that should receive focus.
func (e *ValidationError) Focus() string {
	return e.First().Field
}

// For returns the message for field, or "".
func (e *ValidationError) For(field string) string {
	if e == nil {
		return ""
	}
	for _, fe := range e.Errors {
		if fe.Field == field {
			return fe.Message
		}
	}
	return ""
}

func (e *ValidationError) add(field, msg string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: msg})
}
