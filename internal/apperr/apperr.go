// Package apperr defines the error taxonomy shared by the store, the
// services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrNudgeCooldown         = errors.New("nudge cooldown active")
)

// ValidationError is malformed or semantically invalid input. It maps to a
// 400 and is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
