package quotation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")

	// устаревшая версия при обновлении
	ErrConflict = errors.New("version conflict")
)

// Error хранит вид ошибки и поле, которое её вызвало.
// errors.Is сравнивает по Kind
type Error struct {
	Kind   error
	Field  string
	Reason string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidField строит ошибку валидации для проверок до вызова движка
func InvalidField(field, reason string) error {
	return &Error{Kind: ErrValidation, Field: field, Reason: reason}
}
