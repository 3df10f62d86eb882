package order

import (
	"errors"
	"fmt"
)

// ErrValidation 是所有校验失败的根错误。
var ErrValidation = errors.New("order: validation failed")

// ValidationError 指明被违反的字段。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
