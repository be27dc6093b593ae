package models

import (
	"errors"
	"fmt"
)

var (
	ErrPathViolation   = errors.New("path escapes storage root")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrIncomplete      = errors.New("upload incomplete")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal error")

	// Уточнения, которые остаются InvalidArgument для errors.Is.
	ErrTooLarge         = fmt.Errorf("%w: file too large", ErrInvalidArgument)
	ErrUnsupportedMedia = fmt.Errorf("%w: content does not match declared type", ErrInvalidArgument)

	// ErrBusy — сессия сейчас собирается и не принимает изменений.
	ErrBusy = errors.New("upload session is busy")
)

// Internal оборачивает ошибку файловой системы в ErrInternal, сохраняя исходную причину.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// Invalid формирует ErrInvalidArgument с пояснением.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
