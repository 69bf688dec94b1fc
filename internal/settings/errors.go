package settings

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalid is wrapped by every FieldError.
	ErrInvalid = errors.New("settings: invalid value")

	// ErrNotLoaded is returned when the store is used before Load.
	ErrNotLoaded = errors.New("settings: not loaded")

	// ErrInvalidHash is returned for malformed password hashes.
	ErrInvalidHash = errors.New("settings: invalid password hash")
)

// FieldError describes one rejected field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrInvalid
}

// FieldErrors extracts every FieldError joined into err.
func FieldErrors(err error) []*FieldError {
	var out []*FieldError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if fe, ok := e.(*FieldError); ok {
			out = append(out, fe)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		walk(errors.Unwrap(e))
	}
	walk(err)
	return out
}
