package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record file or type directory is absent.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidKey is returned for contexts that cannot name a file.
	ErrInvalidKey = errors.New("invalid record key")
)

// DecodeError reports a record file whose content does not decode to the
// requested type.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
