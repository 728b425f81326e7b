package convert

import (
	"errors"
	"fmt"
)

var (
	ErrFileTooLarge      = errors.New("file exceeds maximum upload size")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrToolUnavailable   = errors.New("required conversion tool is not installed")
)

// NewErrUnknownCategory wraps ErrUnsupportedFormat so handlers map a bad
// category field to the same client error as a bad extension.
func NewErrUnknownCategory(name string) error {
	return fmt.Errorf("%w: unknown category %q", ErrUnsupportedFormat, name)
}
