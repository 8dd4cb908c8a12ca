package model

import (
	"errors"
	"fmt"
)

// InvalidNetworkError reports input that cannot form a network: no comparisons,
// fewer than two treatments or a malformed record. The caller must fix the input.
type InvalidNetworkError struct {
	Reason string
}

func (e *InvalidNetworkError) Error() string {
	return fmt.Sprintf("invalid network: %s", e.Reason)
}

// NewInvalidNetworkError formats a new InvalidNetworkError
func NewInvalidNetworkError(format string, args ...any) error {
	return &InvalidNetworkError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidNetwork returns true if err is or wraps an InvalidNetworkError
func IsInvalidNetwork(err error) bool {
	var target *InvalidNetworkError
	return errors.As(err, &target)
}
