package protocol

import (
	"errors"
	"fmt"
)

// ProtocolError represents a negative result reported by the bootloader.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// Result is the result code from the bootloader
	Result Result
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X, %s)", e.Operation, e.Result, byte(e.Result), e.Result.Description())
}

// IsProtocolError returns true if err is or wraps a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// ResultOf returns the bootloader result wrapped in err, if any.
func ResultOf(err error) (Result, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Result, true
	}
	return 0, false
}
