package bootloader

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

// ErrInterrupted is returned when the context is cancelled during an update.
// The device is left in bootloader mode.
var ErrInterrupted = errors.New("update interrupted")

func interrupted(err error) error {
	return fmt.Errorf("%w: %w", ErrInterrupted, err)
}

// UpdaterError indicates that a command could not be completed, either
// because its retry budget ran out or because of a non-retryable failure.
type UpdaterError struct {
	Command  protocol.Command
	Attempts int
	Err      error
}

func (e *UpdaterError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Command, e.Attempts, e.Err)
}

func (e *UpdaterError) Unwrap() error { return e.Err }

// FrameTooLargeError indicates a message longer than the protocol allows.
type FrameTooLargeError struct {
	Command protocol.Command
	Size    int
	Max     int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("%s frame too large: %d bytes, maximum is %d", e.Command, e.Size, e.Max)
}

// ProtocolMismatchError indicates that tool and bootloader versions are not
// compatible. ToolTooOld is set when the bootloader rejected the tool.
type ProtocolMismatchError struct {
	Bootloader protocol.Version
	Required   protocol.Version
	ToolTooOld bool
}

func (e *ProtocolMismatchError) Error() string {
	if e.ToolTooOld {
		return fmt.Sprintf("protocol mismatch: bootloader requires tool version %s or newer", e.Required)
	}
	return fmt.Sprintf("protocol mismatch: bootloader version %s is not supported, %s or newer required",
		e.Bootloader, e.Required)
}

// OffsetError indicates that the image would overwrite the bootloader.
type OffsetError struct {
	ImageStart              uint32
	ApplicationFirstAddress uint32
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("image starts at 0x%04X but firmware must start at or beyond 0x%04X, check the linker offset",
		e.ImageStart, e.ApplicationFirstAddress)
}

// ProgrammingModeError indicates that the devices in programming mode are not
// the ones expected.
type ProgrammingModeError struct {
	// Expected is the device that should be in programming mode, nil if none should be
	Expected *transport.Address

	// Found lists the devices in programming mode
	Found []transport.Address
}

func (e *ProgrammingModeError) Error() string {
	if len(e.Found) == 0 {
		return "no device in programming mode"
	}
	found := make([]string, len(e.Found))
	for i, a := range e.Found {
		found[i] = a.String()
	}
	if e.Expected == nil {
		return fmt.Sprintf("%d device(s) already in programming mode: %s", len(e.Found), strings.Join(found, ", "))
	}
	return fmt.Sprintf("device %s not in programming mode, found: %s", *e.Expected, strings.Join(found, ", "))
}

// BlockCompareError indicates that the device read back a block that differs
// from the data sent.
type BlockCompareError struct {
	Address   uint32
	BlockSize int
	Err       error
}

func (e *BlockCompareError) Error() string {
	msg := fmt.Sprintf("block at 0x%04X failed flash compare", e.Address)
	if e.BlockSize > protocol.LegacyBlockSize {
		msg += fmt.Sprintf(", retry with block size %d", protocol.LegacyBlockSize)
	}
	return msg
}

func (e *BlockCompareError) Unwrap() error { return e.Err }
