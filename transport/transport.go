package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Transport errors. Implementations return these (possibly wrapped) so the
// command channel can decide whether to retry.
var (
	// ErrTimeout means no correlated response arrived in time.
	ErrTimeout = errors.New("response timeout")

	// ErrDisconnected means the device closed the connection.
	ErrDisconnected = errors.New("disconnected by device")

	// ErrLinkClosed means the link to the bus is gone.
	ErrLinkClosed = errors.New("link closed")

	// ErrInvalidResponse means a response arrived but could not be used.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrNotOpen is returned when sending on a closed transport.
	ErrNotOpen = errors.New("transport not open")
)

// Transport carries update telegrams to a device and manages the link.
//
// Send blocks until the device answers, ctx is done or the link fails.
// Implementations must correlate the response with dst and return only the
// response message ([CMD][DATA...]).
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	Send(ctx context.Context, dst Destination, asdu []byte) ([]byte, error)

	// Restart restarts the device into its application.
	Restart(ctx context.Context, dst Destination) error

	// RestartToBootloader issues a master reset with the given erase code and
	// channel and returns the time the device needs to come back.
	RestartToBootloader(ctx context.Context, dst Destination, eraseCode, channel byte) (time.Duration, error)

	// ProgrammingModeDevices returns the addresses of all devices currently
	// in programming mode.
	ProgrammingModeDevices(ctx context.Context) ([]Address, error)
}

// SequenceCounter is implemented by transports that expose the sequence
// number of their connection to the device.
type SequenceCounter interface {
	// CurrentSequenceNumber returns the number and whether it is known.
	CurrentSequenceNumber() (uint32, bool)
}

// IsRetryable reports whether err is a transport error worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrLinkClosed) || errors.Is(err, ErrInvalidResponse)
}
