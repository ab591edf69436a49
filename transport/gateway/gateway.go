package gateway

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/moffa90/go-busupdater/transport"
)

// Port is the part of a serial port the gateway uses. go.bug.st/serial ports
// implement it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens the named port.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Transport talks to a bus gateway attached to a serial port.
//
// Requests are serialized; Close may be called from another goroutine to
// abort a pending request.
type Transport struct {
	name   string
	config Config

	reqMu sync.Mutex // one request at a time
	mu    sync.Mutex // guards port and seq
	port  Port
	seq   uint32
	dec   decoder
}

var (
	_ transport.Transport       = (*Transport)(nil)
	_ transport.SequenceCounter = (*Transport)(nil)
)

// New returns a gateway transport for the serial port name. The port is not
// opened until Open is called.
//
// Example:
//
//	gw := gateway.New("/dev/ttyUSB0", gateway.WithBaudRate(115200))
//	if err := gw.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer gw.Close()
func New(name string, opts ...Option) *Transport {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Transport{name: name, config: cfg}
}

// Open opens the serial port. Opening an open transport is a no-op.
func (t *Transport) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := t.config.Opener(t.name, mode)
	if err != nil {
		return errors.Wrapf(err, "open %s", t.name)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return errors.Wrap(err, "reset input buffer")
	}

	t.port = port
	t.seq = 0
	t.dec = decoder{}
	t.logDebug("gateway opened", "port", t.name, "baud", t.config.BaudRate)
	return nil
}

// Close closes the serial port. Closing a closed transport is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.logDebug("gateway closed", "port", t.name)
	return errors.Wrap(err, "close port")
}

// IsOpen reports whether the port is open.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// CurrentSequenceNumber returns the number of update telegrams sent since
// the transport was opened.
func (t *Transport) CurrentSequenceNumber() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seq, t.port != nil
}

// Send transmits an update telegram and returns the device's response.
func (t *Transport) Send(ctx context.Context, dst transport.Destination, asdu []byte) ([]byte, error) {
	data := make([]byte, 0, 1+len(asdu))
	data = append(data, byte(dst.Priority))
	data = append(data, asdu...)

	resp, err := t.request(ctx, Frame{Service: SvcTelegram, Address: uint16(dst.Address), Data: data}, true)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.seq++
	t.mu.Unlock()

	return resp.Data, nil
}

// Restart restarts the device into its application.
func (t *Transport) Restart(ctx context.Context, dst transport.Destination) error {
	_, err := t.request(ctx, Frame{Service: SvcRestart, Address: uint16(dst.Address)}, true)
	return err
}

// RestartToBootloader sends a master reset and returns the restart time the
// device reports. Zero means the device did not report one.
func (t *Transport) RestartToBootloader(ctx context.Context, dst transport.Destination, eraseCode, channel byte) (time.Duration, error) {
	resp, err := t.request(ctx, Frame{
		Service: SvcMasterReset,
		Address: uint16(dst.Address),
		Data:    []byte{eraseCode, channel},
	}, true)
	if err != nil {
		return 0, err
	}
	if len(resp.Data) < 3 {
		return 0, errors.Wrapf(transport.ErrInvalidResponse, "master reset response too short: %d bytes", len(resp.Data))
	}
	if code := resp.Data[0]; code != 0 {
		return 0, errors.Errorf("master reset rejected by %s: error code %d", dst.Address, code)
	}
	seconds := uint16(resp.Data[1])<<8 | uint16(resp.Data[2])
	return time.Duration(seconds) * time.Second, nil
}

// ProgrammingModeDevices returns the devices currently in programming mode.
func (t *Transport) ProgrammingModeDevices(ctx context.Context) ([]transport.Address, error) {
	resp, err := t.request(ctx, Frame{Service: SvcProgMode}, false)
	if err != nil {
		return nil, err
	}
	if len(resp.Data)%2 != 0 {
		return nil, errors.Wrap(transport.ErrInvalidResponse, "odd address list length")
	}
	addrs := make([]transport.Address, 0, len(resp.Data)/2)
	for i := 0; i < len(resp.Data); i += 2 {
		addrs = append(addrs, transport.Address(uint16(resp.Data[i])<<8|uint16(resp.Data[i+1])))
	}
	return addrs, nil
}

// request writes req and waits for a frame answering it. Frames for other
// services or, if matchAddress is set, other addresses are skipped.
func (t *Transport) request(ctx context.Context, req Frame, matchAddress bool) (Frame, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	port := t.port
	t.mu.Unlock()
	if port == nil {
		return Frame{}, transport.ErrNotOpen
	}

	raw, err := req.Encode()
	if err != nil {
		return Frame{}, err
	}
	if _, err := port.Write(raw); err != nil {
		t.drop(port)
		return Frame{}, errors.Wrapf(transport.ErrLinkClosed, "write: %v", err)
	}

	buf := make([]byte, 64)
	for {
		if f, ok := t.dec.next(); ok {
			if f.Service == SvcError {
				return Frame{}, statusError(f)
			}
			if f.Service != req.Service || (matchAddress && f.Address != req.Address) {
				t.logDebug("skipping unrelated frame", "service", f.Service, "address", transport.Address(f.Address))
				continue
			}
			return f, nil
		}

		wait := t.config.PollInterval
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return Frame{}, transport.ErrTimeout
			}
			return Frame{}, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return Frame{}, transport.ErrTimeout
			}
			if remaining < wait {
				wait = remaining
			}
		}

		if err := port.SetReadTimeout(wait); err != nil {
			t.drop(port)
			return Frame{}, errors.Wrapf(transport.ErrLinkClosed, "set read timeout: %v", err)
		}
		n, err := port.Read(buf)
		if err != nil {
			t.drop(port)
			return Frame{}, errors.Wrapf(transport.ErrLinkClosed, "read: %v", err)
		}
		t.dec.feed(buf[:n])
	}
}

// drop forgets a failed port unless it was already replaced.
func (t *Transport) drop(port Port) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.port == port {
		_ = port.Close()
		t.port = nil
	}
}

func statusError(f Frame) error {
	if len(f.Data) == 0 {
		return errors.Wrap(transport.ErrInvalidResponse, "empty gateway error frame")
	}
	switch f.Data[0] {
	case StatusTimeout:
		return transport.ErrTimeout
	case StatusDisconnected:
		return transport.ErrDisconnected
	case StatusLinkClosed:
		return transport.ErrLinkClosed
	case StatusNack:
		return errors.Wrap(transport.ErrInvalidResponse, "telegram not acknowledged")
	default:
		return errors.Wrapf(transport.ErrInvalidResponse, "gateway error 0x%02X", f.Data[0])
	}
}

func (t *Transport) logDebug(msg string, keysAndValues ...interface{}) {
	if t.config.Logger != nil {
		t.config.Logger.Debug(msg, keysAndValues...)
	}
}
