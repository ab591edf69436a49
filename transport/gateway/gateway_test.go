package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"

	"github.com/moffa90/go-busupdater/transport"
)

// fakePort answers written frames with the frames returned by respond.
type fakePort struct {
	mu       sync.Mutex
	in       bytes.Buffer
	requests []Frame
	respond  func(req Frame) []Frame
	timeout  time.Duration
	closed   bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, io.ErrClosedPipe
	}
	req, err := parseFrame(b)
	if err != nil {
		return 0, err
	}
	p.requests = append(p.requests, req)
	if p.respond != nil {
		for _, f := range p.respond(req) {
			raw, _ := f.Encode()
			p.in.Write(raw)
		}
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if p.in.Len() == 0 {
		timeout := p.timeout
		p.mu.Unlock()
		time.Sleep(timeout)
		return 0, nil
	}
	defer p.mu.Unlock()
	return p.in.Read(b)
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.in.Reset()
	return nil
}

func openFake(t *testing.T, port *fakePort) *Transport {
	t.Helper()
	gw := New("fake", WithPollInterval(5*time.Millisecond), WithOpener(func(string, *serial.Mode) (Port, error) {
		return port, nil
	}))
	if err := gw.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return gw
}

func TestOpenPassesMode(t *testing.T) {
	var got *serial.Mode
	gw := New("/dev/ttyTEST", WithBaudRate(57600), WithOpener(func(name string, mode *serial.Mode) (Port, error) {
		if name != "/dev/ttyTEST" {
			t.Errorf("port name = %q", name)
		}
		got = mode
		return &fakePort{}, nil
	}))

	if err := gw.Open(context.Background()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !gw.IsOpen() {
		t.Error("IsOpen() = false after Open")
	}
	if got == nil || got.BaudRate != 57600 || got.DataBits != 8 {
		t.Errorf("mode = %+v, want 57600 baud 8 data bits", got)
	}

	if err := gw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if gw.IsOpen() {
		t.Error("IsOpen() = true after Close")
	}
	if err := gw.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestOpenError(t *testing.T) {
	gw := New("missing", WithOpener(func(string, *serial.Mode) (Port, error) {
		return nil, errors.New("no such port")
	}))
	if err := gw.Open(context.Background()); err == nil {
		t.Error("Open() expected error")
	}
}

func TestSend(t *testing.T) {
	dst := transport.NewDestination(0x1105, transport.PriorityLow)
	port := &fakePort{respond: func(req Frame) []Frame {
		return []Frame{
			// unrelated device answers first
			{Service: SvcTelegram, Address: 0x1106, Data: []byte{0xDC, 0x7F}},
			{Service: SvcTelegram, Address: req.Address, Data: []byte{0xBD, 1, 2, 3}},
		}
	}}
	gw := openFake(t, port)
	defer gw.Close()

	resp, err := gw.Send(context.Background(), dst, []byte{0xBE})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !bytes.Equal(resp, []byte{0xBD, 1, 2, 3}) {
		t.Errorf("Send() = % X", resp)
	}

	req := port.requests[0]
	if req.Service != SvcTelegram || req.Address != 0x1105 {
		t.Errorf("request = %+v", req)
	}
	if !bytes.Equal(req.Data, []byte{byte(transport.PriorityLow), 0xBE}) {
		t.Errorf("request data = % X, want priority then telegram", req.Data)
	}

	seq, ok := gw.CurrentSequenceNumber()
	if !ok || seq != 1 {
		t.Errorf("CurrentSequenceNumber() = %d, %v, want 1, true", seq, ok)
	}
}

func TestSendStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status byte
		want   error
	}{
		{"timeout", StatusTimeout, transport.ErrTimeout},
		{"disconnected", StatusDisconnected, transport.ErrDisconnected},
		{"link closed", StatusLinkClosed, transport.ErrLinkClosed},
		{"nack", StatusNack, transport.ErrInvalidResponse},
		{"unknown", 0x42, transport.ErrInvalidResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{respond: func(req Frame) []Frame {
				return []Frame{{Service: SvcError, Address: req.Address, Data: []byte{tt.status}}}
			}}
			gw := openFake(t, port)
			defer gw.Close()

			_, err := gw.Send(context.Background(), transport.NewDestination(1, transport.PriorityLow), []byte{0xBE})
			if !errors.Is(err, tt.want) {
				t.Errorf("Send() error = %v, want %v", err, tt.want)
			}
			if !transport.IsRetryable(err) {
				t.Errorf("IsRetryable(%v) = false", err)
			}
		})
	}
}

func TestSendTimeout(t *testing.T) {
	gw := openFake(t, &fakePort{})
	defer gw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := gw.Send(ctx, transport.NewDestination(1, transport.PriorityLow), []byte{0xBE})
	if !errors.Is(err, transport.ErrTimeout) {
		t.Errorf("Send() error = %v, want ErrTimeout", err)
	}
	if seq, _ := gw.CurrentSequenceNumber(); seq != 0 {
		t.Errorf("sequence = %d after timeout, want 0", seq)
	}
}

func TestSendCancelled(t *testing.T) {
	gw := openFake(t, &fakePort{})
	defer gw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := gw.Send(ctx, transport.NewDestination(1, transport.PriorityLow), []byte{0xBE})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Send() error = %v, want context.Canceled", err)
	}
}

func TestSendNotOpen(t *testing.T) {
	gw := New("fake")
	_, err := gw.Send(context.Background(), transport.NewDestination(1, transport.PriorityLow), nil)
	if !errors.Is(err, transport.ErrNotOpen) {
		t.Errorf("Send() error = %v, want ErrNotOpen", err)
	}
}

func TestCloseAbortsSend(t *testing.T) {
	port := &fakePort{}
	gw := openFake(t, port)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = gw.Close()
	}()

	_, err := gw.Send(context.Background(), transport.NewDestination(1, transport.PriorityLow), []byte{0xBE})
	if !errors.Is(err, transport.ErrLinkClosed) {
		t.Errorf("Send() error = %v, want ErrLinkClosed", err)
	}
}

func TestRestartToBootloader(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    time.Duration
		wantErr bool
	}{
		{"reported time", []byte{0, 0x00, 0x08}, 8 * time.Second, false},
		{"no time", []byte{0, 0, 0}, 0, false},
		{"rejected", []byte{3, 0, 0}, 0, true},
		{"short", []byte{0}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{respond: func(req Frame) []Frame {
				if req.Service != SvcMasterReset || !bytes.Equal(req.Data, []byte{7, 255}) {
					t.Errorf("request = %+v", req)
				}
				return []Frame{{Service: SvcMasterReset, Address: req.Address, Data: tt.data}}
			}}
			gw := openFake(t, port)
			defer gw.Close()

			got, err := gw.RestartToBootloader(context.Background(), transport.NewDestination(0x1105, transport.PrioritySystem), 7, 255)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RestartToBootloader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("RestartToBootloader() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRestart(t *testing.T) {
	port := &fakePort{respond: func(req Frame) []Frame {
		return []Frame{{Service: SvcRestart, Address: req.Address}}
	}}
	gw := openFake(t, port)
	defer gw.Close()

	if err := gw.Restart(context.Background(), transport.NewDestination(0x1105, transport.PrioritySystem)); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
	if port.requests[0].Service != SvcRestart {
		t.Errorf("service = 0x%02X, want SvcRestart", port.requests[0].Service)
	}
}

func TestProgrammingModeDevices(t *testing.T) {
	port := &fakePort{respond: func(req Frame) []Frame {
		return []Frame{{Service: SvcProgMode, Data: []byte{0x11, 0x05, 0x11, 0x06}}}
	}}
	gw := openFake(t, port)
	defer gw.Close()

	got, err := gw.ProgrammingModeDevices(context.Background())
	if err != nil {
		t.Fatalf("ProgrammingModeDevices() error = %v", err)
	}
	want := []transport.Address{0x1105, 0x1106}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("ProgrammingModeDevices() = %v, want %v", got, want)
	}
}
