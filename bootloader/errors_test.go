package bootloader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/moffa90/go-busupdater/protocol"
	"github.com/moffa90/go-busupdater/transport"
)

func TestUpdaterError(t *testing.T) {
	err := &UpdaterError{
		Command:  protocol.CmdProgram,
		Attempts: 4,
		Err:      transport.ErrTimeout,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "PROGRAM") {
		t.Errorf("error message should contain the command, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "4 attempt") {
		t.Errorf("error message should contain the attempts, got: %s", errMsg)
	}

	if !errors.Is(err, transport.ErrTimeout) {
		t.Error("UpdaterError should unwrap to the cause")
	}
}

func TestFrameTooLargeError(t *testing.T) {
	err := &FrameTooLargeError{Command: protocol.CmdSendData, Size: 16, Max: 14}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "SEND_DATA") {
		t.Errorf("error message should contain the command, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "16 bytes") || !strings.Contains(errMsg, "14") {
		t.Errorf("error message should contain size and maximum, got: %s", errMsg)
	}
}

func TestProtocolMismatchError(t *testing.T) {
	tests := []struct {
		name string
		err  *ProtocolMismatchError
		want []string
	}{
		{
			name: "bootloader too old",
			err: &ProtocolMismatchError{
				Bootloader: protocol.Version{Major: 1, Minor: 15},
				Required:   protocol.Version{Major: 1, Minor: 20},
			},
			want: []string{"bootloader version 1.15", "1.20"},
		},
		{
			name: "tool too old",
			err: &ProtocolMismatchError{
				Required:   protocol.Version{Major: 2, Minor: 0},
				ToolTooOld: true,
			},
			want: []string{"tool version 2.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errMsg := tt.err.Error()
			for _, w := range tt.want {
				if !strings.Contains(errMsg, w) {
					t.Errorf("error message should contain %q, got: %s", w, errMsg)
				}
			}
		})
	}
}

func TestOffsetError(t *testing.T) {
	err := &OffsetError{ImageStart: 0x6000, ApplicationFirstAddress: 0x7000}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "0x6000") || !strings.Contains(errMsg, "0x7000") {
		t.Errorf("error message should contain both addresses, got: %s", errMsg)
	}
}

func TestProgrammingModeError(t *testing.T) {
	expected := transport.NewAddress(15, 15, 192)

	tests := []struct {
		name string
		err  *ProgrammingModeError
		want string
	}{
		{
			name: "none found",
			err:  &ProgrammingModeError{Expected: &expected},
			want: "no device in programming mode",
		},
		{
			name: "wrong device",
			err:  &ProgrammingModeError{Expected: &expected, Found: []transport.Address{transport.NewAddress(1, 1, 5)}},
			want: "device 15.15.192 not in programming mode, found: 1.1.5",
		},
		{
			name: "unexpected devices",
			err:  &ProgrammingModeError{Found: []transport.Address{transport.NewAddress(1, 1, 5), transport.NewAddress(1, 1, 6)}},
			want: "2 device(s) already in programming mode: 1.1.5, 1.1.6",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBlockCompareError(t *testing.T) {
	cause := &protocol.ProtocolError{Operation: "program", Result: protocol.ResultIAPCompareError}

	tests := []struct {
		name      string
		blockSize int
		wantHint  bool
	}{
		{"large block", 1024, true},
		{"page block", 256, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &BlockCompareError{Address: 0x7400, BlockSize: tt.blockSize, Err: cause}
			errMsg := err.Error()

			if !strings.Contains(errMsg, "0x7400") {
				t.Errorf("error message should contain the address, got: %s", errMsg)
			}
			if got := strings.Contains(errMsg, "block size 256"); got != tt.wantHint {
				t.Errorf("block size hint = %v, want %v: %s", got, tt.wantHint, errMsg)
			}
			if r, ok := protocol.ResultOf(err); !ok || r != protocol.ResultIAPCompareError {
				t.Errorf("ResultOf() = %v, %v", r, ok)
			}
		})
	}
}

func TestInterrupted(t *testing.T) {
	err := interrupted(context.Canceled)

	if !errors.Is(err, ErrInterrupted) {
		t.Error("interrupted error should match ErrInterrupted")
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("interrupted error should keep the context error")
	}
}
