package protocol

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestProtocolError(t *testing.T) {
	err := &ProtocolError{Operation: "program", Result: ResultCRCError}
	msg := err.Error()
	for _, want := range []string{"program failed", "CRC_ERROR", "0x5E"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestIsProtocolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"direct", &ProtocolError{Operation: "x", Result: ResultFlashError}, true},
		{"wrapped", fmt.Errorf("flash block: %w", &ProtocolError{Result: ResultFlashError}), true},
		{"other", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProtocolError(tt.err); got != tt.want {
				t.Errorf("IsProtocolError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCRC32(t *testing.T) {
	// Reference value of the IEEE polynomial for "123456789".
	if got := CRC32([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("CRC32() = 0x%08X, want 0xCBF43926", got)
	}
}
