package protocol

import (
	"strings"
	"testing"
)

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CmdSendData, "SEND_DATA"},
		{CmdProgramDecompressedData, "PROGRAM_DECOMPRESSED_DATA"},
		{CmdResponseBLVersionMismatch, "RESPONSE_BL_VERSION_MISMATCH"},
		{Command(0x42), "UNKNOWN_COMMAND(0x42)"},
	}

	for _, tt := range tests {
		if got := tt.cmd.String(); got != tt.want {
			t.Errorf("Command(0x%02X).String() = %q, want %q", byte(tt.cmd), got, tt.want)
		}
	}
}

func TestCommandIsResponse(t *testing.T) {
	responses := []Command{CmdSendLastError, CmdResponseUID, CmdResponseBootDesc, CmdResponseBLIdentity,
		CmdResponseBLVersionMismatch, CmdAppVersionResponse, CmdResponseStatistic}
	for _, c := range responses {
		if !c.IsResponse() {
			t.Errorf("%s.IsResponse() = false", c)
		}
	}

	requests := []Command{CmdSendData, CmdProgram, CmdRequestUID, CmdUnlockDevice, CmdEraseAddressRange}
	for _, c := range requests {
		if c.IsResponse() {
			t.Errorf("%s.IsResponse() = true", c)
		}
	}
}

func TestCommandWireValues(t *testing.T) {
	tests := map[Command]byte{
		CmdSendData:             0xEF,
		CmdProgram:              0xEE,
		CmdUpdateBootDesc:       0xED,
		CmdSendDataToDecompress: 0xEC,
		CmdEraseAddressRange:    0xE9,
		CmdUnlockDevice:         0xBF,
		CmdRequestBLIdentity:    0xB8,
	}
	for cmd, want := range tests {
		if byte(cmd) != want {
			t.Errorf("%s = 0x%02X, want 0x%02X", cmd, byte(cmd), want)
		}
	}
}

func TestResult(t *testing.T) {
	if ResultSuccess.IsError() {
		t.Error("ResultSuccess.IsError() = true")
	}
	if !ResultFlashError.IsError() {
		t.Error("ResultFlashError.IsError() = false")
	}

	for _, r := range []Result{ResultBytecountTooLow, ResultBytecountTooHigh} {
		if !r.IsBytecountMismatch() {
			t.Errorf("%s.IsBytecountMismatch() = false", r)
		}
	}
	if ResultIAPCompareError.IsBytecountMismatch() {
		t.Error("IAP_COMPARE_ERROR.IsBytecountMismatch() = true")
	}

	if got := Result(0x30).String(); !strings.HasPrefix(got, "INVALID(") {
		t.Errorf("unknown result String() = %q", got)
	}
	if got := ResultDeviceLocked.Description(); !strings.Contains(got, "locked") {
		t.Errorf("Description() = %q", got)
	}
}

func TestResultNamesAreUnique(t *testing.T) {
	seen := make(map[string]Result)
	for r, name := range resultNames {
		if other, ok := seen[name]; ok {
			t.Errorf("name %q used by 0x%02X and 0x%02X", name, byte(r), byte(other))
		}
		seen[name] = r
	}
}
