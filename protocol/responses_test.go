package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		frame    []byte
		wantCmd  Command
		wantData []byte
		wantErr  bool
		errMsg   string
	}{
		{
			name:     "result",
			frame:    []byte{0xDC, 0x7F},
			wantCmd:  CmdSendLastError,
			wantData: []byte{0x7F},
		},
		{
			name:     "uid",
			frame:    append([]byte{0xBD}, make([]byte, 12)...),
			wantCmd:  CmdResponseUID,
			wantData: make([]byte, 12),
		},
		{
			name:    "empty",
			frame:   nil,
			wantErr: true,
			errMsg:  "too short",
		},
		{
			name:    "request command echoed back",
			frame:   []byte{0xEF, 0x00},
			wantErr: true,
			errMsg:  "unexpected response command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ParseResponse(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
				}
				return
			}
			if resp.Command != tt.wantCmd {
				t.Errorf("Command = %s, want %s", resp.Command, tt.wantCmd)
			}
			if !bytes.Equal(resp.Data, tt.wantData) {
				t.Errorf("Data = %X, want %X", resp.Data, tt.wantData)
			}
		})
	}
}

func TestResponseExpect(t *testing.T) {
	ok := Response{Command: CmdSendLastError, Data: []byte{byte(ResultSuccess)}}
	if err := ok.Expect("program"); err != nil {
		t.Errorf("Expect() on success = %v", err)
	}

	failed := Response{Command: CmdSendLastError, Data: []byte{byte(ResultCRCError)}}
	err := failed.Expect("program")
	var pe *ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("Expect() error = %v, want *ProtocolError", err)
	}
	if pe.Result != ResultCRCError || pe.Operation != "program" {
		t.Errorf("ProtocolError = %+v", pe)
	}

	wrong := Response{Command: CmdResponseUID}
	if err := wrong.Expect("program"); err == nil || IsProtocolError(err) {
		t.Errorf("Expect() on wrong command = %v, want plain error", err)
	}
}

func TestParseIdentityResponse(t *testing.T) {
	resp := Response{
		Command: CmdResponseBLIdentity,
		Data:    []byte{1, 20, 0x03, 0x00, 2, 10, 0x00, 0x70, 0x00, 0x00},
	}
	id, err := ParseIdentityResponse(resp)
	if err != nil {
		t.Fatalf("ParseIdentityResponse() error = %v", err)
	}
	want := BootloaderIdentity{
		Version:                 Version{1, 20},
		Features:                0x0003,
		SblibVersion:            Version{2, 10},
		ApplicationFirstAddress: 0x7000,
	}
	if id != want {
		t.Errorf("identity = %+v, want %+v", id, want)
	}
}

func TestParseIdentityResponseVersionMismatch(t *testing.T) {
	resp := Response{Command: CmdResponseBLVersionMismatch, Data: []byte{1, 30}}
	_, err := ParseIdentityResponse(resp)
	var vm *VersionMismatchError
	if !errors.As(err, &vm) {
		t.Fatalf("error = %v, want *VersionMismatchError", err)
	}
	if vm.Required != (Version{1, 30}) {
		t.Errorf("Required = %s, want 1.30", vm.Required)
	}
}

func TestParseIdentityResponseDeviceError(t *testing.T) {
	resp := Response{Command: CmdSendLastError, Data: []byte{byte(ResultDeviceLocked)}}
	_, err := ParseIdentityResponse(resp)
	if r, ok := ResultOf(err); !ok || r != ResultDeviceLocked {
		t.Errorf("ResultOf() = %s, %v; want DEVICE_LOCKED", r, ok)
	}
}

func TestParseStatisticResponse(t *testing.T) {
	resp := Response{Command: CmdResponseStatistic, Data: []byte{0x02, 0x00, 0x05, 0x01}}
	s, err := ParseStatisticResponse(resp)
	if err != nil {
		t.Fatalf("ParseStatisticResponse() error = %v", err)
	}
	if s.DisconnectCount != 2 || s.RepeatedTAckCount != 0x0105 {
		t.Errorf("statistic = %+v", s)
	}
}

func TestParseUIDResponse(t *testing.T) {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	uid, err := ParseUIDResponse(Response{Command: CmdResponseUID, Data: data})
	if err != nil {
		t.Fatalf("ParseUIDResponse() error = %v", err)
	}
	if !bytes.Equal(uid, data) {
		t.Errorf("uid = %X, want %X", uid, data)
	}

	if _, err := ParseUIDResponse(Response{Command: CmdResponseUID, Data: data[:4]}); err == nil {
		t.Error("ParseUIDResponse() expected error for short uid")
	}
}

func TestParseAppVersionResponse(t *testing.T) {
	data := append([]byte("SB-Out 4.2"), 0x00, 0xFF)
	v, err := ParseAppVersionResponse(Response{Command: CmdAppVersionResponse, Data: data})
	if err != nil {
		t.Fatalf("ParseAppVersionResponse() error = %v", err)
	}
	if v != "SB-Out 4.2" {
		t.Errorf("version = %q", v)
	}
}

func TestParseBootDescriptorResponse(t *testing.T) {
	d := BootDescriptor{StartAddress: 0x7000, EndAddress: 0x9000, CRC32: 1, AppVersionAddress: 2}
	encoded, _ := d.MarshalBinary()
	got, err := ParseBootDescriptorResponse(Response{Command: CmdResponseBootDesc, Data: encoded})
	if err != nil {
		t.Fatalf("ParseBootDescriptorResponse() error = %v", err)
	}
	if got != d {
		t.Errorf("descriptor = %+v, want %+v", got, d)
	}
}
