package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Response is a decoded device answer.
//
// Response structure:
//
//	[CMD][DATA...]
type Response struct {
	// Command identifies the kind of answer
	Command Command

	// Data is the payload after the command byte
	Data []byte
}

// ParseResponse splits a raw response message into command and data.
// Only device response commands are accepted.
func ParseResponse(frame []byte) (Response, error) {
	if len(frame) < 1 {
		return Response{}, fmt.Errorf("response too short: got %d bytes", len(frame))
	}
	cmd := Command(frame[0])
	if !cmd.IsResponse() {
		return Response{}, fmt.Errorf("unexpected response command %s", cmd)
	}
	return Response{Command: cmd, Data: frame[1:]}, nil
}

// Result returns the result code carried by a SEND_LAST_ERROR response.
// ok is false for any other response.
func (r Response) Result() (res Result, ok bool) {
	if r.Command != CmdSendLastError || len(r.Data) < 1 {
		return 0, false
	}
	return Result(r.Data[0]), true
}

// Expect returns an error unless the response is a SEND_LAST_ERROR with ResultSuccess.
func (r Response) Expect(operation string) error {
	res, ok := r.Result()
	if !ok {
		return fmt.Errorf("%s: unexpected response %s", operation, r.Command)
	}
	if res.IsError() {
		return &ProtocolError{Operation: operation, Result: res}
	}
	return nil
}

// expectCommand checks that r answers with cmd. A SEND_LAST_ERROR reporting a
// failure is turned into a ProtocolError.
func (r Response) expectCommand(operation string, cmd Command, minLen int) error {
	if r.Command != cmd {
		if res, ok := r.Result(); ok && res.IsError() {
			return &ProtocolError{Operation: operation, Result: res}
		}
		return fmt.Errorf("%s: expected %s, got %s", operation, cmd, r.Command)
	}
	if len(r.Data) < minLen {
		return fmt.Errorf("%s: response too short: got %d bytes, expected %d", operation, len(r.Data), minLen)
	}
	return nil
}

// ParseUIDResponse extracts the UID from a RESPONSE_UID.
func ParseUIDResponse(r Response) ([]byte, error) {
	if err := r.expectCommand("request uid", CmdResponseUID, UIDLength); err != nil {
		return nil, err
	}
	n := len(r.Data)
	if n > UIDMaxLength {
		n = UIDMaxLength
	}
	return append([]byte(nil), r.Data[:n]...), nil
}

// ParseBootDescriptorResponse extracts the descriptor from a RESPONSE_BOOT_DESC.
func ParseBootDescriptorResponse(r Response) (BootDescriptor, error) {
	if err := r.expectCommand("request boot descriptor", CmdResponseBootDesc, BootDescriptorSize); err != nil {
		return BootDescriptor{}, err
	}
	return DecodeBootDescriptor(r.Data)
}

// VersionMismatchError is returned when the bootloader rejects the tool version.
type VersionMismatchError struct {
	// Required is the minimum tool version the bootloader accepts
	Required Version
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("bootloader requires tool version %s or newer", e.Required)
}

// ParseIdentityResponse decodes a RESPONSE_BL_IDENTITY. A RESPONSE_BL_VERSION_MISMATCH
// is returned as *VersionMismatchError.
func ParseIdentityResponse(r Response) (BootloaderIdentity, error) {
	if r.Command == CmdResponseBLVersionMismatch {
		if len(r.Data) < 2 {
			return BootloaderIdentity{}, fmt.Errorf("version mismatch response too short: got %d bytes", len(r.Data))
		}
		return BootloaderIdentity{}, &VersionMismatchError{Required: Version{Major: r.Data[0], Minor: r.Data[1]}}
	}
	if err := r.expectCommand("request bootloader identity", CmdResponseBLIdentity, BootloaderIdentitySize); err != nil {
		return BootloaderIdentity{}, err
	}
	d := r.Data
	return BootloaderIdentity{
		Version:                 Version{Major: d[0], Minor: d[1]},
		Features:                binary.LittleEndian.Uint16(d[2:4]),
		SblibVersion:            Version{Major: d[4], Minor: d[5]},
		ApplicationFirstAddress: binary.LittleEndian.Uint32(d[6:10]),
	}, nil
}

// ParseStatisticResponse decodes a RESPONSE_STATISTIC.
func ParseStatisticResponse(r Response) (Statistic, error) {
	if err := r.expectCommand("request statistic", CmdResponseStatistic, StatisticSize); err != nil {
		return Statistic{}, err
	}
	return Statistic{
		DisconnectCount:   binary.LittleEndian.Uint16(r.Data[0:2]),
		RepeatedTAckCount: binary.LittleEndian.Uint16(r.Data[2:4]),
	}, nil
}

// ParseAppVersionResponse extracts the application version string from an
// APP_VERSION_RESPONSE. Trailing NUL and 0xFF padding is removed.
func ParseAppVersionResponse(r Response) (string, error) {
	if err := r.expectCommand("request app version", CmdAppVersionResponse, 0); err != nil {
		return "", err
	}
	n := len(r.Data)
	if n > AppVersionLength {
		n = AppVersionLength
	}
	return strings.TrimRight(string(r.Data[:n]), "\x00\xff "), nil
}
