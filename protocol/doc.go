// Package protocol implements the Selfbus bootloader update protocol.
//
// This package provides the code tables, payload builders and response
// parsers of the protocol spoken between the update tool and the bootloader
// of a bus device. It does not send anything itself; see package bootloader.
//
// # Protocol Overview
//
// Every request and response is a single application message carried by the
// bus management service:
//
//	Request:  [CMD][PAYLOAD...]
//	Response: [CMD][DATA...]
//
// A message is at most MaxASDULength bytes (LegacyMaxASDULength for
// bootloaders older than 1.20, which prefix SEND_DATA with a ram buffer
// position). Multi-byte fields are little-endian.
//
// Commands that do not return data are answered with SEND_LAST_ERROR
// carrying a Result:
//
//	resp, _ := protocol.ParseResponse(frame)
//	if err := resp.Expect("program"); err != nil {
//	    // err is a *protocol.ProtocolError
//	}
//
// # Payload Builders
//
// Use the Build* functions to create request payloads:
//
//	payload, err := protocol.BuildProgramPayload(len(block), address, protocol.CRC32(block))
//	payload, err := protocol.BuildAddressRangePayload(start, end)
//
// # Boot Descriptor
//
// BootDescriptor is the 16-byte record describing the installed application.
// It is read with REQUEST_BOOT_DESC and written as the last step of an update.
package protocol
