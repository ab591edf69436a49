package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildFrame prepends the command byte to the payload.
//
// Frame structure:
//
//	[CMD][PAYLOAD...]
func BuildFrame(cmd Command, payload []byte) []byte {
	frame := make([]byte, 0, 1+len(payload))
	frame = append(frame, byte(cmd))
	return append(frame, payload...)
}

// BuildUnlockPayload builds the UNLOCK_DEVICE payload from the device UID.
// Only the first UIDLength bytes are used.
func BuildUnlockPayload(uid []byte) ([]byte, error) {
	if len(uid) < UIDLength {
		return nil, fmt.Errorf("uid must be at least %d bytes, got %d", UIDLength, len(uid))
	}
	payload := make([]byte, UIDLength)
	copy(payload, uid)
	return payload, nil
}

// BuildIdentityRequestPayload builds the REQUEST_BL_IDENTITY payload carrying the tool version.
//
//	[MAJOR][MINOR]
func BuildIdentityRequestPayload(tool Version) []byte {
	return []byte{tool.Major, tool.Minor}
}

// BuildProgramPayload builds the PROGRAM payload for a block already sent to the ram buffer.
//
//	[LENGTH(2)][ADDRESS(4)][CRC32(4)]
func BuildProgramPayload(length int, address uint32, crc uint32) ([]byte, error) {
	if length <= 0 || length > 0xFFFF {
		return nil, fmt.Errorf("program length out of range: %d", length)
	}
	payload := make([]byte, 10)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(length))
	binary.LittleEndian.PutUint32(payload[2:6], address)
	binary.LittleEndian.PutUint32(payload[6:10], crc)
	return payload, nil
}

// BuildAddressRangePayload builds the payload for ERASE_ADDRESS_RANGE and DUMP_FLASH.
// Both addresses are inclusive.
//
//	[START(4)][END(4)]
func BuildAddressRangePayload(start, end uint32) ([]byte, error) {
	if end < start {
		return nil, fmt.Errorf("invalid address range 0x%08X-0x%08X", start, end)
	}
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], start)
	binary.LittleEndian.PutUint32(payload[4:8], end)
	return payload, nil
}

// BuildUpdateBootDescPayload builds the UPDATE_BOOT_DESC payload. The descriptor
// itself is transferred beforehand with SEND_DATA.
//
//	[LENGTH(4)][CRC32(4)]
func BuildUpdateBootDescPayload(descriptor []byte) []byte {
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(descriptor)))
	binary.LittleEndian.PutUint32(payload[4:8], CRC32(descriptor))
	return payload
}

// BuildProgramDecompressedPayload builds the PROGRAM_DECOMPRESSED_DATA payload.
//
//	[CRC32(4)]
func BuildProgramDecompressedPayload(pageCRC uint32) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint32(payload, pageCRC)
	return payload
}

// BuildSendDataPayload builds a SEND_DATA payload of at most MaxPayload data bytes.
// The legacy protocol prefixes the data with its position in the ram buffer.
func BuildSendDataPayload(p ProtocolVersion, offset int, data []byte) []byte {
	if p != ProtocolV0 {
		return append([]byte(nil), data...)
	}
	payload := make([]byte, 0, 1+len(data))
	payload = append(payload, byte(offset))
	return append(payload, data...)
}
