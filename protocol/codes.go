package protocol

import "fmt"

// Command is an update protocol command byte.
type Command byte

// Update protocol commands.
const (
	CmdSendData                  Command = 0xEF
	CmdProgram                   Command = 0xEE
	CmdUpdateBootDesc            Command = 0xED
	CmdSendDataToDecompress      Command = 0xEC
	CmdProgramDecompressedData   Command = 0xEB
	CmdEraseCompleteFlash        Command = 0xEA
	CmdEraseAddressRange         Command = 0xE9
	CmdRequestData               Command = 0xE8
	CmdDumpFlash                 Command = 0xE7
	CmdRequestStatistic          Command = 0xDF
	CmdResponseStatistic         Command = 0xDE
	CmdSendLastError             Command = 0xDC
	CmdUnlockDevice              Command = 0xBF
	CmdRequestUID                Command = 0xBE
	CmdResponseUID               Command = 0xBD
	CmdAppVersionRequest         Command = 0xBC
	CmdAppVersionResponse        Command = 0xBB
	CmdRequestBootDesc           Command = 0xBA
	CmdResponseBootDesc          Command = 0xB9
	CmdRequestBLIdentity         Command = 0xB8
	CmdResponseBLIdentity        Command = 0xB7
	CmdResponseBLVersionMismatch Command = 0xB6
	CmdSetEmulation              Command = 0x01
)

var commandNames = map[Command]string{
	CmdSendData:                  "SEND_DATA",
	CmdProgram:                   "PROGRAM",
	CmdUpdateBootDesc:            "UPDATE_BOOT_DESC",
	CmdSendDataToDecompress:      "SEND_DATA_TO_DECOMPRESS",
	CmdProgramDecompressedData:   "PROGRAM_DECOMPRESSED_DATA",
	CmdEraseCompleteFlash:        "ERASE_COMPLETE_FLASH",
	CmdEraseAddressRange:         "ERASE_ADDRESS_RANGE",
	CmdRequestData:               "REQ_DATA",
	CmdDumpFlash:                 "DUMP_FLASH",
	CmdRequestStatistic:          "REQUEST_STATISTIC",
	CmdResponseStatistic:         "RESPONSE_STATISTIC",
	CmdSendLastError:             "SEND_LAST_ERROR",
	CmdUnlockDevice:              "UNLOCK_DEVICE",
	CmdRequestUID:                "REQUEST_UID",
	CmdResponseUID:               "RESPONSE_UID",
	CmdAppVersionRequest:         "APP_VERSION_REQUEST",
	CmdAppVersionResponse:        "APP_VERSION_RESPONSE",
	CmdRequestBootDesc:           "REQUEST_BOOT_DESC",
	CmdResponseBootDesc:          "RESPONSE_BOOT_DESC",
	CmdRequestBLIdentity:         "REQUEST_BL_IDENTITY",
	CmdResponseBLIdentity:        "RESPONSE_BL_IDENTITY",
	CmdResponseBLVersionMismatch: "RESPONSE_BL_VERSION_MISMATCH",
	CmdSetEmulation:              "SET_EMULATION",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_COMMAND(0x%02X)", byte(c))
}

// IsResponse reports whether c is sent by the device in answer to a request.
// Only these commands are accepted as responses.
func (c Command) IsResponse() bool {
	switch c {
	case CmdSendLastError, CmdResponseStatistic, CmdResponseUID, CmdAppVersionResponse,
		CmdResponseBootDesc, CmdResponseBLIdentity, CmdResponseBLVersionMismatch:
		return true
	}
	return false
}

// Result is the outcome code reported by the bootloader in a SEND_LAST_ERROR response.
type Result byte

// Bootloader result codes.
const (
	ResultSuccess                       Result = 0x7F
	ResultIAPInvalidCommand             Result = 0x7E
	ResultIAPSrcAddrError               Result = 0x7D
	ResultIAPDstAddrError               Result = 0x7C
	ResultIAPSrcAddrNotMapped           Result = 0x7B
	ResultIAPDstAddrNotMapped           Result = 0x7A
	ResultIAPCountError                 Result = 0x79
	ResultIAPInvalidSector              Result = 0x78
	ResultIAPSectorNotBlank             Result = 0x77
	ResultIAPSectorNotPrepared          Result = 0x76
	ResultIAPCompareError               Result = 0x75
	ResultIAPBusy                       Result = 0x74
	ResultIAPUnknown                    Result = 0x73
	ResultUnknownCommand                Result = 0x5F
	ResultCRCError                      Result = 0x5E
	ResultAddressNotAllowedToFlash      Result = 0x5D
	ResultSectorNotAllowedToErase       Result = 0x5C
	ResultRAMBufferOverflow             Result = 0x5B
	ResultWrongDescriptorBlock          Result = 0x5A
	ResultApplicationNotStartable       Result = 0x59
	ResultDeviceLocked                  Result = 0x58
	ResultUIDMismatch                   Result = 0x57
	ResultEraseFailed                   Result = 0x56
	ResultInvalidData                   Result = 0x55
	ResultNoData                        Result = 0x54
	ResultFlashError                    Result = 0x53
	ResultPageNotAllowedToErase         Result = 0x52
	ResultAddressRangeNotAllowedToErase Result = 0x51
	ResultBytecountTooLow               Result = 0x50
	ResultBytecountTooHigh              Result = 0x4F
	ResultNotImplemented                Result = 0x02
	ResultInvalid                       Result = 0x01
)

var resultNames = map[Result]string{
	ResultSuccess:                       "IAP_SUCCESS",
	ResultIAPInvalidCommand:             "IAP_INVALID_COMMAND",
	ResultIAPSrcAddrError:               "IAP_SRC_ADDR_ERROR",
	ResultIAPDstAddrError:               "IAP_DST_ADDR_ERROR",
	ResultIAPSrcAddrNotMapped:           "IAP_SRC_ADDR_NOT_MAPPED",
	ResultIAPDstAddrNotMapped:           "IAP_DST_ADDR_NOT_MAPPED",
	ResultIAPCountError:                 "IAP_COUNT_ERROR",
	ResultIAPInvalidSector:              "IAP_INVALID_SECTOR",
	ResultIAPSectorNotBlank:             "IAP_SECTOR_NOT_BLANK",
	ResultIAPSectorNotPrepared:          "IAP_SECTOR_NOT_PREPARED",
	ResultIAPCompareError:               "IAP_COMPARE_ERROR",
	ResultIAPBusy:                       "IAP_BUSY",
	ResultIAPUnknown:                    "UDP_IAP_UNKNOWN",
	ResultUnknownCommand:                "UNKNOWN_COMMAND",
	ResultCRCError:                      "CRC_ERROR",
	ResultAddressNotAllowedToFlash:      "ADDRESS_NOT_ALLOWED_TO_FLASH",
	ResultSectorNotAllowedToErase:       "SECTOR_NOT_ALLOWED_TO_ERASE",
	ResultRAMBufferOverflow:             "RAM_BUFFER_OVERFLOW",
	ResultWrongDescriptorBlock:          "WRONG_DESCRIPTOR_BLOCK",
	ResultApplicationNotStartable:       "APPLICATION_NOT_STARTABLE",
	ResultDeviceLocked:                  "DEVICE_LOCKED",
	ResultUIDMismatch:                   "UID_MISMATCH",
	ResultEraseFailed:                   "ERASE_FAILED",
	ResultInvalidData:                   "INVALID_DATA",
	ResultNoData:                        "UDP_NO_DATA",
	ResultFlashError:                    "FLASH_ERROR",
	ResultPageNotAllowedToErase:         "PAGE_NOT_ALLOWED_TO_ERASE",
	ResultAddressRangeNotAllowedToErase: "ADDRESS_RANGE_NOT_ALLOWED_TO_ERASE",
	ResultBytecountTooLow:               "BYTECOUNT_RECEIVED_TOO_LOW",
	ResultBytecountTooHigh:              "BYTECOUNT_RECEIVED_TOO_HIGH",
	ResultNotImplemented:                "NOT_IMPLEMENTED",
	ResultInvalid:                       "INVALID",
}

var resultDescriptions = map[Result]string{
	ResultSuccess:                       "success",
	ResultIAPCompareError:               "flash content differs from ram buffer after programming",
	ResultIAPBusy:                       "flash controller busy",
	ResultUnknownCommand:                "command not supported by this bootloader",
	ResultCRCError:                      "crc of received data does not match",
	ResultAddressNotAllowedToFlash:      "address is outside the application area",
	ResultSectorNotAllowedToErase:       "sector is protected",
	ResultRAMBufferOverflow:             "too many bytes for the ram buffer",
	ResultWrongDescriptorBlock:          "boot descriptor is invalid",
	ResultApplicationNotStartable:       "application crc check failed",
	ResultDeviceLocked:                  "device is locked, unlock with the uid first",
	ResultUIDMismatch:                   "uid does not match this device",
	ResultEraseFailed:                   "erase failed",
	ResultFlashError:                    "flash programming failed",
	ResultPageNotAllowedToErase:         "page is protected",
	ResultAddressRangeNotAllowedToErase: "address range is protected",
	ResultBytecountTooLow:               "fewer bytes received than announced",
	ResultBytecountTooHigh:              "more bytes received than announced",
	ResultNotImplemented:                "command not implemented",
}

func (r Result) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return fmt.Sprintf("INVALID(0x%02X)", byte(r))
}

// Description returns a human readable explanation of the result.
func (r Result) Description() string {
	if d, ok := resultDescriptions[r]; ok {
		return d
	}
	return r.String()
}

// IsError reports whether r is anything other than success.
func (r Result) IsError() bool {
	return r != ResultSuccess
}

// IsBytecountMismatch reports whether the device received a different number of
// bytes than announced. The block can be sent again unchanged.
func (r Result) IsBytecountMismatch() bool {
	return r == ResultBytecountTooLow || r == ResultBytecountTooHigh
}
