package protocol

import "time"

// ToolVersion is the update protocol version this library speaks.
// It is sent to the bootloader with REQUEST_BL_IDENTITY.
var ToolVersion = Version{Major: 1, Minor: 23}

// LegacyProtocolBelow is the first bootloader version that uses the current protocol.
// Older bootloaders get the legacy (V0) framing and block size.
var LegacyProtocolBelow = Version{Major: 1, Minor: 20}

// Frame size limits.
const (
	// MaxASDULength is the largest application message (command + payload)
	// the current protocol accepts.
	MaxASDULength = 14

	// MaxPayload is the largest payload after the command byte.
	MaxPayload = MaxASDULength - 1

	// LegacyMaxASDULength allows the 1-byte position prefix of the legacy protocol.
	LegacyMaxASDULength = MaxASDULength + 1
)

// Flash geometry and block sizes.
const (
	// FlashPageSize is the smallest programmable unit of the supported MCUs.
	FlashPageSize = 256

	// FlashSectorSize is the smallest erasable unit of the supported MCUs.
	FlashSectorSize = 4096

	// LegacyBlockSize is the block size used with the legacy protocol.
	LegacyBlockSize = FlashPageSize

	// BlockSize is the ram buffer size of the current protocol.
	BlockSize = 1024

	// VectorTableEnd is the first address after the interrupt vector table.
	VectorTableEnd = 0xC0
)

// Boot descriptor and identification sizes.
const (
	// BootDescriptorSize is the encoded size of a BootDescriptor.
	BootDescriptorSize = 16

	// UIDLength is the number of UID bytes used to unlock a device.
	UIDLength = 12

	// UIDMaxLength is the largest UID a device may report.
	UIDMaxLength = 16

	// BootloaderIdentitySize is the encoded size of a BootloaderIdentity.
	BootloaderIdentitySize = 10

	// StatisticSize is the encoded size of a Statistic.
	StatisticSize = 4

	// InvalidAddress marks an unprogrammed (erased) address word.
	InvalidAddress = 0xFFFFFFFF
)

// Application version pointer.
const (
	// AppVersionMagic precedes the application version string in an image.
	AppVersionMagic = "!AVP!@:"

	// AppVersionLength is the length of the application version string.
	AppVersionLength = 12
)

// Restart parameters.
const (
	// RestartEraseCode is the master reset erase code that restarts into the bootloader.
	RestartEraseCode = 7

	// RestartChannel is the channel number used with RestartEraseCode.
	RestartChannel = 255

	// DefaultRestartTime is used when the device does not report its restart time.
	DefaultRestartTime = 6 * time.Second

	// MaxFlashEraseTimeout is the worst case time the bootloader needs for one erase.
	MaxFlashEraseTimeout = 5 * time.Second

	// BootloaderUpdaterID marks the app version of a bootloader updater image.
	// Such an image replaces the bootloader after its first start.
	BootloaderUpdaterID = "SBblu"

	// BootloaderUpdaterRestartTime is the time a bootloader updater needs to
	// write the new bootloader and restart.
	BootloaderUpdaterRestartTime = time.Second
)
