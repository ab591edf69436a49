package protocol

import (
	"encoding/binary"
	"fmt"
)

// BootDescriptor describes the application image installed on a device.
//
// Encoded layout (BootDescriptorSize bytes, little-endian):
//
//	[START(4)][END(4)][CRC32(4)][APP_VERSION_ADDRESS(4)]
type BootDescriptor struct {
	// StartAddress is the first flash address of the application
	StartAddress uint32

	// EndAddress is the last flash address of the application (inclusive)
	EndAddress uint32

	// CRC32 is the checksum over StartAddress..EndAddress, both inclusive
	CRC32 uint32

	// AppVersionAddress points to the application version string in flash
	AppVersionAddress uint32
}

// Length returns the application size in bytes.
func (d BootDescriptor) Length() uint32 {
	if d.EndAddress < d.StartAddress {
		return 0
	}
	return d.EndAddress - d.StartAddress + 1
}

// Valid reports whether the descriptor describes a programmed application.
// Erased flash (all 0xFF) and zeroed descriptors are invalid.
func (d BootDescriptor) Valid() bool {
	if d.StartAddress == InvalidAddress || d.EndAddress == InvalidAddress {
		return false
	}
	return d.StartAddress < d.EndAddress
}

// MarshalBinary encodes the descriptor into its 16-byte wire form.
func (d BootDescriptor) MarshalBinary() ([]byte, error) {
	buf := make([]byte, BootDescriptorSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.StartAddress)
	binary.LittleEndian.PutUint32(buf[4:8], d.EndAddress)
	binary.LittleEndian.PutUint32(buf[8:12], d.CRC32)
	binary.LittleEndian.PutUint32(buf[12:16], d.AppVersionAddress)
	return buf, nil
}

// UnmarshalBinary decodes a descriptor. Extra trailing bytes are ignored.
func (d *BootDescriptor) UnmarshalBinary(data []byte) error {
	if len(data) < BootDescriptorSize {
		return fmt.Errorf("boot descriptor too short: got %d bytes, expected %d", len(data), BootDescriptorSize)
	}
	d.StartAddress = binary.LittleEndian.Uint32(data[0:4])
	d.EndAddress = binary.LittleEndian.Uint32(data[4:8])
	d.CRC32 = binary.LittleEndian.Uint32(data[8:12])
	d.AppVersionAddress = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

func (d BootDescriptor) String() string {
	return fmt.Sprintf("0x%04X-0x%04X, %d bytes, crc32 0x%08X, app version at 0x%04X",
		d.StartAddress, d.EndAddress, d.Length(), d.CRC32, d.AppVersionAddress)
}

// DecodeBootDescriptor decodes the payload of a RESPONSE_BOOT_DESC.
func DecodeBootDescriptor(data []byte) (BootDescriptor, error) {
	var d BootDescriptor
	err := d.UnmarshalBinary(data)
	return d, err
}

// Version is a major.minor protocol or firmware version.
type Version struct {
	Major byte
	Minor byte
}

// Less reports whether v is older than other.
func (v Version) Less(other Version) bool {
	if v.Major != other.Major {
		return v.Major < other.Major
	}
	return v.Minor < other.Minor
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ProtocolVersion selects framing and block size.
type ProtocolVersion int

const (
	// ProtocolV0 is the legacy protocol: 256-byte blocks and a position prefix in SEND_DATA.
	ProtocolV0 ProtocolVersion = iota

	// ProtocolV1 is the current protocol: 1024-byte blocks, no prefix.
	ProtocolV1
)

func (p ProtocolVersion) String() string {
	if p == ProtocolV0 {
		return "V0"
	}
	return "V1"
}

// BlockSize returns the ram buffer size the bootloader expects per PROGRAM.
func (p ProtocolVersion) BlockSize() int {
	if p == ProtocolV0 {
		return LegacyBlockSize
	}
	return BlockSize
}

// MaxASDULength returns the largest message the protocol version accepts.
func (p ProtocolVersion) MaxASDULength() int {
	if p == ProtocolV0 {
		return LegacyMaxASDULength
	}
	return MaxASDULength
}

// BootloaderIdentity is reported by the device in RESPONSE_BL_IDENTITY.
//
// Data format (BootloaderIdentitySize bytes):
//
//	[MAJOR][MINOR][FEATURES(2)][SBLIB_MAJOR][SBLIB_MINOR][APP_FIRST_ADDRESS(4)]
type BootloaderIdentity struct {
	// Version is the bootloader version
	Version Version

	// Features is the bootloader feature bit field
	Features uint16

	// SblibVersion is the version of the sblib the bootloader was built with
	SblibVersion Version

	// ApplicationFirstAddress is the lowest address an application may start at
	ApplicationFirstAddress uint32
}

// ProtocolVersion returns the protocol version this bootloader speaks.
func (b BootloaderIdentity) ProtocolVersion() ProtocolVersion {
	if b.Version.Less(LegacyProtocolBelow) {
		return ProtocolV0
	}
	return ProtocolV1
}

func (b BootloaderIdentity) String() string {
	return fmt.Sprintf("bootloader %s, features 0x%04X, sblib %s, application from 0x%04X",
		b.Version, b.Features, b.SblibVersion, b.ApplicationFirstAddress)
}

// Statistic holds the bootloader's bus statistic counters.
//
// Data format (StatisticSize bytes, little-endian):
//
//	[DISCONNECT_COUNT(2)][REPEATED_T_ACK_COUNT(2)]
type Statistic struct {
	DisconnectCount   uint16
	RepeatedTAckCount uint16
}

func (s Statistic) String() string {
	return fmt.Sprintf("#Disconnect: %d #repeated T_ACK: %d", s.DisconnectCount, s.RepeatedTAckCount)
}
