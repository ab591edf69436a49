package image

import (
	"bytes"
	"fmt"

	"github.com/moffa90/go-busupdater/protocol"
)

// BinImage is a contiguous firmware image and the flash address it belongs at.
//
// A BinImage is never modified in place; operations that change the data
// return a new image with a recomputed CRC32.
type BinImage struct {
	startAddress uint32
	data         []byte
	crc32        uint32
}

// FromBytes creates an image starting at startAddress. The data is copied.
func FromBytes(startAddress uint32, data []byte) *BinImage {
	return newImage(startAddress, append([]byte(nil), data...))
}

// Filled creates an image of size bytes all set to fill.
func Filled(startAddress uint32, size int, fill byte) *BinImage {
	return newImage(startAddress, bytes.Repeat([]byte{fill}, size))
}

func newImage(startAddress uint32, data []byte) *BinImage {
	return &BinImage{
		startAddress: startAddress,
		data:         data,
		crc32:        protocol.CRC32(data),
	}
}

// StartAddress returns the flash address of the first byte.
func (b *BinImage) StartAddress() uint32 { return b.startAddress }

// EndAddress returns the address of the last byte. An empty image ends at its
// start address.
func (b *BinImage) EndAddress() uint32 {
	if len(b.data) == 0 {
		return b.startAddress
	}
	return b.startAddress + uint32(len(b.data)) - 1
}

// Length returns the image size in bytes.
func (b *BinImage) Length() int { return len(b.data) }

// CRC32 returns the checksum over the whole image.
func (b *BinImage) CRC32() uint32 { return b.crc32 }

// Data returns the image bytes. The caller must not modify them.
func (b *BinImage) Data() []byte { return b.data }

// Copy returns an independent copy of the image.
func (b *BinImage) Copy() *BinImage {
	return FromBytes(b.startAddress, b.data)
}

// Resize returns a copy truncated or zero padded to n bytes.
func (b *BinImage) Resize(n int) *BinImage {
	data := make([]byte, n)
	copy(data, b.data)
	return newImage(b.startAddress, data)
}

// AppVersionOffset returns the image offset of the application version string,
// found right after the AppVersionMagic marker. It returns 0 when there is no
// marker or the string would overlap the vector table or run past the image.
func (b *BinImage) AppVersionOffset() uint32 {
	i := bytes.Index(b.data, []byte(protocol.AppVersionMagic))
	if i < 0 {
		return 0
	}
	return b.checkAppVersionOffset(uint32(i + len(protocol.AppVersionMagic)))
}

func (b *BinImage) checkAppVersionOffset(offset uint32) uint32 {
	if offset <= protocol.VectorTableEnd || int(offset) >= len(b.data)-protocol.AppVersionLength {
		return 0
	}
	return offset
}

// IsAppVersionOffset reports whether a version string can be stored at offset.
func (b *BinImage) IsAppVersionOffset(offset uint32) bool {
	return b.checkAppVersionOffset(offset) != 0
}

// AppVersionAt returns the version string stored at offset, or "" if offset is
// not a usable location.
func (b *BinImage) AppVersionAt(offset uint32) string {
	if b.checkAppVersionOffset(offset) == 0 {
		return ""
	}
	return string(bytes.TrimRight(b.data[offset:offset+protocol.AppVersionLength], "\x00\xff"))
}

// AppVersion returns the embedded application version string, if any.
func (b *BinImage) AppVersion() string {
	return b.AppVersionAt(b.AppVersionOffset())
}

// Descriptor returns the boot descriptor for this image. appVersionOffset is
// relative to the image start; 0 means none.
func (b *BinImage) Descriptor(appVersionOffset uint32) protocol.BootDescriptor {
	d := protocol.BootDescriptor{
		StartAddress: b.startAddress,
		EndAddress:   b.EndAddress(),
		CRC32:        b.crc32,
	}
	if appVersionOffset != 0 {
		d.AppVersionAddress = b.startAddress + appVersionOffset
	}
	return d
}

func (b *BinImage) String() string {
	return fmt.Sprintf("start 0x%04X, end 0x%04X, length %d, crc32 0x%08X",
		b.startAddress, b.EndAddress(), len(b.data), b.crc32)
}
