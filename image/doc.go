// Package image provides the in-memory firmware image used by the updater.
//
// A BinImage is a contiguous block of bytes, the flash address it belongs at
// and its CRC32. Images are loaded from Intel HEX files, raw binaries (as
// kept in the image cache) or built from memory:
//
//	img, err := image.ReadHex("app.hex")
//	img := image.FromBytes(0x7000, data)
//
// # Application Version
//
// Selfbus applications embed a 12-byte version string right after the marker
// "!AVP!@:". AppVersionOffset locates it and Descriptor stores its address in
// the boot descriptor, so the bootloader can report it later.
package image
