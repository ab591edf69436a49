// Package cache keeps previously flashed firmware images on disk.
//
// Images are stored as raw binaries named after their start address, length
// and CRC32:
//
//	image-<start:hex>-<length:decimal>-<crc32:hex>.bin
//
// The updater stores every image it loads. On the next update it derives the
// key from the boot descriptor the device reports and, on a hit, uses the
// cached image as the baseline for a differential update.
package cache
