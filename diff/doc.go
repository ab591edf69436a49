// Package diff computes the differential page stream used for differential
// firmware updates.
//
// A Strategy walks the new image page by page and, for every page, emits a
// stream that lets the device rebuild that page from its current flash
// content. The stream of each page is followed by the CRC32 of the page, which
// the device checks before programming.
//
// Encoder is the format the Selfbus bootloader decompresses. Decoder is its
// inverse and behaves like the bootloader; it is used by the device simulator
// and by tests.
//
//	err := diff.Encoder{}.Diff(oldImage, newImage, func(page []byte, crc uint32) error {
//	    return send(page, crc)
//	})
package diff
