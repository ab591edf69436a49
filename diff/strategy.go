package diff

import "github.com/moffa90/go-busupdater/protocol"

// Stream format constants.
const (
	// PageSize is the unit the device decompresses and programs at once.
	PageSize = protocol.FlashPageSize

	// WindowPages is the number of overwritten old pages the device keeps in RAM.
	WindowPages = 2

	// MinCopyLength is the shortest match worth a copy command.
	MinCopyLength = 6

	// MaxCopyLength is the longest length a command can encode.
	MaxCopyLength = 2047

	// MaxShortLength is the longest length that fits into the command byte.
	MaxShortLength = 63
)

// Command byte flags.
const (
	CmdRaw      = 0x00
	CmdCopy     = 0x80
	FlagLong    = 0x40
	AddrFromRAM = 0x80

	lengthMask  = 0x3F
	addressMask = 0x7FFFFF
)

// PageFunc receives the diff stream of one flash page and the CRC32 of the
// page content the device must end up with.
type PageFunc func(diff []byte, pageCRC uint32) error

// Strategy produces a per-page diff that turns the old image into the new one.
//
// Diff must call emit once per page of newImage, in order. Page n covers
// newImage[n*PageSize:(n+1)*PageSize]; the last page may be shorter.
type Strategy interface {
	Diff(oldImage, newImage []byte, emit PageFunc) error
}

// Size runs s without sending anything and returns the total number of diff
// bytes it would produce.
func Size(s Strategy, oldImage, newImage []byte) (int, error) {
	total := 0
	err := s.Diff(oldImage, newImage, func(diff []byte, _ uint32) error {
		total += len(diff)
		return nil
	})
	return total, err
}

// window mirrors the device RAM buffer of the last overwritten pages.
// The oldest page comes first. known holds how many leading bytes of each
// page are known to match the device; the initial all-zero buffer is known.
type window struct {
	data  [WindowPages * PageSize]byte
	known [WindowPages]int
}

func newWindow() *window {
	w := &window{}
	for i := range w.known {
		w.known[i] = PageSize
	}
	return w
}

func (w *window) push(oldPage []byte, known int) {
	copy(w.data[:], w.data[PageSize:])
	copy(w.known[:], w.known[1:])
	last := w.data[(WindowPages-1)*PageSize:]
	n := copy(last, oldPage)
	for i := n; i < PageSize; i++ {
		last[i] = 0
	}
	if known > n {
		known = n
	}
	if known < 0 {
		known = 0
	}
	w.known[WindowPages-1] = known
}

// knownEnd returns the end of the known region starting at i, or i if the
// byte at i is unknown.
func (w *window) knownEnd(i int) int {
	p := i / PageSize
	end := p*PageSize + w.known[p]
	if i >= end {
		return i
	}
	for p+1 < WindowPages && w.known[p] == PageSize {
		p++
		end = p*PageSize + w.known[p]
	}
	return end
}

// longest returns the first longest prefix of pattern found in the known
// part of the window.
func (w *window) longest(pattern []byte) (offset, length int) {
	limit := len(pattern)
	if limit > MaxCopyLength {
		limit = MaxCopyLength
	}
	for i := range w.data {
		end := w.knownEnd(i)
		if end == i {
			continue
		}
		n := matchLen(w.data[i:end], pattern, limit)
		if n > length {
			offset, length = i, n
			if n == limit {
				break
			}
		}
	}
	return offset, length
}
