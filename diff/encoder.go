package diff

import "github.com/moffa90/go-busupdater/protocol"

// Encoder is the copy/raw diff understood by the Selfbus bootloader.
//
// Each page is described by a sequence of commands:
//
//	RAW:  [0x00|len]            [data...]   len <= 63
//	      [0x40|len>>8][len&0xFF][data...]
//	COPY: [0x80|len]            [A2][A1][A0]
//	      [0xC0|len>>8][len&0xFF][A2][A1][A0]
//
// A copy takes bytes from the old flash content (offset from the image
// start) or, if bit 7 of A2 is set, from the RAM window holding the last
// WindowPages pages overwritten on the device.
//
// The zero value is ready to use.
type Encoder struct{}

// Diff implements Strategy.
func (Encoder) Diff(oldImage, newImage []byte, emit PageFunc) error {
	rom := make([]byte, len(newImage))
	copy(rom, oldImage)
	valid := len(oldImage)
	if valid > len(rom) {
		valid = len(rom)
	}

	w := newWindow()
	idx := newMatchIndex()

	for pageStart := 0; pageStart < len(newImage); pageStart += PageSize {
		pageEnd := pageStart + PageSize
		if pageEnd > len(newImage) {
			pageEnd = len(newImage)
		}
		idx.rebuild(rom[:valid])

		out := encodePage(rom[:valid], w, idx, newImage[pageStart:pageEnd])
		if err := emit(out, protocol.CRC32(newImage[pageStart:pageEnd])); err != nil {
			return err
		}

		// emulate the device: back up the old page, then program the new one
		oldEnd := pageStart + PageSize
		if oldEnd > len(rom) {
			oldEnd = len(rom)
		}
		w.push(rom[pageStart:oldEnd], valid-pageStart)
		copy(rom[pageStart:pageEnd], newImage[pageStart:pageEnd])
		if pageEnd > valid {
			valid = pageEnd
		}
	}
	return nil
}

func encodePage(rom []byte, w *window, idx *matchIndex, page []byte) []byte {
	var out, raw []byte

	for i := 0; i < len(page); {
		pattern := page[i:]
		romOff, romLen := idx.longest(rom, pattern)
		ramOff, ramLen := w.longest(pattern)

		if romLen >= MinCopyLength || ramLen >= MinCopyLength {
			out = appendRaw(out, raw)
			raw = raw[:0]
			if romLen > ramLen {
				out = appendCopy(out, romLen, romOff, false)
				i += romLen
			} else {
				out = appendCopy(out, ramLen, ramOff, true)
				i += ramLen
			}
			continue
		}

		raw = append(raw, page[i])
		i++
	}
	return appendRaw(out, raw)
}

func appendLength(out []byte, cmd byte, n int) []byte {
	if n <= MaxShortLength {
		return append(out, cmd|byte(n))
	}
	return append(out, cmd|FlagLong|byte(n>>8)&lengthMask, byte(n))
}

func appendRaw(out, raw []byte) []byte {
	if len(raw) == 0 {
		return out
	}
	out = appendLength(out, CmdRaw, len(raw))
	return append(out, raw...)
}

func appendCopy(out []byte, n, offset int, fromRAM bool) []byte {
	out = appendLength(out, CmdCopy, n)
	hi := byte(offset>>16) & 0x7F
	if fromRAM {
		hi |= AddrFromRAM
	}
	return append(out, hi, byte(offset>>8), byte(offset))
}

func matchLen(a, b []byte, limit int) int {
	n := 0
	for n < limit && n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

// matchIndex chains the positions of every 2-byte prefix in the old flash,
// lowest position first.
type matchIndex struct {
	head [1 << 16]int32
	next []int32
}

func newMatchIndex() *matchIndex {
	return &matchIndex{}
}

func (m *matchIndex) rebuild(src []byte) {
	for i := range m.head {
		m.head[i] = -1
	}
	if cap(m.next) < len(src) {
		m.next = make([]int32, len(src))
	}
	m.next = m.next[:len(src)]
	for i := len(src) - 2; i >= 0; i-- {
		k := uint16(src[i])<<8 | uint16(src[i+1])
		m.next[i] = m.head[k]
		m.head[k] = int32(i)
	}
}

func (m *matchIndex) longest(src, pattern []byte) (offset, length int) {
	if len(pattern) < 2 {
		return 0, 0
	}
	limit := len(pattern)
	if limit > MaxCopyLength {
		limit = MaxCopyLength
	}
	k := uint16(pattern[0])<<8 | uint16(pattern[1])
	for i := m.head[k]; i >= 0; i = m.next[i] {
		n := matchLen(src[i:], pattern, limit)
		if n > length {
			offset, length = int(i), n
			if n == limit {
				break
			}
		}
	}
	return offset, length
}
