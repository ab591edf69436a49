package diff

import (
	"github.com/pkg/errors"

	"github.com/moffa90/go-busupdater/protocol"
)

// Decoder errors.
var (
	ErrPageOverflow   = errors.New("diff stream exceeds page size")
	ErrCopyOutOfRange = errors.New("copy source out of range")
	ErrIncomplete     = errors.New("page completed in the middle of a command")
	ErrPageCRC        = errors.New("page crc mismatch")
	ErrFlashFull      = errors.New("page beyond end of flash")
)

type decoderState int

const (
	expectCommand decoderState = iota
	expectParams
	expectRaw
)

// Decoder applies a diff stream to flash memory, page by page, the same way
// the bootloader does.
type Decoder struct {
	flash   []byte
	window  *window
	scratch [PageSize]byte
	n       int
	page    int

	state    decoderState
	cmd      [5]byte
	cmdLen   int
	expected int
	rawLen   int
}

// NewDecoder returns a decoder writing into flash, which starts at the
// application start address. flash is modified by ProgramPage.
func NewDecoder(flash []byte) *Decoder {
	return &Decoder{flash: flash, window: newWindow()}
}

// Write feeds diff stream bytes into the decoder.
func (d *Decoder) Write(p []byte) (int, error) {
	for i, b := range p {
		if err := d.putByte(b); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

func (d *Decoder) length() int {
	if d.cmd[0]&FlagLong != 0 {
		return int(d.cmd[0]&lengthMask)<<8 | int(d.cmd[1])
	}
	return int(d.cmd[0] & lengthMask)
}

func (d *Decoder) copySource() (fromRAM bool, offset int) {
	a := d.cmd[1:4]
	if d.cmd[0]&FlagLong != 0 {
		a = d.cmd[2:5]
	}
	return a[0]&AddrFromRAM != 0, (int(a[0])<<16 | int(a[1])<<8 | int(a[2])) & addressMask
}

func (d *Decoder) putByte(b byte) error {
	switch d.state {
	case expectCommand:
		d.cmd[0] = b
		d.cmdLen = 1
		d.expected = 1
		if b&CmdCopy != 0 {
			d.expected += 3
		}
		if b&FlagLong != 0 {
			d.expected++
		}
		if d.expected > 1 {
			d.state = expectParams
			return nil
		}
		return d.startRaw()

	case expectParams:
		d.cmd[d.cmdLen] = b
		d.cmdLen++
		if d.cmdLen < d.expected {
			return nil
		}
		if d.cmd[0]&CmdCopy == 0 {
			return d.startRaw()
		}
		d.state = expectCommand
		return d.copy()

	case expectRaw:
		if d.n >= PageSize {
			return ErrPageOverflow
		}
		d.scratch[d.n] = b
		d.n++
		d.rawLen++
		if d.rawLen >= d.length() {
			d.state = expectCommand
		}
	}
	return nil
}

func (d *Decoder) startRaw() error {
	d.rawLen = 0
	d.state = expectRaw
	if d.length() == 0 {
		d.state = expectCommand
	}
	return nil
}

func (d *Decoder) copy() error {
	n := d.length()
	if d.n+n > PageSize {
		return ErrPageOverflow
	}
	fromRAM, offset := d.copySource()
	src := d.flash
	if fromRAM {
		src = d.window.data[:]
	}
	if offset+n > len(src) {
		return errors.Wrapf(ErrCopyOutOfRange, "offset %d length %d", offset, n)
	}
	copy(d.scratch[d.n:], src[offset:offset+n])
	d.n += n
	return nil
}

// Page returns the decompressed bytes of the current page so far.
func (d *Decoder) Page() []byte {
	return d.scratch[:d.n]
}

// PageIndex returns the index of the page the next ProgramPage writes.
func (d *Decoder) PageIndex() int {
	return d.page
}

// ProgramPage checks the decompressed page against crc and writes it to
// flash. The replaced flash content is kept in the RAM window.
func (d *Decoder) ProgramPage(crc uint32) error {
	defer d.reset()

	if d.state != expectCommand {
		return ErrIncomplete
	}
	if got := protocol.CRC32(d.scratch[:d.n]); got != crc {
		return errors.Wrapf(ErrPageCRC, "got 0x%08X, want 0x%08X", got, crc)
	}

	start := d.page * PageSize
	if start+d.n > len(d.flash) {
		return ErrFlashFull
	}
	end := start + PageSize
	if end > len(d.flash) {
		end = len(d.flash)
	}
	page := d.flash[start:end]
	d.window.push(page, len(page))
	copy(d.flash[start:], d.scratch[:d.n])
	d.page++
	return nil
}

func (d *Decoder) reset() {
	d.n = 0
	d.state = expectCommand
	d.scratch = [PageSize]byte{}
}
