package gateway

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Frame structure constants.
const (
	// StartOfFrame is the frame start marker (0x01)
	StartOfFrame = 0x01

	// EndOfFrame is the frame end marker (0x17)
	EndOfFrame = 0x17

	// MinFrameSize is the size of a frame without data:
	// SOF(1) + SVC(1) + ADDR(2) + LEN(1) + CHECKSUM(2) + EOF(1)
	MinFrameSize = 8

	// MaxDataSize is the largest data field a frame can carry.
	MaxDataSize = 0xFF

	headerSize = 5
)

// Gateway services.
const (
	// SvcTelegram carries an update telegram to the device and its response back.
	SvcTelegram = 0x10

	// SvcRestart restarts a device.
	SvcRestart = 0x11

	// SvcMasterReset restarts a device with erase code and channel.
	SvcMasterReset = 0x12

	// SvcProgMode reads the addresses of devices in programming mode.
	SvcProgMode = 0x13

	// SvcError reports a failed request. Data holds one of the Status* codes.
	SvcError = 0x1F
)

// Status codes carried by SvcError.
const (
	StatusTimeout      = 0x01
	StatusDisconnected = 0x02
	StatusLinkClosed   = 0x03
	StatusNack         = 0x04
)

var (
	errFrameTooShort = errors.New("frame too short")
	errBadChecksum   = errors.New("checksum mismatch")
)

// Frame is one gateway message.
//
//	[SOF][SVC][ADDR_H][ADDR_L][LEN][DATA...][CHECKSUM_L][CHECKSUM_H][EOF]
type Frame struct {
	Service byte
	Address uint16
	Data    []byte
}

// Encode builds the wire form of the frame.
func (f Frame) Encode() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, errors.Errorf("frame data too long: %d bytes, maximum is %d", len(f.Data), MaxDataSize)
	}

	frame := make([]byte, 0, MinFrameSize+len(f.Data))
	frame = append(frame, StartOfFrame, f.Service, byte(f.Address>>8), byte(f.Address), byte(len(f.Data)))
	frame = append(frame, f.Data...)

	sum := make([]byte, 2)
	binary.LittleEndian.PutUint16(sum, checksum(frame[1:]))
	frame = append(frame, sum...)

	return append(frame, EndOfFrame), nil
}

// checksum computes the 16-bit frame checksum over SVC through DATA:
// sum all bytes, then take the 2's complement.
func checksum(data []byte) uint16 {
	var sum uint16
	for _, b := range data {
		sum += uint16(b)
	}
	return 1 + (0xFFFF ^ sum)
}

// decoder extracts frames from a byte stream, skipping garbage between them.
type decoder struct {
	buf bytes.Buffer
}

func (d *decoder) feed(p []byte) {
	d.buf.Write(p)
}

// next returns the next complete frame. ok is false if more bytes are needed.
func (d *decoder) next() (f Frame, ok bool) {
	for {
		b := d.buf.Bytes()
		i := bytes.IndexByte(b, StartOfFrame)
		if i < 0 {
			d.buf.Reset()
			return Frame{}, false
		}
		d.buf.Next(i)
		b = d.buf.Bytes()

		if len(b) < headerSize {
			return Frame{}, false
		}
		size := MinFrameSize + int(b[4])
		if len(b) < size {
			// a false start can claim more bytes than will ever arrive
			if j := nextValidFrame(b); j > 0 {
				d.buf.Next(j)
				continue
			}
			return Frame{}, false
		}

		f, err := parseFrame(b[:size])
		if err != nil {
			// not a frame start, resync on the next marker
			d.buf.Next(1)
			continue
		}
		d.buf.Next(size)
		return f, true
	}
}

// nextValidFrame returns the offset of the first complete valid frame after
// b[0], or 0 if there is none.
func nextValidFrame(b []byte) int {
	for j := 1; j+MinFrameSize <= len(b); j++ {
		if b[j] != StartOfFrame {
			continue
		}
		size := MinFrameSize + int(b[j+4])
		if j+size > len(b) {
			continue
		}
		if _, err := parseFrame(b[j : j+size]); err == nil {
			return j
		}
	}
	return 0
}

func parseFrame(frame []byte) (Frame, error) {
	if len(frame) < MinFrameSize {
		return Frame{}, errFrameTooShort
	}
	if frame[0] != StartOfFrame || frame[len(frame)-1] != EndOfFrame {
		return Frame{}, errors.New("invalid frame markers")
	}
	n := int(frame[4])
	if len(frame) != MinFrameSize+n {
		return Frame{}, errors.Errorf("frame length mismatch: got %d bytes, expected %d", len(frame), MinFrameSize+n)
	}
	want := binary.LittleEndian.Uint16(frame[len(frame)-3:])
	if got := checksum(frame[1 : len(frame)-3]); got != want {
		return Frame{}, errors.Wrapf(errBadChecksum, "got 0x%04X, expected 0x%04X", got, want)
	}
	return Frame{
		Service: frame[1],
		Address: uint16(frame[2])<<8 | uint16(frame[3]),
		Data:    append([]byte(nil), frame[headerSize:headerSize+n]...),
	}, nil
}
