package image

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
	"github.com/pkg/errors"
)

// HexPadding fills gaps between Intel HEX records, matching erased flash.
const HexPadding = 0xFF

// ReadHex loads an Intel HEX file. The image spans from the lowest to the
// highest address in the file; gaps are filled with HexPadding.
//
// Example:
//
//	img, err := image.ReadHex("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(img)
func ReadHex(path string) (*BinImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open hex file")
	}
	defer func() { _ = f.Close() }()

	img, err := ParseHex(f)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	return img, nil
}

// ParseHex loads an Intel HEX image from any io.Reader.
func ParseHex(r io.Reader) (*BinImage, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, errors.Wrap(err, "invalid intel hex")
	}

	segments := mem.GetDataSegments()
	if len(segments) == 0 {
		return nil, errors.New("no data records found")
	}

	start := segments[0].Address
	end := segments[0].Address + uint32(len(segments[0].Data))
	for _, s := range segments[1:] {
		if s.Address < start {
			start = s.Address
		}
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}

	return newImage(start, mem.ToBinary(start, end-start, HexPadding)), nil
}

// ReadBin loads a raw binary image that belongs at startAddress.
func ReadBin(path string, startAddress uint32) (*BinImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read bin file")
	}
	return newImage(startAddress, data), nil
}

// Read loads a firmware file, choosing the format from its extension:
// ".bin" files are raw images placed at binStart, anything else is Intel HEX.
func Read(path string, binStart uint32) (*BinImage, error) {
	if strings.EqualFold(filepath.Ext(path), ".bin") {
		return ReadBin(path, binStart)
	}
	return ReadHex(path)
}

// WriteBin writes the raw image bytes to path.
func WriteBin(path string, img *BinImage) error {
	if err := os.WriteFile(path, img.Data(), 0o644); err != nil {
		return errors.Wrap(err, "write bin file")
	}
	return nil
}
