package image

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moffa90/go-busupdater/protocol"
)

func TestParseHex(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantStart uint32
		wantData  []byte
		wantErr   bool
	}{
		{
			name: "single record",
			input: ":047000000102030482\n" +
				":00000001FF\n",
			wantStart: 0x7000,
			wantData:  []byte{0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "gap is padded with 0xFF",
			input: ":047000000102030482\n" +
				":02700800AABB21\n" +
				":00000001FF\n",
			wantStart: 0x7000,
			wantData:  []byte{0x01, 0x02, 0x03, 0x04, 0xFF, 0xFF, 0xFF, 0xFF, 0xAA, 0xBB},
		},
		{
			name:    "bad checksum",
			input:   ":047000000102030400\n:00000001FF\n",
			wantErr: true,
		},
		{
			name:    "no data",
			input:   ":00000001FF\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := ParseHex(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if img.StartAddress() != tt.wantStart {
				t.Errorf("StartAddress() = 0x%04X, want 0x%04X", img.StartAddress(), tt.wantStart)
			}
			if !bytes.Equal(img.Data(), tt.wantData) {
				t.Errorf("Data() = %X, want %X", img.Data(), tt.wantData)
			}
			if img.CRC32() != protocol.CRC32(tt.wantData) {
				t.Errorf("CRC32() = 0x%08X, want 0x%08X", img.CRC32(), protocol.CRC32(tt.wantData))
			}
		})
	}
}

func TestBinImageAddresses(t *testing.T) {
	img := FromBytes(0x7000, make([]byte, 34624))
	if img.EndAddress() != 0x7000+34624-1 {
		t.Errorf("EndAddress() = 0x%X, want last byte 0x%X", img.EndAddress(), 0x7000+34624-1)
	}
	if img.Length() != 34624 {
		t.Errorf("Length() = %d", img.Length())
	}
}

func TestFromBytesCopies(t *testing.T) {
	data := []byte{1, 2, 3}
	img := FromBytes(0, data)
	data[0] = 9
	if img.Data()[0] != 1 {
		t.Error("FromBytes() did not copy the input")
	}
}

func TestResize(t *testing.T) {
	img := FromBytes(0x7000, []byte{1, 2, 3, 4})

	longer := img.Resize(6)
	if !bytes.Equal(longer.Data(), []byte{1, 2, 3, 4, 0, 0}) {
		t.Errorf("Resize(6) = %X", longer.Data())
	}
	if longer.CRC32() == img.CRC32() {
		t.Error("Resize() did not recompute the crc")
	}

	shorter := img.Resize(2)
	if !bytes.Equal(shorter.Data(), []byte{1, 2}) || shorter.StartAddress() != 0x7000 {
		t.Errorf("Resize(2) = %s", shorter)
	}
	if !bytes.Equal(img.Data(), []byte{1, 2, 3, 4}) {
		t.Error("Resize() modified the source image")
	}
}

func buildAppImage(size int, markerAt int, version string) []byte {
	data := make([]byte, size)
	copy(data[markerAt:], protocol.AppVersionMagic)
	copy(data[markerAt+len(protocol.AppVersionMagic):], version)
	return data
}

func TestAppVersion(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantOffset uint32
		wantString string
	}{
		{
			name:       "marker found",
			data:       buildAppImage(1024, 0x200, "SB-Out4.2.1 "),
			wantOffset: 0x200 + 7,
			wantString: "SB-Out4.2.1 ",
		},
		{
			name:       "no marker",
			data:       make([]byte, 1024),
			wantOffset: 0,
		},
		{
			name:       "marker inside vector table",
			data:       buildAppImage(1024, 0x10, "x"),
			wantOffset: 0,
		},
		{
			name:       "string runs past image",
			data:       buildAppImage(0x210, 0x200, "abc"),
			wantOffset: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := FromBytes(0x7000, tt.data)
			if got := img.AppVersionOffset(); got != tt.wantOffset {
				t.Errorf("AppVersionOffset() = 0x%X, want 0x%X", got, tt.wantOffset)
			}
			if got := img.AppVersion(); got != tt.wantString {
				t.Errorf("AppVersion() = %q, want %q", got, tt.wantString)
			}
		})
	}
}

func TestDescriptor(t *testing.T) {
	img := FromBytes(0x7000, buildAppImage(1024, 0x200, "v1"))
	d := img.Descriptor(img.AppVersionOffset())

	if d.StartAddress != 0x7000 || d.EndAddress != 0x73FF || d.CRC32 != img.CRC32() {
		t.Errorf("Descriptor() = %s", d)
	}
	if d.AppVersionAddress != 0x7000+0x207 {
		t.Errorf("AppVersionAddress = 0x%X", d.AppVersionAddress)
	}
	if d.Length() != uint32(img.Length()) {
		t.Errorf("Length() = %d, want %d", d.Length(), img.Length())
	}
	if img.Descriptor(0).AppVersionAddress != 0 {
		t.Error("Descriptor(0) should not set an app version address")
	}
}

func TestReadWriteBin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.bin")
	data := make([]byte, 300)
	binary.LittleEndian.PutUint32(data, 0xDEADBEEF)
	img := FromBytes(0x7000, data)

	if err := WriteBin(path, img); err != nil {
		t.Fatalf("WriteBin() error = %v", err)
	}

	got, err := Read(path, 0x7000)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.CRC32() != img.CRC32() || got.StartAddress() != 0x7000 {
		t.Errorf("Read() = %s, want %s", got, img)
	}

	if _, err := ReadBin(filepath.Join(t.TempDir(), "missing.bin"), 0); err == nil {
		t.Error("ReadBin() expected error for missing file")
	}
}
