package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestBuildFrame(t *testing.T) {
	got := BuildFrame(CmdProgram, []byte{0x01, 0x02})
	want := []byte{0xEE, 0x01, 0x02}
	if !bytes.Equal(got, want) {
		t.Errorf("BuildFrame() = %X, want %X", got, want)
	}
	if got := BuildFrame(CmdRequestUID, nil); !bytes.Equal(got, []byte{0xBE}) {
		t.Errorf("BuildFrame() without payload = %X", got)
	}
}

func TestBuildProgramPayload(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		address uint32
		crc     uint32
		want    []byte
		wantErr bool
	}{
		{
			name:    "full block",
			length:  1024,
			address: 0x7000,
			crc:     0xE8B27ADE,
			want:    []byte{0x00, 0x04, 0x00, 0x70, 0x00, 0x00, 0xDE, 0x7A, 0xB2, 0xE8},
		},
		{
			name:    "zero length",
			length:  0,
			wantErr: true,
		},
		{
			name:    "too long",
			length:  0x10000,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildProgramPayload(tt.length, tt.address, tt.crc)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BuildProgramPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !bytes.Equal(got, tt.want) {
				t.Errorf("BuildProgramPayload() = %X, want %X", got, tt.want)
			}
			if !tt.wantErr && 1+len(got) > MaxASDULength {
				t.Errorf("PROGRAM frame of %d bytes exceeds %d", 1+len(got), MaxASDULength)
			}
		})
	}
}

func TestBuildAddressRangePayload(t *testing.T) {
	got, err := BuildAddressRangePayload(0x7000, 0x7FFF)
	if err != nil {
		t.Fatalf("BuildAddressRangePayload() error = %v", err)
	}
	if binary.LittleEndian.Uint32(got[0:4]) != 0x7000 || binary.LittleEndian.Uint32(got[4:8]) != 0x7FFF {
		t.Errorf("BuildAddressRangePayload() = %X", got)
	}

	if _, err := BuildAddressRangePayload(0x8000, 0x7000); err == nil {
		t.Error("BuildAddressRangePayload() expected error for inverted range")
	}
}

func TestBuildUpdateBootDescPayloadCRC(t *testing.T) {
	d := BootDescriptor{StartAddress: 0x7000, EndAddress: 0x7000 + 34624, CRC32: 0xE8B27ADE, AppVersionAddress: 0x7100}
	encoded, _ := d.MarshalBinary()

	payload := BuildUpdateBootDescPayload(encoded)
	if len(payload) != 8 {
		t.Fatalf("payload length = %d, want 8", len(payload))
	}
	if n := binary.LittleEndian.Uint32(payload[0:4]); n != BootDescriptorSize {
		t.Errorf("length field = %d, want %d", n, BootDescriptorSize)
	}
	if crc := binary.LittleEndian.Uint32(payload[4:8]); crc != CRC32(encoded) {
		t.Errorf("crc field = 0x%08X, want 0x%08X", crc, CRC32(encoded))
	}
}

func TestBuildUnlockPayload(t *testing.T) {
	uid := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	got, err := BuildUnlockPayload(uid)
	if err != nil {
		t.Fatalf("BuildUnlockPayload() error = %v", err)
	}
	if !bytes.Equal(got, uid[:UIDLength]) {
		t.Errorf("BuildUnlockPayload() = %X, want %X", got, uid[:UIDLength])
	}

	if _, err := BuildUnlockPayload(uid[:5]); err == nil {
		t.Error("BuildUnlockPayload() expected error for short uid")
	}
}

func TestBuildSendDataPayload(t *testing.T) {
	data := []byte{0xAA, 0xBB}

	if got := BuildSendDataPayload(ProtocolV1, 26, data); !bytes.Equal(got, data) {
		t.Errorf("V1 payload = %X, want %X", got, data)
	}
	if got := BuildSendDataPayload(ProtocolV0, 26, data); !bytes.Equal(got, []byte{26, 0xAA, 0xBB}) {
		t.Errorf("V0 payload = %X, want 1AAABB", got)
	}

	full := make([]byte, MaxPayload)
	if n := 1 + len(BuildSendDataPayload(ProtocolV0, 0, full)); n != LegacyMaxASDULength {
		t.Errorf("legacy frame = %d bytes, want %d", n, LegacyMaxASDULength)
	}
}

func TestBuildIdentityRequestPayload(t *testing.T) {
	got := BuildIdentityRequestPayload(Version{Major: 1, Minor: 23})
	if !bytes.Equal(got, []byte{1, 23}) {
		t.Errorf("BuildIdentityRequestPayload() = %X", got)
	}
}
