package gateway

import (
	"bytes"
	"testing"
)

func TestFrameEncode(t *testing.T) {
	f := Frame{Service: SvcTelegram, Address: 0x1105, Data: []byte{0x01, 0xBE}}
	got, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	// sum(0x10, 0x11, 0x05, 0x02, 0x01, 0xBE) = 0xE7, two's complement 0xFF19
	want := []byte{0x01, 0x10, 0x11, 0x05, 0x02, 0x01, 0xBE, 0x19, 0xFF, 0x17}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode() = % X, want % X", got, want)
	}
}

func TestFrameEncodeTooLong(t *testing.T) {
	f := Frame{Service: SvcTelegram, Data: make([]byte, MaxDataSize+1)}
	if _, err := f.Encode(); err == nil {
		t.Error("Encode() expected error for oversized data")
	}
}

func TestChecksum(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", nil, 0x0000},
		{"single byte", []byte{0x01}, 0xFFFF},
		{"wraps", []byte{0xFF, 0xFF}, 0xFE02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checksum(tt.data); got != tt.want {
				t.Errorf("checksum() = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestDecoder(t *testing.T) {
	a, _ := Frame{Service: SvcTelegram, Address: 0x1105, Data: []byte{0xBD, 1, 2}}.Encode()
	b, _ := Frame{Service: SvcProgMode, Data: []byte{0x11, 0x05}}.Encode()

	corrupt := append([]byte(nil), a...)
	corrupt[len(corrupt)-2] ^= 0xFF

	tests := []struct {
		name   string
		chunks [][]byte
		want   []Frame
	}{
		{
			name:   "single frame",
			chunks: [][]byte{a},
			want:   []Frame{{Service: SvcTelegram, Address: 0x1105, Data: []byte{0xBD, 1, 2}}},
		},
		{
			name:   "split across reads",
			chunks: [][]byte{a[:3], a[3:7], a[7:]},
			want:   []Frame{{Service: SvcTelegram, Address: 0x1105, Data: []byte{0xBD, 1, 2}}},
		},
		{
			name:   "leading garbage",
			chunks: [][]byte{{0xAA, 0x55}, b},
			want:   []Frame{{Service: SvcProgMode, Data: []byte{0x11, 0x05}}},
		},
		{
			name:   "two frames in one read",
			chunks: [][]byte{append(append([]byte(nil), a...), b...)},
			want: []Frame{
				{Service: SvcTelegram, Address: 0x1105, Data: []byte{0xBD, 1, 2}},
				{Service: SvcProgMode, Data: []byte{0x11, 0x05}},
			},
		},
		{
			name:   "corrupt frame skipped",
			chunks: [][]byte{corrupt, b},
			want:   []Frame{{Service: SvcProgMode, Data: []byte{0x11, 0x05}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d decoder
			var got []Frame
			for _, c := range tt.chunks {
				d.feed(c)
				for {
					f, ok := d.next()
					if !ok {
						break
					}
					got = append(got, f)
				}
			}

			if len(got) != len(tt.want) {
				t.Fatalf("decoded %d frames, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Service != tt.want[i].Service || got[i].Address != tt.want[i].Address ||
					!bytes.Equal(got[i].Data, tt.want[i].Data) {
					t.Errorf("frame %d = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseFrameErrors(t *testing.T) {
	good, _ := Frame{Service: SvcRestart, Address: 1}.Encode()

	badEOF := append([]byte(nil), good...)
	badEOF[len(badEOF)-1] = 0x00

	tests := []struct {
		name  string
		frame []byte
	}{
		{"too short", good[:4]},
		{"bad end marker", badEOF},
		{"length mismatch", append(append([]byte(nil), good[:len(good)-1]...), 0x00, EndOfFrame)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseFrame(tt.frame); err == nil {
				t.Error("parseFrame() expected error")
			}
		})
	}
}
