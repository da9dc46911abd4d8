package audio

import (
	"bytes"
	"testing"
)

func TestFormat_WindowBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format Format
		ms     int
		want   int
	}{
		{"16kHz mono 200ms", Format{SampleRate: 16000, Channels: 1}, 200, 6400},
		{"16kHz mono 1ms", Format{SampleRate: 16000, Channels: 1}, 1, 32},
		{"22.05kHz mono 100ms", Format{SampleRate: 22050, Channels: 1}, 100, 4400},
		{"48kHz stereo 20ms", Format{SampleRate: 48000, Channels: 2}, 20, 3840},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.WindowBytes(tt.ms); got != tt.want {
				t.Errorf("WindowBytes(%d) = %d, want %d", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormat_DurationMs(t *testing.T) {
	t.Parallel()

	f := Format{SampleRate: 16000, Channels: 1}
	if got := f.DurationMs(6400); got != 200 {
		t.Errorf("DurationMs(6400) = %d, want 200", got)
	}
	if got := f.DurationMs(32); got != 1 {
		t.Errorf("DurationMs(32) = %d, want 1", got)
	}
}

func TestFormat_Align(t *testing.T) {
	t.Parallel()

	f := Format{SampleRate: 16000, Channels: 1}

	tests := []struct {
		in       int
		wantDown int
		wantUp   int
	}{
		{0, 0, 0},
		{1, 0, 2},
		{2, 2, 2},
		{7, 6, 8},
		{6400, 6400, 6400},
		{-1, -2, 0},
		{-3, -4, -2},
		{-4, -4, -4},
	}
	for _, tt := range tests {
		if got := f.AlignDown(tt.in); got != tt.wantDown {
			t.Errorf("AlignDown(%d) = %d, want %d", tt.in, got, tt.wantDown)
		}
		if got := f.AlignUp(tt.in); got != tt.wantUp {
			t.Errorf("AlignUp(%d) = %d, want %d", tt.in, got, tt.wantUp)
		}
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x01, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x34, 0x12}
	format := Format{SampleRate: 16000, Channels: 1}

	encoded, err := EncodeWAV(pcm, format)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(encoded) != 44+len(pcm) {
		t.Fatalf("encoded length = %d, want %d", len(encoded), 44+len(pcm))
	}

	decoded, gotFormat, err := DecodeWAV(encoded)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Errorf("decoded PCM = %x, want %x", decoded, pcm)
	}
	if gotFormat != format {
		t.Errorf("decoded format = %+v, want %+v", gotFormat, format)
	}
}

func TestEncodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	format := Format{SampleRate: 16000, Channels: 1}
	if _, err := EncodeWAV(nil, format); err == nil {
		t.Error("EncodeWAV(nil): want error, got nil")
	}
	if _, err := EncodeWAV([]byte{0x01}, format); err == nil {
		t.Error("EncodeWAV(odd length): want error, got nil")
	}
	if _, err := EncodeWAV([]byte{0x01, 0x02}, Format{}); err == nil {
		t.Error("EncodeWAV(zero format): want error, got nil")
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	if _, _, err := DecodeWAV([]byte("too short")); err == nil {
		t.Error("DecodeWAV(short): want error, got nil")
	}

	bad := make([]byte, 64)
	copy(bad, "JUNK")
	if _, _, err := DecodeWAV(bad); err == nil {
		t.Error("DecodeWAV(not RIFF): want error, got nil")
	}
}
