package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for a PCM data chunk.
// Files with extra chunks between "fmt " and "data" are not supported; every
// enrolment file Parlance writes or expects uses this minimal layout.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV wraps raw 16-bit little-endian PCM bytes in a WAV container.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio: cannot encode empty PCM buffer")
	}
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio: PCM length %d is not sample aligned", len(pcm))
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid format %+v", format)
	}

	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.Channels * BytesPerSample),
		BlockAlign:    uint16(format.Channels * BytesPerSample),
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("audio: write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// DecodeWAV extracts the raw PCM bytes and format from a WAV container.
// Only uncompressed 16-bit PCM is accepted.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 44 {
		return nil, Format{}, fmt.Errorf("audio: WAV data too short: %d bytes", len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, Format{}, fmt.Errorf("audio: read WAV header: %w", err)
	}

	if string(header.ChunkID[:]) != "RIFF" || string(header.Format[:]) != "WAVE" {
		return nil, Format{}, fmt.Errorf("audio: not a RIFF/WAVE file")
	}
	if header.AudioFormat != 1 {
		return nil, Format{}, fmt.Errorf("audio: unsupported WAV audio format %d (want PCM)", header.AudioFormat)
	}
	if header.BitsPerSample != 16 {
		return nil, Format{}, fmt.Errorf("audio: unsupported bit depth %d (want 16)", header.BitsPerSample)
	}
	if string(header.Subchunk2ID[:]) != "data" {
		return nil, Format{}, fmt.Errorf("audio: missing data chunk")
	}

	size := int(header.Subchunk2Size)
	if size > len(data)-44 {
		size = len(data) - 44
	}
	format := Format{SampleRate: int(header.SampleRate), Channels: int(header.NumChannels)}
	return data[44 : 44+size], format, nil
}
