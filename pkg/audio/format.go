// Package audio provides the PCM primitives shared by every pipeline stage:
// the stream [Format] with its byte/duration arithmetic, a minimal WAV codec
// for speaker enrolment files, and the [Drain] helper for abandoned streaming
// channels.
//
// All audio in Parlance is uncompressed 16-bit little-endian PCM. A sample is
// therefore always 2 bytes wide; code that slices raw buffers must keep
// offsets aligned to sample boundaries (see [Format.AlignDown] and
// [Format.AlignUp]).
package audio

// BytesPerSample is the width of one PCM sample. Parlance processes 16-bit
// linear PCM exclusively; compressed codecs are out of scope.
const BytesPerSample = 2

// Format describes the fixed layout of a PCM stream. It is immutable for the
// lifetime of a session: every chunk read from the source and every chunk
// written to the sink shares the session's input or output format.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for recognition input, 22050 for
	// synthesised output).
	SampleRate int

	// Channels is the number of interleaved channels. 1 for the dialogue
	// pipeline's mono streams.
	Channels int
}

// BytesPerMs returns the number of bytes that one millisecond of audio
// occupies in this format. The result is exact only when the sample rate is a
// multiple of 1000, which holds for all supported rates.
func (f Format) BytesPerMs() int {
	return f.SampleRate / 1000 * f.Channels * BytesPerSample
}

// WindowBytes returns the byte size of a window of the given duration.
func (f Format) WindowBytes(ms int) int {
	return f.BytesPerMs() * ms
}

// DurationMs returns the duration in milliseconds of n bytes of audio in this
// format, truncated to whole milliseconds.
func (f Format) DurationMs(n int) int {
	return n / f.BytesPerMs()
}

// AlignDown rounds i down to the nearest sample boundary. Used for segment
// start offsets so a slice never begins mid-sample. Negative values round
// toward negative infinity, since a boundary may land in an earlier window
// and produce a negative window-relative index.
func (f Format) AlignDown(i int) int {
	m := i % BytesPerSample
	if m < 0 {
		m += BytesPerSample
	}
	return i - m
}

// AlignUp rounds i up to the nearest sample boundary. Used for segment end
// offsets so a slice never ends mid-sample.
func (f Format) AlignUp(i int) int {
	m := i % BytesPerSample
	if m < 0 {
		m += BytesPerSample
	}
	if m != 0 {
		return i + BytesPerSample - m
	}
	return i
}
