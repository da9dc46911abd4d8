// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., a CosyVoice server or
// a local Piper instance) and presents a uniform streaming interface. Each
// Synthesize call returns an independent Stream handle, which lets the
// synthesis stage dispatch several utterances concurrently, deliver their
// audio strictly in order, and abandon in-flight handles wholesale when the
// user barges in.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Stream is a handle to one in-flight synthesis request.
type Stream interface {
	// Chunks returns the channel of raw PCM audio byte slices for this
	// utterance. The channel is closed by the implementation when synthesis
	// completes, fails, or the stream is closed. A closed channel with no
	// preceding chunks can mean either an empty utterance or a synthesis
	// failure; callers that need to distinguish should check Close's error.
	Chunks() <-chan []byte

	// Close releases the stream and any underlying network resources. It is
	// idempotent: the first call tears the stream down and subsequent calls
	// return the same result. Closing a stream that is still producing audio
	// abandons the remainder.
	Close() error
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple Synthesize calls
// may run in parallel; the synthesis stage relies on this for lookahead.
type Provider interface {
	// Synthesize starts synthesis of text and returns a Stream handle for the
	// resulting audio. The error is non-nil only when the request cannot be
	// started. The caller owns the returned Stream and must Close it exactly
	// once, whether or not it drains the chunks.
	Synthesize(ctx context.Context, text string) (Stream, error)
}
