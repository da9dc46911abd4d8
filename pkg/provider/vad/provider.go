// Package vad defines the Detector interface for Voice Activity Detection
// backends.
//
// A VAD detector wraps a streaming speech-boundary model (e.g., an FSMN VAD
// served over HTTP, or an in-process ONNX runtime). The pipeline feeds it
// fixed-duration PCM windows in stream order together with an opaque [Cache]
// that carries the model's internal state between calls; the detector reports
// segment boundaries in absolute stream milliseconds.
//
// Detection latency directly gates end-of-utterance latency, so
// implementations should avoid per-call allocation of model state — that is
// what the cache is for.
//
// Implementations must be safe for concurrent use across different caches.
// A single Cache belongs to one audio stream and must not be shared.
package vad

import "context"

// Cache carries detector-internal streaming state between successive
// [Detector.DetectWindow] calls for one audio stream. The pipeline treats it
// as opaque: it creates an empty cache per session and passes it back
// unchanged on every call.
type Cache map[string]any

// NewCache returns an empty per-stream cache.
func NewCache() Cache { return Cache{} }

// Boundary reports one detected segment boundary. Positions are absolute
// milliseconds from the start of the stream; a negative value means the
// corresponding edge was not observed in this window.
type Boundary struct {
	// StartMs is the absolute position where speech began, or -1.
	StartMs int

	// EndMs is the absolute position where speech ended, or -1.
	EndMs int
}

// Detector is the abstraction over any voice-activity backend.
type Detector interface {
	// DetectWindow analyses one window of raw PCM covering windowMs
	// milliseconds starting at offsetMs in the stream. cache carries model
	// state between calls and is mutated in place.
	//
	// The returned boundaries are in stream order. A boundary may report only
	// a start, only an end, or both; both edges of one utterance may also
	// arrive in different windows.
	//
	// A non-nil error is fatal to the session: once a window fails the
	// stream's audio continuity is broken and detection state is unusable.
	DetectWindow(ctx context.Context, window []byte, windowMs int, cache Cache, offsetMs int) ([]Boundary, error)
}
