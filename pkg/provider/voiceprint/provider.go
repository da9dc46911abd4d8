// Package voiceprint defines the speaker embedding capability used for
// speaker verification.
package voiceprint

import "context"

// Embedder computes a fixed-dimension speaker embedding from raw audio.
// Implementations must be safe for concurrent use.
type Embedder interface {
	// Embed returns the speaker embedding of pcm (raw 16-bit little-endian
	// PCM at the session's input format). The vector is not required to be
	// unit length; callers normalise before comparing.
	Embed(ctx context.Context, pcm []byte) ([]float32, error)
}
