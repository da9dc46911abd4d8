// Package mock provides a voiceprint.Embedder double for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// Embedder is a configurable mock implementation of voiceprint.Embedder.
type Embedder struct {
	mu sync.Mutex

	// Embeddings are returned one per Embed call, in order. When exhausted,
	// the last entry is repeated.
	Embeddings [][]float32

	// Err, when set, is returned by every Embed call.
	Err error

	// Calls records the pcm passed to each Embed call.
	Calls [][]byte

	next int
}

var _ voiceprint.Embedder = (*Embedder)(nil)

func (e *Embedder) Embed(_ context.Context, pcm []byte) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Calls = append(e.Calls, pcm)
	if e.Err != nil {
		return nil, e.Err
	}
	if len(e.Embeddings) == 0 {
		return nil, nil
	}
	idx := e.next
	if idx >= len(e.Embeddings) {
		idx = len(e.Embeddings) - 1
	}
	e.next++
	return e.Embeddings[idx], nil
}
