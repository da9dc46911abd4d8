// Package mock provides test doubles for the tts.Provider and tts.Stream
// interfaces.
//
// A mock Provider hands out mock Streams whose chunks the test controls: set
// Scripts for streams that are fully loaded up front, or push chunks manually
// via Stream.Push / Stream.Finish to exercise in-flight interruption. Every
// created Stream is recorded so tests can assert it was closed exactly once.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlance/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Scripts holds one chunk sequence per Synthesize call, in order. The
	// stream for call i is preloaded with Scripts[i] and finished. Calls
	// beyond len(Scripts) return an empty, unfinished stream the test drives
	// manually via the recorded handle.
	Scripts [][][]byte

	// Err, when set, is returned by every Synthesize call.
	Err error

	// Calls records the text passed to each Synthesize call.
	Calls []string

	// Streams records every Stream handed out, in call order.
	Streams []*Stream
}

var _ tts.Provider = (*Provider)(nil)

// Synthesize records the call and returns the next scripted Stream.
func (p *Provider) Synthesize(_ context.Context, text string) (tts.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		return nil, p.Err
	}

	s := NewStream()
	idx := len(p.Streams)
	if idx < len(p.Scripts) {
		for _, chunk := range p.Scripts[idx] {
			s.Push(chunk)
		}
		s.Finish()
	}
	p.Streams = append(p.Streams, s)
	return s, nil
}

// Stream is a controllable mock implementation of tts.Stream.
type Stream struct {
	ch chan []byte

	mu         sync.Mutex
	finished   bool
	closeCount int
}

var _ tts.Stream = (*Stream)(nil)

// NewStream returns an empty, unfinished Stream. Tests feed it with Push and
// end it with Finish.
func NewStream() *Stream {
	return &Stream{ch: make(chan []byte, 256)}
}

// Push appends a chunk to the stream. Pushes after Finish or Close are
// silently dropped, mirroring a network stream whose remainder is discarded.
func (s *Stream) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.ch <- chunk
}

// Finish closes the chunk channel, signalling a completed synthesis.
func (s *Stream) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	close(s.ch)
}

// Chunks implements tts.Stream.
func (s *Stream) Chunks() <-chan []byte {
	return s.ch
}

// Close implements tts.Stream. Counts invocations so tests can assert the
// exactly-once contract.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.finished {
		s.finished = true
		close(s.ch)
	}
	return nil
}

// CloseCount reports how many times Close was called.
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	return s.CloseCount() > 0
}
