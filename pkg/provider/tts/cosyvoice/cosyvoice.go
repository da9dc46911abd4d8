// Package cosyvoice provides a TTS provider backed by a CosyVoice streaming
// server. It implements the tts.Provider interface.
//
// The server exposes a single HTTP endpoint that accepts a GET request with a
// form-encoded body of {"tts_text": ..., "spk_id": ...} and responds with a
// chunked stream of raw 16-bit little-endian PCM, headerless, at the model's
// native sample rate (22050 Hz mono for the stock voices).
//
// Typical usage:
//
//	p, err := cosyvoice.New("http://localhost:50000/inference_stream",
//	    cosyvoice.WithSpeaker("中文女"),
//	    cosyvoice.WithTimeout(60*time.Second),
//	)
//	stream, err := p.Synthesize(ctx, "你好！")
//	for chunk := range stream.Chunks() { ... }
//	stream.Close()
package cosyvoice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parlance/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Stream   = (*stream)(nil)
)

const (
	defaultSpeaker = "中文女"
	defaultTimeout = 60 * time.Second

	// defaultChunkSize matches 1024 frames of 16-bit mono PCM, the granularity
	// the playback side consumes.
	defaultChunkSize = 2048

	// chunkChanBuf is the buffer depth of each stream's chunk channel. Deep
	// enough that a stream being synthesised ahead of its delivery turn does
	// not stall the HTTP read.
	chunkChanBuf = 256
)

// Option is a functional option for configuring a CosyVoice Provider.
type Option func(*Provider)

// WithSpeaker sets the spk_id sent with every synthesis request.
// Defaults to "中文女" if not set.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.speaker = speaker
	}
}

// WithTimeout sets the per-request HTTP timeout, covering the whole streamed
// response. Defaults to 60 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithChunkSize sets the size in bytes of the PCM chunks emitted on each
// stream's channel. Defaults to 2048 (1024 frames of 16-bit mono).
func WithChunkSize(n int) Option {
	return func(p *Provider) {
		p.chunkSize = n
	}
}

// Provider implements tts.Provider backed by a CosyVoice streaming server.
// It is safe for concurrent use; multiple Synthesize calls may run in parallel.
type Provider struct {
	serverURL  string
	speaker    string
	chunkSize  int
	httpClient *http.Client
}

// New creates a new CosyVoice Provider that targets the server at serverURL
// (e.g., "http://localhost:50000/inference_stream"). serverURL must be
// non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("cosyvoice: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		speaker:   defaultSpeaker,
		chunkSize: defaultChunkSize,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider. It issues the HTTP request immediately
// and returns a Stream whose channel emits PCM as the response body arrives.
func (p *Provider) Synthesize(ctx context.Context, text string) (tts.Stream, error) {
	form := url.Values{}
	form.Set("tts_text", text)
	form.Set("spk_id", p.speaker)

	// The server follows the requests/httpx convention of a GET with a
	// form-encoded body rather than query parameters.
	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL, strings.NewReader(form.Encode()))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cosyvoice: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("cosyvoice: GET %s: %w", p.serverURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("cosyvoice: GET %s returned status %d", p.serverURL, resp.StatusCode)
	}

	s := &stream{
		ch:     make(chan []byte, chunkChanBuf),
		cancel: cancel,
		body:   resp.Body,
	}
	go s.pump(p.chunkSize)
	return s, nil
}

// stream is one in-flight synthesis response.
type stream struct {
	ch     chan []byte
	cancel context.CancelFunc
	body   io.ReadCloser

	closeOnce sync.Once
	closeErr  error
}

// pump reads the response body into fixed-size chunks until EOF or Close.
func (s *stream) pump(chunkSize int) {
	defer close(s.ch)
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(s.body, buf)
		if n > 0 {
			s.ch <- buf[:n]
		}
		if err != nil {
			return
		}
	}
}

// Chunks implements tts.Stream.
func (s *stream) Chunks() <-chan []byte {
	return s.ch
}

// Close implements tts.Stream. Safe to call multiple times.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
		// Drain so the pump goroutine can exit even if the caller stopped
		// reading mid-stream.
		go func() {
			for range s.ch {
			}
		}()
	})
	return s.closeErr
}
