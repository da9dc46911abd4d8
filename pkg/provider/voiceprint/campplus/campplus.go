// Package campplus provides a voiceprint.Embedder backed by a CAM++ speaker
// embedding server. Audio goes out as base64-encoded raw PCM in a JSON body;
// the response carries the embedding vector.
package campplus

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// Compile-time interface assertion.
var _ voiceprint.Embedder = (*Embedder)(nil)

const defaultTimeout = 30 * time.Second

// Option is a functional option for configuring the Embedder.
type Option func(*Embedder)

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		e.httpClient.Timeout = d
	}
}

// Embedder implements voiceprint.Embedder against a CAM++ server. It is safe
// for concurrent use.
type Embedder struct {
	serverURL  string
	format     audio.Format
	httpClient *http.Client
}

// New creates an Embedder targeting the CAM++ endpoint at serverURL (e.g.,
// "http://localhost:50004/embed"). format is the PCM format of the segments
// that will be fed in.
func New(serverURL string, format audio.Format, opts ...Option) (*Embedder, error) {
	if serverURL == "" {
		return nil, errors.New("campplus: serverURL must not be empty")
	}
	e := &Embedder{
		serverURL:  strings.TrimRight(serverURL, "/"),
		format:     format,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

type embedRequest struct {
	Audio   string `json:"audio"`
	AudioFs int    `json:"audio_fs"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements voiceprint.Embedder.
func (e *Embedder) Embed(ctx context.Context, pcm []byte) ([]float32, error) {
	body, _ := json.Marshal(embedRequest{
		Audio:   base64.StdEncoding.EncodeToString(pcm),
		AudioFs: e.format.SampleRate,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("campplus: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("campplus: POST %s: %w", e.serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("campplus: POST %s returned status %d: %s", e.serverURL, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, fmt.Errorf("campplus: decode response: %w", err)
	}
	if len(er.Embedding) == 0 {
		return nil, errors.New("campplus: server returned an empty embedding")
	}
	return er.Embedding, nil
}
