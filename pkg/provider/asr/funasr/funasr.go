// Package funasr provides asr capability clients for a FunASR runtime
// serving SenseVoice transcription and CT-Transformer punctuation over HTTP.
//
// Both endpoints take and return small JSON bodies; audio is carried as
// base64-encoded raw PCM. The transcriber returns SenseVoice's rich
// transcript form with embedded <|...|> tags, which the recognition stage
// interprets.
package funasr

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
	"github.com/MrWong99/parlance/pkg/provider/asr"
)

// Compile-time interface assertions.
var (
	_ asr.Transcriber = (*Transcriber)(nil)
	_ asr.Punctuator  = (*Punctuator)(nil)
)

const defaultTimeout = 30 * time.Second

// Transcriber implements asr.Transcriber against a SenseVoice endpoint.
// It is safe for concurrent use.
type Transcriber struct {
	serverURL  string
	format     audio.Format
	httpClient *http.Client
}

// TranscriberOption is a functional option for configuring a Transcriber.
type TranscriberOption func(*Transcriber)

// WithTranscriberTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTranscriberTimeout(d time.Duration) TranscriberOption {
	return func(t *Transcriber) {
		t.httpClient.Timeout = d
	}
}

// NewTranscriber creates a Transcriber targeting the SenseVoice endpoint at
// serverURL (e.g., "http://localhost:50002/recognize"). format is the PCM
// format of the segments that will be fed in.
func NewTranscriber(serverURL string, format audio.Format, opts ...TranscriberOption) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("funasr: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  strings.TrimRight(serverURL, "/"),
		format:     format,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

type recognizeRequest struct {
	Audio   string `json:"audio"`
	AudioFs int    `json:"audio_fs"`
	UseITN  bool   `json:"use_itn"`
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, useITN bool) (string, error) {
	body, _ := json.Marshal(recognizeRequest{
		Audio:   base64.StdEncoding.EncodeToString(pcm),
		AudioFs: t.format.SampleRate,
		UseITN:  useITN,
	})
	var resp recognizeResponse
	if err := postJSON(ctx, t.httpClient, t.serverURL, body, &resp); err != nil {
		return "", fmt.Errorf("funasr: transcribe: %w", err)
	}
	return resp.Text, nil
}

// Punctuator implements asr.Punctuator against a CT-Transformer endpoint.
// It is safe for concurrent use.
type Punctuator struct {
	serverURL  string
	httpClient *http.Client
}

// PunctuatorOption is a functional option for configuring a Punctuator.
type PunctuatorOption func(*Punctuator)

// WithPunctuatorTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithPunctuatorTimeout(d time.Duration) PunctuatorOption {
	return func(p *Punctuator) {
		p.httpClient.Timeout = d
	}
}

// NewPunctuator creates a Punctuator targeting the CT-Transformer endpoint
// at serverURL (e.g., "http://localhost:50003/punctuate").
func NewPunctuator(serverURL string, opts ...PunctuatorOption) (*Punctuator, error) {
	if serverURL == "" {
		return nil, errors.New("funasr: serverURL must not be empty")
	}
	p := &Punctuator{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type punctuateRequest struct {
	Text string `json:"text"`
}

type punctuateResponse struct {
	Text string `json:"text"`
}

// Restore implements asr.Punctuator.
func (p *Punctuator) Restore(ctx context.Context, text string) (string, error) {
	body, _ := json.Marshal(punctuateRequest{Text: text})
	var resp punctuateResponse
	if err := postJSON(ctx, p.httpClient, p.serverURL, body, &resp); err != nil {
		return "", fmt.Errorf("funasr: punctuate: %w", err)
	}
	return resp.Text, nil
}

// postJSON posts body to url and decodes the JSON response into out.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s returned status %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
