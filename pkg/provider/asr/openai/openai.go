// Package openai provides an asr.Transcriber backed by the OpenAI audio
// transcription API (Whisper).
//
// Whisper returns plain, fully formatted text rather than the tagged token
// stream a SenseVoice-style backend emits. To keep the downstream tag
// handling uniform, the provider prefixes each transcript with the language
// tag for its configured recognition language (e.g. "<|en|>"), and it treats
// inverse text normalisation as always on — Whisper output already carries
// numerals and punctuation, so the useITN flag does not change the request.
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/asr"
)

const defaultModel = "whisper-1"

// Transcriber implements asr.Transcriber using the OpenAI transcription API.
type Transcriber struct {
	client   oai.Client
	model    string
	language string
	format   audio.Format
}

var _ asr.Transcriber = (*Transcriber)(nil)

// config holds optional configuration for the transcriber.
type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to target a
// self-hosted Whisper server with an OpenAI-compatible surface.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel selects the transcription model. Default: "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage fixes the recognition language (ISO 639-1, e.g. "en", "zh").
// The language is sent as a decoding hint and echoed as the transcript's
// leading language tag. Default: "en".
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a Transcriber. format describes the PCM layout of the
// segments that will be transcribed; segments are wrapped in a WAV container
// before upload.
func New(apiKey string, format audio.Format, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{model: defaultModel, language: "en"}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Transcriber{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
		format:   format,
	}, nil
}

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(ctx context.Context, pcm []byte, _ bool) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	wav, err := audio.EncodeWAV(pcm, t.format)
	if err != nil {
		return "", fmt.Errorf("openai: encode segment: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(t.model),
		File:  oai.File(bytes.NewReader(wav), "segment.wav", "audio/wav"),
	}
	if t.language != "" {
		params.Language = oai.String(t.language)
	}

	resp, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", nil
	}
	return fmt.Sprintf("<|%s|>%s", t.language, text), nil
}
