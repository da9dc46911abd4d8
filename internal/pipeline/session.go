package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/internal/speaker"
	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/asr"
	"github.com/MrWong99/parlance/pkg/provider/llm"
	"github.com/MrWong99/parlance/pkg/provider/tts"
	"github.com/MrWong99/parlance/pkg/provider/vad"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// Channel capacities. The audio channels are bounded to cap memory and apply
// backpressure to capture and playback; the control channels are sized to
// absorb bursts without ever realistically blocking a producer.
const (
	audioInBuf   = 32
	audioOutBuf  = 32
	segmentBuf   = 8
	messageBuf   = 64
	eventBuf     = 64
	fragmentBuf  = 64
	deliveredBuf = 64
)

// Default stream parameters, matching the models the pipeline was built
// against: 16 kHz mono input, 200 ms detection windows.
const (
	DefaultWindowMs = 200
)

// DefaultInputFormat is the PCM format expected from the transport when the
// session parameters leave it unset.
var DefaultInputFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Capabilities are the external model backends a session consumes. Detector
// and Transcriber are always required. Embedder and Speakers are required
// when speaker verification is requested. LLM and TTS must be set together;
// with both nil the session runs recognition-only.
type Capabilities struct {
	Detector    vad.Detector
	Transcriber asr.Transcriber
	Punctuator  asr.Punctuator
	Corrector   asr.Corrector
	Embedder    voiceprint.Embedder
	Speakers    *speaker.Registry
	LLM         llm.Provider
	TTS         tts.Provider
}

// SessionParams configure one dialogue session.
type SessionParams struct {
	// ID identifies the session in logs. Generated when empty.
	ID string

	// Input is the inbound PCM format. Defaults to [DefaultInputFormat].
	Input audio.Format

	// WindowMs is the voice-activity window duration. Defaults to
	// [DefaultWindowMs].
	WindowMs int

	// Recognition holds the per-session policy options.
	Recognition Options

	// SystemPrompt, Temperature and MaxTokens parameterise the conversation
	// engine. Ignored in recognition-only sessions.
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// Logger defaults to slog.Default. The session derives a child logger
	// carrying the session ID.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Session owns one transport connection's pipeline: the stage goroutines and
// every channel between them. Feed PCM with [Session.Push], close the input
// with [Session.CloseInput], and consume [Session.Messages] and
// [Session.Audio] until they close.
type Session struct {
	id      string
	log     *slog.Logger
	metrics *observe.Metrics

	segmenter    *Segmenter
	recognizer   *Recognizer
	conversation *Conversation
	synthesizer  *Synthesizer

	// preempt mirrors the original client behaviour: playback stops on the
	// speech-start marker (not just on a finished transcript) exactly when
	// speaker verification is active.
	preempt bool
	dialog  bool

	audioIn   chan []byte
	messages  chan Message
	audioOut  chan []byte
	closeOnce sync.Once
}

// NewSession wires a session from params and caps. It validates that the
// capability set is coherent but opens no connections; stages start running
// only in [Session.Run].
func NewSession(params SessionParams, caps Capabilities) (*Session, error) {
	if caps.Detector == nil {
		return nil, errors.New("pipeline: session requires a vad detector")
	}
	if caps.Transcriber == nil {
		return nil, errors.New("pipeline: session requires a transcriber")
	}
	if params.Recognition.SpeakerVerify != "" && (caps.Embedder == nil || caps.Speakers == nil) {
		return nil, errors.New("pipeline: speaker verification requires an embedder and a speaker registry")
	}
	if (caps.LLM == nil) != (caps.TTS == nil) {
		return nil, errors.New("pipeline: llm and tts providers must be configured together")
	}

	if params.ID == "" {
		params.ID = uuid.NewString()
	}
	if params.Input == (audio.Format{}) {
		params.Input = DefaultInputFormat
	}
	if params.WindowMs <= 0 {
		params.WindowMs = DefaultWindowMs
	}
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	if params.Metrics == nil {
		params.Metrics = observe.DefaultMetrics()
	}
	log := params.Logger.With("session_id", params.ID)

	s := &Session{
		id:      params.ID,
		log:     log,
		metrics: params.Metrics,
		preempt: params.Recognition.SpeakerVerify != "",
		dialog:  caps.LLM != nil,

		audioIn:  make(chan []byte, audioInBuf),
		messages: make(chan Message, messageBuf),
		audioOut: make(chan []byte, audioOutBuf),
	}

	s.segmenter = NewSegmenter(caps.Detector, params.Input, params.WindowMs, log, params.Metrics)
	s.recognizer = NewRecognizer(RecognizerConfig{
		Transcriber: caps.Transcriber,
		Punctuator:  caps.Punctuator,
		Corrector:   caps.Corrector,
		Embedder:    caps.Embedder,
		Speakers:    caps.Speakers,
		Options:     params.Recognition,
		Logger:      log,
		Metrics:     params.Metrics,
	})
	if s.dialog {
		s.conversation = NewConversation(ConversationConfig{
			Provider:     caps.LLM,
			SystemPrompt: params.SystemPrompt,
			Temperature:  params.Temperature,
			MaxTokens:    params.MaxTokens,
			Logger:       log,
			Metrics:      params.Metrics,
		})
		s.synthesizer = NewSynthesizer(SynthesizerConfig{
			Provider: caps.TTS,
			Logger:   log,
			Metrics:  params.Metrics,
		})
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Push feeds one chunk of raw PCM into the pipeline, blocking when the
// bounded audio channel is full.
func (s *Session) Push(ctx context.Context, chunk []byte) error {
	select {
	case s.audioIn <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseInput signals end of audio. The stages drain and shut down in order;
// Messages and Audio close once everything in flight has been processed.
// Safe to call more than once.
func (s *Session) CloseInput() {
	s.closeOnce.Do(func() { close(s.audioIn) })
}

// Messages returns the channel of outbound transport messages: speech-start
// markers and recognition results.
func (s *Session) Messages() <-chan Message { return s.messages }

// Audio returns the channel of synthesised audio chunks. Closed immediately
// in recognition-only sessions.
func (s *Session) Audio() <-chan []byte { return s.audioOut }

// Run starts every stage and blocks until the pipeline drains after
// [Session.CloseInput], a stage fails, or ctx is cancelled. The first stage
// error cancels all siblings; channel ownership guarantees Messages and
// Audio close on return.
func (s *Session) Run(ctx context.Context) error {
	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	s.log.Info("session started", "dialog", s.dialog, "preempt", s.preempt)

	segments := make(chan SegmentEvent, segmentBuf)
	outcomes := make(chan Message, messageBuf)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.segmenter.Run(ctx, s.audioIn, segments) })
	g.Go(func() error { return s.recognizer.Run(ctx, segments, outcomes) })

	if s.dialog {
		events := make(chan UserEvent, eventBuf)
		fragments := make(chan Fragment, fragmentBuf)
		delivered := make(chan string, deliveredBuf)
		g.Go(func() error { return s.route(ctx, outcomes, events) })
		g.Go(func() error { return s.conversation.Run(ctx, events, delivered, fragments) })
		g.Go(func() error { return s.synthesizer.Run(ctx, fragments, s.audioOut, delivered) })
	} else {
		close(s.audioOut)
		g.Go(func() error { return s.forward(ctx, outcomes) })
	}

	err := g.Wait()
	if err != nil {
		s.log.Error("session failed", "err", err)
	} else {
		s.log.Info("session finished")
	}
	return err
}

// route fans each recognition outcome out to the transport message channel
// and derives the conversation engine's user events: a preemption on
// speech-start (when enabled) and a text event for every non-empty
// transcript. Empty-text results — policy rejections, silence — reach the
// transport but never the conversation.
func (s *Session) route(ctx context.Context, outcomes <-chan Message, events chan<- UserEvent) error {
	defer close(events)
	defer close(s.messages)

	for {
		var msg Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-outcomes:
			if !ok {
				return nil
			}
			msg = m
		}

		select {
		case s.messages <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}

		var ev UserEvent
		switch {
		case msg.SpeechStart && s.preempt:
			ev = UserEvent{Preempt: true}
		case msg.Result != nil && msg.Result.Text != "":
			ev = UserEvent{Text: msg.Result.Text}
		default:
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward is the recognition-only counterpart of route: outcomes go to the
// transport and nowhere else.
func (s *Session) forward(ctx context.Context, outcomes <-chan Message) error {
	defer close(s.messages)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-outcomes:
			if !ok {
				return nil
			}
			select {
			case s.messages <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
