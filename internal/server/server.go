package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/parlance/internal/config"
	"github.com/MrWong99/parlance/internal/health"
	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/internal/pipeline"
	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/asr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// vadStartMessage is the text frame sent to the client when the detector
// reports speech onset, before any transcript exists.
const vadStartMessage = "[VAD Start]"

// Config assembles a dialogue server.
type Config struct {
	// Capabilities are the providers shared by every session.
	Capabilities pipeline.Capabilities

	// Session holds the per-session policy defaults, overridable per
	// connection through query parameters.
	Session config.SessionConfig

	// Audio is the stream format configuration.
	Audio config.AudioConfig

	// Checkers are registered on the readiness endpoint.
	Checkers []health.Checker

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Server accepts websocket dialogue connections and runs one pipeline
// session per connection. Session policy defaults and the corrector can be
// swapped at runtime to follow configuration reloads.
type Server struct {
	log     *slog.Logger
	metrics *observe.Metrics
	health  *health.Handler

	mu      sync.RWMutex
	caps    pipeline.Capabilities
	session config.SessionConfig
	audio   config.AudioConfig
}

// New validates the capability set and returns a ready server.
func New(cfg Config) (*Server, error) {
	if cfg.Capabilities.Detector == nil {
		return nil, errors.New("server: a vad detector is required")
	}
	if cfg.Capabilities.Transcriber == nil {
		return nil, errors.New("server: a transcriber is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Server{
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		health:  health.New(cfg.Checkers...),
		caps:    cfg.Capabilities,
		session: cfg.Session.Defaulted(),
		audio:   cfg.Audio.Defaulted(),
	}, nil
}

// UpdateSession replaces the per-session policy defaults. Sessions already
// running keep the options they started with.
func (s *Server) UpdateSession(cfg config.SessionConfig) {
	s.mu.Lock()
	s.session = cfg.Defaulted()
	s.mu.Unlock()
}

// SetCorrector swaps the transcript corrector used by new sessions. A nil
// corrector disables correction.
func (s *Server) SetCorrector(c asr.Corrector) {
	s.mu.Lock()
	s.caps.Corrector = c
	s.mu.Unlock()
}

// Handler returns the server's routes. Health and metrics endpoints go
// through the instrumentation middleware; the dialogue endpoint is mounted
// raw because the websocket upgrade needs the unwrapped response writer for
// connection hijacking.
func (s *Server) Handler() http.Handler {
	observed := http.NewServeMux()
	s.health.Register(observed)
	observed.Handle("/metrics", promhttp.Handler())

	mux := http.NewServeMux()
	mux.HandleFunc("/dialog", s.handleDialog)
	mux.Handle("/", observe.Middleware(s.metrics)(observed))
	return mux
}

func (s *Server) handleDialog(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	caps := s.caps
	defaults := s.session
	audioCfg := s.audio
	s.mu.RUnlock()

	opts, err := sessionOptions(r.URL.Query(), defaults)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess, err := pipeline.NewSession(pipeline.SessionParams{
		Input:        audio.Format{SampleRate: audioCfg.InputSampleRate, Channels: 1},
		WindowMs:     audioCfg.VADWindowMs,
		Recognition:  opts,
		SystemPrompt: defaults.SystemPrompt,
		Temperature:  defaults.Temperature,
		MaxTokens:    defaults.MaxTokens,
		Logger:       s.log,
		Metrics:      s.metrics,
	}, caps)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Clients are native audio applications, not browsers; there is no
	// origin to check.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// The dialogue route skips the HTTP middleware, so the session span
	// starts here.
	ctx, span := observe.StartSpan(r.Context(), "dialog session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("session.id", sess.ID())))
	defer span.End()

	log := observe.Logger(ctx, s.log).With("session", sess.ID())
	log.Info("dialog connected",
		"remote", r.RemoteAddr,
		"speaker_verify", opts.SpeakerVerify,
		"threshold", opts.Threshold)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.Run(ctx) })
	g.Go(func() error { return s.readPump(ctx, conn, sess) })
	g.Go(func() error { return s.writeMessages(ctx, conn, sess.Messages()) })
	g.Go(func() error { return s.writeAudio(ctx, conn, sess.Audio()) })

	if err := g.Wait(); err != nil {
		log.Error("dialog session failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}
	log.Info("dialog closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

// readPump feeds inbound binary frames into the session until the client
// closes or the context ends. Non-binary frames are ignored.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *pipeline.Session) error {
	defer sess.CloseInput()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || isClientGone(err) {
				return nil
			}
			return fmt.Errorf("server: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if err := sess.Push(ctx, data); err != nil {
			return err
		}
	}
}

// writeMessages sends recognition output as text frames: the speech-start
// marker verbatim, results as indented JSON.
func (s *Server) writeMessages(ctx context.Context, conn *websocket.Conn, msgs <-chan pipeline.Message) error {
	for msg := range msgs {
		payload := []byte(vadStartMessage)
		if !msg.SpeechStart {
			var err error
			payload, err = json.MarshalIndent(msg.Result, "", "  ")
			if err != nil {
				return fmt.Errorf("server: encode result: %w", err)
			}
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return fmt.Errorf("server: write message: %w", err)
		}
	}
	return nil
}

// writeAudio sends synthesised PCM as binary frames.
func (s *Server) writeAudio(ctx context.Context, conn *websocket.Conn, chunks <-chan []byte) error {
	for chunk := range chunks {
		if err := conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
			return fmt.Errorf("server: write audio: %w", err)
		}
	}
	return nil
}

// isClientGone reports whether a read error means the peer closed the
// connection rather than something failing.
func isClientGone(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
