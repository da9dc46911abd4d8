// Package fsmn provides a vad.Detector backed by an FSMN voice-activity
// server speaking the FunASR online WebSocket protocol.
//
// One WebSocket connection carries one audio stream: the connection is opened
// lazily on the first window of a stream and kept in the per-stream
// [vad.Cache], because the model's detection state lives server-side behind
// the connection. Each window is sent as a binary frame and answered with a
// text frame listing the boundaries detected so far.
package fsmn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/vad"
)

// Compile-time interface assertion.
var _ vad.Detector = (*Detector)(nil)

// cacheKey is where the per-stream connection lives inside the vad.Cache.
const cacheKey = "fsmn.session"

const defaultDialTimeout = 10 * time.Second

// Option is a functional option for configuring the FSMN Detector.
type Option func(*Detector)

// WithDialTimeout bounds the WebSocket dial and handshake for each new
// stream. Defaults to 10 s.
func WithDialTimeout(d time.Duration) Option {
	return func(det *Detector) {
		det.dialTimeout = d
	}
}

// WithStreamName sets the wav_name announced in the handshake, which the
// server uses to label its logs. Defaults to "parlance".
func WithStreamName(name string) Option {
	return func(det *Detector) {
		det.streamName = name
	}
}

// Detector implements vad.Detector against a remote FSMN server. It is safe
// for concurrent use across different caches; a single cache belongs to one
// stream.
type Detector struct {
	serverURL   string
	format      audio.Format
	streamName  string
	dialTimeout time.Duration
}

// New creates a Detector targeting the FSMN server at serverURL (e.g.,
// "ws://localhost:10095"). format is the PCM format of the windows that will
// be fed in.
func New(serverURL string, format audio.Format, opts ...Option) (*Detector, error) {
	if serverURL == "" {
		return nil, errors.New("fsmn: serverURL must not be empty")
	}
	d := &Detector{
		serverURL:   serverURL,
		format:      format,
		streamName:  "parlance",
		dialTimeout: defaultDialTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// handshake is the first text frame of every stream.
type handshake struct {
	Mode       string `json:"mode"`
	WavName    string `json:"wav_name"`
	AudioFs    int    `json:"audio_fs"`
	ChunkMs    int    `json:"chunk_ms"`
	IsSpeaking bool   `json:"is_speaking"`
}

// response is the server's answer to one window. Text holds a JSON-encoded
// list of [start, end] millisecond pairs; -1 marks an edge not yet observed.
type response struct {
	Text string `json:"text"`
}

// session is the per-stream state held in the vad.Cache.
type session struct {
	conn *websocket.Conn
}

// DetectWindow implements vad.Detector.
func (d *Detector) DetectWindow(ctx context.Context, window []byte, windowMs int, cache vad.Cache, offsetMs int) ([]vad.Boundary, error) {
	sess, ok := cache[cacheKey].(*session)
	if !ok {
		var err error
		if sess, err = d.open(ctx, windowMs); err != nil {
			return nil, err
		}
		cache[cacheKey] = sess
	}

	if err := sess.conn.Write(ctx, websocket.MessageBinary, window); err != nil {
		return nil, fmt.Errorf("fsmn: send window at %d ms: %w", offsetMs, err)
	}

	typ, data, err := sess.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("fsmn: read result at %d ms: %w", offsetMs, err)
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("fsmn: unexpected %v frame at %d ms", typ, offsetMs)
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("fsmn: decode result: %w", err)
	}
	return parseSegments(resp.Text)
}

// open dials the server and performs the handshake. The connection is torn
// down when ctx — the session context — ends.
func (d *Detector) open(ctx context.Context, windowMs int) (*session, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, d.serverURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fsmn: dial %s: %w", d.serverURL, err)
	}

	hs, _ := json.Marshal(handshake{
		Mode:       "online",
		WavName:    d.streamName,
		AudioFs:    d.format.SampleRate,
		ChunkMs:    windowMs,
		IsSpeaking: true,
	})
	if err := conn.Write(dialCtx, websocket.MessageText, hs); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("fsmn: handshake: %w", err)
	}

	context.AfterFunc(ctx, func() {
		conn.Close(websocket.StatusNormalClosure, "stream ended")
	})
	return &session{conn: conn}, nil
}

// parseSegments decodes the server's "[[start, end], ...]" segment list.
// An empty string means no boundaries in this window.
func parseSegments(text string) ([]vad.Boundary, error) {
	if text == "" {
		return nil, nil
	}
	var pairs [][]int
	if err := json.Unmarshal([]byte(text), &pairs); err != nil {
		return nil, fmt.Errorf("fsmn: decode segments %q: %w", text, err)
	}
	boundaries := make([]vad.Boundary, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("fsmn: malformed segment %v", p)
		}
		boundaries = append(boundaries, vad.Boundary{StartMs: p[0], EndMs: p[1]})
	}
	return boundaries, nil
}
