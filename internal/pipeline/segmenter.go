package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/vad"
)

// Segmenter converts a continuous inbound PCM stream into discrete speech
// segments. It slices the stream into fixed-duration windows, feeds each
// window to the voice-activity detector, and translates the detector's
// millisecond boundary reports into exact byte offsets inside the running
// speech buffer.
//
// A Segmenter serves exactly one session; construct a new one per connection.
type Segmenter struct {
	detector vad.Detector
	format   audio.Format
	windowMs int
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewSegmenter constructs a Segmenter for one session's inbound stream.
// format and windowMs must match what the detector backend was configured
// for; log and metrics must be non-nil.
func NewSegmenter(detector vad.Detector, format audio.Format, windowMs int, log *slog.Logger, metrics *observe.Metrics) *Segmenter {
	return &Segmenter{
		detector: detector,
		format:   format,
		windowMs: windowMs,
		log:      log,
		metrics:  metrics,
	}
}

// Run consumes raw PCM chunks from in until the channel closes or ctx is
// cancelled, emitting speech-start markers and completed segments on out.
// Run owns out and closes it on return.
//
// A detector failure is fatal: once a window is lost the stream's audio
// continuity is broken and the model's cache is unusable, so there is no
// retry.
func (s *Segmenter) Run(ctx context.Context, in <-chan []byte, out chan<- SegmentEvent) error {
	defer close(out)

	windowBytes := s.format.WindowBytes(s.windowMs)
	cache := vad.NewCache()

	var (
		audioBuf  []byte
		speechBuf []byte
		offsetMs  int
	)
	start, end := -1, -1

	for {
		var chunk []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				return nil
			}
			chunk = c
		}
		audioBuf = append(audioBuf, chunk...)

		for len(audioBuf) >= windowBytes {
			window := audioBuf[:windowBytes:windowBytes]
			boundaries, err := s.detector.DetectWindow(ctx, window, s.windowMs, cache, offsetMs)
			if err != nil {
				s.metrics.RecordProviderError(ctx, "vad", "detect")
				return fmt.Errorf("pipeline: vad window at %d ms: %w", offsetMs, err)
			}
			s.metrics.VADWindows.Add(ctx, 1)
			speechBuf = append(speechBuf, window...)

			// Byte offset of this window's first sample within speechBuf.
			// Boundary indices are relative to it and may be negative when
			// the detector reports an edge from an earlier window.
			windowBase := len(speechBuf) - windowBytes

			for _, b := range boundaries {
				if b.StartMs >= 0 {
					idx := s.format.AlignDown(floorDiv(windowBytes*(b.StartMs-offsetMs), s.windowMs))
					start = windowBase + idx
					s.log.Debug("speech started", "stream_ms", b.StartMs, "byte", start)
					if err := s.emit(ctx, out, SegmentEvent{Start: true}); err != nil {
						return err
					}
				}
				if b.EndMs >= 0 {
					idx := s.format.AlignUp(floorDiv(windowBytes*(b.EndMs-offsetMs), s.windowMs))
					end = windowBase + idx
					s.log.Debug("speech ended", "stream_ms", b.EndMs, "byte", end)
				}
				// A lone end with no open start never emits a segment.
				if start >= 0 && start <= end {
					seg := slices.Clone(speechBuf[start:end])
					speechBuf = speechBuf[end:]
					start, end = -1, -1

					durMs := s.format.DurationMs(len(seg))
					s.metrics.Segments.Add(ctx, 1)
					s.metrics.SegmentDuration.Record(ctx, float64(durMs)/1000)
					s.log.Info("speech segment", "bytes", len(seg), "duration_ms", durMs)
					if err := s.emit(ctx, out, SegmentEvent{Segment: seg}); err != nil {
						return err
					}
				}
			}

			offsetMs += s.windowMs
			audioBuf = audioBuf[windowBytes:]
		}
	}
}

func (s *Segmenter) emit(ctx context.Context, out chan<- SegmentEvent, ev SegmentEvent) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// floorDiv divides rounding toward negative infinity, so that boundary
// offsets behind the current window resolve to the correct earlier byte
// position.
func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
