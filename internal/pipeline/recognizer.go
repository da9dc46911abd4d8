package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/internal/speaker"
	"github.com/MrWong99/parlance/pkg/provider/asr"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// Options are the per-session recognition policy knobs, fixed at connection
// time.
type Options struct {
	// SpeakerVerify, when non-empty, restricts recognition to utterances
	// whose voiceprint matches a registered profile with this name prefix.
	// The prefix form lets several enrolment recordings (alice, alice_noisy)
	// group under one logical speaker.
	SpeakerVerify string

	// Threshold is the minimum similarity score for a verification hit.
	Threshold float64

	// LanguageCheck requires the transcript to carry a supported language
	// tag; segments in other languages yield empty text.
	LanguageCheck bool

	// UseITN requests inverse text normalisation from the transcriber
	// ("twenty" → "20"), which also introduces punctuation.
	UseITN bool

	// AddPunctuation runs punctuation restoration on the bare transcript.
	// Ignored when UseITN is set: ITN output is already punctuated.
	AddPunctuation bool

	// UseCorrector runs the text corrector over the final transcript.
	UseCorrector bool
}

// RecognizerConfig holds the dependencies of a [Recognizer].
type RecognizerConfig struct {
	// Transcriber is required.
	Transcriber asr.Transcriber

	// Punctuator is optional; nil disables punctuation restoration.
	Punctuator asr.Punctuator

	// Corrector is optional; nil disables correction.
	Corrector asr.Corrector

	// Embedder and Speakers are required when Options.SpeakerVerify is set.
	Embedder voiceprint.Embedder
	Speakers *speaker.Registry

	Options Options
	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Recognizer turns speech segments into [Result]s: optional speaker
// verification, transcription, language gating, tag mapping, punctuation and
// correction. Policy rejections are normal empty-text outcomes; only
// capability failures return errors.
type Recognizer struct {
	transcriber asr.Transcriber
	punctuator  asr.Punctuator
	corrector   asr.Corrector
	embedder    voiceprint.Embedder
	speakers    *speaker.Registry
	opts        Options
	log         *slog.Logger
	metrics     *observe.Metrics
}

// NewRecognizer constructs a Recognizer from cfg.
func NewRecognizer(cfg RecognizerConfig) *Recognizer {
	return &Recognizer{
		transcriber: cfg.Transcriber,
		punctuator:  cfg.Punctuator,
		corrector:   cfg.Corrector,
		embedder:    cfg.Embedder,
		speakers:    cfg.Speakers,
		opts:        cfg.Options,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
}

// Run consumes segment events from in until the channel closes or ctx is
// cancelled. Speech-start markers pass through as Messages unchanged;
// segments are recognised one at a time, strictly in detection order. Run
// owns out and closes it on return.
func (r *Recognizer) Run(ctx context.Context, in <-chan SegmentEvent, out chan<- Message) error {
	defer close(out)

	for {
		var ev SegmentEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-in:
			if !ok {
				return nil
			}
			ev = e
		}

		var msg Message
		if ev.Start {
			msg = Message{SpeechStart: true}
		} else {
			begin := time.Now()
			res, err := r.Recognize(ctx, ev.Segment)
			if err != nil {
				return err
			}
			r.metrics.RecognitionDuration.Record(ctx, time.Since(begin).Seconds())
			msg = Message{Result: res}
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Recognize runs the full recognition policy over one speech segment.
//
// The stages run in order: speaker verification (may short-circuit),
// transcription, language gate (may short-circuit), tag extraction,
// punctuation restoration, correction, and finally the tag-glyph suffix.
// Short-circuits return a well-formed Result with empty text, never an
// error.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte) (*Result, error) {
	res := &Result{}

	if r.opts.SpeakerVerify != "" {
		rejected, err := r.verify(ctx, pcm, res)
		if err != nil {
			return nil, err
		}
		if res.SpeakerVerifyInfo != nil {
			r.log.Info("speaker verification", "info", *res.SpeakerVerifyInfo)
		}
		if rejected {
			r.metrics.RecordPolicyRejection(ctx, "speaker")
			return res, nil
		}
	}

	text, err := r.transcriber.Transcribe(ctx, pcm, r.opts.UseITN)
	if err != nil {
		r.metrics.RecordProviderError(ctx, "transcriber", "transcribe")
		return nil, fmt.Errorf("pipeline: transcription: %w", err)
	}
	res.RawText = text
	if text != "" {
		r.log.Info("raw transcript", "text", text)
	}

	if r.opts.LanguageCheck {
		if !strings.Contains(text, "<|zh|>") && !strings.Contains(text, "<|en|>") {
			res.CheckLanguage = boolRef(false)
			r.log.Info("language rejected", "raw_text", text)
			r.metrics.RecordPolicyRejection(ctx, "language")
			return res, nil
		}
		res.CheckLanguage = boolRef(true)
	}

	text, patterns := formatTextAndPatterns(text)

	if text != "" && r.opts.AddPunctuation && !r.opts.UseITN && r.punctuator != nil {
		if text, err = r.punctuator.Restore(ctx, text); err != nil {
			r.metrics.RecordProviderError(ctx, "punctuator", "restore")
			return nil, fmt.Errorf("pipeline: punctuation restoration: %w", err)
		}
	}

	if text != "" && r.opts.UseCorrector && r.corrector != nil {
		cr, err := r.corrector.Correct(ctx, text)
		if err != nil {
			r.metrics.RecordProviderError(ctx, "corrector", "correct")
			return nil, fmt.Errorf("pipeline: correction: %w", err)
		}
		res.Corrector = cr.Edits
		text = cr.Text
	}

	res.Text = text + patterns
	if res.Text == "" {
		r.metrics.RecordPolicyRejection(ctx, "empty")
	} else {
		r.log.Info("transcript", "text", res.Text)
	}
	return res, nil
}

// verify matches the segment's voiceprint against the registered profiles
// whose name starts with the configured prefix, in registration order. It
// reports rejected=true when recognition should stop with empty text: either
// the prefix matches no profile, or no candidate reaches the threshold. The
// first candidate at or above the threshold is a hit; later candidates are
// not examined and do not appear in the scores map.
func (r *Recognizer) verify(ctx context.Context, pcm []byte, res *Result) (rejected bool, err error) {
	name := r.opts.SpeakerVerify
	targets := r.speakers.SelectPrefix(name)
	if len(targets) == 0 {
		res.SpeakerVerifyInfo = strRef(name + " not found!")
		return true, nil
	}

	source, err := r.embedder.Embed(ctx, pcm)
	if err != nil {
		r.metrics.RecordProviderError(ctx, "voiceprint", "embed")
		return false, fmt.Errorf("pipeline: speaker embedding: %w", err)
	}
	speaker.Normalize(source)

	scores := make(map[string]float64, len(targets))
	var maxName string
	var maxSim float64
	for _, p := range targets {
		sim := speaker.Similarity(source, p.Embedding)
		scores[p.Name] = speaker.Round3(sim)
		if sim > maxSim {
			maxSim, maxName = sim, p.Name
		}
		if sim >= r.opts.Threshold {
			res.SpeakerVerifyResult = boolRef(true)
			res.SpeakerVerifyInfo = strRef(fmt.Sprintf("%s hit with %s: score_from_%s = %.2f >= %.2f",
				name, p.Name, p.Name, sim, r.opts.Threshold))
			res.Scores = scores
			return false, nil
		}
	}

	res.SpeakerVerifyResult = boolRef(false)
	res.SpeakerVerifyInfo = strRef(fmt.Sprintf("%s not hit: max_score_from_%s = %.2f < %.2f",
		name, maxName, maxSim, r.opts.Threshold))
	res.Scores = scores
	return true, nil
}

// tagPattern matches the bracketed tokens transcribers embed in their output,
// e.g. <|zh|> or <|HAPPY|>.
var tagPattern = regexp.MustCompile(`<\|[^|]*\|>`)

// tagGlyphs maps recognised tag sequences to single-glyph annotations. Order
// matters: the combined nospeech token must be replaced before its parts
// could be misread as unknown tags. Unlisted tags are dropped.
var tagGlyphs = []struct{ tag, glyph string }{
	{"<|nospeech|><|Event_UNK|>", "❓"},
	{"<|HAPPY|>", "😊"},
	{"<|SAD|>", "😔"},
	{"<|ANGRY|>", "😡"},
	{"<|BGM|>", "🎼"},
	{"<|Applause|>", "👏"},
	{"<|Laughter|>", "😀"},
	{"<|FEARFUL|>", "😰"},
	{"<|DISGUSTED|>", "🤢"},
	{"<|SURPRISED|>", "😮"},
	{"<|Cry|>", "😭"},
	{"<|Sneeze|>", "🤧"},
	{"<|Cough|>", "😷"},
}

// formatTextAndPatterns strips all bracket tags from text, collapsing the
// remaining runs into single-space-separated segments, and returns the
// stripped text together with the glyph suffix derived from the recognised
// tags in order of appearance.
func formatTextAndPatterns(text string) (string, string) {
	patterns := strings.Join(tagPattern.FindAllString(text, -1), "")
	for _, tg := range tagGlyphs {
		patterns = strings.ReplaceAll(patterns, tg.tag, tg.glyph)
	}
	patterns = tagPattern.ReplaceAllString(patterns, "")

	var kept []string
	for _, part := range tagPattern.Split(text, -1) {
		if part = strings.TrimSpace(part); part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, " "), patterns
}
