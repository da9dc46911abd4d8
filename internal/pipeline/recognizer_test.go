package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/internal/speaker"
	"github.com/MrWong99/parlance/pkg/provider/asr"
	asrmock "github.com/MrWong99/parlance/pkg/provider/asr/mock"
	vpmock "github.com/MrWong99/parlance/pkg/provider/voiceprint/mock"
)

func newRecognizer(cfg RecognizerConfig) *Recognizer {
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return NewRecognizer(cfg)
}

func TestRecognize_SpeakerNotFound(t *testing.T) {
	t.Parallel()

	transcriber := &asrmock.Transcriber{Texts: []string{"should not be reached"}}
	embedder := &vpmock.Embedder{Embeddings: [][]float32{{1, 0}}}
	r := newRecognizer(RecognizerConfig{
		Transcriber: transcriber,
		Embedder:    embedder,
		Speakers:    speaker.NewRegistry(nil),
		Options:     Options{SpeakerVerify: "alice", Threshold: 0.5},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SpeakerVerifyInfo == nil || *res.SpeakerVerifyInfo != "alice not found!" {
		t.Errorf("info = %v, want %q", res.SpeakerVerifyInfo, "alice not found!")
	}
	if res.SpeakerVerifyResult != nil {
		t.Error("verify result must stay unset when the speaker is unknown")
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty", res.Text)
	}
	if len(embedder.Calls) != 0 {
		t.Error("embedder must not run for an unknown speaker")
	}
	if len(transcriber.Calls) != 0 {
		t.Error("transcriber must not run after a speaker rejection")
	}
}

func TestRecognize_SpeakerMiss(t *testing.T) {
	t.Parallel()

	// An opposite-direction embedding scores (1 + (-1))/2 = 0, so even a
	// modest threshold can never be met; a threshold above 1 can never be
	// met by anyone.
	profiles := []speaker.Profile{
		{Name: "alice", Embedding: []float32{1, 0}},
		{Name: "alice_noisy", Embedding: []float32{0, 1}},
	}
	transcriber := &asrmock.Transcriber{Texts: []string{"should not be reached"}}
	r := newRecognizer(RecognizerConfig{
		Transcriber: transcriber,
		Embedder:    &vpmock.Embedder{Embeddings: [][]float32{{1, 0}}},
		Speakers:    speaker.NewRegistry(profiles),
		Options:     Options{SpeakerVerify: "alice", Threshold: 1.01},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SpeakerVerifyResult == nil || *res.SpeakerVerifyResult {
		t.Error("verification should report a miss")
	}
	if res.SpeakerVerifyInfo == nil || *res.SpeakerVerifyInfo != "alice not hit: max_score_from_alice = 1.00 < 1.01" {
		t.Errorf("info = %v, want the max-score miss message", res.SpeakerVerifyInfo)
	}
	if len(res.Scores) != 2 {
		t.Errorf("scores should cover all candidates on a miss, got %v", res.Scores)
	}
	if res.Scores["alice"] != 1 || res.Scores["alice_noisy"] != 0.5 {
		t.Errorf("scores = %v, want alice=1, alice_noisy=0.5", res.Scores)
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty", res.Text)
	}
	if len(transcriber.Calls) != 0 {
		t.Error("transcriber must not run after a verification miss")
	}
}

func TestRecognize_SpeakerHitStopsScoring(t *testing.T) {
	t.Parallel()

	profiles := []speaker.Profile{
		{Name: "alice", Embedding: []float32{1, 0}},
		{Name: "alice_noisy", Embedding: []float32{1, 0}},
	}
	transcriber := &asrmock.Transcriber{Texts: []string{"<|en|>hello"}}
	r := newRecognizer(RecognizerConfig{
		Transcriber: transcriber,
		Embedder:    &vpmock.Embedder{Embeddings: [][]float32{{2, 0}}},
		Speakers:    speaker.NewRegistry(profiles),
		Options:     Options{SpeakerVerify: "alice", Threshold: 0.5, LanguageCheck: true, UseITN: true},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SpeakerVerifyResult == nil || !*res.SpeakerVerifyResult {
		t.Fatal("verification should report a hit")
	}
	if res.SpeakerVerifyInfo == nil || *res.SpeakerVerifyInfo != "alice hit with alice: score_from_alice = 1.00 >= 0.50" {
		t.Errorf("info = %v, want the hit message", res.SpeakerVerifyInfo)
	}
	// The first candidate hit, so the second was never examined.
	if len(res.Scores) != 1 {
		t.Errorf("scores = %v, want only the hitting candidate", res.Scores)
	}
	if len(transcriber.Calls) != 1 {
		t.Fatal("transcription should run after a verification hit")
	}
	if res.Text != "hello" {
		t.Errorf("text = %q, want %q", res.Text, "hello")
	}
}

func TestRecognize_LanguageRejected(t *testing.T) {
	t.Parallel()

	r := newRecognizer(RecognizerConfig{
		Transcriber: &asrmock.Transcriber{Texts: []string{"<|fr|>bonjour"}},
		Options:     Options{LanguageCheck: true, UseITN: true},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CheckLanguage == nil || *res.CheckLanguage {
		t.Error("language check should report rejection")
	}
	if res.RawText != "<|fr|>bonjour" {
		t.Errorf("raw text = %q, want the untouched transcript", res.RawText)
	}
	if res.Text != "" {
		t.Errorf("text = %q, want empty after language rejection", res.Text)
	}
}

func TestRecognize_LanguageAccepted(t *testing.T) {
	t.Parallel()

	r := newRecognizer(RecognizerConfig{
		Transcriber: &asrmock.Transcriber{Texts: []string{"<|zh|>你好"}},
		Options:     Options{LanguageCheck: true, UseITN: true},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CheckLanguage == nil || !*res.CheckLanguage {
		t.Error("language check should report acceptance")
	}
	if res.Text != "你好" {
		t.Errorf("text = %q, want %q", res.Text, "你好")
	}
}

func TestRecognize_Punctuation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		opts   Options
		punct  *asrmock.Punctuator
		want   string
		called bool
	}{
		{
			name:   "restored when bare",
			opts:   Options{AddPunctuation: true},
			punct:  &asrmock.Punctuator{Suffix: "."},
			want:   "hello there.",
			called: true,
		},
		{
			name:  "skipped under itn",
			opts:  Options{AddPunctuation: true, UseITN: true},
			punct: &asrmock.Punctuator{Suffix: "."},
			want:  "hello there",
		},
		{
			name:  "skipped when disabled",
			opts:  Options{},
			punct: &asrmock.Punctuator{Suffix: "."},
			want:  "hello there",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newRecognizer(RecognizerConfig{
				Transcriber: &asrmock.Transcriber{Texts: []string{"hello there"}},
				Punctuator:  tt.punct,
				Options:     tt.opts,
			})
			res, err := r.Recognize(context.Background(), []byte{0, 0})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("text = %q, want %q", res.Text, tt.want)
			}
			if got := len(tt.punct.Calls) == 1; got != tt.called {
				t.Errorf("punctuator called = %v, want %v", got, tt.called)
			}
		})
	}
}

func TestRecognize_Corrector(t *testing.T) {
	t.Parallel()

	corrector := &asrmock.Corrector{Result: &asr.CorrectResult{
		Text:  "weather today",
		Edits: []asr.Correction{{Original: "whether", Corrected: "weather", Position: 0}},
	}}
	r := newRecognizer(RecognizerConfig{
		Transcriber: &asrmock.Transcriber{Texts: []string{"whether today<|HAPPY|>"}},
		Corrector:   corrector,
		Options:     Options{UseCorrector: true, UseITN: true},
	})

	res, err := r.Recognize(context.Background(), []byte{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Corrector) != 1 || res.Corrector[0].Corrected != "weather" {
		t.Errorf("edits = %v, want the single recorded correction", res.Corrector)
	}
	// Glyphs derived from tags attach after correction.
	if res.Text != "weather today😊" {
		t.Errorf("text = %q, want %q", res.Text, "weather today😊")
	}
	if len(corrector.Calls) != 1 || corrector.Calls[0] != "whether today" {
		t.Errorf("corrector input = %v, want the tag-stripped text", corrector.Calls)
	}
}

func TestFormatTextAndPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		in           string
		wantText     string
		wantPatterns string
	}{
		{"plain", "hello", "hello", ""},
		{"language tag stripped", "<|en|>hello", "hello", ""},
		{"emotion glyph", "<|zh|>你好<|HAPPY|>", "你好", "😊"},
		{"nospeech pair", "<|nospeech|><|Event_UNK|>", "", "❓"},
		{"unknown tag dropped", "<|withitn|>sure<|UNKNOWN|>", "sure", ""},
		{"segments joined", "<|en|> one <|BGM|> two ", "one two", "🎼"},
		{"multiple glyphs in order", "a<|Laughter|>b<|Applause|>", "a b", "😀👏"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			text, patterns := formatTextAndPatterns(tt.in)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if patterns != tt.wantPatterns {
				t.Errorf("patterns = %q, want %q", patterns, tt.wantPatterns)
			}
		})
	}
}

func TestRecognizerRun_PassesSpeechStart(t *testing.T) {
	t.Parallel()

	r := newRecognizer(RecognizerConfig{
		Transcriber: &asrmock.Transcriber{Texts: []string{"hi"}},
	})

	in := make(chan SegmentEvent, 2)
	in <- SegmentEvent{Start: true}
	in <- SegmentEvent{Segment: []byte{0, 0}}
	close(in)

	out := make(chan Message, 2)
	if err := r.Run(context.Background(), in, out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var msgs []Message
	for m := range out {
		msgs = append(msgs, m)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !msgs[0].SpeechStart || msgs[0].Result != nil {
		t.Error("first message should be a bare speech-start marker")
	}
	if msgs[1].SpeechStart || msgs[1].Result == nil || msgs[1].Result.Text != "hi" {
		t.Errorf("second message should carry the transcript, got %+v", msgs[1])
	}
}

func TestRecognize_TranscriberFailureCounted(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	transcriber := &asrmock.Transcriber{Err: errors.New("backend down")}
	r := newRecognizer(RecognizerConfig{Transcriber: transcriber, Metrics: metrics})

	if _, err := r.Recognize(context.Background(), []byte{0, 0}); err == nil {
		t.Fatal("Recognize succeeded, want transcription error")
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	want := attribute.NewSet(
		attribute.String("provider", "transcriber"),
		attribute.String("kind", "transcribe"),
	)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "parlance.provider.errors" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("provider errors data = %T, want Sum[int64]", m.Data)
			}
			for _, dp := range sum.DataPoints {
				if dp.Attributes.Equals(&want) {
					if dp.Value != 1 {
						t.Errorf("provider error count = %d, want 1", dp.Value)
					}
					return
				}
			}
		}
	}
	t.Error("no provider error recorded for the failed transcription")
}
