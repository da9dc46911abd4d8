package pipeline

import "github.com/MrWong99/parlance/pkg/provider/asr"

// SegmentEvent is emitted by the [Segmenter]: either a speech-start marker or
// a completed speech segment. Ownership of the segment bytes transfers to the
// receiver on emission.
type SegmentEvent struct {
	// Start marks the onset of speech. Segment is nil for start markers.
	Start bool

	// Segment holds one complete utterance of raw PCM, from detected start
	// to detected end.
	Segment []byte
}

// Result is the outcome of recognising one speech segment. It is always
// well-formed: optional work that did not run is represented by nil fields,
// never by omitted keys, so the wire shape is stable across all policy
// outcomes.
type Result struct {
	// SpeakerVerifyResult is true on a verification hit, false on a miss,
	// nil when verification was not requested or the speaker was unknown.
	SpeakerVerifyResult *bool `json:"speaker_verify_result"`

	// SpeakerVerifyInfo is a human-readable account of the verification
	// outcome, nil when verification was not requested.
	SpeakerVerifyInfo *string `json:"speaker_verify_info"`

	// Scores maps each candidate profile examined to its similarity score,
	// rounded to three decimals. Nil unless verification computed scores.
	Scores map[string]float64 `json:"scores"`

	// CheckLanguage reports the language-gate outcome, nil when the gate
	// did not run.
	CheckLanguage *bool `json:"check_language"`

	// Corrector lists the edits applied by the text corrector, nil when
	// correction did not run.
	Corrector []asr.Correction `json:"corrector"`

	// RawText is the transcript as produced by the transcriber, tags
	// included.
	RawText string `json:"raw_text"`

	// Text is the final cleaned text, with tag glyphs appended. Empty for
	// policy rejections and silent audio.
	Text string `json:"text"`
}

// Message is what the recognition side of a session emits toward the
// transport: either a speech-start control marker or a recognition result.
type Message struct {
	// SpeechStart marks the onset of user speech. Result is nil.
	SpeechStart bool

	// Result is a completed recognition outcome.
	Result *Result
}

// UserEvent feeds the [Conversation] engine: a recognised user utterance, or
// a preemptive speech-start notification used to stop playback before the
// transcript is even available.
type UserEvent struct {
	// Text is the recognised utterance. Empty for preemption events.
	Text string

	// Preempt is set when the user started speaking and playback should be
	// interrupted without waiting for recognition.
	Preempt bool
}

// Fragment flows from [Conversation] to [Synthesizer]: either a finalized
// sentence of generated text, or an interrupt marker voiding the current
// reply. The interrupt is a tagged variant rather than a magic empty string
// so that a legitimately empty sentence can never be mistaken for a barge-in.
type Fragment struct {
	Text      string
	Interrupt bool
}

// SentenceFragment returns a Fragment carrying one finished sentence.
func SentenceFragment(text string) Fragment { return Fragment{Text: text} }

// InterruptFragment returns the barge-in marker: abandon the current reply,
// nothing after this fragment belongs to it.
func InterruptFragment() Fragment { return Fragment{Interrupt: true} }

// Group is one speakable synthesis unit. Original is the exact concatenation
// of the raw fragments sealed into the group and is what enters conversation
// history once delivered; Cleaned is the punctuation-normalised form actually
// sent to the synthesiser.
type Group struct {
	Original string
	Cleaned  string
}

func boolRef(b bool) *bool    { return &b }
func strRef(s string) *string { return &s }
