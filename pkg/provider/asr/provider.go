// Package asr defines the capability interfaces the recognition stage
// consumes: segment transcription, punctuation restoration, and text
// correction.
//
// The three concerns are separate interfaces because deployments mix and
// match them freely — a SenseVoice-style transcriber paired with a CT
// transformer punctuation server and a local lexicon corrector is as valid as
// a single backend providing all three. A nil Punctuator or Corrector simply
// disables that step.
//
// Implementations must be safe for concurrent use.
package asr

import "context"

// Transcriber converts one complete speech segment to text.
type Transcriber interface {
	// Transcribe returns the transcript of pcm (raw 16-bit little-endian PCM
	// at the session's input format). When useITN is true the backend applies
	// inverse text normalisation, which also introduces punctuation.
	//
	// The returned text may contain bracketed tag tokens such as <|zh|> or
	// <|HAPPY|>; the recognition stage is responsible for interpreting and
	// stripping them. An empty transcript is a normal outcome for silent or
	// unintelligible audio, not an error.
	Transcribe(ctx context.Context, pcm []byte, useITN bool) (string, error)
}

// Punctuator restores punctuation in unpunctuated transcript text.
type Punctuator interface {
	Restore(ctx context.Context, text string) (string, error)
}

// Correction is a single edit applied by a [Corrector].
type Correction struct {
	// Original is the text span that was replaced.
	Original string `json:"original"`

	// Corrected is the replacement text.
	Corrected string `json:"corrected"`

	// Position is the rune offset of the span in the input text.
	Position int `json:"position"`
}

// CorrectResult is the outcome of a correction pass.
type CorrectResult struct {
	// Text is the corrected text. Equal to the input when no edits applied.
	Text string

	// Edits lists the applied corrections in input order. Empty (not nil)
	// when the corrector ran but changed nothing.
	Edits []Correction
}

// Corrector repairs recognition errors in transcript text.
type Corrector interface {
	Correct(ctx context.Context, text string) (CorrectResult, error)
}
