// Package mock provides test doubles for the asr capability interfaces.
//
// Zero values behave as pass-throughs: the Transcriber returns its scripted
// texts (empty when exhausted), the Punctuator and Corrector return their
// input unchanged. Set the Err fields to inject capability failures.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parlance/pkg/provider/asr"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	PCM    []byte
	UseITN bool
}

// Transcriber is a mock implementation of asr.Transcriber. Texts are consumed
// one per call in order; calls beyond the end return "".
type Transcriber struct {
	mu sync.Mutex

	// Texts holds the transcripts returned by successive calls.
	Texts []string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []TranscribeCall

	next int
}

var _ asr.Transcriber = (*Transcriber)(nil)

// Transcribe implements asr.Transcriber.
func (t *Transcriber) Transcribe(_ context.Context, pcm []byte, useITN bool) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Calls = append(t.Calls, TranscribeCall{PCM: pcm, UseITN: useITN})
	if t.Err != nil {
		return "", t.Err
	}
	if t.next >= len(t.Texts) {
		return "", nil
	}
	text := t.Texts[t.next]
	t.next++
	return text, nil
}

// Punctuator is a mock implementation of asr.Punctuator. When Restored is
// empty the input is returned with Suffix appended (default: unchanged).
type Punctuator struct {
	mu sync.Mutex

	// Restored, if non-empty, is returned for every call.
	Restored string

	// Suffix is appended to the input when Restored is empty.
	Suffix string

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records the input text of every invocation.
	Calls []string
}

var _ asr.Punctuator = (*Punctuator)(nil)

// Restore implements asr.Punctuator.
func (p *Punctuator) Restore(_ context.Context, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Calls = append(p.Calls, text)
	if p.Err != nil {
		return "", p.Err
	}
	if p.Restored != "" {
		return p.Restored, nil
	}
	return text + p.Suffix, nil
}

// Corrector is a mock implementation of asr.Corrector. The zero value
// returns its input with no edits.
type Corrector struct {
	mu sync.Mutex

	// Result, if non-nil, is returned for every call.
	Result *asr.CorrectResult

	// Err, if non-nil, is returned by every call.
	Err error

	// Calls records the input text of every invocation.
	Calls []string
}

var _ asr.Corrector = (*Corrector)(nil)

// Correct implements asr.Corrector.
func (c *Corrector) Correct(_ context.Context, text string) (asr.CorrectResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Calls = append(c.Calls, text)
	if c.Err != nil {
		return asr.CorrectResult{}, c.Err
	}
	if c.Result != nil {
		return *c.Result, nil
	}
	return asr.CorrectResult{Text: text, Edits: []asr.Correction{}}, nil
}
