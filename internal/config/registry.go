package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/parlance/pkg/provider/asr"
	"github.com/MrWong99/parlance/pkg/provider/llm"
	"github.com/MrWong99/parlance/pkg/provider/tts"
	"github.com/MrWong99/parlance/pkg/provider/vad"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	vad         map[string]func(ProviderEntry) (vad.Detector, error)
	transcriber map[string]func(ProviderEntry) (asr.Transcriber, error)
	punctuator  map[string]func(ProviderEntry) (asr.Punctuator, error)
	corrector   map[string]func(ProviderEntry) (asr.Corrector, error)
	voiceprint  map[string]func(ProviderEntry) (voiceprint.Embedder, error)
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	tts         map[string]func(ProviderEntry) (tts.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		vad:         make(map[string]func(ProviderEntry) (vad.Detector, error)),
		transcriber: make(map[string]func(ProviderEntry) (asr.Transcriber, error)),
		punctuator:  make(map[string]func(ProviderEntry) (asr.Punctuator, error)),
		corrector:   make(map[string]func(ProviderEntry) (asr.Corrector, error)),
		voiceprint:  make(map[string]func(ProviderEntry) (voiceprint.Embedder, error)),
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		tts:         make(map[string]func(ProviderEntry) (tts.Provider, error)),
	}
}

// RegisterVAD registers a VAD detector factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Detector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad[name] = factory
}

// RegisterTranscriber registers a transcriber factory under name.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (asr.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterPunctuator registers a punctuator factory under name.
func (r *Registry) RegisterPunctuator(name string, factory func(ProviderEntry) (asr.Punctuator, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.punctuator[name] = factory
}

// RegisterCorrector registers a corrector factory under name.
func (r *Registry) RegisterCorrector(name string, factory func(ProviderEntry) (asr.Corrector, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrector[name] = factory
}

// RegisterVoiceprint registers a speaker embedder factory under name.
func (r *Registry) RegisterVoiceprint(name string, factory func(ProviderEntry) (voiceprint.Embedder, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.voiceprint[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateVAD instantiates a VAD detector using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Detector, error) {
	r.mu.RLock()
	factory, ok := r.vad[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: vad/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranscriber instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (asr.Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreatePunctuator instantiates a punctuator using the factory registered under entry.Name.
func (r *Registry) CreatePunctuator(entry ProviderEntry) (asr.Punctuator, error) {
	r.mu.RLock()
	factory, ok := r.punctuator[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: punctuator/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCorrector instantiates a corrector using the factory registered under entry.Name.
func (r *Registry) CreateCorrector(entry ProviderEntry) (asr.Corrector, error) {
	r.mu.RLock()
	factory, ok := r.corrector[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: corrector/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateVoiceprint instantiates a speaker embedder using the factory registered under entry.Name.
func (r *Registry) CreateVoiceprint(entry ProviderEntry) (voiceprint.Embedder, error) {
	r.mu.RLock()
	factory, ok := r.voiceprint[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: voiceprint/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
