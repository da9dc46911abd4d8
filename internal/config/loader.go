package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"vad":         {"fsmn"},
	"transcriber": {"whisper", "sensevoice"},
	"punctuator":  {"ct-transformer"},
	"corrector":   {"phonetic"},
	"voiceprint":  {"campplus"},
	"llm":         {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":         {"cosyvoice"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Audio
	if cfg.Audio.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.input_sample_rate %d must be positive", cfg.Audio.InputSampleRate))
	}
	if cfg.Audio.OutputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.output_sample_rate %d must be positive", cfg.Audio.OutputSampleRate))
	}
	if cfg.Audio.VADWindowMs < 0 {
		errs = append(errs, fmt.Errorf("audio.vad_window_ms %d must be positive", cfg.Audio.VADWindowMs))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("transcriber", cfg.Providers.Transcriber.Name)
	validateProviderName("punctuator", cfg.Providers.Punctuator.Name)
	validateProviderName("corrector", cfg.Providers.Corrector.Name)
	validateProviderName("voiceprint", cfg.Providers.Voiceprint.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)

	// VAD and transcription are the irreducible core; everything downstream
	// of them degrades gracefully when absent.
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad is required"))
	}
	if cfg.Providers.Transcriber.Name == "" {
		errs = append(errs, errors.New("providers.transcriber is required"))
	}

	// Reply generation needs both halves.
	if (cfg.Providers.LLM.Name == "") != (cfg.Providers.TTS.Name == "") {
		slog.Warn("only one of providers.llm and providers.tts is configured; sessions will run in recognition-only mode")
	}

	// Speaker verification wiring
	if cfg.Speakers.Dir == "" && cfg.Speakers.PostgresDSN == "" && cfg.Providers.Voiceprint.Name != "" {
		slog.Warn("providers.voiceprint is configured but no speaker source is set; speaker verification will reject every request")
	}
	if cfg.Speakers.PostgresDSN != "" && cfg.Speakers.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("speakers.embedding_dimensions is required when speakers.postgres_dsn is set"))
	}
	if cfg.Speakers.Dir != "" && cfg.Speakers.PostgresDSN != "" {
		slog.Warn("both speakers.dir and speakers.postgres_dsn are set; the directory takes precedence")
	}

	// Session
	if cfg.Session.Threshold < 0 || cfg.Session.Threshold > 1 {
		// A threshold above 1 is allowed only via the per-session query
		// parameter, where it serves as an explicit always-miss switch.
		errs = append(errs, fmt.Errorf("session.threshold %.2f is out of range [0, 1]", cfg.Session.Threshold))
	}
	if cfg.Session.Temperature < 0 || cfg.Session.Temperature > 2 {
		errs = append(errs, fmt.Errorf("session.temperature %.2f is out of range [0, 2]", cfg.Session.Temperature))
	}
	if cfg.Session.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("session.max_tokens %d must not be negative", cfg.Session.MaxTokens))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
