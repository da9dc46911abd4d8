// Command parlance is the main entry point for the Parlance spoken-dialogue
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parlance/internal/config"
	"github.com/MrWong99/parlance/internal/health"
	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/internal/pipeline"
	"github.com/MrWong99/parlance/internal/server"
	"github.com/MrWong99/parlance/internal/speaker"
	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/asr"
	"github.com/MrWong99/parlance/pkg/provider/asr/funasr"
	asropenai "github.com/MrWong99/parlance/pkg/provider/asr/openai"
	"github.com/MrWong99/parlance/pkg/provider/asr/phonetic"
	"github.com/MrWong99/parlance/pkg/provider/llm"
	"github.com/MrWong99/parlance/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/parlance/pkg/provider/llm/openai"
	"github.com/MrWong99/parlance/pkg/provider/tts"
	"github.com/MrWong99/parlance/pkg/provider/tts/cosyvoice"
	"github.com/MrWong99/parlance/pkg/provider/vad"
	"github.com/MrWong99/parlance/pkg/provider/vad/fsmn"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint/campplus"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "parlance: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "parlance: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("parlance starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "parlance",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	inputFormat := audio.Format{SampleRate: cfg.Audio.Defaulted().InputSampleRate, Channels: 1}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, inputFormat, cfg.Session.Lexicon)

	// ── Instantiate providers ─────────────────────────────────────────────────
	caps, err := buildCapabilities(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Speaker profiles ──────────────────────────────────────────────────────
	checkers, cleanup, err := loadSpeakers(ctx, cfg, &caps)
	if err != nil {
		slog.Error("failed to load speaker profiles", "err", err)
		return 1
	}
	defer cleanup()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, caps)

	// ── Dialogue server ───────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		Capabilities: caps,
		Session:      cfg.Session,
		Audio:        cfg.Audio,
		Checkers:     checkers,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, diff config.ConfigDiff) {
		applyReload(diff, next, srv, logLevel, cfg.Providers.Corrector.Name)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			serveErr <- httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr <- httpSrv.ListenAndServe()
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, format audio.Format, lexicon []string) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("fsmn", func(entry config.ProviderEntry) (vad.Detector, error) {
		return fsmn.New(entry.BaseURL, format)
	})

	// ── Transcriber ───────────────────────────────────────────────────────────

	reg.RegisterTranscriber("whisper", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		var opts []asropenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, asropenai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, asropenai.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, asropenai.WithLanguage(lang))
		}
		return asropenai.New(entry.APIKey, format, opts...)
	})

	reg.RegisterTranscriber("sensevoice", func(entry config.ProviderEntry) (asr.Transcriber, error) {
		return funasr.NewTranscriber(entry.BaseURL, format)
	})

	// ── Punctuator ────────────────────────────────────────────────────────────

	reg.RegisterPunctuator("ct-transformer", func(entry config.ProviderEntry) (asr.Punctuator, error) {
		return funasr.NewPunctuator(entry.BaseURL)
	})

	// ── Corrector ─────────────────────────────────────────────────────────────

	reg.RegisterCorrector("phonetic", func(entry config.ProviderEntry) (asr.Corrector, error) {
		var opts []phonetic.Option
		if v, ok := optFloat(entry.Options, "phonetic_threshold"); ok {
			opts = append(opts, phonetic.WithPhoneticThreshold(v))
		}
		if v, ok := optFloat(entry.Options, "fuzzy_threshold"); ok {
			opts = append(opts, phonetic.WithFuzzyThreshold(v))
		}
		return phonetic.New(lexicon, opts...), nil
	})

	// ── Voiceprint ────────────────────────────────────────────────────────────

	reg.RegisterVoiceprint("campplus", func(entry config.ProviderEntry) (voiceprint.Embedder, error) {
		return campplus.New(entry.BaseURL, format)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai goes through the native SDK; anthropic, gemini, deepseek,
	// mistral, groq, llamacpp and llamafile all share the any-llm pattern of
	// optional APIKey + optional BaseURL.

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(entry.BaseURL))
		}
		return llmopenai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("cosyvoice", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []cosyvoice.Option
		if spk := optString(entry.Options, "speaker"); spk != "" {
			opts = append(opts, cosyvoice.WithSpeaker(spk))
		}
		return cosyvoice.New(entry.BaseURL, opts...)
	})
}

// buildCapabilities instantiates all providers named in cfg using the
// registry and returns them as a [pipeline.Capabilities] for the server.
func buildCapabilities(cfg *config.Config, reg *config.Registry) (pipeline.Capabilities, error) {
	var caps pipeline.Capabilities

	if name := cfg.Providers.VAD.Name; name != "" {
		p, err := reg.CreateVAD(cfg.Providers.VAD)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "vad", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create vad provider %q: %w", name, err)
		} else {
			caps.Detector = p
			slog.Info("provider created", "kind", "vad", "name", name)
		}
	}

	if name := cfg.Providers.Transcriber.Name; name != "" {
		p, err := reg.CreateTranscriber(cfg.Providers.Transcriber)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "transcriber", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create transcriber provider %q: %w", name, err)
		} else {
			caps.Transcriber = p
			slog.Info("provider created", "kind", "transcriber", "name", name)
		}
	}

	if name := cfg.Providers.Punctuator.Name; name != "" {
		p, err := reg.CreatePunctuator(cfg.Providers.Punctuator)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "punctuator", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create punctuator provider %q: %w", name, err)
		} else {
			caps.Punctuator = p
			slog.Info("provider created", "kind", "punctuator", "name", name)
		}
	}

	if name := cfg.Providers.Corrector.Name; name != "" {
		p, err := reg.CreateCorrector(cfg.Providers.Corrector)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "corrector", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create corrector provider %q: %w", name, err)
		} else {
			caps.Corrector = p
			slog.Info("provider created", "kind", "corrector", "name", name)
		}
	}

	if name := cfg.Providers.Voiceprint.Name; name != "" {
		p, err := reg.CreateVoiceprint(cfg.Providers.Voiceprint)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "voiceprint", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create voiceprint provider %q: %w", name, err)
		} else {
			caps.Embedder = p
			slog.Info("provider created", "kind", "voiceprint", "name", name)
		}
	}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			caps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return caps, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			caps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}

	return caps, nil
}

// loadSpeakers fills caps.Speakers from the configured profile source and
// returns readiness checkers for the server plus a cleanup function.
func loadSpeakers(ctx context.Context, cfg *config.Config, caps *pipeline.Capabilities) ([]health.Checker, func(), error) {
	cleanup := func() {}
	if caps.Embedder == nil {
		return nil, cleanup, nil
	}

	switch {
	case cfg.Speakers.Dir != "":
		registry, err := speaker.LoadDir(ctx, cfg.Speakers.Dir, caps.Embedder)
		if err != nil {
			return nil, cleanup, fmt.Errorf("enrol speakers from %q: %w", cfg.Speakers.Dir, err)
		}
		caps.Speakers = registry
		slog.Info("speaker profiles enrolled", "source", cfg.Speakers.Dir, "profiles", registry.Len())
		return nil, cleanup, nil

	case cfg.Speakers.PostgresDSN != "":
		store, err := speaker.NewStore(ctx, cfg.Speakers.PostgresDSN, cfg.Speakers.EmbeddingDimensions)
		if err != nil {
			return nil, cleanup, fmt.Errorf("open speaker store: %w", err)
		}
		registry, err := store.LoadRegistry(ctx)
		if err != nil {
			store.Close()
			return nil, cleanup, fmt.Errorf("load speaker profiles: %w", err)
		}
		caps.Speakers = registry
		slog.Info("speaker profiles loaded", "source", "postgres", "profiles", registry.Len())
		checkers := []health.Checker{{Name: "speakers", Check: store.Ping}}
		return checkers, store.Close, nil
	}

	caps.Speakers = speaker.NewRegistry(nil)
	slog.Warn("voiceprint provider configured but no speaker source set")
	return nil, cleanup, nil
}

// applyReload reacts to a changed config file. Only log level, session
// defaults and the corrector lexicon hot-reload; everything else needs a
// restart.
func applyReload(d config.ConfigDiff, cfg *config.Config, srv *server.Server, level *slog.LevelVar, correctorName string) {
	if d.LogLevelChanged {
		level.Set(toSlogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		srv.UpdateSession(cfg.Session)
		slog.Info("session defaults reloaded")
	}
	if d.LexiconChanged && correctorName == "phonetic" {
		srv.SetCorrector(phonetic.New(cfg.Session.Lexicon))
		slog.Info("corrector lexicon reloaded", "phrases", len(cfg.Session.Lexicon))
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, caps pipeline.Capabilities) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Parlance — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("VAD", cfg.Providers.VAD.Name, "")
	printProvider("Transcriber", cfg.Providers.Transcriber.Name, cfg.Providers.Transcriber.Model)
	printProvider("Punctuator", cfg.Providers.Punctuator.Name, "")
	printProvider("Corrector", cfg.Providers.Corrector.Name, "")
	printProvider("Voiceprint", cfg.Providers.Voiceprint.Name, "")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if caps.Speakers != nil {
		fmt.Printf("║  Speakers        : %-19d ║\n", caps.Speakers.Len())
	} else {
		fmt.Printf("║  Speakers        : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(toSlogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func toSlogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optFloat extracts a float value from a provider Options map. YAML decodes
// bare numbers as int or float64 depending on their spelling, so both are
// accepted.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
