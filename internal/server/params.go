package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/MrWong99/parlance/internal/config"
	"github.com/MrWong99/parlance/internal/pipeline"
)

// sessionOptions builds the recognition options for one connection from its
// query parameters, falling back to the configured session defaults. Every
// toggle can be overridden per connection; an unparseable threshold is the
// only rejection.
func sessionOptions(q url.Values, defaults config.SessionConfig) (pipeline.Options, error) {
	defaults = defaults.Defaulted()
	opts := pipeline.Options{
		SpeakerVerify:  q.Get("speaker_verify"),
		Threshold:      defaults.Threshold,
		LanguageCheck:  *defaults.LanguageCheck,
		UseITN:         *defaults.UseITN,
		AddPunctuation: *defaults.AddPunctuations,
		UseCorrector:   *defaults.UseCorrector,
	}

	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("server: invalid threshold %q", raw)
		}
		opts.Threshold = v
	}
	if raw := q.Get("language_check"); raw != "" {
		opts.LanguageCheck = parseBool(raw)
	}
	if raw := q.Get("use_itn"); raw != "" {
		opts.UseITN = parseBool(raw)
	}
	if raw := q.Get("add_punctuations"); raw != "" {
		opts.AddPunctuation = parseBool(raw)
	}
	if raw := q.Get("use_corrector"); raw != "" {
		opts.UseCorrector = parseBool(raw)
	}
	return opts, nil
}

// parseBool accepts the loose boolean forms clients send; anything else is
// false.
func parseBool(raw string) bool {
	switch strings.ToLower(raw) {
	case "true", "1", "t", "y", "yes":
		return true
	}
	return false
}
