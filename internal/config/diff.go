package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider and audio
// format changes require a restart and are deliberately ignored here.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when any session default changed. New sessions
	// pick up the new defaults; running sessions keep the parameters they
	// connected with.
	SessionChanged bool

	// LexiconChanged is true when the corrector phrase list changed.
	LexiconChanged bool
}

// Empty reports whether the diff carries no hot-reloadable change.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.SessionChanged && !d.LexiconChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !sessionEqual(old.Session, new.Session) {
		d.SessionChanged = true
	}

	if !slicesEqual(old.Session.Lexicon, new.Session.Lexicon) {
		d.LexiconChanged = true
	}

	return d
}

// sessionEqual compares all session defaults except the lexicon, which is
// tracked separately because it rebuilds the corrector.
func sessionEqual(a, b SessionConfig) bool {
	return a.SystemPrompt == b.SystemPrompt &&
		a.Temperature == b.Temperature &&
		a.MaxTokens == b.MaxTokens &&
		a.Threshold == b.Threshold &&
		boolPtrEqual(a.LanguageCheck, b.LanguageCheck) &&
		boolPtrEqual(a.UseITN, b.UseITN) &&
		boolPtrEqual(a.AddPunctuations, b.AddPunctuations) &&
		boolPtrEqual(a.UseCorrector, b.UseCorrector)
}

func boolPtrEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func slicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
