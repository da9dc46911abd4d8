package speaker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint"
)

// LoadDir enrols every *.wav file in dir as a speaker profile. The file stem
// becomes the profile name ("alice.wav" enrols "alice"). Files are processed
// in lexical order, which fixes the registration order across restarts.
//
// Each sample is decoded, embedded via embedder, and normalised to unit
// length. Non-WAV files are skipped silently; a WAV that fails to decode or
// embed aborts the load.
func LoadDir(ctx context.Context, dir string, embedder voiceprint.Embedder) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("speaker: read dir %s: %w", dir, err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".wav") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("speaker: read %s: %w", path, err)
		}
		pcm, format, err := audio.DecodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("speaker: decode %s: %w", path, err)
		}

		embedding, err := embedder.Embed(ctx, pcm)
		if err != nil {
			return nil, fmt.Errorf("speaker: embed %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		profiles = append(profiles, Profile{
			Name:      name,
			Embedding: Normalize(embedding),
		})
		slog.Info("registered speaker profile",
			"name", name,
			"sample_rate", format.SampleRate,
			"dimensions", len(embedding))
	}

	return NewRegistry(profiles), nil
}
