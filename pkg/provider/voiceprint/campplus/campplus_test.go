package campplus_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/voiceprint/campplus"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

func TestNew_RequiresServerURL(t *testing.T) {
	t.Parallel()

	if _, err := campplus.New("", testFormat); err == nil {
		t.Fatal("expected an error for an empty server URL")
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x0A, 0x0B}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Audio   string `json:"audio"`
			AudioFs int    `json:"audio_fs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if got, _ := base64.StdEncoding.DecodeString(req.Audio); string(got) != string(pcm) {
			t.Errorf("audio = %v, want %v", got, pcm)
		}
		if req.AudioFs != 16000 {
			t.Errorf("audio_fs = %d, want 16000", req.AudioFs)
		}
		json.NewEncoder(w).Encode(map[string][]float32{"embedding": {0.1, 0.2, 0.3}})
	}))
	t.Cleanup(srv.Close)

	e, err := campplus.New(srv.URL, testFormat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vec, err := e.Embed(context.Background(), pcm)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("embedding = %v, want [0.1 0.2 0.3]", vec)
	}
}

func TestEmbed_EmptyEmbeddingIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string][]float32{"embedding": {}})
	}))
	t.Cleanup(srv.Close)

	e, err := campplus.New(srv.URL, testFormat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Embed(context.Background(), []byte{0, 0}); err == nil {
		t.Fatal("expected an error for an empty embedding")
	}
}
