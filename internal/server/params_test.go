package server

import (
	"net/url"
	"testing"

	"github.com/MrWong99/parlance/internal/config"
	"github.com/MrWong99/parlance/internal/pipeline"
)

func TestSessionOptions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   string
		want    pipeline.Options
		wantErr bool
	}{
		{
			name:  "defaults",
			query: "",
			want: pipeline.Options{
				Threshold:      0.5,
				LanguageCheck:  true,
				UseITN:         true,
				AddPunctuation: true,
				UseCorrector:   true,
			},
		},
		{
			name:  "speaker and threshold override",
			query: "speaker_verify=alice&threshold=0.8",
			want: pipeline.Options{
				SpeakerVerify:  "alice",
				Threshold:      0.8,
				LanguageCheck:  true,
				UseITN:         true,
				AddPunctuation: true,
				UseCorrector:   true,
			},
		},
		{
			name:  "toggles off",
			query: "language_check=false&use_itn=0&add_punctuations=no&use_corrector=off",
			want: pipeline.Options{
				Threshold: 0.5,
			},
		},
		{
			name:  "loose true forms",
			query: "language_check=1&use_itn=Y&add_punctuations=YES&use_corrector=t",
			want: pipeline.Options{
				Threshold:      0.5,
				LanguageCheck:  true,
				UseITN:         true,
				AddPunctuation: true,
				UseCorrector:   true,
			},
		},
		{
			name:    "bad threshold",
			query:   "threshold=high",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q, err := url.ParseQuery(tc.query)
			if err != nil {
				t.Fatalf("ParseQuery(%q): %v", tc.query, err)
			}
			got, err := sessionOptions(q, config.SessionConfig{})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("sessionOptions(%q) = %+v, want error", tc.query, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("sessionOptions(%q): %v", tc.query, err)
			}
			if got != tc.want {
				t.Errorf("sessionOptions(%q) = %+v, want %+v", tc.query, got, tc.want)
			}
		})
	}
}

func TestSessionOptions_ConfiguredDefaults(t *testing.T) {
	t.Parallel()

	off := false
	got, err := sessionOptions(url.Values{}, config.SessionConfig{
		Threshold:     0.7,
		LanguageCheck: &off,
	})
	if err != nil {
		t.Fatalf("sessionOptions: %v", err)
	}
	if got.Threshold != 0.7 {
		t.Errorf("Threshold = %v, want 0.7", got.Threshold)
	}
	if got.LanguageCheck {
		t.Error("LanguageCheck = true, want configured false")
	}
	if !got.UseITN {
		t.Error("UseITN = false, want defaulted true")
	}
}
