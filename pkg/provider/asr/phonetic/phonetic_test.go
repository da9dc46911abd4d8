package phonetic

import (
	"context"
	"testing"
)

func TestCorrectorReplacesPhoneticMisrecognitions(t *testing.T) {
	t.Parallel()

	c := New([]string{"Eldoria", "Tower of Whispers", "CosyVoice"})

	tests := []struct {
		name      string
		input     string
		want      string
		wantEdits int
	}{
		{
			name:      "single word misheard",
			input:     "welcome to eldorea travelers",
			want:      "welcome to Eldoria travelers",
			wantEdits: 1,
		},
		{
			name:      "multi word phrase wins over single word",
			input:     "meet me at the tower of wispers",
			want:      "meet me at the Tower of Whispers",
			wantEdits: 1,
		},
		{
			name:      "exact casing left alone",
			input:     "Eldoria is quiet tonight",
			want:      "Eldoria is quiet tonight",
			wantEdits: 0,
		},
		{
			name:      "unrelated text untouched",
			input:     "the weather is fine",
			want:      "the weather is fine",
			wantEdits: 0,
		},
		{
			name:      "empty input",
			input:     "",
			want:      "",
			wantEdits: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := c.Correct(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("Correct() error = %v", err)
			}
			if got.Text != tt.want {
				t.Errorf("Correct() text = %q, want %q", got.Text, tt.want)
			}
			if len(got.Edits) != tt.wantEdits {
				t.Errorf("Correct() edits = %d, want %d: %+v", len(got.Edits), tt.wantEdits, got.Edits)
			}
		})
	}
}

func TestCorrectorRecordsEditPositions(t *testing.T) {
	t.Parallel()

	c := New([]string{"Eldoria"})

	got, err := c.Correct(context.Background(), "go to eldorea now")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if len(got.Edits) != 1 {
		t.Fatalf("Correct() edits = %d, want 1", len(got.Edits))
	}
	edit := got.Edits[0]
	if edit.Original != "eldorea" || edit.Corrected != "Eldoria" {
		t.Errorf("edit = %+v, want eldorea -> Eldoria", edit)
	}
	if edit.Position != 6 {
		t.Errorf("edit position = %d, want 6", edit.Position)
	}
}

func TestCorrectorEmptyLexiconPassesThrough(t *testing.T) {
	t.Parallel()

	c := New(nil)

	got, err := c.Correct(context.Background(), "anything at all")
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if got.Text != "anything at all" || len(got.Edits) != 0 {
		t.Errorf("Correct() = %+v, want pass-through", got)
	}
}
