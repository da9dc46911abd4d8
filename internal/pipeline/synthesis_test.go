package pipeline

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/MrWong99/parlance/internal/observe"
	ttsmock "github.com/MrWong99/parlance/pkg/provider/tts/mock"
)

func TestCleanSentence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, in, want string
	}{
		{"kept punctuation untouched", "hello, world.", "hello, world."},
		{"punctuation only", "，。", ""},
		{"ellipsis only", "……", ""},
		{"whitespace only", "   ", ""},
		{"empty", "", ""},
		{"decorative becomes space", "hello—world", "hello world"},
		{"quotes collapse", "he said “hi” now", "he said hi now"},
		{"fullwidth terminal kept", "好了。", "好了。"},
		{"surrounding space trimmed", "  hi.  ", "hi."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := cleanSentence(tt.in); got != tt.want {
				t.Errorf("cleanSentence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGroupFragments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		carry      []string
		wantGroups []Group
		wantCarry  []string
	}{
		{
			name:       "punctuation rides with next speakable",
			carry:      []string{"，。", "hello."},
			wantGroups: []Group{{Original: "，。hello.", Cleaned: "hello."}},
		},
		{
			name:       "trailing punctuation stays carried",
			carry:      []string{"hello."},
			wantGroups: []Group{{Original: "hello.", Cleaned: "hello."}},
		},
		{
			name:      "punctuation alone never seals",
			carry:     []string{"，。"},
			wantCarry: []string{"，。"},
		},
		{
			name:  "each speakable fragment seals",
			carry: []string{"One.", "Two!"},
			wantGroups: []Group{
				{Original: "One.", Cleaned: "One."},
				{Original: "Two!", Cleaned: "Two!"},
			},
		},
		{name: "empty carry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			groups, carry := groupFragments(tt.carry)
			if len(groups) != len(tt.wantGroups) {
				t.Fatalf("groups = %+v, want %+v", groups, tt.wantGroups)
			}
			for i := range groups {
				if groups[i] != tt.wantGroups[i] {
					t.Errorf("group %d = %+v, want %+v", i, groups[i], tt.wantGroups[i])
				}
			}
			if len(carry) != len(tt.wantCarry) {
				t.Fatalf("carry = %v, want %v", carry, tt.wantCarry)
			}
			for i := range carry {
				if carry[i] != tt.wantCarry[i] {
					t.Errorf("carry %d = %q, want %q", i, carry[i], tt.wantCarry[i])
				}
			}
		})
	}
}

func newSynthesizer(provider *ttsmock.Provider) *Synthesizer {
	return NewSynthesizer(SynthesizerConfig{
		Provider: provider,
		Logger:   testLogger(),
		Metrics:  observe.DefaultMetrics(),
	})
}

// startSynthesizer runs s.Run in a goroutine over generously buffered output
// channels and returns them with the error channel.
func startSynthesizer(s *Synthesizer, fragments <-chan Fragment) (<-chan []byte, <-chan string, <-chan error) {
	audioOut := make(chan []byte, 64)
	delivered := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(context.Background(), fragments, audioOut, delivered) }()
	return audioOut, delivered, errCh
}

func drainStrings(ch <-chan string) []string {
	var out []string
	for s := range ch {
		out = append(out, s)
	}
	return out
}

func drainChunks(ch <-chan []byte) [][]byte {
	var out [][]byte
	for c := range ch {
		out = append(out, c)
	}
	return out
}

// eventually polls cond for up to two seconds.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSynthesizer_OrderedDelivery(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Scripts: [][][]byte{
		{{0x01}, {0x02}},
		{{0x03}},
	}}
	s := newSynthesizer(provider)

	fragments := make(chan Fragment, 4)
	fragments <- SentenceFragment("First.")
	fragments <- SentenceFragment("Second!")
	close(fragments)

	audioOut, delivered, errCh := startSynthesizer(s, fragments)
	audio := drainChunks(audioOut)
	reports := drainStrings(delivered)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantAudio := [][]byte{{0x01}, {0x02}, {0x03}}
	if len(audio) != len(wantAudio) {
		t.Fatalf("audio chunks = %v, want %v", audio, wantAudio)
	}
	for i := range wantAudio {
		if !bytes.Equal(audio[i], wantAudio[i]) {
			t.Errorf("chunk %d = %v, want %v", i, audio[i], wantAudio[i])
		}
	}
	if len(reports) != 2 || reports[0] != "First." || reports[1] != "Second!" {
		t.Errorf("delivered = %v, want [First. Second!]", reports)
	}
	if len(provider.Calls) != 2 || provider.Calls[0] != "First." || provider.Calls[1] != "Second!" {
		t.Errorf("synthesis calls = %v, want the cleaned group texts in order", provider.Calls)
	}
	for i, st := range provider.Streams {
		if st.CloseCount() != 1 {
			t.Errorf("stream %d closed %d times, want exactly once", i, st.CloseCount())
		}
	}
}

func TestSynthesizer_PunctuationOnlyNeverSynthesized(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{}
	s := newSynthesizer(provider)

	fragments := make(chan Fragment, 2)
	fragments <- SentenceFragment("，。")
	close(fragments)

	audioOut, delivered, errCh := startSynthesizer(s, fragments)
	audio := drainChunks(audioOut)
	reports := drainStrings(delivered)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.Calls) != 0 {
		t.Errorf("synthesis calls = %v, want none for unspeakable text", provider.Calls)
	}
	if len(audio) != 0 || len(reports) != 0 {
		t.Error("no audio or delivery reports expected")
	}
}

func TestSynthesizer_InterruptDiscardsCarriedFragments(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Scripts: [][][]byte{{{0xAA}}}}
	s := newSynthesizer(provider)

	// The punctuation-only fragment is waiting for speakable text when the
	// interrupt arrives, so it must not ride along with the next group.
	fragments := make(chan Fragment, 4)
	fragments <- SentenceFragment("，。")
	fragments <- InterruptFragment()
	fragments <- SentenceFragment("好。")
	close(fragments)

	audioOut, delivered, errCh := startSynthesizer(s, fragments)
	drainChunks(audioOut)
	reports := drainStrings(delivered)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(provider.Calls) != 1 || provider.Calls[0] != "好。" {
		t.Fatalf("synthesis calls = %v, want only the post-interrupt sentence", provider.Calls)
	}
	if len(reports) != 1 || reports[0] != "好。" {
		t.Errorf("delivered = %v, want the group text without the discarded fragment", reports)
	}
}

func TestSynthesizer_BargeInAbandonsInflight(t *testing.T) {
	t.Parallel()

	// No scripts: every stream is driven manually, so the second group is
	// still in flight when the barge-in lands.
	provider := &ttsmock.Provider{}
	s := newSynthesizer(provider)

	fragments := make(chan Fragment, 8)
	fragments <- SentenceFragment("One.")
	fragments <- SentenceFragment("Two.")

	audioOut, delivered, errCh := startSynthesizer(s, fragments)

	eventually(t, func() bool { return len(provider.Streams) == 2 }, "both groups should dispatch")
	first, second := provider.Streams[0], provider.Streams[1]

	first.Push([]byte{0x01})
	if got := <-audioOut; !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("first chunk = %v, want [1]", got)
	}

	// Delivery polls for a barge-in before forwarding each chunk, so the
	// interrupt must already be buffered when the next chunk arrives.
	fragments <- InterruptFragment()
	first.Push([]byte{0x02})

	eventually(t, first.Closed, "interrupted stream should close")
	eventually(t, second.Closed, "in-flight stream should be abandoned")

	close(fragments)
	audio := drainChunks(audioOut)
	reports := drainStrings(delivered)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(audio) != 0 {
		t.Errorf("audio after the interrupt = %v, want none", audio)
	}
	if len(reports) != 0 {
		t.Errorf("delivered = %v, want none: no group finished playback", reports)
	}
	if first.CloseCount() != 1 || second.CloseCount() != 1 {
		t.Errorf("close counts = %d, %d, want exactly once each", first.CloseCount(), second.CloseCount())
	}
}

func TestSynthesizer_DispatchesMidDelivery(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Scripts: [][][]byte{
		{{0x01}, {0x02}},
		{{0x03}},
	}}
	s := newSynthesizer(provider)

	fragments := make(chan Fragment, 4)
	fragments <- SentenceFragment("One.")

	audioOut, delivered, errCh := startSynthesizer(s, fragments)

	// Queue the next sentence while the first group is being delivered,
	// then close: the queue must still drain completely.
	if got := <-audioOut; !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("first chunk = %v, want [1]", got)
	}
	fragments <- SentenceFragment("Two.")
	close(fragments)

	audio := drainChunks(audioOut)
	reports := drainStrings(delivered)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := [][]byte{{0x02}, {0x03}}
	if len(audio) != len(want) {
		t.Fatalf("remaining audio = %v, want %v", audio, want)
	}
	for i := range want {
		if !bytes.Equal(audio[i], want[i]) {
			t.Errorf("chunk %d = %v, want %v", i, audio[i], want[i])
		}
	}
	if len(reports) != 2 || reports[0] != "One." || reports[1] != "Two." {
		t.Errorf("delivered = %v, want [One. Two.]", reports)
	}
}

func TestSynthesizer_ProviderErrorIsFatal(t *testing.T) {
	t.Parallel()

	provider := &ttsmock.Provider{Err: context.DeadlineExceeded}
	s := newSynthesizer(provider)

	fragments := make(chan Fragment, 2)
	fragments <- SentenceFragment("One.")

	audioOut, delivered, errCh := startSynthesizer(s, fragments)
	drainChunks(audioOut)
	drainStrings(delivered)
	if err := <-errCh; err == nil {
		t.Fatal("expected synthesis failure to end the run")
	}
}
