package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/pkg/provider/llm"
	llmmock "github.com/MrWong99/parlance/pkg/provider/llm/mock"
)

func TestCutSentence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name                   string
		prefix, delta          string
		wantSentence, wantRest string
	}{
		{"delta ends a sentence", "", "Hi there.", "Hi there.", ""},
		{"no terminal joins prefix", "Hi ", "there", "", "Hi there"},
		{"empty delta keeps prefix", "", "", "", ""},
		{"rightmost terminal wins", "", "One. Two! Thr", "One. Two!", " Thr"},
		{"fullwidth terminal", "你", "好。吗", "你好。", "吗"},
		{"newline seals", "a", "b\nc", "ab\n", "c"},
		{"ellipsis seals", "", "wait…what", "wait…", "what"},
		{"tilde seals", "", "okay~ then", "okay~", " then"},
		{"prefix alone never seals", "Done.", "", "", "Done."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sentence, rest := cutSentence(tt.prefix, tt.delta)
			if sentence != tt.wantSentence || rest != tt.wantRest {
				t.Errorf("cutSentence(%q, %q) = (%q, %q), want (%q, %q)",
					tt.prefix, tt.delta, sentence, rest, tt.wantSentence, tt.wantRest)
			}
		})
	}
}

func newConversation(cfg ConversationConfig) *Conversation {
	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return NewConversation(cfg)
}

// runConversation drives Run in a goroutine and returns the fragments
// received and the Run error once both channels settle.
func collectFragments(fragments <-chan Fragment) []Fragment {
	var out []Fragment
	for f := range fragments {
		out = append(out, f)
	}
	return out
}

func TestConversation_CoalescesBufferedEvents(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamScripts: [][]llm.Chunk{
		{{Text: "Hello there."}, {Text: " I am fine"}},
	}}
	c := newConversation(ConversationConfig{Provider: provider, SystemPrompt: "be brief", Temperature: 0.7, MaxTokens: 64})

	events := make(chan UserEvent, 2)
	events <- UserEvent{Text: "Hi "}
	events <- UserEvent{Text: "there"}
	close(events)
	delivered := make(chan string)
	fragments := make(chan Fragment, 16)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, delivered, fragments) }()

	frags := collectFragments(fragments)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Both buffered events coalesce into one turn, each announcing itself
	// with an interrupt; then the reply arrives sentence by sentence, with
	// the unterminated tail flushed at stream end.
	want := []Fragment{
		InterruptFragment(),
		InterruptFragment(),
		SentenceFragment("Hello there."),
		SentenceFragment(" I am fine"),
	}
	if len(frags) != len(want) {
		t.Fatalf("fragments = %+v, want %+v", frags, want)
	}
	for i := range want {
		if frags[i] != want[i] {
			t.Errorf("fragment %d = %+v, want %+v", i, frags[i], want[i])
		}
	}

	if len(provider.StreamCalls) != 1 {
		t.Fatalf("expected one completion, got %d", len(provider.StreamCalls))
	}
	req := provider.StreamCalls[0].Req
	if req.SystemPrompt != "be brief" || req.Temperature != 0.7 || req.MaxTokens != 64 {
		t.Errorf("request parameters not forwarded: %+v", req)
	}
	wantMsgs := []llm.Message{{Role: llm.RoleUser, Content: "Hi there"}}
	if len(req.Messages) != 1 || req.Messages[0] != wantMsgs[0] {
		t.Errorf("messages = %+v, want %+v", req.Messages, wantMsgs)
	}
}

func TestConversation_PreemptAloneKeepsWaiting(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamScripts: [][]llm.Chunk{
		{{Text: "Sure."}},
	}}
	c := newConversation(ConversationConfig{Provider: provider})

	events := make(chan UserEvent, 2)
	events <- UserEvent{Preempt: true}
	events <- UserEvent{Text: "Hello"}
	close(events)
	fragments := make(chan Fragment, 16)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, make(chan string), fragments) }()

	frags := collectFragments(fragments)
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The preemption emits an interrupt but contributes no text, so the
	// completion waits for the transcript.
	if len(frags) != 3 {
		t.Fatalf("fragments = %+v, want interrupt, interrupt, sentence", frags)
	}
	if !frags[0].Interrupt || !frags[1].Interrupt {
		t.Error("both events should announce with interrupts")
	}
	if frags[2] != SentenceFragment("Sure.") {
		t.Errorf("fragment 2 = %+v, want the reply sentence", frags[2])
	}
	if got := provider.StreamCalls[0].Req.Messages; len(got) != 1 || got[0].Content != "Hello" {
		t.Errorf("messages = %+v, want only the transcript turn", got)
	}
}

func TestConversation_DeliveredBecomesAssistantTurn(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamScripts: [][]llm.Chunk{
		{{Text: "Part one."}},
		{{Text: "Part two."}},
	}}
	c := newConversation(ConversationConfig{Provider: provider})

	events := make(chan UserEvent, 2)
	delivered := make(chan string, 2)
	fragments := make(chan Fragment, 32)

	events <- UserEvent{Text: "One"}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, delivered, fragments) }()

	// Wait for the first reply to reach the fragment stream, then report it
	// played back before the next turn.
	var seen []Fragment
	for f := range fragments {
		seen = append(seen, f)
		if f == SentenceFragment("Part one.") {
			break
		}
	}
	delivered <- "Part one."
	events <- UserEvent{Text: "Two"}
	close(events)

	for f := range fragments {
		seen = append(seen, f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(provider.StreamCalls) != 2 {
		t.Fatalf("expected two completions, got %d", len(provider.StreamCalls))
	}
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "One"},
		{Role: llm.RoleAssistant, Content: "Part one."},
		{Role: llm.RoleUser, Content: "Two"},
	}
	got := provider.StreamCalls[1].Req.Messages
	if len(got) != len(want) {
		t.Fatalf("second request messages = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// manualLLM lets a test feed completion chunks one at a time, unlike the
// scripted mock which preloads whole streams. Each stream closes when its
// feed closes or its context is cancelled.
type manualLLM struct {
	mu      sync.Mutex
	feeds   []chan llm.Chunk
	reqs    []llm.CompletionRequest
	started chan struct{}
}

func newManualLLM() *manualLLM {
	return &manualLLM{started: make(chan struct{}, 8)}
}

func (m *manualLLM) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	feed := make(chan llm.Chunk, 8)
	m.mu.Lock()
	m.feeds = append(m.feeds, feed)
	m.reqs = append(m.reqs, req)
	m.mu.Unlock()
	m.started <- struct{}{}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-feed:
				if !ok {
					return
				}
				select {
				case <-ctx.Done():
					return
				case out <- c:
				}
			}
		}
	}()
	return out, nil
}

func (m *manualLLM) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, nil
}

var _ llm.Provider = (*manualLLM)(nil)

func TestConversation_BargeInDiscardsReply(t *testing.T) {
	t.Parallel()

	provider := newManualLLM()
	c := newConversation(ConversationConfig{Provider: provider})

	events := make(chan UserEvent, 4)
	fragments := make(chan Fragment, 32)

	events <- UserEvent{Text: "One"}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, make(chan string), fragments) }()

	<-provider.started
	provider.feeds[0] <- llm.Chunk{Text: "Part one."}
	provider.feeds[0] <- llm.Chunk{Text: " part two"}

	// Wait until the sealed sentence comes through, so the stream is known
	// to be mid-reply with " part two" pending as an unterminated prefix.
	var seen []Fragment
	for f := range fragments {
		seen = append(seen, f)
		if f == SentenceFragment("Part one.") {
			break
		}
	}

	events <- UserEvent{Text: "Two"}
	<-provider.started // the barge-in turn starts a fresh completion
	close(events)

	for f := range fragments {
		seen = append(seen, f)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(provider.reqs) != 2 {
		t.Fatalf("expected two completions, got %d", len(provider.reqs))
	}
	// The interrupted reply never enters history: the second request holds
	// two user turns and no assistant turn, and the dangling prefix is gone.
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "One"},
		{Role: llm.RoleUser, Content: "Two"},
	}
	got := provider.reqs[1].Messages
	if len(got) != len(want) {
		t.Fatalf("second request messages = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	for _, f := range seen {
		if !f.Interrupt && strings.Contains(f.Text, "part two") {
			t.Errorf("discarded prefix leaked as fragment %+v", f)
		}
	}
	if hist := c.History(); len(hist) != 2 {
		t.Errorf("history = %+v, want the two user turns only", hist)
	}
}

func TestConversation_StreamErrorChunkIsFatal(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamScripts: [][]llm.Chunk{
		{{Text: "backend exploded", FinishReason: "error"}},
	}}
	c := newConversation(ConversationConfig{Provider: provider})

	events := make(chan UserEvent, 1)
	events <- UserEvent{Text: "Hi"}
	fragments := make(chan Fragment, 8)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, make(chan string), fragments) }()

	collectFragments(fragments)
	err := <-errCh
	if err == nil || !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("error = %v, want the stream failure surfaced", err)
	}
}

func TestConversation_StreamStartFailureIsFatal(t *testing.T) {
	t.Parallel()

	provider := &llmmock.Provider{StreamErr: context.DeadlineExceeded}
	c := newConversation(ConversationConfig{Provider: provider})

	events := make(chan UserEvent, 1)
	events <- UserEvent{Text: "Hi"}
	fragments := make(chan Fragment, 8)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(context.Background(), events, make(chan string), fragments) }()

	collectFragments(fragments)
	if err := <-errCh; err == nil {
		t.Fatal("expected the failed stream start to end the run")
	}
}
