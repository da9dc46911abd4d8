package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/pkg/audio"
	"github.com/MrWong99/parlance/pkg/provider/llm"
)

// ConversationConfig holds the dependencies of a [Conversation].
type ConversationConfig struct {
	// Provider is the streaming completion backend. Required.
	Provider llm.Provider

	// SystemPrompt, Temperature and MaxTokens parameterise every completion
	// request of the session.
	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Conversation accumulates recognised user turns, drives a streaming
// completion over the conversation history, and cuts the generated token
// stream into sentences for synthesis.
//
// History discipline: user turns are appended when a turn is collected;
// assistant turns are appended only from delivered-group reports, so history
// reflects what the user actually heard, never text that was generated but
// interrupted before playback.
type Conversation struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
	maxTokens    int
	log          *slog.Logger
	metrics      *observe.Metrics

	history []llm.Message
}

// NewConversation constructs a Conversation from cfg.
func NewConversation(cfg ConversationConfig) *Conversation {
	return &Conversation{
		provider:     cfg.Provider,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
	}
}

// History returns a copy of the conversation history accumulated so far.
func (c *Conversation) History() []llm.Message {
	return slices.Clone(c.history)
}

// Run alternates collect and generate phases until events closes or ctx is
// cancelled. Run owns fragments and closes it on return.
//
// Every user event — transcript or preemption — immediately emits an
// interrupt fragment downstream, so playback stops as soon as the user
// starts speaking again. A user event arriving mid-generation aborts the
// in-flight completion; the half-formed reply is discarded and never enters
// history.
func (c *Conversation) Run(ctx context.Context, events <-chan UserEvent, delivered <-chan string, fragments chan<- Fragment) error {
	defer close(fragments)

	var carried *UserEvent
	for {
		userText, ok, err := c.collect(ctx, events, fragments, carried)
		carried = nil
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		c.absorbDelivered(delivered)
		c.history = append(c.history, llm.Message{Role: llm.RoleUser, Content: userText})
		c.log.Info("user turn", "text", userText)

		if carried, err = c.generate(ctx, events, fragments); err != nil {
			return err
		}
	}
}

// collect blocks until at least one transcript is available, then drains
// everything already buffered so rapid partial utterances coalesce into one
// user turn. Each drained event emits an interrupt fragment; preemption
// events contribute no text and keep the collection blocking. ok is false
// when events closed before any text arrived.
func (c *Conversation) collect(ctx context.Context, events <-chan UserEvent, fragments chan<- Fragment, carried *UserEvent) (string, bool, error) {
	var user strings.Builder

	absorb := func(ev UserEvent) error {
		if err := c.emit(ctx, fragments, InterruptFragment()); err != nil {
			return err
		}
		user.WriteString(ev.Text)
		return nil
	}

	if carried != nil {
		if err := absorb(*carried); err != nil {
			return "", false, err
		}
	}

	for {
		if user.Len() == 0 {
			select {
			case <-ctx.Done():
				return "", false, ctx.Err()
			case ev, ok := <-events:
				if !ok {
					return "", false, nil
				}
				if err := absorb(ev); err != nil {
					return "", false, err
				}
			}
			continue
		}
		select {
		case ev, ok := <-events:
			if !ok {
				return user.String(), true, nil
			}
			if err := absorb(ev); err != nil {
				return "", false, err
			}
		default:
			return user.String(), true, nil
		}
	}
}

// absorbDelivered drains all pending delivered-group reports into a single
// assistant turn. Reports are concatenated in delivery order, which by the
// synthesizer's ordering guarantee is generation order.
func (c *Conversation) absorbDelivered(delivered <-chan string) {
	var assistant strings.Builder
	for {
		select {
		case text, ok := <-delivered:
			if !ok {
				if assistant.Len() > 0 {
					c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: assistant.String()})
				}
				return
			}
			assistant.WriteString(text)
		default:
			if assistant.Len() > 0 {
				c.history = append(c.history, llm.Message{Role: llm.RoleAssistant, Content: assistant.String()})
				c.log.Debug("assistant turn recorded", "text", assistant.String())
			}
			return
		}
	}
}

// generate streams one completion over the full history, emitting sealed
// sentences as they form. A user event arriving mid-stream aborts the
// completion and is returned so the next collect phase starts with it; the
// unterminated sentence prefix is discarded with the rest of the reply.
func (c *Conversation) generate(ctx context.Context, events <-chan UserEvent, fragments chan<- Fragment) (*UserEvent, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := llm.CompletionRequest{
		Messages:     slices.Clone(c.history),
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		SystemPrompt: c.systemPrompt,
	}
	begin := time.Now()
	ch, err := c.provider.StreamCompletion(streamCtx, req)
	if err != nil {
		c.metrics.RecordProviderError(ctx, "llm", "stream")
		return nil, fmt.Errorf("pipeline: completion stream: %w", err)
	}

	abort := func() {
		cancel()
		audio.Drain(ch)
	}

	interrupt := func(ev UserEvent, ok bool) (*UserEvent, error) {
		abort()
		if !ok {
			return nil, nil
		}
		c.log.Info("reply interrupted")
		if err := c.emit(ctx, fragments, InterruptFragment()); err != nil {
			return nil, err
		}
		return &ev, nil
	}

	var prefix string
	for {
		// A barge-in takes priority over the next delta.
		select {
		case ev, ok := <-events:
			return interrupt(ev, ok)
		default:
		}

		select {
		case <-ctx.Done():
			abort()
			return nil, ctx.Err()
		case ev, ok := <-events:
			return interrupt(ev, ok)
		case chunk, ok := <-ch:
			if !ok {
				c.metrics.CompletionDuration.Record(ctx, time.Since(begin).Seconds())
				if prefix != "" {
					c.log.Debug("sentence sealed", "text", prefix)
					if err := c.emit(ctx, fragments, SentenceFragment(prefix)); err != nil {
						return nil, err
					}
				}
				return nil, nil
			}
			if chunk.FinishReason == "error" {
				c.metrics.RecordProviderError(ctx, "llm", "stream")
				return nil, fmt.Errorf("pipeline: completion stream: %s", chunk.Text)
			}
			var sentence string
			sentence, prefix = cutSentence(prefix, chunk.Text)
			if sentence != "" {
				c.log.Debug("sentence sealed", "text", sentence)
				if err := c.emit(ctx, fragments, SentenceFragment(sentence)); err != nil {
					return nil, err
				}
			}
		}
	}
}

func (c *Conversation) emit(ctx context.Context, fragments chan<- Fragment, f Fragment) error {
	select {
	case fragments <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sentenceStops are the terminal marks that seal a sentence. Full- and
// half-width terminals, ellipsis, dashes and line breaks all count.
var sentenceStops = map[rune]bool{
	'．': true, '！': true, '？': true, '｡': true, '。': true,
	'?': true, '!': true, '~': true, '—': true, '…': true,
	'.': true, '\n': true, '\r': true,
}

// cutSentence applies the sentence-cut rule: find the right-most terminal
// mark in delta; if present, seal prefix plus everything through the mark as
// a finished sentence and return the remainder as the new prefix. With no
// terminal mark the whole delta joins the prefix and no sentence seals.
func cutSentence(prefix, delta string) (sentence, rest string) {
	if delta == "" {
		return "", prefix
	}
	cut, width := -1, 0
	for i, r := range delta {
		if sentenceStops[r] {
			cut, width = i, utf8.RuneLen(r)
		}
	}
	if cut < 0 {
		return "", prefix + delta
	}
	return prefix + delta[:cut+width], delta[cut+width:]
}
