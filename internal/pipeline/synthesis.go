package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/MrWong99/parlance/internal/observe"
	"github.com/MrWong99/parlance/pkg/provider/tts"
)

// SynthesizerConfig holds the dependencies of a [Synthesizer].
type SynthesizerConfig struct {
	// Provider is the streaming synthesis backend. Required.
	Provider tts.Provider

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Synthesizer groups sentence fragments into speakable units, dispatches
// synthesis requests concurrently, and streams the resulting audio out
// strictly in seal order. A barge-in abandons the current group and every
// request still in flight; only groups whose audio fully streamed are
// reported back as delivered.
type Synthesizer struct {
	provider tts.Provider
	log      *slog.Logger
	metrics  *observe.Metrics
}

// NewSynthesizer constructs a Synthesizer from cfg.
func NewSynthesizer(cfg SynthesizerConfig) *Synthesizer {
	return &Synthesizer{
		provider: cfg.Provider,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// inflight pairs a sealed group with its asynchronously opened synthesis
// stream. ready closes once the dispatch goroutine has filled stream/err.
type inflight struct {
	group  Group
	stream tts.Stream
	err    error
	ready  chan struct{}
}

// Run consumes sentence fragments until the channel closes or ctx is
// cancelled, writing synthesised audio to audioOut and the original text of
// each fully delivered group to delivered. Run owns both output channels and
// closes them on return.
//
// Between audio chunks the fragment channel is polled without blocking: new
// sentences may seal and dispatch further groups mid-delivery, and an
// interrupt fragment stops the current group, abandons all in-flight
// streams, and clears the carry-over. Every synthesis stream is closed
// exactly once regardless of outcome.
func (s *Synthesizer) Run(ctx context.Context, fragments <-chan Fragment, audioOut chan<- []byte, delivered chan<- string) error {
	defer close(audioOut)
	defer close(delivered)

	// carry holds raw fragments not yet sealed into a group. A trailing run
	// of punctuation-only fragments waits here for speakable text.
	var carry []string
	open := true

	for open {
		var interrupted bool
		carry, open = s.await(ctx, fragments, carry)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var groups []Group
		groups, carry = groupFragments(carry)
		if len(groups) == 0 {
			continue
		}

		queue := make([]*inflight, 0, len(groups))
		for _, g := range groups {
			queue = append(queue, s.dispatch(ctx, g))
		}

		for i := 0; i < len(queue); i++ {
			f := queue[i]
			if interrupted {
				s.abandon(f)
				continue
			}

			select {
			case <-ctx.Done():
				s.abandonAll(queue[i:])
				return ctx.Err()
			case <-f.ready:
			}
			if f.err != nil {
				s.abandonAll(queue[i+1:])
				s.metrics.RecordProviderError(ctx, "tts", "synthesize")
				return fmt.Errorf("pipeline: synthesis of %q: %w", f.group.Cleaned, f.err)
			}

			begin := time.Now()
			done := false
			s.log.Info("delivery started", "text", f.group.Original)
		delivery:
			for {
				select {
				case <-ctx.Done():
					_ = f.stream.Close()
					s.abandonAll(queue[i+1:])
					return ctx.Err()
				case chunk, ok := <-f.stream.Chunks():
					if !ok {
						done = true
						break delivery
					}

					// Check for a barge-in before forwarding the chunk.
					var intr bool
					carry, intr, open = s.poll(fragments, carry)
					if intr {
						interrupted = true
						break delivery
					}

					select {
					case audioOut <- chunk:
					case <-ctx.Done():
						_ = f.stream.Close()
						s.abandonAll(queue[i+1:])
						return ctx.Err()
					}

					// New sentences may have sealed more groups; dispatch
					// them now so synthesis overlaps delivery.
					var more []Group
					more, carry = groupFragments(carry)
					for _, g := range more {
						queue = append(queue, s.dispatch(ctx, g))
					}
				}
			}

			_ = f.stream.Close()
			if done {
				s.metrics.SynthesisDuration.Record(ctx, time.Since(begin).Seconds())
				s.log.Info("delivery finished", "text", f.group.Original)
				select {
				case delivered <- f.group.Original:
				case <-ctx.Done():
					s.abandonAll(queue[i+1:])
					return ctx.Err()
				}
			} else if interrupted {
				s.metrics.Interruptions.Add(ctx, 1)
				s.log.Info("delivery interrupted", "text", f.group.Original)
				carry = nil
			}
		}
	}
	return nil
}

// await blocks until at least one speakable fragment is buffered, then
// drains whatever else is immediately available. An interrupt observed here
// discards the pending fragments and keeps waiting. The second return is
// false once fragments has closed.
func (s *Synthesizer) await(ctx context.Context, fragments <-chan Fragment, carry []string) ([]string, bool) {
	for {
		if len(carry) == 0 {
			select {
			case <-ctx.Done():
				return carry, false
			case f, ok := <-fragments:
				if !ok {
					return carry, false
				}
				if f.Interrupt {
					carry = nil
					continue
				}
				carry = append(carry, f.Text)
			}
			continue
		}
		select {
		case f, ok := <-fragments:
			if !ok {
				return carry, false
			}
			if f.Interrupt {
				carry = nil
				continue
			}
			carry = append(carry, f.Text)
		default:
			return carry, true
		}
	}
}

// poll drains the fragment channel without blocking. It reports whether an
// interrupt was observed (remaining buffered fragments are then discarded)
// and whether the channel is still open.
func (s *Synthesizer) poll(fragments <-chan Fragment, carry []string) ([]string, bool, bool) {
	for {
		select {
		case f, ok := <-fragments:
			if !ok {
				return carry, false, false
			}
			if f.Interrupt {
				return nil, true, true
			}
			carry = append(carry, f.Text)
		default:
			return carry, false, true
		}
	}
}

// dispatch opens the synthesis stream for g in a goroutine so that multiple
// groups synthesise concurrently while delivery stays strictly ordered.
func (s *Synthesizer) dispatch(ctx context.Context, g Group) *inflight {
	f := &inflight{group: g, ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		f.stream, f.err = s.provider.Synthesize(ctx, g.Cleaned)
	}()
	s.log.Info("synthesis dispatched", "text", g.Cleaned)
	return f
}

// abandon closes f's stream once its dispatch completes, discarding the
// audio. Runs in the background so an interrupt never waits on a slow
// synthesis request.
func (s *Synthesizer) abandon(f *inflight) {
	go func() {
		<-f.ready
		if f.stream != nil {
			_ = f.stream.Close()
		}
	}()
}

func (s *Synthesizer) abandonAll(queue []*inflight) {
	for _, f := range queue {
		s.abandon(f)
	}
}

// groupFragments seals consecutive raw fragments into synthesis groups. Each
// fragment whose cleaned form is speakable seals everything accumulated
// since the last group — punctuation-only fragments ride along with the next
// speakable one. The trailing unsealed run is returned as the new carry.
func groupFragments(carry []string) ([]Group, []string) {
	var groups []Group
	var pending []string
	for _, raw := range carry {
		pending = append(pending, raw)
		if cleaned := cleanSentence(raw); cleaned != "" {
			groups = append(groups, Group{
				Original: strings.Join(pending, ""),
				Cleaned:  cleaned,
			})
			pending = nil
		}
	}
	return groups, pending
}

// keepPunct is the punctuation allowed through to the synthesiser: terminal
// marks, commas and semicolons in both widths.
var keepPunct = map[rune]bool{
	'．': true, '！': true, '？': true, '｡': true, '。': true,
	'?': true, '!': true, '，': true, ',': true, '；': true,
	';': true, '.': true,
}

// spaceRuns collapses whitespace runs left behind by punctuation removal.
var spaceRuns = regexp.MustCompile(`\s+`)

// cleanSentence normalises one sentence for synthesis. Decorative
// punctuation outside the keep-list becomes a space and whitespace runs
// collapse. Returns "" when the sentence contains nothing speakable, i.e.
// only punctuation and whitespace.
func cleanSentence(sentence string) string {
	sentence = strings.TrimSpace(sentence)

	speakable := false
	for _, r := range sentence {
		if !isPunct(r) && !isSpace(r) {
			speakable = true
			break
		}
	}
	if !speakable {
		return ""
	}

	var b strings.Builder
	b.Grow(len(sentence))
	for _, r := range sentence {
		if isPunct(r) && !keepPunct[r] {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return spaceRuns.ReplaceAllString(b.String(), " ")
}

func isSpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f', ' ', '　':
		return true
	}
	return false
}

// isPunct reports whether r is ASCII or common CJK punctuation — the set the
// cleanup treats as non-speakable.
func isPunct(r rune) bool {
	if r < 128 {
		return strings.ContainsRune("!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~", r)
	}
	switch r {
	case '＂', '＃', '＄', '％', '＆', '＇', '（', '）', '＊', '＋', '，', '－',
		'／', '：', '；', '＜', '＝', '＞', '＠', '［', '＼', '］', '＾', '＿',
		'｀', '｛', '｜', '｝', '～', '｟', '｠', '｢', '｣', '､', '　',
		'、', '〃', '〈', '〉', '《', '》', '「', '」', '『', '』', '【', '】',
		'〔', '〕', '〖', '〗', '〘', '〙', '〚', '〛', '〜', '〝', '〞', '〟',
		'〰', '…', '‧', '﹏', '．', '！', '？', '｡', '。', '—', '‘', '’',
		'“', '”', '·', '￥':
		return true
	}
	return false
}
