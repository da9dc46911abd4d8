// Package pipeline implements the streaming orchestration engine at the heart
// of Parlance: the stage topology that turns a live microphone stream into an
// interruptible spoken dialogue.
//
// # Architecture
//
// A session runs four stages, each an independent goroutine connected to its
// neighbours by unidirectional channels:
//
//	audio in ─→ Segmenter ─→ Recognizer ─→ Conversation ─→ Synthesizer ─→ audio out
//	                              │              ↑    ↑          │
//	                              └─ transport   │    └──────────┘
//	                                 messages    │   delivered groups
//	                                             │
//	                                   speech-start preemption
//
//  1. [Segmenter] buffers inbound PCM, runs voice-activity detection per
//     fixed window, converts millisecond boundaries to byte offsets and emits
//     speech-start markers and completed speech segments.
//  2. [Recognizer] turns a segment into a [Result]: optional speaker
//     verification, transcription, language gating, tag mapping, punctuation
//     restoration and text correction.
//  3. [Conversation] coalesces recognised user turns, drives a streaming
//     completion, cuts the token stream into sentences, and keeps history
//     consistent with audio that was actually delivered.
//  4. [Synthesizer] groups sentences into speakable units, dispatches
//     concurrent synthesis requests, streams audio out strictly in order, and
//     abandons everything in flight on a barge-in.
//
// # Cancellation
//
// There is no out-of-band interrupt signal between stages. Cancellation is
// cooperative and message-driven: a stage notices a barge-in only by polling
// its input channel at safe points (between audio chunks, between stream
// deltas), so interruption latency is bounded by chunk granularity. The
// context passed to the Run methods tears a whole session down; it is never
// used to signal an individual barge-in.
//
// Error taxonomy: capability failures (VAD, ASR, LLM, TTS network errors) are
// fatal to the session. Policy rejections — unverified speaker, unsupported
// language, silent audio — are normal outcomes carried as empty-text Results.
// Interruption is a control transition, not an error.
package pipeline
