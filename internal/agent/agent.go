// Package agent implements the voice pipeline agent that drives a single call.
//
// The [PipelineAgent] wires the four provider stages into one conversational
// loop: room audio flows into STT, committed user turns flow into the LLM,
// the LLM's streaming reply is cut into sentences and fed to TTS, and the
// synthesised audio plays back through the room transport.
//
// # Architecture
//
//  1. Transport delivers decoded audio frames → converted to 16 kHz mono →
//     streamed into the STT session.
//  2. Final transcripts accumulate until the endpointing delay elapses, then
//     the user turn is committed to the chat context.
//  3. The BeforeLLM hook fires (e.g., to start a filler utterance), the LLM
//     streams its reply, and complete sentences are forwarded to TTS eagerly
//     for low time-to-first-audio.
//  4. While the agent speaks, interim transcripts are watched for barge-in:
//     enough user words cancel playback and the turn restarts.
//
// All pipeline notifications are delivered as [Event] values through a single
// handler function, so callers dispatch on [EventType] in one place instead of
// registering per-event callbacks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxhire/pkg/audio"
	"github.com/MrWong99/voxhire/pkg/provider/llm"
	"github.com/MrWong99/voxhire/pkg/provider/stt"
	"github.com/MrWong99/voxhire/pkg/provider/tts"
	"github.com/MrWong99/voxhire/pkg/provider/vad"
	"github.com/MrWong99/voxhire/pkg/types"
)

const (
	// defaultMinEndpointingDelay is how long to wait after a confident end of
	// utterance before committing the user turn.
	defaultMinEndpointingDelay = 300 * time.Millisecond

	// defaultMaxEndpointingDelay caps the wait when the utterance looks
	// unfinished (no terminal punctuation).
	defaultMaxEndpointingDelay = 3 * time.Second

	// defaultInterruptMinWords is how many interim words the caller must have
	// spoken before agent playback is cancelled.
	defaultInterruptMinWords = 3

	// sttSampleRate is the mono sample rate expected by the STT providers.
	sttSampleRate = 16000

	// defaultTextBuf is the buffer depth of the sentence channel passed to
	// TTS. Sized to absorb several sentences without blocking the LLM reader.
	defaultTextBuf = 16
)

// EventType enumerates the notifications a PipelineAgent emits.
type EventType int

const (
	// EventUserSpeechCommitted fires when a user turn is committed to the
	// chat context. Event.Text holds the final utterance.
	EventUserSpeechCommitted EventType = iota

	// EventAgentSpeechCommitted fires when the agent finishes an utterance
	// that was added to the chat context. Event.Text holds the spoken text.
	EventAgentSpeechCommitted

	// EventAgentSpeechInterrupted fires when caller barge-in cancels agent
	// playback. Event.Text holds the partial text spoken so far.
	EventAgentSpeechInterrupted

	// EventMetricsCollected fires after each LLM turn with usage figures.
	// Event.Metrics is non-nil.
	EventMetricsCollected
)

// Event is a single pipeline notification. Which fields are meaningful
// depends on Type.
type Event struct {
	Type EventType

	// Text is the plain rendering of the utterance behind a speech event.
	Text string

	// Message is the chat message the speech event committed, including
	// multimodal parts when the turn carried any. Zero for
	// EventMetricsCollected.
	Message types.Message

	Metrics *TurnMetrics
}

// TurnMetrics aggregates per-turn measurements.
type TurnMetrics struct {
	// Usage is the LLM token usage for the turn, when the provider reports it.
	Usage llm.Usage

	// LLMDuration is the wall time of the LLM stream.
	LLMDuration time.Duration
}

// Options configures a PipelineAgent. STT, LLM, TTS, and Voice are required;
// everything else has a usable default.
type Options struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// VAD optionally gates endpointing on detected silence. May be nil.
	VAD vad.Engine

	// Voice is the TTS voice used for all agent speech.
	Voice types.VoiceProfile

	// SystemPrompt is sent with every LLM request.
	SystemPrompt string

	// Language and Keywords configure the STT session.
	Language string
	Keywords []types.KeywordBoost

	// Temperature and MaxTokens are forwarded to every LLM request. Zero
	// values leave the provider defaults in place.
	Temperature float64
	MaxTokens   int

	// MinEndpointingDelay and MaxEndpointingDelay bound how long the agent
	// waits for more speech before committing a user turn.
	MinEndpointingDelay time.Duration
	MaxEndpointingDelay time.Duration

	// AllowInterruptions enables caller barge-in during agent speech.
	AllowInterruptions bool

	// InterruptMinWords is the interim word count that triggers barge-in.
	InterruptMinWords int

	// BeforeLLM, when set, runs after each user turn is committed and before
	// the LLM request is built. It may mutate the chat context.
	BeforeLLM func(ctx context.Context, chat *ChatContext)

	// OnEvent receives every pipeline Event. Called from pipeline goroutines;
	// it must not block. May be nil.
	OnEvent func(Event)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// PipelineAgent runs the STT → LLM → TTS loop for one call.
//
// A PipelineAgent is single-use: create it, call Run, and discard it when Run
// returns. Say may be called concurrently with the running pipeline.
type PipelineAgent struct {
	opts Options
	chat *ChatContext
	log  *slog.Logger

	judge turnJudge

	mu          sync.Mutex
	speaking    bool
	speakCancel context.CancelFunc

	wg sync.WaitGroup
}

// New validates opts and constructs a PipelineAgent.
func New(opts Options) (*PipelineAgent, error) {
	if opts.STT == nil || opts.LLM == nil || opts.TTS == nil {
		return nil, fmt.Errorf("agent: STT, LLM, and TTS providers are all required")
	}
	if opts.Voice.ID == "" {
		return nil, fmt.Errorf("agent: Voice.ID must not be empty")
	}
	if opts.MinEndpointingDelay <= 0 {
		opts.MinEndpointingDelay = defaultMinEndpointingDelay
	}
	if opts.MaxEndpointingDelay <= 0 {
		opts.MaxEndpointingDelay = defaultMaxEndpointingDelay
	}
	if opts.InterruptMinWords <= 0 {
		opts.InterruptMinWords = defaultInterruptMinWords
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	chat := NewChatContext()
	if opts.SystemPrompt != "" {
		chat.Append(types.RoleSystem, opts.SystemPrompt)
	}

	return &PipelineAgent{
		opts: opts,
		chat: chat,
		log:  opts.Logger.With("component", "agent"),
		judge: turnJudge{
			min: opts.MinEndpointingDelay,
			max: opts.MaxEndpointingDelay,
		},
	}, nil
}

// Chat returns the agent's chat context.
func (a *PipelineAgent) Chat() *ChatContext { return a.chat }

// Run starts the pipeline and blocks until ctx is cancelled or the transport's
// audio input closes. It is the caller's job to cancel ctx on teardown.
func (a *PipelineAgent) Run(ctx context.Context, transport Transport) error {
	sess, err := a.opts.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: sttSampleRate,
		Channels:   1,
		Language:   a.opts.Language,
		Keywords:   a.opts.Keywords,
	})
	if err != nil {
		return fmt.Errorf("agent: start STT stream: %w", err)
	}
	defer sess.Close()

	a.wg.Add(1)
	go a.pumpAudio(ctx, transport, sess)

	a.conversationLoop(ctx, transport, sess)

	a.interrupt("")
	a.wg.Wait()
	return ctx.Err()
}

// SayOptions controls a single Say call.
type SayOptions struct {
	// AllowInterruptions claims the speech slot so caller barge-in can cancel
	// this utterance. When false the utterance plays straight through and
	// only ctx cancellation can stop it.
	AllowInterruptions bool

	// AddToChatContext appends the utterance to the chat context on
	// completion and emits EventAgentSpeechCommitted. Disable for filler
	// phrases that should not pollute the conversation history.
	AddToChatContext bool

	// Background plays the utterance without claiming the speech slot, so a
	// following utterance does not get cancelled by it. Used for filler
	// noises played while a response is being generated.
	Background bool
}

// Say synthesises text and plays it through the transport, blocking until
// playback finishes or is cancelled. An interruptible Say claims the speech
// slot, cancelling whatever the agent was previously saying.
func (a *PipelineAgent) Say(ctx context.Context, transport Transport, text string, opts SayOptions) error {
	playCtx := ctx
	if !opts.Background && opts.AllowInterruptions {
		playCtx = a.beginSpeech(ctx)
		defer a.endSpeech(playCtx)
	}

	textCh := make(chan string, 1)
	textCh <- text
	close(textCh)

	audioCh, err := a.opts.TTS.SynthesizeStream(playCtx, textCh, a.opts.Voice)
	if err != nil {
		return fmt.Errorf("agent: say: %w", err)
	}
	if err := transport.Play(playCtx, audioCh); err != nil {
		return fmt.Errorf("agent: playback: %w", err)
	}

	if playCtx.Err() == nil && opts.AddToChatContext {
		msg := types.Message{Role: types.RoleAssistant, Content: text}
		a.chat.AppendMessage(msg)
		a.emit(Event{Type: EventAgentSpeechCommitted, Text: text, Message: msg})
	}
	return playCtx.Err()
}

// ─── Conversation loop ────────────────────────────────────────────────────────

// conversationLoop owns endpointing and turn commits. It runs on the Run
// goroutine; LLM responses execute on their own goroutines so barge-in
// detection keeps working while the agent speaks.
func (a *PipelineAgent) conversationLoop(ctx context.Context, transport Transport, sess stt.SessionHandle) {
	finals := sess.Finals()
	partials := sess.Partials()

	var pending []string
	var commit <-chan time.Time
	var commitCap <-chan time.Time

	doCommit := func() {
		text := strings.TrimSpace(strings.Join(pending, " "))
		pending = nil
		commit = nil
		commitCap = nil
		if text == "" {
			return
		}
		a.commitUserTurn(ctx, transport, text)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case t, ok := <-finals:
			if !ok {
				return
			}
			if strings.TrimSpace(t.Text) == "" {
				continue
			}
			a.maybeInterrupt(t.Text)
			pending = append(pending, t.Text)
			commit = time.After(a.judge.delayFor(t.Text))
			if commitCap == nil {
				commitCap = time.After(a.opts.MaxEndpointingDelay)
			}

		case t, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			a.maybeInterrupt(t.Text)

		case <-commit:
			doCommit()

		case <-commitCap:
			doCommit()
		}
	}
}

// commitUserTurn records the user utterance and kicks off the LLM response.
// The speech slot is claimed before the BeforeLLM hook runs so the hook can
// play background audio under the turn's cancellation scope.
func (a *PipelineAgent) commitUserTurn(ctx context.Context, transport Transport, text string) {
	msg := types.Message{Role: types.RoleUser, Content: text}
	a.chat.AppendMessage(msg)
	a.emit(Event{Type: EventUserSpeechCommitted, Text: text, Message: msg})

	playCtx := a.beginSpeech(ctx)

	if a.opts.BeforeLLM != nil {
		a.opts.BeforeLLM(playCtx, a.chat)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.endSpeech(playCtx)
		a.respond(playCtx, transport)
	}()
}

// respond streams one LLM reply through TTS to the transport.
func (a *PipelineAgent) respond(ctx context.Context, transport Transport) {
	req := llm.CompletionRequest{
		Messages:    a.chat.Messages(),
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
	}

	llmStart := time.Now()
	chunks, err := a.opts.LLM.StreamCompletion(ctx, req)
	if err != nil {
		a.log.Error("LLM stream failed", "error", err)
		return
	}

	textCh := make(chan string, defaultTextBuf)
	audioCh, err := a.opts.TTS.SynthesizeStream(ctx, textCh, a.opts.Voice)
	if err != nil {
		a.log.Error("TTS start failed", "error", err)
		go drainChunks(chunks)
		close(textCh)
		return
	}

	var full strings.Builder
	var usage llm.Usage
	var fwdErr error
	fwdDone := make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(fwdDone)
		defer close(textCh)
		fwdErr = forwardSentences(ctx, chunks, textCh, &full, &usage)
	}()

	playErr := transport.Play(ctx, audioCh)
	<-fwdDone
	if fwdErr != nil {
		// The caller hears at most a reply that stops early. Whatever was
		// spoken before the failure is still committed below.
		a.log.Warn("LLM reply cut short", "error", fwdErr)
	}

	spoken := strings.TrimSpace(full.String())
	msg := types.Message{Role: types.RoleAssistant, Content: spoken}
	switch {
	case ctx.Err() != nil:
		// Barge-in or teardown. The partial utterance still reaches the chat
		// context so the model knows what the caller heard.
		if spoken != "" {
			a.chat.AppendMessage(msg)
		}
		a.emit(Event{Type: EventAgentSpeechInterrupted, Text: spoken, Message: msg})
	case playErr != nil:
		a.log.Error("playback failed", "error", playErr)
	default:
		if spoken != "" {
			a.chat.AppendMessage(msg)
			a.emit(Event{Type: EventAgentSpeechCommitted, Text: spoken, Message: msg})
		}
	}

	a.emit(Event{
		Type: EventMetricsCollected,
		Metrics: &TurnMetrics{
			Usage:       usage,
			LLMDuration: time.Since(llmStart),
		},
	})
}

// ─── Speech state ─────────────────────────────────────────────────────────────

// beginSpeech cancels any in-flight utterance and marks the agent speaking.
// The returned context is cancelled when the new utterance is interrupted.
func (a *PipelineAgent) beginSpeech(ctx context.Context) context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.speakCancel != nil {
		a.speakCancel()
	}
	playCtx, cancel := context.WithCancel(ctx)
	a.speaking = true
	a.speakCancel = cancel
	return playCtx
}

// endSpeech clears the speaking state if it still belongs to playCtx's
// utterance.
func (a *PipelineAgent) endSpeech(playCtx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-playCtx.Done():
	default:
		if a.speakCancel != nil {
			a.speakCancel()
		}
	}
	a.speaking = false
	a.speakCancel = nil
}

// maybeInterrupt cancels agent playback when the caller has spoken enough
// interim words during agent speech.
func (a *PipelineAgent) maybeInterrupt(partialText string) {
	if !a.opts.AllowInterruptions {
		return
	}
	if countWords(partialText) < a.opts.InterruptMinWords {
		return
	}
	a.interrupt(partialText)
}

func (a *PipelineAgent) interrupt(partialText string) {
	a.mu.Lock()
	cancel := a.speakCancel
	wasSpeaking := a.speaking
	a.speaking = false
	a.speakCancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasSpeaking && partialText != "" {
		a.log.Debug("agent speech interrupted", "heard", partialText)
	}
}

// Speaking reports whether the agent is currently playing an utterance.
func (a *PipelineAgent) Speaking() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.speaking
}

// ─── Audio pump ───────────────────────────────────────────────────────────────

// pumpAudio converts transport frames to 16 kHz mono PCM and feeds them to the
// STT session. When VAD is configured, frames also pass through a detection
// session so silence statistics stay warm; detection failures are logged once
// and do not stall the pump.
func (a *PipelineAgent) pumpAudio(ctx context.Context, transport Transport, sess stt.SessionHandle) {
	defer a.wg.Done()

	conv := &audio.FormatConverter{Target: audio.Format{SampleRate: sttSampleRate, Channels: 1}}

	var vadSess vad.SessionHandle
	if a.opts.VAD != nil {
		vs, err := a.opts.VAD.NewSession(vad.Config{
			SampleRate:  sttSampleRate,
			FrameSizeMs: 20,
		})
		if err != nil {
			a.log.Warn("VAD session unavailable", "error", err)
		} else {
			vadSess = vs
			defer vadSess.Close()
		}
	}

	var vadWarn sync.Once
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-transport.AudioInput():
			if !ok {
				return
			}
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			if vadSess != nil {
				if _, err := vadSess.ProcessFrame(converted.Data); err != nil {
					vadWarn.Do(func() {
						a.log.Warn("VAD processing disabled", "error", err)
					})
					vadSess = nil
				}
			}
			if err := sess.SendAudio(converted.Data); err != nil {
				return
			}
		}
	}
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (a *PipelineAgent) emit(ev Event) {
	if a.opts.OnEvent != nil {
		a.opts.OnEvent(ev)
	}
}

// errStreamFailed reports that an LLM stream terminated with an error chunk.
// The provider has already logged the failure detail.
var errStreamFailed = errors.New("completion stream reported an error")

// forwardSentences reads token chunks from ch, accumulates them into complete
// sentences, and writes each sentence to textCh for eager TTS synthesis. The
// full reply text accumulates in full; token usage lands in usage.
//
// A chunk with FinishReason error ends the stream: its text is discarded so a
// backend failure can never be synthesised or committed, and errStreamFailed
// is returned. Sentences buffered before the failure are still flushed.
func forwardSentences(ctx context.Context, ch <-chan llm.Chunk, textCh chan<- string, full *strings.Builder, usage *llm.Usage) error {
	var buf strings.Builder
	flush := func(s string) bool {
		select {
		case textCh <- s:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok := <-ch:
			if !ok {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				return nil
			}

			if chunk.Usage != nil {
				*usage = *chunk.Usage
			}
			if chunk.FinishReason == llm.FinishReasonError {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				go drainChunks(ch)
				return errStreamFailed
			}

			if chunk.Text != "" {
				buf.WriteString(chunk.Text)
				full.WriteString(chunk.Text)
			}

			for {
				idx := firstSentenceBoundary(buf.String())
				if idx < 0 {
					break
				}
				sentence := buf.String()[:idx+1]
				rest := strings.TrimLeft(buf.String()[idx+1:], " \t\n\r")
				buf.Reset()
				buf.WriteString(rest)
				if !flush(sentence) {
					return nil
				}
			}

			if chunk.FinishReason != "" {
				if buf.Len() > 0 {
					flush(buf.String())
				}
				go drainChunks(ch)
				return nil
			}
		}
	}
}

// firstSentenceBoundary returns the index of the first '.', '!', '?', or
// Devanagari danda that is immediately followed by whitespace. Returns -1 if
// no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i, r := range s {
		switch r {
		case '.', '!', '?', '।':
			next := i + len(string(r))
			if next < len(s) {
				switch s[next] {
				case ' ', '\n', '\r', '\t':
					return next - 1
				}
			}
		}
	}
	return -1
}

// countWords counts whitespace-separated tokens.
func countWords(s string) int {
	return len(strings.Fields(s))
}

// drainChunks discards all remaining chunks from ch so the LLM provider's
// internal goroutine does not block.
func drainChunks(ch <-chan llm.Chunk) {
	for range ch {
	}
}
