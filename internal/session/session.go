// Package session orchestrates the lifecycle of a single voice call.
//
// A [Session] owns everything that lives exactly as long as one call: the
// pipeline agent, the transcript recorder, the filler trigger, and the
// teardown sequence. It subscribes to the agent's event stream and dispatches
// every notification through one switch, which keeps the call-level policy
// (recording, hangup keywords, metrics) in a single place.
//
// Lifecycle: CONNECTING → WAITING_FOR_PARTICIPANT → ACTIVE → DRAINING → CLOSED.
// The first two states are driven by the worker before Run is called; Run
// covers ACTIVE onwards. Hangup is idempotent and may be invoked from the
// event dispatch (keyword match), from a room callback (participant left), or
// from worker shutdown — whichever fires first wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxhire/internal/agent"
	"github.com/MrWong99/voxhire/internal/observe"
	"github.com/MrWong99/voxhire/internal/transcript"
)

// ShutdownReason is the reason string reported when a session tears the call
// down.
const ShutdownReason = "Session ended, call cut."

// DefaultGreeting is spoken when Options.Greeting is empty.
const DefaultGreeting = "Hello! Neha here from Hiring Department. Would you prefer to talk in English or Hindi?"

// hangupKeywords end the call when they appear anywhere in a committed agent
// utterance, case-insensitively. Only English phrases are matched; an
// assistant closing the call in Hindi will not trigger a hangup.
var hangupKeywords = []string{"travel advisor", "goodbye"}

// deleteRoomTimeout bounds the best-effort room deletion during teardown.
const deleteRoomTimeout = 5 * time.Second

// State is the lifecycle phase of a Session.
type State int32

const (
	StateConnecting State = iota
	StateWaitingForParticipant
	StateActive
	StateDraining
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingForParticipant:
		return "WAITING_FOR_PARTICIPANT"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// RoomManager deletes rooms on the media server. Implemented by the LiveKit
// room service client; nil disables room deletion on hangup.
type RoomManager interface {
	DeleteRoom(ctx context.Context, roomName string) error
}

// Options configures a Session.
type Options struct {
	// Agent configures the pipeline agent. OnEvent and BeforeLLM are owned by
	// the session and must be left nil.
	Agent agent.Options

	// Transport carries audio between the agent and the room.
	Transport agent.Transport

	// RoomName identifies the call's room for transcripts and teardown.
	RoomName string

	// Greeting is spoken as soon as the session starts. Empty selects
	// DefaultGreeting.
	Greeting string

	// RoomManager, when set, deletes the room during hangup so the remaining
	// participant is disconnected server-side.
	RoomManager RoomManager

	// Shutdown reports session teardown to the hosting worker with a reason
	// string. May be nil.
	Shutdown func(reason string)

	// Metrics may be nil; all recording methods are nil-safe.
	Metrics *observe.Metrics

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Session drives one call from greeting to teardown.
type Session struct {
	opts  Options
	log   *slog.Logger
	agent *agent.PipelineAgent

	recorder *transcript.Recorder
	filler   *Filler
	usage    *observe.UsageCollector

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc

	hangupOnce sync.Once
	closed     chan struct{}
}

// New builds a Session and its pipeline agent. The agent's event handler and
// BeforeLLM hook are wired to the session.
func New(opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		opts:     opts,
		log:      opts.Logger.With("component", "session", "room", opts.RoomName),
		recorder: transcript.New(opts.RoomName),
		usage:    observe.NewUsageCollector(),
		closed:   make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	aOpts := opts.Agent
	aOpts.Logger = opts.Logger
	aOpts.OnEvent = s.handleEvent
	aOpts.BeforeLLM = func(ctx context.Context, _ *agent.ChatContext) {
		s.filler.Trigger(ctx)
	}
	a, err := agent.New(aOpts)
	if err != nil {
		return nil, err
	}
	s.agent = a
	s.filler = NewFiller(a, opts.Transport, s.log)
	s.filler.onPlayed = func(string) {
		opts.Metrics.RecordFiller(context.Background(), opts.RoomName)
	}
	return s, nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

// SetWaiting marks the session as waiting for the remote participant. Called
// by the worker between room connect and the participant's arrival.
func (s *Session) SetWaiting() {
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateWaitingForParticipant))
}

// Run speaks the greeting and drives the conversation until the call ends.
// It blocks until teardown completes.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.state.Store(int32(StateActive))
	s.opts.Metrics.CallStarted(runCtx)
	s.log.Info("session active")

	var g errgroup.Group
	g.Go(func() error {
		return s.agent.Run(runCtx, s.opts.Transport)
	})

	greeting := s.opts.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	if err := s.agent.Say(runCtx, s.opts.Transport, greeting, agent.SayOptions{
		AllowInterruptions: true,
		AddToChatContext:   true,
	}); err != nil && runCtx.Err() == nil {
		s.log.Warn("greeting playback failed", "error", err)
	}

	err := g.Wait()
	s.Hangup(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Hangup tears the call down: it stops the pipeline, finalizes the
// transcript, deletes the room best-effort, and reports shutdown. Safe to
// call from any goroutine, any number of times; only the first call acts.
func (s *Session) Hangup(ctx context.Context) {
	s.hangupOnce.Do(func() {
		s.state.Store(int32(StateDraining))
		s.log.Info("session draining")

		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.filler.Wait()

		summary := s.recorder.Finalize()
		s.logSummary(summary)

		if s.opts.RoomManager != nil {
			delCtx, done := context.WithTimeout(ctx, deleteRoomTimeout)
			defer done()
			if err := s.opts.RoomManager.DeleteRoom(delCtx, s.opts.RoomName); err != nil {
				// Teardown must succeed even when the room is already gone.
				s.log.Warn("room deletion failed", "error", err)
			}
		}

		s.opts.Metrics.CallEnded(ctx, summary.Duration)
		if s.opts.Shutdown != nil {
			s.opts.Shutdown(ShutdownReason)
		}

		s.state.Store(int32(StateClosed))
		close(s.closed)
		s.log.Info("session closed", "duration", summary.Duration)
	})
}

// Done returns a channel closed when teardown has completed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Usage returns the accumulated LLM token usage for the call so far.
func (s *Session) Usage() *observe.UsageCollector {
	return s.usage
}

// handleEvent is the single dispatch point for all pipeline notifications.
func (s *Session) handleEvent(ev agent.Event) {
	ctx := context.Background()
	switch ev.Type {
	case agent.EventUserSpeechCommitted:
		s.recorder.Record(transcript.SpeakerUser, eventText(ev))
		s.opts.Metrics.RecordUserTurn(ctx, s.opts.RoomName)

	case agent.EventAgentSpeechCommitted:
		text := eventText(ev)
		s.recorder.Record(transcript.SpeakerAgent, text)
		s.opts.Metrics.RecordAgentTurn(ctx, s.opts.RoomName, "committed")
		// The assistant closes calls itself: once it has spoken a parting
		// phrase, the call is over.
		if containsHangupKeyword(text) {
			s.log.Info("hangup keyword detected", "utterance", text)
			go s.Hangup(context.Background())
		}

	case agent.EventAgentSpeechInterrupted:
		// The caller heard part of this, so it belongs in the transcript.
		if text := eventText(ev); text != "" {
			s.recorder.Record(transcript.SpeakerAgent, text)
		}
		s.opts.Metrics.RecordAgentTurn(ctx, s.opts.RoomName, "interrupted")

	case agent.EventMetricsCollected:
		if ev.Metrics != nil {
			s.usage.Add(ev.Metrics.Usage)
			s.opts.Metrics.RecordLLMTurn(ctx, ev.Metrics.LLMDuration.Seconds(),
				ev.Metrics.Usage.PromptTokens, ev.Metrics.Usage.CompletionTokens)
		}
	}
}

// logSummary emits the finalized transcript as structured JSON.
func (s *Session) logSummary(summary transcript.Summary) {
	totals, turns := s.usage.Totals()
	data, err := json.Marshal(summary)
	if err != nil {
		s.log.Error("transcript summary marshal failed", "error", err)
		return
	}
	s.log.Info("call transcript",
		"summary", string(data),
		"llm_turns", turns,
		"prompt_tokens", totals.PromptTokens,
		"completion_tokens", totals.CompletionTokens,
	)
}

// eventText renders the transcript line for a speech event. Events carrying
// the committed chat message go through the recorder's multimodal rendering,
// so image parts land as "[image]" placeholders; bare events fall back to the
// plain text.
func eventText(ev agent.Event) string {
	if ev.Message.Role != "" {
		return transcript.RenderContent(ev.Message)
	}
	return ev.Text
}

// containsHangupKeyword reports whether text contains any hangup phrase,
// ignoring case.
func containsHangupKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range hangupKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
