package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxhire/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxhire/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/voxhire/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/voxhire/pkg/provider/tts/mock"
	"github.com/MrWong99/voxhire/pkg/types"
)

// fakeTransport is an in-memory Transport for pipeline tests.
type fakeTransport struct {
	in chan types.AudioFrame

	mu        sync.Mutex
	played    [][]byte
	playCalls int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{in: make(chan types.AudioFrame, 16)}
}

func (f *fakeTransport) AudioInput() <-chan types.AudioFrame { return f.in }

func (f *fakeTransport) Play(ctx context.Context, audio <-chan []byte) error {
	f.mu.Lock()
	f.playCalls++
	f.mu.Unlock()
	for {
		select {
		case chunk, ok := <-audio:
			if !ok {
				return nil
			}
			f.mu.Lock()
			f.played = append(f.played, chunk)
			f.mu.Unlock()
		case <-ctx.Done():
			go func() {
				for range audio {
				}
			}()
			return ctx.Err()
		}
	}
}

func (f *fakeTransport) playedChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func testVoice() types.VoiceProfile {
	return types.VoiceProfile{ID: "voice-1", Name: "Test", Provider: "mock"}
}

func newTestAgent(t *testing.T, opts Options) (*PipelineAgent, chan Event) {
	t.Helper()
	events := make(chan Event, 32)
	opts.OnEvent = func(ev Event) { events <- ev }
	if opts.Voice.ID == "" {
		opts.Voice = testVoice()
	}
	opts.MinEndpointingDelay = 10 * time.Millisecond
	opts.MaxEndpointingDelay = 50 * time.Millisecond
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, events
}

func waitEvent(t *testing.T, events <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %v", want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatal("New without providers should fail")
	}
	if _, err := New(Options{
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	}); err == nil {
		t.Fatal("New without a voice should fail")
	}
}

func TestSay_AddsToChatContext(t *testing.T) {
	t.Parallel()

	ttsP := &ttsmock.Provider{AudioChunks: [][]byte{{1, 2}, {3, 4}}}
	a, events := newTestAgent(t, Options{
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{},
		TTS: ttsP,
	})
	tr := newFakeTransport()

	err := a.Say(context.Background(), tr, "Hello there.", SayOptions{AddToChatContext: true})
	if err != nil {
		t.Fatalf("Say: %v", err)
	}
	if tr.playedChunks() != 2 {
		t.Errorf("played %d chunks, want 2", tr.playedChunks())
	}

	last, ok := a.Chat().Last()
	if !ok || last.Role != types.RoleAssistant || last.Content != "Hello there." {
		t.Errorf("chat last: %+v ok=%v", last, ok)
	}
	ev := waitEvent(t, events, EventAgentSpeechCommitted)
	if ev.Text != "Hello there." {
		t.Errorf("event text: %q", ev.Text)
	}

	calls := ttsP.SynthesizeCalls()
	if len(calls) != 1 || calls[0].Text != "Hello there." {
		t.Errorf("synthesize calls: %+v", calls)
	}
}

func TestSay_FillerStaysOutOfChatContext(t *testing.T) {
	t.Parallel()

	a, events := newTestAgent(t, Options{
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{AudioChunks: [][]byte{{9}}},
	})
	before := a.Chat().Len()

	if err := a.Say(context.Background(), newFakeTransport(), "hm...", SayOptions{}); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if a.Chat().Len() != before {
		t.Errorf("chat grew from %d to %d", before, a.Chat().Len())
	}
	select {
	case ev := <-events:
		t.Errorf("unexpected event: %+v", ev)
	default:
	}
}

func TestRun_CommitsUserTurnAndResponds(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "Great! "},
		{Text: "Let's begin.", FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 20, CompletionTokens: 5}},
	}}
	ttsP := &ttsmock.Provider{AudioChunks: [][]byte{{1}, {2}}}

	a, events := newTestAgent(t, Options{
		STT:          sttP,
		LLM:          llmP,
		TTS:          ttsP,
		SystemPrompt: "You are Neha.",
	})
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- a.Run(ctx, tr) }()

	// Wait for the STT session, then script a user utterance.
	var sess *sttmock.Session
	for i := 0; i < 200; i++ {
		if sess = sttP.SessionAt(0); sess != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess == nil {
		t.Fatal("STT session never opened")
	}
	sess.EmitFinal(types.Transcript{Text: "I am ready to start."})

	ev := waitEvent(t, events, EventUserSpeechCommitted)
	if ev.Text != "I am ready to start." {
		t.Errorf("committed text: %q", ev.Text)
	}
	if ev.Message.Role != types.RoleUser || ev.Message.Content != ev.Text {
		t.Errorf("committed message: %+v", ev.Message)
	}

	ev = waitEvent(t, events, EventAgentSpeechCommitted)
	if ev.Text != "Great! Let's begin." {
		t.Errorf("agent reply: %q", ev.Text)
	}

	ev = waitEvent(t, events, EventMetricsCollected)
	if ev.Metrics == nil || ev.Metrics.Usage.CompletionTokens != 5 {
		t.Errorf("metrics: %+v", ev.Metrics)
	}

	msgs := a.Chat().Messages()
	if len(msgs) != 3 {
		t.Fatalf("chat has %d messages, want 3 (system, user, assistant)", len(msgs))
	}
	if msgs[1].Role != types.RoleUser || msgs[2].Role != types.RoleAssistant {
		t.Errorf("chat roles: %q, %q", msgs[1].Role, msgs[2].Role)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_BeforeLLMHookRunsFirst(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{}
	var hookTurns []int
	a, events := newTestAgent(t, Options{
		STT: sttP,
		LLM: &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "ok", FinishReason: "stop"}}},
		TTS: &ttsmock.Provider{},
		BeforeLLM: func(_ context.Context, chat *ChatContext) {
			hookTurns = append(hookTurns, chat.Len())
		},
	})
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, tr)

	var sess *sttmock.Session
	for i := 0; i < 200; i++ {
		if sess = sttP.SessionAt(0); sess != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess == nil {
		t.Fatal("STT session never opened")
	}
	sess.EmitFinal(types.Transcript{Text: "Hello?"})

	waitEvent(t, events, EventAgentSpeechCommitted)
	if len(hookTurns) != 1 {
		t.Fatalf("hook ran %d times, want 1", len(hookTurns))
	}
	// At hook time the user message is committed but no assistant reply yet.
	if hookTurns[0] != 1 {
		t.Errorf("chat length at hook time: %d, want 1 (user message only)", hookTurns[0])
	}
}

func TestInterrupt_CancelsSpeech(t *testing.T) {
	t.Parallel()

	a, _ := newTestAgent(t, Options{
		STT:                &sttmock.Provider{},
		LLM:                &llmmock.Provider{},
		TTS:                &ttsmock.Provider{},
		AllowInterruptions: true,
	})

	playCtx := a.beginSpeech(context.Background())
	if !a.Speaking() {
		t.Fatal("agent should be speaking after beginSpeech")
	}

	a.maybeInterrupt("one two")
	select {
	case <-playCtx.Done():
		t.Fatal("two words should not interrupt")
	default:
	}

	a.maybeInterrupt("one two three")
	select {
	case <-playCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("three words should interrupt")
	}
	if a.Speaking() {
		t.Error("agent should not be speaking after interrupt")
	}
}

func TestInterrupt_DisabledWhenNotAllowed(t *testing.T) {
	t.Parallel()

	a, _ := newTestAgent(t, Options{
		STT: &sttmock.Provider{},
		LLM: &llmmock.Provider{},
		TTS: &ttsmock.Provider{},
	})

	playCtx := a.beginSpeech(context.Background())
	a.maybeInterrupt("plenty of words spoken here")
	select {
	case <-playCtx.Done():
		t.Fatal("interruptions are disabled")
	default:
	}
}

func TestForwardSentences_SplitsEagerly(t *testing.T) {
	t.Parallel()

	chunks := make(chan llm.Chunk, 8)
	chunks <- llm.Chunk{Text: "First sentence. Sec"}
	chunks <- llm.Chunk{Text: "ond one! And a trailing fragment"}
	chunks <- llm.Chunk{FinishReason: "stop"}
	close(chunks)

	textCh := make(chan string, 8)
	var full strings.Builder
	var usage llm.Usage
	if err := forwardSentences(context.Background(), chunks, textCh, &full, &usage); err != nil {
		t.Fatalf("forwardSentences: %v", err)
	}
	close(textCh)

	var got []string
	for s := range textCh {
		got = append(got, s)
	}
	want := []string{"First sentence.", "Second one!", "And a trailing fragment"}
	if len(got) != len(want) {
		t.Fatalf("got %d sentences %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if full.String() != "First sentence. Second one! And a trailing fragment" {
		t.Errorf("full text: %q", full.String())
	}
}

func TestForwardSentences_FailedStreamTextDiscarded(t *testing.T) {
	t.Parallel()

	chunks := make(chan llm.Chunk, 4)
	chunks <- llm.Chunk{Text: "One moment. "}
	chunks <- llm.Chunk{Text: "completion stream failed: 401 Unauthorized", FinishReason: llm.FinishReasonError}
	close(chunks)

	textCh := make(chan string, 4)
	var full strings.Builder
	var usage llm.Usage
	err := forwardSentences(context.Background(), chunks, textCh, &full, &usage)
	close(textCh)

	if err == nil {
		t.Fatal("a failed stream should be reported")
	}
	var got []string
	for s := range textCh {
		got = append(got, s)
	}
	if len(got) != 1 || got[0] != "One moment." {
		t.Fatalf("sentences: %v, want only the pre-failure sentence", got)
	}
	if strings.Contains(full.String(), "401") {
		t.Errorf("reply text carries backend failure detail: %q", full.String())
	}
}

func TestRun_BackendFailureIsNotSpoken(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{}
	llmP := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "completion stream failed: 401 Unauthorized", FinishReason: llm.FinishReasonError},
	}}
	ttsP := &ttsmock.Provider{}
	a, events := newTestAgent(t, Options{STT: sttP, LLM: llmP, TTS: ttsP})
	tr := newFakeTransport()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx, tr)

	var sess *sttmock.Session
	for i := 0; i < 200; i++ {
		if sess = sttP.SessionAt(0); sess != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sess == nil {
		t.Fatal("STT session never opened")
	}
	sess.EmitFinal(types.Transcript{Text: "Hello, can you hear me?"})

	waitEvent(t, events, EventUserSpeechCommitted)
	// Metrics fire after the turn settles, committed or not.
	waitEvent(t, events, EventMetricsCollected)

	for {
		select {
		case ev := <-events:
			if ev.Type == EventAgentSpeechCommitted {
				t.Fatalf("failed turn committed agent speech: %q", ev.Text)
			}
			continue
		default:
		}
		break
	}

	for _, call := range ttsP.SynthesizeCalls() {
		if call.Text != "" {
			t.Errorf("TTS received text from a failed stream: %q", call.Text)
		}
	}
	for _, m := range a.Chat().Messages() {
		if m.Role == types.RoleAssistant {
			t.Errorf("assistant message appended after failed stream: %q", m.Content)
		}
		if strings.Contains(m.Content, "401") {
			t.Errorf("backend failure detail leaked into chat context: %q", m.Content)
		}
	}
}

func TestFirstSentenceBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int
	}{
		{"no boundary", -1},
		{"done. next", 4},
		{"wait! more", 4},
		{"trailing dot.", -1},
		{"ठीक है। आगे", 18},
	}
	for _, tc := range tests {
		if got := firstSentenceBoundary(tc.in); got != tc.want {
			t.Errorf("firstSentenceBoundary(%q): got %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestEndsUtterance(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"I am done.", true},
		{"Really?", true},
		{"Wow!", true},
		{"ठीक है।", true},
		{"and then I", false},
		{"", false},
		{"   ", false},
		{"trailing space. ", true},
	}
	for _, tc := range tests {
		if got := endsUtterance(tc.in); got != tc.want {
			t.Errorf("endsUtterance(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
}
