package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxhire/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxhire/pkg/provider/llm/mock"
)

const validYAML = `
server:
  log_level: info
  metrics_addr: ":9464"
livekit:
  url: wss://livekit.example.com
  api_key: APIkey123
  api_secret: secret456
providers:
  llm:
    name: groq
    api_key: gsk_test
    model: llama-3.3-70b-versatile
  stt:
    name: deepgram
    api_key: dg_test
    model: nova-2-general
  tts:
    name: elevenlabs
    api_key: el_test
  vad:
    name: energy
agent:
  name: test-agent
  identity: voxhire-agent
  system_prompt: "You are Neha from the hiring department."
  language: hi
  voice:
    voice_id: 21m00Tcm4TlvDq8ikWAM
    stability: 0.8
    similarity_boost: 0.6
    style: 0.3
    speaker_boost: true
pipeline:
  min_endpointing_delay: 300ms
  max_endpointing_delay: 3s
  allow_interruptions: true
  interrupt_min_words: 3
  temperature: 0.8
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level: %q", cfg.Server.LogLevel)
	}
	if cfg.LiveKit.URL != "wss://livekit.example.com" {
		t.Errorf("livekit url: %q", cfg.LiveKit.URL)
	}
	if cfg.Providers.LLM.Model != "llama-3.3-70b-versatile" {
		t.Errorf("llm model: %q", cfg.Providers.LLM.Model)
	}
	if cfg.Agent.Voice.Stability != 0.8 || !cfg.Agent.Voice.SpeakerBoost {
		t.Errorf("voice config: %+v", cfg.Agent.Voice)
	}
	if got := cfg.Pipeline.MinEndpointingDelay.Std(); got != 300*time.Millisecond {
		t.Errorf("min endpointing delay: %s", got)
	}
	if got := cfg.Pipeline.MaxEndpointingDelay.Std(); got != 3*time.Second {
		t.Errorf("max endpointing delay: %s", got)
	}
	if cfg.Pipeline.InterruptMinWords != 3 {
		t.Errorf("interrupt min words: %d", cfg.Pipeline.InterruptMinWords)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "metrics_addr:", "metrix_addr:", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected strict decoding to reject unknown field")
	}
}

func TestLoadFromReader_InvalidDuration(t *testing.T) {
	t.Parallel()

	yaml := strings.Replace(validYAML, "300ms", "soon", 1)
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected duration parse error")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Server: ServerConfig{LogLevel: "verbose"},
		Pipeline: PipelineConfig{
			MinEndpointingDelay: Duration(3 * time.Second),
			MaxEndpointingDelay: Duration(time.Second),
			InterruptMinWords:   -1,
		},
		Agent: AgentConfig{Voice: VoiceConfig{Stability: 1.5}},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{
		"server.log_level",
		"livekit.url",
		"providers.llm",
		"min_endpointing_delay",
		"interrupt_min_words",
		"stability",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q; got: %v", want, err)
		}
	}
}

func TestRegistry_CreateUnregistered(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.CreateLLM(ProviderEntry{Name: "nonexistent"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateSTT(ProviderEntry{Name: "nonexistent"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(ProviderEntry{Name: "nonexistent"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: got %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateVAD(ProviderEntry{Name: "nonexistent"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateVAD: got %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	var gotEntry ProviderEntry
	r.RegisterLLM("fake", func(entry ProviderEntry) (llm.Provider, error) {
		gotEntry = entry
		return &llmmock.Provider{}, nil
	})

	entry := ProviderEntry{Name: "fake", APIKey: "key", Model: "model-x"}
	p, err := r.CreateLLM(entry)
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p == nil {
		t.Fatal("CreateLLM returned nil provider")
	}
	if gotEntry.APIKey != "key" || gotEntry.Model != "model-x" {
		t.Errorf("factory entry: %+v", gotEntry)
	}
}
