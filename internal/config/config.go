// Package config provides the configuration schema, loader, and provider
// registry for the voxhire agent worker.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity for the worker.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration so YAML values like "300ms" or "3s" parse
// directly into config fields.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for voxhire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LiveKit   LiveKitConfig   `yaml:"livekit"`
	Providers ProvidersConfig `yaml:"providers"`
	Agent     AgentConfig     `yaml:"agent"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// ServerConfig holds logging and metrics settings for the worker process.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address serving the Prometheus scrape endpoint
	// (e.g., ":9464"). Empty disables the metrics listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LiveKitConfig holds the media server connection settings.
type LiveKitConfig struct {
	// URL is the LiveKit server WebSocket URL (wss://...).
	URL string `yaml:"url"`

	// APIKey and APISecret authenticate against the LiveKit server API and
	// sign access tokens.
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each field selects a named provider registered in the
// [Registry].
type ProvidersConfig struct {
	LLM ProviderEntry `yaml:"llm"`
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	VAD ProviderEntry `yaml:"vad"`
}

// ProviderEntry is the common configuration block shared by all provider
// types. The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation
	// (e.g., "groq", "deepgram", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider
	// (e.g., "llama-3.3-70b-versatile", "nova-2-general").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or
	// nested maps.
	Options map[string]any `yaml:"options"`
}

// AgentConfig describes the assistant's identity, persona, and voice.
type AgentConfig struct {
	// Name is the agent name registered for dispatch. Tokens minted with a
	// matching agent name summon this worker into the room.
	Name string `yaml:"name"`

	// Identity is the participant identity the agent joins rooms with.
	Identity string `yaml:"identity"`

	// SystemPrompt is the persona description injected into the LLM context.
	SystemPrompt string `yaml:"system_prompt"`

	// Greeting is spoken as soon as a call starts. Empty selects the built-in
	// default greeting.
	Greeting string `yaml:"greeting"`

	// Language hints the STT and TTS providers (e.g., "hi", "en").
	Language string `yaml:"language"`

	// Keywords boost STT recognition of domain terms.
	Keywords []string `yaml:"keywords"`

	// Voice configures the TTS voice profile.
	Voice VoiceConfig `yaml:"voice"`
}

// VoiceConfig specifies the TTS voice parameters for the agent.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Stability and SimilarityBoost are in the range [0, 1].
	Stability       float64 `yaml:"stability"`
	SimilarityBoost float64 `yaml:"similarity_boost"`

	// Style is in the range [0, 1]. 0 means default delivery.
	Style float64 `yaml:"style"`

	// SpeakerBoost enables the provider's speaker similarity enhancement.
	SpeakerBoost bool `yaml:"speaker_boost"`
}

// PipelineConfig tunes turn-taking behaviour of the voice pipeline.
type PipelineConfig struct {
	// MinEndpointingDelay is the silence wait after an utterance that ends
	// with terminal punctuation. Zero selects the built-in default.
	MinEndpointingDelay Duration `yaml:"min_endpointing_delay"`

	// MaxEndpointingDelay caps the wait for an utterance that looks
	// unfinished. Zero selects the built-in default.
	MaxEndpointingDelay Duration `yaml:"max_endpointing_delay"`

	// AllowInterruptions lets the caller barge in over agent speech.
	AllowInterruptions bool `yaml:"allow_interruptions"`

	// InterruptMinWords is the minimum number of words in a partial
	// transcript before it counts as an interruption. Zero selects the
	// built-in default.
	InterruptMinWords int `yaml:"interrupt_min_words"`

	// NoiseCancellation declares that the room audio arrives already
	// noise-cancelled. It is a capability flag only; no processing is done
	// either way.
	NoiseCancellation bool `yaml:"noise_cancellation"`

	// Temperature and MaxTokens are forwarded to the LLM on every turn.
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}
