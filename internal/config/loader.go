package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"groq", "openai", "anthropic", "gemini", "ollama", "deepseek", "mistral"},
	"stt": {"deepgram"},
	"tts": {"elevenlabs"},
	"vad": {"energy"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.LiveKit.URL == "" {
		errs = append(errs, errors.New("livekit.url is required"))
	}
	if cfg.LiveKit.APIKey == "" || cfg.LiveKit.APISecret == "" {
		errs = append(errs, errors.New("livekit.api_key and livekit.api_secret are required"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)

	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts is required"))
	}
	if cfg.Providers.VAD.Name == "" {
		slog.Warn("providers.vad is empty; speech detection relies on STT endpointing alone")
	}

	v := cfg.Agent.Voice
	if v.Stability < 0 || v.Stability > 1 {
		errs = append(errs, fmt.Errorf("agent.voice.stability %.2f is out of range [0, 1]", v.Stability))
	}
	if v.SimilarityBoost < 0 || v.SimilarityBoost > 1 {
		errs = append(errs, fmt.Errorf("agent.voice.similarity_boost %.2f is out of range [0, 1]", v.SimilarityBoost))
	}
	if v.Style < 0 || v.Style > 1 {
		errs = append(errs, fmt.Errorf("agent.voice.style %.2f is out of range [0, 1]", v.Style))
	}

	p := cfg.Pipeline
	if p.MinEndpointingDelay < 0 || p.MaxEndpointingDelay < 0 {
		errs = append(errs, errors.New("pipeline endpointing delays must not be negative"))
	}
	if p.MinEndpointingDelay > 0 && p.MaxEndpointingDelay > 0 && p.MinEndpointingDelay > p.MaxEndpointingDelay {
		errs = append(errs, fmt.Errorf("pipeline.min_endpointing_delay %s exceeds pipeline.max_endpointing_delay %s",
			p.MinEndpointingDelay.Std(), p.MaxEndpointingDelay.Std()))
	}
	if p.InterruptMinWords < 0 {
		errs = append(errs, errors.New("pipeline.interrupt_min_words must not be negative"))
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", p.Temperature))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
