// Command voxhire runs the voice interview agent worker. It loads the YAML
// configuration, builds the provider stack, and serves agent jobs that join
// LiveKit rooms and conduct screening calls.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/voxhire/internal/agent"
	"github.com/MrWong99/voxhire/internal/config"
	"github.com/MrWong99/voxhire/internal/livekit"
	"github.com/MrWong99/voxhire/internal/observe"
	"github.com/MrWong99/voxhire/internal/session"
	"github.com/MrWong99/voxhire/internal/worker"
	"github.com/MrWong99/voxhire/pkg/provider/llm"
	"github.com/MrWong99/voxhire/pkg/provider/llm/anyllm"
	"github.com/MrWong99/voxhire/pkg/provider/stt"
	"github.com/MrWong99/voxhire/pkg/provider/stt/deepgram"
	"github.com/MrWong99/voxhire/pkg/provider/tts"
	"github.com/MrWong99/voxhire/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/voxhire/pkg/provider/vad"
	"github.com/MrWong99/voxhire/pkg/provider/vad/energy"
	"github.com/MrWong99/voxhire/pkg/types"
)

const (
	defaultAgentName = "test-agent"
	defaultIdentity  = "voxhire-agent"
	defaultVoiceID   = "21m00Tcm4TlvDq8ikWAM" // Rachel

	// defaultKeywordBoost is applied to configured STT boost keywords.
	defaultKeywordBoost = 1.5
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	roomName := flag.String("room", "", "join this room immediately instead of waiting for dispatched jobs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxhire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxhire: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	agentName := cfg.Agent.Name
	if agentName == "" {
		agentName = defaultAgentName
	}
	slog.Info("voxhire starting",
		"config", *configPath,
		"agent", agentName,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics and tracing. The Prometheus exporter feeds the default
	// registry, scraped via /metrics when a listener is configured.
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxhire"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	if cfg.Server.MetricsAddr != "" {
		go serveMetrics(cfg.Server.MetricsAddr)
	}
	metrics := observe.DefaultMetrics()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	providers := buildProviders(cfg, reg)
	roomService := livekit.NewRoomService(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)

	w, err := worker.New(worker.Options{
		AgentName: agentName,
		Prewarm: func(proc *worker.JobProcess) error {
			// VAD load failure degrades to disabled detection, never fatal.
			if cfg.Providers.VAD.Name == "" {
				return nil
			}
			engine, err := reg.CreateVAD(cfg.Providers.VAD)
			if err != nil {
				slog.Warn("vad prewarm failed; continuing without speech detection", "err", err)
				return nil
			}
			proc.VAD = engine
			return nil
		},
		Entrypoint: func(job *worker.JobContext) error {
			return runCall(job, cfg, providers, roomService, metrics)
		},
		Logger: logger,
	})
	if err != nil {
		slog.Error("failed to create worker", "err", err)
		return 1
	}

	if *roomName != "" {
		if err := w.Submit(worker.Job{RoomName: *roomName}); err != nil {
			slog.Error("failed to submit job", "err", err)
			return 1
		}
	}

	slog.Info("worker ready — press Ctrl+C to shut down")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// providerSet holds the per-process provider instances. A nil slot means the
// provider failed to construct and the capability is disabled.
type providerSet struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// runCall executes one dispatched call end to end: connect the room, build
// the session, wait for the caller, and run the conversation.
func runCall(job *worker.JobContext, cfg *config.Config, ps *providerSet, roomService *livekit.RoomService, metrics *observe.Metrics) error {
	identity := cfg.Agent.Identity
	if identity == "" {
		identity = defaultIdentity
	}

	room, err := livekit.Connect(job, livekit.Options{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		RoomName:  job.Job.RoomName,
		Identity:  identity,
		Name:      "Neha",
		Logger:    job.Log,
	})
	if err != nil {
		return err
	}
	defer room.Close()

	voiceID := cfg.Agent.Voice.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	var keywords []types.KeywordBoost
	for _, kw := range cfg.Agent.Keywords {
		keywords = append(keywords, types.KeywordBoost{Keyword: kw, Boost: defaultKeywordBoost})
	}

	s, err := session.New(session.Options{
		Agent: agent.Options{
			STT: ps.STT,
			LLM: ps.LLM,
			TTS: ps.TTS,
			VAD: job.Proc.VAD,
			Voice: types.VoiceProfile{
				ID:       voiceID,
				Provider: cfg.Providers.TTS.Name,
			},
			SystemPrompt:        cfg.Agent.SystemPrompt,
			Language:            cfg.Agent.Language,
			Keywords:            keywords,
			Temperature:         cfg.Pipeline.Temperature,
			MaxTokens:           cfg.Pipeline.MaxTokens,
			MinEndpointingDelay: cfg.Pipeline.MinEndpointingDelay.Std(),
			MaxEndpointingDelay: cfg.Pipeline.MaxEndpointingDelay.Std(),
			AllowInterruptions:  cfg.Pipeline.AllowInterruptions,
			InterruptMinWords:   cfg.Pipeline.InterruptMinWords,
		},
		Transport:   room,
		RoomName:    job.Job.RoomName,
		Greeting:    cfg.Agent.Greeting,
		RoomManager: roomService,
		Shutdown:    job.Shutdown,
		Metrics:     metrics,
		Logger:      job.Log,
	})
	if err != nil {
		return err
	}

	s.SetWaiting()
	callerIdentity, err := room.WaitForParticipant(job)
	if err != nil {
		return err
	}
	job.Log.Info("participant joined", "identity", callerIdentity)

	go func() {
		select {
		case left := <-room.ParticipantLeft():
			job.Log.Info("participant left, ending call", "identity", left)
			s.Hangup(context.Background())
		case <-s.Done():
		}
	}()

	return s.Run(job)
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// All any-llm backends share the same pattern: optional APIKey plus
	// optional BaseURL.
	for _, providerName := range []string{
		"groq", "openai", "anthropic", "gemini", "deepseek", "mistral",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if cfg.Agent.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Agent.Language))
		}
		if v, ok := entry.Options["filler_words"].(bool); ok {
			opts = append(opts, deepgram.WithFillerWords(v))
		}
		if v, ok := entry.Options["profanity_filter"].(bool); ok {
			opts = append(opts, deepgram.WithProfanityFilter(v))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		v := cfg.Agent.Voice
		var opts []elevenlabs.Option
		if v.Stability != 0 || v.SimilarityBoost != 0 || v.Style != 0 || v.SpeakerBoost {
			opts = append(opts, elevenlabs.WithVoiceSettings(v.Stability, v.SimilarityBoost, v.Style, v.SpeakerBoost))
		}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if cfg.Agent.Language != "" {
			opts = append(opts, elevenlabs.WithLanguage(cfg.Agent.Language))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if latency, ok := optInt(entry.Options, "streaming_latency"); ok {
			opts = append(opts, elevenlabs.WithStreamingLatency(latency))
		}
		if ssml, ok := entry.Options["ssml_parsing"].(bool); ok {
			opts = append(opts, elevenlabs.WithSSMLParsing(ssml))
		}
		if schedule := optInts(entry.Options, "chunk_length_schedule"); len(schedule) > 0 {
			opts = append(opts, elevenlabs.WithChunkLengthSchedule(schedule))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterVAD("energy", func(config.ProviderEntry) (vad.Engine, error) {
		return energy.New(), nil
	})
}

// buildProviders instantiates the providers named in cfg. Construction
// failures disable the capability and are logged; startup continues degraded
// rather than aborting.
func buildProviders(cfg *config.Config, reg *config.Registry) *providerSet {
	ps := &providerSet{}

	if name := cfg.Providers.LLM.Name; name != "" {
		if p, err := reg.CreateLLM(cfg.Providers.LLM); err != nil {
			slog.Error("llm provider unavailable; responses disabled", "name", name, "err", err)
		} else {
			ps.LLM = p
			slog.Info("provider created", "kind", "llm", "name", name)
		}
	}
	if name := cfg.Providers.STT.Name; name != "" {
		if p, err := reg.CreateSTT(cfg.Providers.STT); err != nil {
			slog.Error("stt provider unavailable; transcription disabled", "name", name, "err", err)
		} else {
			ps.STT = p
			slog.Info("provider created", "kind", "stt", "name", name)
		}
	}
	if name := cfg.Providers.TTS.Name; name != "" {
		if p, err := reg.CreateTTS(cfg.Providers.TTS); err != nil {
			slog.Error("tts provider unavailable; speech disabled", "name", name, "err", err)
		} else {
			ps.TTS = p
			slog.Info("provider created", "kind", "tts", "name", name)
		}
	}
	return ps
}

// serveMetrics exposes the Prometheus scrape endpoint.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listener started", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics listener failed", "err", err)
	}
}

// newLogger builds the process-wide text logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// optString reads a string value from a provider options map.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// optInt reads an integer value from a provider options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// optInts reads a list of integers from a provider options map.
func optInts(opts map[string]any, key string) []int {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case int:
			out = append(out, v)
		case float64:
			out = append(out, int(v))
		}
	}
	return out
}
