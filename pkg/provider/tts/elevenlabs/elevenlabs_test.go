package elevenlabs

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("New with empty apiKey should fail")
	}
}

func TestBuildStreamURL(t *testing.T) {
	p, err := New("key",
		WithModel("eleven_flash_v2_5"),
		WithStreamingLatency(1),
		WithSSMLParsing(true),
		WithLanguage("hi"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	raw := p.buildStreamURL("21m00Tcm4TlvDq8ikWAM")
	if !strings.Contains(raw, "/text-to-speech/21m00Tcm4TlvDq8ikWAM/stream-input") {
		t.Errorf("URL path missing voice ID: %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"model_id":                   "eleven_flash_v2_5",
		"optimize_streaming_latency": "1",
		"enable_ssml_parsing":        "true",
		"language_code":              "hi",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("query %s: got %q, want %q", key, got, want)
		}
	}
}

func TestBOIMessage_IncludesVoiceSettingsAndSchedule(t *testing.T) {
	boi := boiMessage{
		Text: " ",
		VoiceSettings: &voiceSettings{
			Stability:       0.8,
			SimilarityBoost: 0.6,
			Style:           0.3,
			UseSpeakerBoost: true,
		},
		GenerationConfig: &generationConfig{ChunkLengthSchedule: []int{50, 100, 200, 260}},
		XiAPIKey:         "key",
		OutputFormat:     "pcm_16000",
	}
	data, err := json.Marshal(boi)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	vs, ok := decoded["voice_settings"].(map[string]any)
	if !ok {
		t.Fatal("voice_settings missing from BOI payload")
	}
	if vs["stability"] != 0.8 || vs["similarity_boost"] != 0.6 {
		t.Errorf("voice settings wrong: %v", vs)
	}
	gc, ok := decoded["generation_config"].(map[string]any)
	if !ok {
		t.Fatal("generation_config missing from BOI payload")
	}
	if sched, ok := gc["chunk_length_schedule"].([]any); !ok || len(sched) != 4 {
		t.Errorf("chunk_length_schedule wrong: %v", gc)
	}
}

func TestParseVoicesResponse(t *testing.T) {
	payload := `{"voices":[
		{"voice_id":"21m00Tcm4TlvDq8ikWAM","name":"Rachel","category":"premade","labels":{"accent":"american"}},
		{"voice_id":"abc","name":"Custom"}
	]}`
	profiles, err := parseVoicesResponse([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("got %d profiles, want 2", len(profiles))
	}
	if profiles[0].ID != "21m00Tcm4TlvDq8ikWAM" || profiles[0].Name != "Rachel" {
		t.Errorf("first profile: %+v", profiles[0])
	}
	if profiles[0].Provider != "elevenlabs" {
		t.Errorf("provider tag: %q", profiles[0].Provider)
	}
	if profiles[0].Metadata["category"] != "premade" || profiles[0].Metadata["accent"] != "american" {
		t.Errorf("metadata: %v", profiles[0].Metadata)
	}
}
