package energy

import (
	"math"
	"testing"

	"github.com/MrWong99/voxhire/pkg/provider/vad"
	"github.com/MrWong99/voxhire/pkg/types"
)

func newTestSession(t *testing.T) vad.SessionHandle {
	t.Helper()
	sess, err := New().NewSession(vad.Config{
		SampleRate:       16000,
		FrameSizeMs:      20,
		SpeechThreshold:  0.5,
		SilenceThreshold: 0.35,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return sess
}

// sineFrame returns a 20 ms 16 kHz mono PCM frame of a 440 Hz tone at the
// given amplitude (0.0–1.0).
func sineFrame(amplitude float64) []byte {
	const samples = 320
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * 32000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

func silentFrame() []byte {
	return make([]byte, 320*2)
}

func TestNewSession_Validation(t *testing.T) {
	e := New()
	cases := []vad.Config{
		{SampleRate: 0, FrameSizeMs: 20},
		{SampleRate: 16000, FrameSizeMs: 0},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 1.5},
		{SampleRate: 16000, FrameSizeMs: 20, SpeechThreshold: 0.3, SilenceThreshold: 0.5},
	}
	for _, cfg := range cases {
		if _, err := e.NewSession(cfg); err == nil {
			t.Errorf("NewSession(%+v) should fail", cfg)
		}
	}
}

func TestProcessFrame_SpeechStartAndEnd(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	ev, err := sess.ProcessFrame(silentFrame())
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != types.VADSilence {
		t.Fatalf("silent frame: got %v, want VADSilence", ev.Type)
	}

	ev, err = sess.ProcessFrame(sineFrame(0.8))
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if ev.Type != types.VADSpeechStart {
		t.Fatalf("loud frame: got %v, want VADSpeechStart", ev.Type)
	}

	ev, _ = sess.ProcessFrame(sineFrame(0.8))
	if ev.Type != types.VADSpeechContinue {
		t.Fatalf("second loud frame: got %v, want VADSpeechContinue", ev.Type)
	}

	// Silence must persist past the hangover window before speech ends.
	var last types.VADEvent
	for i := 0; i < hangoverFrames; i++ {
		last, err = sess.ProcessFrame(silentFrame())
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
	}
	if last.Type != types.VADSpeechEnd {
		t.Fatalf("after hangover: got %v, want VADSpeechEnd", last.Type)
	}
}

func TestProcessFrame_WrongFrameSize(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	if _, err := sess.ProcessFrame(make([]byte, 100)); err == nil {
		t.Fatal("wrong frame size should fail")
	}
}

func TestReset_ClearsSpeechState(t *testing.T) {
	sess := newTestSession(t)
	defer sess.Close()

	if ev, _ := sess.ProcessFrame(sineFrame(0.8)); ev.Type != types.VADSpeechStart {
		t.Fatalf("got %v, want VADSpeechStart", ev.Type)
	}
	sess.Reset()
	if ev, _ := sess.ProcessFrame(sineFrame(0.8)); ev.Type != types.VADSpeechStart {
		t.Fatalf("after Reset: got %v, want VADSpeechStart again", ev.Type)
	}
}

func TestClose_RejectsFurtherFrames(t *testing.T) {
	sess := newTestSession(t)
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := sess.ProcessFrame(silentFrame()); err == nil {
		t.Fatal("ProcessFrame after Close should fail")
	}
}
