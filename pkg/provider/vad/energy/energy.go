// Package energy implements a lightweight RMS-energy VAD engine.
//
// It classifies frames by comparing their normalised RMS amplitude against the
// configured thresholds, with hangover smoothing to avoid flapping between
// speech and silence on short pauses. It is not a substitute for a trained
// model on noisy audio, but it is dependency-free and fast enough to run on
// every frame of every session.
package energy

import (
	"errors"
	"math"

	"github.com/MrWong99/voxhire/pkg/provider/vad"
	"github.com/MrWong99/voxhire/pkg/types"
)

// hangoverFrames is how many consecutive sub-threshold frames must pass before
// an active speech segment is considered ended.
const hangoverFrames = 8

// Engine creates RMS-energy VAD sessions. The zero value is ready to use.
type Engine struct{}

var _ vad.Engine = (*Engine)(nil)

// New returns a new Engine.
func New() *Engine {
	return &Engine{}
}

// NewSession implements vad.Engine.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("energy: SampleRate must be positive")
	}
	if cfg.FrameSizeMs <= 0 {
		return nil, errors.New("energy: FrameSizeMs must be positive")
	}
	if cfg.SpeechThreshold < 0 || cfg.SpeechThreshold > 1 {
		return nil, errors.New("energy: SpeechThreshold must be in [0, 1]")
	}
	if cfg.SilenceThreshold < 0 || cfg.SilenceThreshold > cfg.SpeechThreshold {
		return nil, errors.New("energy: SilenceThreshold must be in [0, SpeechThreshold]")
	}

	speech := cfg.SpeechThreshold
	if speech == 0 {
		speech = 0.5
	}
	silence := cfg.SilenceThreshold
	if silence == 0 {
		silence = 0.35
	}
	return &session{
		frameBytes: cfg.SampleRate * cfg.FrameSizeMs / 1000 * 2,
		speech:     speech,
		silence:    silence,
	}, nil
}

// session holds per-stream smoothing state.
type session struct {
	frameBytes int
	speech     float64
	silence    float64

	inSpeech bool
	quiet    int
	closed   bool
}

var _ vad.SessionHandle = (*session)(nil)

// ProcessFrame implements vad.SessionHandle.
func (s *session) ProcessFrame(frame []byte) (types.VADEvent, error) {
	if s.closed {
		return types.VADEvent{}, errors.New("energy: session is closed")
	}
	if len(frame) != s.frameBytes {
		return types.VADEvent{}, errors.New("energy: frame size does not match session config")
	}

	prob := rmsProbability(frame)
	ev := types.VADEvent{Probability: prob}

	switch {
	case !s.inSpeech && prob >= s.speech:
		s.inSpeech = true
		s.quiet = 0
		ev.Type = types.VADSpeechStart
	case s.inSpeech && prob > s.silence:
		s.quiet = 0
		ev.Type = types.VADSpeechContinue
	case s.inSpeech:
		s.quiet++
		if s.quiet >= hangoverFrames {
			s.inSpeech = false
			s.quiet = 0
			ev.Type = types.VADSpeechEnd
		} else {
			ev.Type = types.VADSpeechContinue
		}
	default:
		ev.Type = types.VADSilence
	}
	return ev, nil
}

// Reset implements vad.SessionHandle.
func (s *session) Reset() {
	s.inSpeech = false
	s.quiet = 0
}

// Close implements vad.SessionHandle.
func (s *session) Close() error {
	s.closed = true
	return nil
}

// rmsProbability maps a PCM frame's RMS amplitude to a pseudo-probability.
// The square root compresses the dynamic range so that normal speech levels
// (roughly -30 to -10 dBFS) land near the default thresholds.
func rmsProbability(frame []byte) float64 {
	n := len(frame) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		v := float64(int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)) / 32768.0
		sum += v * v
	}
	return math.Sqrt(math.Sqrt(sum / float64(n)))
}
