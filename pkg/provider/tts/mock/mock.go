// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxhire/pkg/provider/tts"
	"github.com/MrWong99/voxhire/pkg/types"
)

// SynthesizeCall records a single invocation of SynthesizeStream. Text is the
// concatenation of all fragments consumed from the text channel.
type SynthesizeCall struct {
	Voice types.VoiceProfile
	Text  string
}

// Provider is a mock implementation of tts.Provider. Each SynthesizeStream
// call drains its text channel, records the call, and emits AudioChunks.
type Provider struct {
	mu sync.Mutex

	// AudioChunks are emitted on the audio channel of every stream.
	AudioChunks [][]byte

	// SynthesizeErr, if non-nil, is returned as the error from SynthesizeStream.
	SynthesizeErr error

	// Voices is returned by ListVoices.
	Voices []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	synthesizeCalls []SynthesizeCall
	listVoicesCalls int
}

var _ tts.Provider = (*Provider)(nil)

// SynthesizeStream implements tts.Provider. It consumes the full text channel
// before emitting audio so that SynthesizeCalls holds the complete utterance.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if p.SynthesizeErr != nil {
		return nil, p.SynthesizeErr
	}

	audio := make(chan []byte, len(p.AudioChunks)+1)
	go func() {
		defer close(audio)

		var full string
		for {
			select {
			case fragment, ok := <-text:
				if !ok {
					p.mu.Lock()
					p.synthesizeCalls = append(p.synthesizeCalls, SynthesizeCall{Voice: voice, Text: full})
					chunks := p.AudioChunks
					p.mu.Unlock()
					for _, c := range chunks {
						select {
						case audio <- c:
						case <-ctx.Done():
							return
						}
					}
					return
				}
				full += fragment
			case <-ctx.Done():
				return
			}
		}
	}()
	return audio, nil
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	return p.Voices, nil
}

// SynthesizeCalls returns a snapshot of all recorded synthesis calls.
func (p *Provider) SynthesizeCalls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.synthesizeCalls))
	copy(out, p.synthesizeCalls)
	return out
}

// ListVoicesCalls returns how many times ListVoices was invoked.
func (p *Provider) ListVoicesCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listVoicesCalls
}
