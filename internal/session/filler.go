package session

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/MrWong99/voxhire/internal/agent"
)

// fillerPhrases are short acknowledgement sounds played while the model is
// still generating, so the caller never hears dead air. Mixed English and
// Hindi to match the bilingual interview persona.
var fillerPhrases = []string{
	"hm...",
	"अच्छा...",
	"Okay...",
	"Got it...",
	"हां...",
	"Alright!",
	"वैसे…",
	"ठीक…",
	"जी...",
}

// Filler plays a random thinking noise at the start of each LLM turn. At most
// one filler is in flight at a time: triggers arriving while a previous filler
// is still playing are ignored rather than queued.
type Filler struct {
	agent     *agent.PipelineAgent
	transport agent.Transport
	log       *slog.Logger

	// onPlayed, when set, is called once per filler actually played.
	onPlayed func(phrase string)

	mu       sync.Mutex
	inFlight bool

	wg sync.WaitGroup
}

// NewFiller wires a Filler to the given agent and transport.
func NewFiller(a *agent.PipelineAgent, transport agent.Transport, log *slog.Logger) *Filler {
	if log == nil {
		log = slog.Default()
	}
	return &Filler{agent: a, transport: transport, log: log}
}

// Trigger starts a filler utterance in the background unless one is already
// playing. It returns immediately; playback happens on its own goroutine. The
// phrase is never added to the chat context.
func (f *Filler) Trigger(ctx context.Context) {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		return
	}
	f.inFlight = true
	f.mu.Unlock()

	phrase := fillerPhrases[rand.IntN(len(fillerPhrases))]
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			f.mu.Lock()
			f.inFlight = false
			f.mu.Unlock()
		}()

		err := f.agent.Say(ctx, f.transport, phrase, agent.SayOptions{
			Background: true,
		})
		if err != nil {
			if ctx.Err() == nil {
				f.log.Debug("filler playback failed", "phrase", phrase, "error", err)
			}
			return
		}
		if f.onPlayed != nil {
			f.onPlayed(phrase)
		}
	}()
}

// Wait blocks until all in-flight filler playback has finished. Used by
// teardown and tests.
func (f *Filler) Wait() {
	f.wg.Wait()
}
