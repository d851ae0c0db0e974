// Package transcript implements the conversation transcript recorder.
//
// A [Recorder] collects every committed utterance of a call — user speech
// finals and agent speech alike — without ever blocking the audio pipeline.
// Record appends to an in-memory buffer and signals a single drain goroutine;
// the hot path never waits on I/O or channel capacity. Finalize closes the
// recorder, waits for the drain goroutine to flush everything it has seen, and
// produces the call [Summary].
//
// The recorder is single-use: once finalized it silently drops further
// records. All methods are safe for concurrent use.
package transcript

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxhire/pkg/types"
)

// timestampFormat renders instants as ISO-8601 UTC with microsecond precision
// and a literal "Z" suffix, matching the downstream transcript consumers.
const timestampFormat = "2006-01-02T15:04:05.000000Z"

// Speaker identifies which side of the conversation produced an entry.
type Speaker string

const (
	// SpeakerUser marks an utterance transcribed from the caller.
	SpeakerUser Speaker = "user"

	// SpeakerAgent marks an utterance spoken by the assistant.
	SpeakerAgent Speaker = "agent"
)

// Entry is a single transcript line.
type Entry struct {
	Speaker   Speaker `json:"speaker"`
	Message   string  `json:"message"`
	Timestamp string  `json:"timestamp"`
}

// Summary is the finalized record of a call, suitable for JSON export.
type Summary struct {
	RoomName   string  `json:"room_name"`
	Transcript []Entry `json:"transcript"`

	// Duration is the elapsed call time in seconds, rounded to two decimal
	// places.
	Duration float64 `json:"duration"`

	// Date is the call start instant as ISO-8601 UTC with a "Z" suffix, in
	// the same layout as entry timestamps.
	Date string `json:"date"`
}

// Option is a functional option for configuring a Recorder.
type Option func(*Recorder)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithEntryObserver registers a callback invoked by the drain goroutine for
// every flushed entry, in order. The callback must not call back into the
// Recorder.
func WithEntryObserver(fn func(Entry)) Option {
	return func(r *Recorder) {
		r.onEntry = fn
	}
}

// Recorder accumulates transcript entries for one call.
type Recorder struct {
	roomName string
	now      func() time.Time
	onEntry  func(Entry)

	mu        sync.Mutex
	pending   []Entry
	entries   []Entry
	finalized bool

	wake    chan struct{}
	done    chan struct{}
	drained chan struct{}

	finalizeOnce sync.Once
	start        time.Time
	summary      Summary
}

// New creates a Recorder for the given room and starts its drain goroutine.
func New(roomName string, opts ...Option) *Recorder {
	r := &Recorder{
		roomName: roomName,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.start = r.now()
	go r.drainLoop()
	return r
}

// Record appends an utterance to the transcript. It never blocks: the entry is
// buffered under a mutex and the drain goroutine is woken asynchronously.
// Records arriving after Finalize are silently dropped.
func (r *Recorder) Record(speaker Speaker, message string) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, Entry{
		Speaker:   speaker,
		Message:   message,
		Timestamp: r.now().UTC().Format(timestampFormat),
	})
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Len reports how many entries the drain goroutine has flushed so far.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Finalize closes the recorder, waits for all buffered entries to drain, and
// returns the call Summary. Safe to call multiple times; every call returns
// the same Summary.
func (r *Recorder) Finalize() Summary {
	r.finalizeOnce.Do(func() {
		r.mu.Lock()
		r.finalized = true
		r.mu.Unlock()

		close(r.done)
		<-r.drained

		elapsed := r.now().Sub(r.start).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}

		r.mu.Lock()
		r.summary = Summary{
			RoomName:   r.roomName,
			Transcript: r.entries,
			Duration:   math.Round(elapsed*100) / 100,
			Date:       r.start.UTC().Format(timestampFormat),
		}
		if r.summary.Transcript == nil {
			r.summary.Transcript = []Entry{}
		}
		r.mu.Unlock()
	})
	return r.summary
}

// drainLoop is the single goroutine that moves pending entries into the
// committed transcript and notifies the observer.
func (r *Recorder) drainLoop() {
	defer close(r.drained)
	for {
		select {
		case <-r.wake:
			r.flush()
		case <-r.done:
			r.flush()
			return
		}
	}
}

func (r *Recorder) flush() {
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.entries = append(r.entries, batch...)
	r.mu.Unlock()

	if r.onEntry != nil {
		for _, e := range batch {
			r.onEntry(e)
		}
	}
}

// RenderContent flattens a chat message into plain transcript text. Image
// parts are replaced with an "[image]" placeholder; parts are joined with
// newlines. A message without parts renders as its Content.
func RenderContent(msg types.Message) string {
	if len(msg.Parts) == 0 {
		return msg.Content
	}
	segments := make([]string, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Kind {
		case types.PartImage:
			segments = append(segments, "[image]")
		default:
			if part.Text != "" {
				segments = append(segments, part.Text)
			}
		}
	}
	return strings.Join(segments, "\n")
}
