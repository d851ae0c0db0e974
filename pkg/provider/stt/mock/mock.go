// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to feed scripted transcripts into the pipeline agent without a
// live STT connection. Sessions created by StartStream emit the configured
// Partials and Finals, then keep their channels open until Close.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxhire/pkg/provider/stt"
	"github.com/MrWong99/voxhire/pkg/types"
)

// StartStreamCall records a single invocation of StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned as the error from StartStream.
	StartErr error

	// StartStreamCalls records every invocation of StartStream in order.
	StartStreamCalls []StartStreamCall

	// Sessions records every session handed out, in order.
	Sessions []*Session
}

var _ stt.Provider = (*Provider)(nil)

// StartStream implements stt.Provider. Each call returns a fresh *Session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartErr != nil {
		return nil, p.StartErr
	}

	s := &Session{
		partials: make(chan types.Transcript, 64),
		finals:   make(chan types.Transcript, 64),
		done:     make(chan struct{}),
	}
	p.Sessions = append(p.Sessions, s)
	return s, nil
}

// SessionCount returns how many sessions have been handed out.
func (p *Provider) SessionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Sessions)
}

// SessionAt returns the i-th session handed out, or nil if it does not exist.
func (p *Provider) SessionAt(i int) *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.Sessions) {
		return nil
	}
	return p.Sessions[i]
}

// Session is a scriptable stt.SessionHandle. Tests push transcripts with
// EmitPartial and EmitFinal and inspect received audio via AudioChunks.
type Session struct {
	mu          sync.Mutex
	partials    chan types.Transcript
	finals      chan types.Transcript
	done        chan struct{}
	closed      bool
	audioChunks [][]byte
}

var _ stt.SessionHandle = (*Session)(nil)

// SendAudio implements stt.SessionHandle, recording the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audioChunks = append(s.audioChunks, cp)
	return nil
}

// AudioChunks returns a snapshot of all audio chunks received so far.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audioChunks))
	copy(out, s.audioChunks)
	return out
}

// EmitPartial delivers an interim transcript to the session consumer.
func (s *Session) EmitPartial(t types.Transcript) {
	t.IsFinal = false
	s.partials <- t
}

// EmitFinal delivers a final transcript to the session consumer.
func (s *Session) EmitFinal(t types.Transcript) {
	t.IsFinal = true
	s.finals <- t
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan types.Transcript { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan types.Transcript { return s.finals }

// Close implements stt.SessionHandle. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	close(s.partials)
	close(s.finals)
	return nil
}
