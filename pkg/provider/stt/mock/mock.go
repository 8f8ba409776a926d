// Package mock provides test doubles for the stt package interfaces.
//
// Provider captures StartStream calls so tests can assert on the
// StreamConfig the caller built. Session lets tests script transcripts
// through PartialsCh and FinalsCh and inspect the audio that was sent.
//
// Example:
//
//	sess := &mock.Session{
//	    PartialsCh: make(chan types.Transcript, 1),
//	    FinalsCh:   make(chan types.Transcript, 1),
//	}
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
package mock

import (
	"context"
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/audio"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/types"
)

// StartStreamCall captures one Provider.StartStream invocation.
type StartStreamCall struct {
	// Cfg is the StreamConfig the caller passed in.
	Cfg stt.StreamConfig
}

// Provider is a configurable stt.Provider double.
type Provider struct {
	mu sync.Mutex

	// Session is handed back by StartStream. When nil, StartStream builds a
	// fresh Session with buffered channels instead.
	Session stt.SessionHandle

	// StartStreamErr makes StartStream fail with this error when set.
	StartStreamErr error

	// TranscribeResult is what Transcribe hands back.
	TranscribeResult types.Transcript

	// TranscribeErr makes Transcribe fail with this error when set.
	TranscribeErr error

	// StartStreamCalls accumulates every StartStream invocation in order.
	StartStreamCalls []StartStreamCall

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

// StartStream records the call, then returns Session or StartStreamErr.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	switch {
	case p.StartStreamErr != nil:
		return nil, p.StartStreamErr
	case p.Session != nil:
		return p.Session, nil
	}
	return &Session{
		PartialsCh: make(chan types.Transcript, 16),
		FinalsCh:   make(chan types.Transcript, 16),
	}, nil
}

// Transcribe hands back TranscribeResult and TranscribeErr as configured.
func (p *Provider) Transcribe(_ context.Context, _ []byte, _ audio.Format, _ string) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TranscribeResult, p.TranscribeErr
}

// Close bumps CloseCallCount and always succeeds.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
	p.CloseCallCount = 0
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// SendAudioCall captures one Session.SendAudio invocation.
type SendAudioCall struct {
	// Chunk is a copy of the audio handed to SendAudio.
	Chunk []byte
}

// SetKeywordsCall captures one Session.SetKeywords invocation.
type SetKeywordsCall struct {
	// Keywords is a copy of the boost list handed to SetKeywords.
	Keywords []types.KeywordBoost
}

// Session is a scriptable stt.SessionHandle double. Tests drive the
// consumer by sending on PartialsCh and FinalsCh, and close the channels
// when the scripted conversation is over.
type Session struct {
	mu sync.Mutex

	// PartialsCh backs Partials(). The test owns the channel: it sends,
	// and it closes.
	PartialsCh chan types.Transcript

	// FinalsCh backs Finals(). The test owns the channel.
	FinalsCh chan types.Transcript

	// SendAudioErr makes every SendAudio call fail with this error when set.
	SendAudioErr error

	// SetKeywordsErr makes every SetKeywords call fail with this error when set.
	SetKeywordsErr error

	// CloseErr is what Close hands back.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls accumulates every SendAudio invocation in order.
	SendAudioCalls []SendAudioCall

	// SetKeywordsCalls accumulates every SetKeywords invocation in order.
	SetKeywordsCalls []SetKeywordsCall

	// CloseCallCount counts Close invocations.
	CloseCallCount int
}

// SendAudio records a copy of the chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, SendAudioCall{Chunk: cp})
	return s.SendAudioErr
}

// Partials hands back PartialsCh. A nil channel is valid: receives block
// forever, which models a session that never produces partials.
func (s *Session) Partials() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PartialsCh
}

// Finals hands back FinalsCh.
func (s *Session) Finals() <-chan types.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FinalsCh
}

// SetKeywords records a copy of the list and returns SetKeywordsErr.
func (s *Session) SetKeywords(keywords []types.KeywordBoost) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kw := make([]types.KeywordBoost, len(keywords))
	copy(kw, keywords)
	s.SetKeywordsCalls = append(s.SetKeywordsCalls, SetKeywordsCall{Keywords: kw})
	return s.SetKeywordsErr
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Close bumps CloseCallCount and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ResetCalls clears all recorded calls. Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SendAudioCalls = nil
	s.SetKeywordsCalls = nil
	s.CloseCallCount = 0
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
