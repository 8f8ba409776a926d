// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to inject probability scores and inspect the chunks that were
// submitted for scoring.
//
// Example:
//
//	sess := &mock.Session{Script: []float64{0.9, 0.9, 0.9, 0.1}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// NewSessionCall records a single invocation of Engine.NewSession.
type NewSessionCall struct {
	// Cfg is the Config passed to NewSession.
	Cfg vad.Config
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by NewSession. If nil, NewSession
	// returns a new default Session.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned as the error from NewSession.
	NewSessionErr error

	// NewSessionCalls records every call to NewSession in order.
	NewSessionCalls []NewSessionCall

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, NewSessionCall{Cfg: cfg})
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Close records the call.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CloseCallCount++
	return nil
}

// Reset clears all recorded calls. Thread-safe.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = nil
	e.CloseCallCount = 0
}

// Ensure Engine implements vad.Engine at compile time.
var _ vad.Engine = (*Engine)(nil)

// ProcessChunkCall records a single invocation of Session.ProcessChunk.
type ProcessChunkCall struct {
	// Samples is a copy of the chunk passed to ProcessChunk.
	Samples []float32
}

// Session is a mock implementation of vad.SessionHandle.
type Session struct {
	mu sync.Mutex

	// Script, when non-empty, supplies the probability returned by each
	// successive ProcessChunk call. Once exhausted, Probability is returned
	// for all further calls.
	Script []float64

	// Probability is returned by ProcessChunk when Script is exhausted.
	Probability float64

	// ProcessChunkErr, if non-nil, is returned by every ProcessChunk call.
	ProcessChunkErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// ProcessChunkCalls records every call to ProcessChunk in order.
	ProcessChunkCalls []ProcessChunkCall

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	scriptPos int
}

// ProcessChunk records the call and returns the next scripted probability.
func (s *Session) ProcessChunk(samples []float32) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(samples))
	copy(cp, samples)
	s.ProcessChunkCalls = append(s.ProcessChunkCalls, ProcessChunkCall{Samples: cp})
	if s.ProcessChunkErr != nil {
		return 0, s.ProcessChunkErr
	}
	if s.scriptPos < len(s.Script) {
		p := s.Script[s.scriptPos]
		s.scriptPos++
		return p, nil
	}
	return s.Probability, nil
}

// Reset records the call by incrementing ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close records the call and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return s.CloseErr
}

// ChunkCount returns the number of ProcessChunk calls. Thread-safe.
func (s *Session) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ProcessChunkCalls)
}

// ResetCalls clears all recorded call history and rewinds the script.
// Thread-safe.
func (s *Session) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProcessChunkCalls = nil
	s.ResetCallCount = 0
	s.CloseCallCount = 0
	s.scriptPos = 0
}

// Ensure Session implements vad.SessionHandle at compile time.
var _ vad.SessionHandle = (*Session)(nil)
