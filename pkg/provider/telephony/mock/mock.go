// Package mock provides a test double for the telephony.Provider interface.
//
// All operations succeed by default and are recorded. Set the per-operation
// error fields to simulate carrier failures.
//
// Example:
//
//	p := &mock.Provider{}
//	orchestrator.EndCall(ctx, call)
//	if len(p.EndCallCalls) != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
)

// EndCallCall records a single invocation of EndCall.
type EndCallCall struct {
	CallID string
}

// TransferCall records a single invocation of Transfer.
type TransferCall struct {
	CallID string
	Target string
}

// SendDTMFCall records a single invocation of SendDTMF.
type SendDTMFCall struct {
	CallID string
	Digits string
}

// AnswerCall records a single invocation of Answer.
type AnswerCall struct {
	ControlID string
}

// StartStreamingCall records a single invocation of StartStreaming.
type StartStreamingCall struct {
	ControlID   string
	WSURL       string
	ClientState string
}

// Provider is a mock implementation of telephony.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable errors ---

	EndCallErr        error
	TransferErr       error
	SendDTMFErr       error
	AnswerErr         error
	StartStreamingErr error

	// --- Call records (read after test) ---

	EndCallCalls        []EndCallCall
	TransferCalls       []TransferCall
	SendDTMFCalls       []SendDTMFCall
	AnswerCalls         []AnswerCall
	StartStreamingCalls []StartStreamingCall
}

// EndCall records the call and returns EndCallErr.
func (p *Provider) EndCall(_ context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EndCallCalls = append(p.EndCallCalls, EndCallCall{CallID: callID})
	return p.EndCallErr
}

// Transfer records the call and returns TransferErr.
func (p *Provider) Transfer(_ context.Context, callID, target string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TransferCalls = append(p.TransferCalls, TransferCall{CallID: callID, Target: target})
	return p.TransferErr
}

// SendDTMF records the call and returns SendDTMFErr.
func (p *Provider) SendDTMF(_ context.Context, callID, digits string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SendDTMFCalls = append(p.SendDTMFCalls, SendDTMFCall{CallID: callID, Digits: digits})
	return p.SendDTMFErr
}

// Answer records the call and returns AnswerErr.
func (p *Provider) Answer(_ context.Context, controlID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnswerCalls = append(p.AnswerCalls, AnswerCall{ControlID: controlID})
	return p.AnswerErr
}

// StartStreaming records the call and returns StartStreamingErr.
func (p *Provider) StartStreaming(_ context.Context, controlID, wsURL, clientState string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamingCalls = append(p.StartStreamingCalls, StartStreamingCall{
		ControlID: controlID, WSURL: wsURL, ClientState: clientState,
	})
	return p.StartStreamingErr
}

// EndCallCount returns the number of EndCall invocations. Thread-safe.
func (p *Provider) EndCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.EndCallCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EndCallCalls = nil
	p.TransferCalls = nil
	p.SendDTMFCalls = nil
	p.AnswerCalls = nil
	p.StartStreamingCalls = nil
}

// Ensure Provider implements telephony.Provider at compile time.
var _ telephony.Provider = (*Provider)(nil)
