// Package telnyx provides a Telnyx-backed telephony provider.
//
// All operations map to Call Control actions: POST
// /v2/calls/{call_control_id}/actions/{action} with a JSON body. Unlike
// Twilio, Telnyx exposes answer and streaming start as first-class REST
// actions, so every port operation is supported.
//
// Usage:
//
//	p := telnyx.New(apiKey)
//	err := p.Answer(ctx, callControlID)
//	err = p.StartStreaming(ctx, callControlID, "wss://host/ws/media-stream", state)
package telnyx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/provider"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
)

const (
	defaultBaseURL = "https://api.telnyx.com"
	providerTag    = "telnyx"
)

// Compile-time assertion that Provider implements telephony.Provider.
var _ telephony.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the Telnyx API base URL. Intended for tests.
func WithBaseURL(baseURL string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the HTTP client. The default has a 10 s timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// Provider implements telephony.Provider against the Telnyx Call Control
// API. It is safe for concurrent use.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider authenticating with the given API key.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EndCall issues the hangup action. Telnyx returns 422 for calls that have
// already ended; that is treated as success.
func (p *Provider) EndCall(ctx context.Context, callID string) error {
	err := p.action(ctx, "end_call", callID, "hangup", nil)
	if err != nil && isAlreadyEnded(err) {
		return nil
	}
	return err
}

// Transfer issues the transfer action towards target.
func (p *Provider) Transfer(ctx context.Context, callID, target string) error {
	return p.action(ctx, "transfer", callID, "transfer", map[string]string{"to": target})
}

// SendDTMF issues the send_dtmf action.
func (p *Provider) SendDTMF(ctx context.Context, callID, digits string) error {
	return p.action(ctx, "send_dtmf", callID, "send_dtmf", map[string]string{"digits": digits})
}

// Answer accepts the inbound call leg.
func (p *Provider) Answer(ctx context.Context, controlID string) error {
	return p.action(ctx, "answer", controlID, "answer", nil)
}

// StartStreaming forks both call tracks to the WebSocket endpoint at wsURL.
func (p *Provider) StartStreaming(ctx context.Context, controlID, wsURL, clientState string) error {
	body := map[string]string{
		"stream_url":   wsURL,
		"stream_track": "inbound_track",
	}
	if clientState != "" {
		body["client_state"] = clientState
	}
	return p.action(ctx, "start_streaming", controlID, "streaming_start", body)
}

// action POSTs a Call Control action with an optional JSON body.
func (p *Provider) action(ctx context.Context, op, callControlID, action string, body map[string]string) error {
	endpoint := fmt.Sprintf("%s/v2/calls/%s/actions/%s",
		p.baseURL, url.PathEscape(callControlID), action)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return provider.NewPortError(providerTag, op, false, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, reader)
	if err != nil {
		return provider.NewPortError(providerTag, op, false, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.NewPortError(providerTag, op, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return provider.NewPortError(providerTag, op, retryable,
		fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
}

// isAlreadyEnded reports whether the error is the 422 Telnyx returns when
// the call has already hung up.
func isAlreadyEnded(err error) bool {
	return strings.Contains(err.Error(), "HTTP 422")
}
