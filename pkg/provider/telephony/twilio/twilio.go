// Package twilio provides a Twilio-backed telephony provider.
//
// Call control goes through the Calls resource of the 2010-04-01 REST API:
// hanging up sets Status=completed, while transfer and DTMF update the live
// call with replacement TwiML. Twilio has no REST answer action (calls are
// answered by the TwiML returned from the incoming-call webhook), so Answer
// returns telephony.ErrNotSupported.
//
// Note that updating a live call's TwiML tears down an active
// <Connect><Stream>; Transfer relies on this to detach the media stream
// before dialling the target.
//
// Usage:
//
//	p := twilio.New(accountSID, authToken)
//	err := p.EndCall(ctx, callSID)
package twilio

import (
	"context"
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
	defaultBaseURL = "https://api.twilio.com"
	providerTag    = "twilio"
)

// Compile-time assertion that Provider implements telephony.Provider.
var _ telephony.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the Twilio API base URL. Intended for tests.
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

// Provider implements telephony.Provider against the Twilio REST API.
// It is safe for concurrent use.
type Provider struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider authenticating as the given account.
func New(accountSID, authToken string, opts ...Option) *Provider {
	p := &Provider{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EndCall sets the call status to completed, hanging up both legs.
func (p *Provider) EndCall(ctx context.Context, callID string) error {
	return p.updateCall(ctx, "end_call", callID, url.Values{"Status": {"completed"}})
}

// Transfer replaces the live call's TwiML with a <Dial> to the target.
func (p *Provider) Transfer(ctx context.Context, callID, target string) error {
	twiml := fmt.Sprintf("<Response><Dial>%s</Dial></Response>", xmlEscape(target))
	return p.updateCall(ctx, "transfer", callID, url.Values{"Twiml": {twiml}})
}

// SendDTMF plays the digit sequence into the call via <Play digits>.
func (p *Provider) SendDTMF(ctx context.Context, callID, digits string) error {
	twiml := fmt.Sprintf(`<Response><Play digits="%s"/></Response>`, xmlEscape(digits))
	return p.updateCall(ctx, "send_dtmf", callID, url.Values{"Twiml": {twiml}})
}

// Answer is not available over REST; Twilio answers via the webhook TwiML.
func (p *Provider) Answer(_ context.Context, _ string) error {
	return fmt.Errorf("twilio: answer: %w", telephony.ErrNotSupported)
}

// StartStreaming updates the live call with <Connect><Stream> TwiML pointing
// at wsURL. Twilio has no client-state parameter; the value is ignored.
func (p *Provider) StartStreaming(ctx context.Context, controlID, wsURL, _ string) error {
	twiml := fmt.Sprintf(`<Response><Connect><Stream url="%s"/></Connect></Response>`, xmlEscape(wsURL))
	return p.updateCall(ctx, "start_streaming", controlID, url.Values{"Twiml": {twiml}})
}

// updateCall POSTs a form update to the Calls resource.
func (p *Provider) updateCall(ctx context.Context, op, callID string, form url.Values) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		p.baseURL, url.PathEscape(p.accountSID), url.PathEscape(callID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return provider.NewPortError(providerTag, op, false, err)
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.NewPortError(providerTag, op, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
	return provider.NewPortError(providerTag, op, retryable,
		fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
}

// xmlEscape escapes the five XML special characters for TwiML embedding.
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
