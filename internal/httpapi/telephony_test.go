package httpapi

import (
	"context"
	"encoding/xml"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/voxloop-ai/voxloop/internal/transport"
)

type streamStart struct {
	controlID string
	wsURL     string
	state     string
}

// fakeCarrier records call-control commands.
type fakeCarrier struct {
	answerErr error
	streamErr error

	mu       sync.Mutex
	answered []string
	streams  []streamStart
}

func (f *fakeCarrier) EndCall(ctx context.Context, callID string) error { return nil }

func (f *fakeCarrier) Transfer(ctx context.Context, callID, tgt string) error { return nil }

func (f *fakeCarrier) SendDTMF(ctx context.Context, callID, digits string) error { return nil }

func (f *fakeCarrier) Answer(ctx context.Context, controlID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answerErr != nil {
		return f.answerErr
	}
	f.answered = append(f.answered, controlID)
	return nil
}

func (f *fakeCarrier) StartStreaming(ctx context.Context, controlID, wsURL, clientState string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return f.streamErr
	}
	f.streams = append(f.streams, streamStart{controlID, wsURL, clientState})
	return nil
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestTwilioWebhook_RespondsTwiML(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.PublicURL = "wss://voice.example.com" })

	form := url.Values{
		"From":    {"+15550001"},
		"To":      {"+15559999"},
		"CallSid": {"CA123"},
	}
	rec := env.do(t, postForm("/telephony/twilio/incoming-call?agent_id=agent-9", form))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\n%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Errorf("Content-Type = %q, want text/xml", ct)
	}

	var doc twiml
	if err := xml.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("response is not TwiML: %v\n%s", err, rec.Body.String())
	}
	if doc.Connect == nil {
		t.Fatal("TwiML has no Connect verb")
	}
	wantURL := "wss://voice.example.com/ws/media-stream?client=twilio"
	if doc.Connect.Stream.URL != wantURL {
		t.Errorf("Stream url = %q, want %q", doc.Connect.Stream.URL, wantURL)
	}

	params := map[string]string{}
	for _, p := range doc.Connect.Stream.Parameters {
		params[p.Name] = p.Value
	}
	if params["agent_id"] != "agent-9" || params["from"] != "+15550001" || params["to"] != "+15559999" {
		t.Errorf("parameters = %v", params)
	}
}

func TestTwilioWebhook_NoPublicURL(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, postForm("/telephony/twilio/incoming-call", url.Values{}))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func telnyxEventBody(eventType, controlID, from, to string) string {
	return `{"data":{"event_type":"` + eventType + `","payload":{` +
		`"call_control_id":"` + controlID + `","from":"` + from + `","to":"` + to + `"}}}`
}

func TestTelnyxWebhook_AnswersInitiated(t *testing.T) {
	carrier := &fakeCarrier{}
	env := newTestEnv(t, func(c *Config) {
		c.Telnyx = carrier
		c.PublicURL = "wss://voice.example.com"
	})

	body := telnyxEventBody("call.initiated", "ctl-1", "+15550001", "+15559999")
	req := httptest.NewRequest(http.MethodPost, "/telephony/telnyx/call-control", strings.NewReader(body))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\n%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(carrier.answered) != 1 || carrier.answered[0] != "ctl-1" {
		t.Errorf("answered = %v, want [ctl-1]", carrier.answered)
	}
}

func TestTelnyxWebhook_StartsStreamingOnAnswered(t *testing.T) {
	carrier := &fakeCarrier{}
	env := newTestEnv(t, func(c *Config) {
		c.Telnyx = carrier
		c.PublicURL = "wss://voice.example.com"
	})

	body := telnyxEventBody("call.answered", "ctl-1", "+15550001", "+15559999")
	req := httptest.NewRequest(http.MethodPost,
		"/telephony/telnyx/call-control?agent_id=agent-7", strings.NewReader(body))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\n%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if len(carrier.streams) != 1 {
		t.Fatalf("StartStreaming called %d times, want 1", len(carrier.streams))
	}
	got := carrier.streams[0]
	if got.controlID != "ctl-1" {
		t.Errorf("controlID = %q, want %q", got.controlID, "ctl-1")
	}
	if want := "wss://voice.example.com/ws/media-stream?client=telnyx"; got.wsURL != want {
		t.Errorf("wsURL = %q, want %q", got.wsURL, want)
	}
	if want := transport.EncodeClientState("agent-7", "+15550001", "+15559999"); got.state != want {
		t.Errorf("client_state = %q, want the encoded call identity", got.state)
	}
}

func TestTelnyxWebhook_IgnoresOtherEvents(t *testing.T) {
	carrier := &fakeCarrier{}
	env := newTestEnv(t, func(c *Config) {
		c.Telnyx = carrier
		c.PublicURL = "wss://voice.example.com"
	})

	body := telnyxEventBody("call.hangup", "ctl-1", "", "")
	req := httptest.NewRequest(http.MethodPost, "/telephony/telnyx/call-control", strings.NewReader(body))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(carrier.answered) != 0 || len(carrier.streams) != 0 {
		t.Error("hangup events must not issue call-control commands")
	}
}

func TestTelnyxWebhook_AnswerFailure(t *testing.T) {
	carrier := &fakeCarrier{answerErr: errors.New("carrier 500")}
	env := newTestEnv(t, func(c *Config) {
		c.Telnyx = carrier
		c.PublicURL = "wss://voice.example.com"
	})

	body := telnyxEventBody("call.initiated", "ctl-1", "", "")
	req := httptest.NewRequest(http.MethodPost, "/telephony/telnyx/call-control", strings.NewReader(body))
	if rec := env.do(t, req); rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestTelnyxWebhook_Unconfigured(t *testing.T) {
	env := newTestEnv(t)
	body := telnyxEventBody("call.initiated", "ctl-1", "", "")
	req := httptest.NewRequest(http.MethodPost, "/telephony/telnyx/call-control", strings.NewReader(body))
	if rec := env.do(t, req); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
