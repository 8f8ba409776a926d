package twilio_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/voxloop-ai/voxloop/pkg/provider"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony/twilio"
)

// recordedRequest captures the parts of the call update the tests assert on.
type recordedRequest struct {
	path string
	form url.Values
	user string
	pass string
}

// newMockServer creates a test server recording every Calls-resource update
// into *rec and answering with the given status code.
func newMockServer(t *testing.T, status int, rec *recordedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		rec.path = r.URL.Path
		rec.form = form
		rec.user, rec.pass, _ = r.BasicAuth()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
}

func TestEndCall(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusOK, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "token", twilio.WithBaseURL(srv.URL))
	if err := p.EndCall(context.Background(), "CA456"); err != nil {
		t.Fatalf("EndCall: %v", err)
	}

	if rec.path != "/2010-04-01/Accounts/AC123/Calls/CA456.json" {
		t.Errorf("path = %q", rec.path)
	}
	if got := rec.form.Get("Status"); got != "completed" {
		t.Errorf("Status = %q, want completed", got)
	}
	if rec.user != "AC123" || rec.pass != "token" {
		t.Errorf("basic auth = %q:%q, want AC123:token", rec.user, rec.pass)
	}
}

func TestTransfer_BuildsDialTwiML(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusOK, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "token", twilio.WithBaseURL(srv.URL))
	if err := p.Transfer(context.Background(), "CA456", "+15551234567"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	twiml := rec.form.Get("Twiml")
	if twiml != "<Response><Dial>+15551234567</Dial></Response>" {
		t.Errorf("Twiml = %q", twiml)
	}
}

func TestSendDTMF_BuildsPlayTwiML(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusOK, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "token", twilio.WithBaseURL(srv.URL))
	if err := p.SendDTMF(context.Background(), "CA456", "1w2#"); err != nil {
		t.Fatalf("SendDTMF: %v", err)
	}

	twiml := rec.form.Get("Twiml")
	if !strings.Contains(twiml, `<Play digits="1w2#"/>`) {
		t.Errorf("Twiml = %q, want Play digits element", twiml)
	}
}

func TestStartStreaming_BuildsConnectStreamTwiML(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusOK, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "token", twilio.WithBaseURL(srv.URL))
	err := p.StartStreaming(context.Background(), "CA456", "wss://host/ws/media-stream", "ignored")
	if err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	twiml := rec.form.Get("Twiml")
	if !strings.Contains(twiml, `<Stream url="wss://host/ws/media-stream"/>`) {
		t.Errorf("Twiml = %q, want Connect/Stream element", twiml)
	}
}

func TestAnswer_NotSupported(t *testing.T) {
	p := twilio.New("AC123", "token")
	err := p.Answer(context.Background(), "CA456")
	if !errors.Is(err, telephony.ErrNotSupported) {
		t.Errorf("Answer error = %v, want ErrNotSupported", err)
	}
}

func TestServerError_Retryable(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusServiceUnavailable, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "token", twilio.WithBaseURL(srv.URL))
	err := p.EndCall(context.Background(), "CA456")
	if err == nil {
		t.Fatal("expected error for HTTP 503, got nil")
	}
	if !provider.IsRetryable(err) {
		t.Errorf("HTTP 503 should be retryable, got %v", err)
	}
}

func TestAuthError_NotRetryable(t *testing.T) {
	var rec recordedRequest
	srv := newMockServer(t, http.StatusUnauthorized, &rec)
	defer srv.Close()

	p := twilio.New("AC123", "bad-token", twilio.WithBaseURL(srv.URL))
	err := p.EndCall(context.Background(), "CA456")
	if err == nil {
		t.Fatal("expected error for HTTP 401, got nil")
	}
	if provider.IsRetryable(err) {
		t.Errorf("HTTP 401 should not be retryable, got %v", err)
	}

	var pe *provider.PortError
	if !errors.As(err, &pe) {
		t.Fatalf("error %v is not a PortError", err)
	}
	if pe.Provider != "twilio" || pe.Op != "end_call" {
		t.Errorf("PortError tags = %q/%q, want twilio/end_call", pe.Provider, pe.Op)
	}
}
