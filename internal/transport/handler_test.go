package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/internal/session"
	"github.com/voxloop-ai/voxloop/pkg/audio"
)

func waitForStart(t *testing.T, sessions *fakeSessions) session.StartRequest {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if reqs := sessions.startRequests(); len(reqs) > 0 {
			return reqs[0]
		}
		if time.Now().After(deadline) {
			t.Fatal("session never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_BrowserConnect(t *testing.T) {
	sessions := &fakeSessions{}
	srv := httptest.NewServer(NewHandler(sessions))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?agent_id=agent-3"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	startMsg := []byte(`{"event":"start","stream_id":"b-1"}`)
	if err := conn.Write(ctx, websocket.MessageText, startMsg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	req := waitForStart(t, sessions)
	if req.ClientType != audio.ClientBrowser {
		t.Errorf("ClientType = %q, want %q", req.ClientType, audio.ClientBrowser)
	}
	if req.AgentID != "agent-3" {
		t.Errorf("AgentID = %q, want %q", req.AgentID, "agent-3")
	}
	if req.StreamID != "b-1" {
		t.Errorf("StreamID = %q, want %q", req.StreamID, "b-1")
	}
}

func TestHandler_ClientParamPicksCodec(t *testing.T) {
	sessions := &fakeSessions{}
	srv := httptest.NewServer(NewHandler(sessions))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?client=twilio"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageText, []byte(twilioStartMsg)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	req := waitForStart(t, sessions)
	if req.ClientType != audio.ClientTwilio {
		t.Errorf("ClientType = %q, want %q", req.ClientType, audio.ClientTwilio)
	}
	if req.StreamID != "MZ123" {
		t.Errorf("StreamID = %q, want %q", req.StreamID, "MZ123")
	}
}

func TestHandler_PlainGetRejected(t *testing.T) {
	sessions := &fakeSessions{}
	srv := httptest.NewServer(NewHandler(sessions))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		t.Errorf("status = %d, want an upgrade failure", resp.StatusCode)
	}
	if n := len(sessions.startRequests()); n != 0 {
		t.Errorf("Start called %d times, want 0", n)
	}
}
