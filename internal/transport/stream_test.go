package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/internal/session"
	"github.com/voxloop-ai/voxloop/pkg/audio"
)

type connMsg struct {
	typ  websocket.MessageType
	data []byte
}

// scriptedConn replays a fixed inbound message sequence. Once the script is
// exhausted, reads fail like a dropped peer. Writes and the close are
// recorded.
type scriptedConn struct {
	incoming chan connMsg

	mu          sync.Mutex
	written     []connMsg
	closed      bool
	closeReason string
}

func newScriptedConn(msgs ...connMsg) *scriptedConn {
	c := &scriptedConn{incoming: make(chan connMsg, len(msgs)+1)}
	for _, m := range msgs {
		c.incoming <- m
	}
	return c
}

func (c *scriptedConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case m := <-c.incoming:
		return m.typ, m.data, nil
	default:
	}
	select {
	case m := <-c.incoming:
		return m.typ, m.data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-time.After(50 * time.Millisecond):
		return 0, nil, errors.New("connection reset by peer")
	}
}

func (c *scriptedConn) Write(_ context.Context, typ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed connection")
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	c.written = append(c.written, connMsg{typ, cp})
	return nil
}

func (c *scriptedConn) Close(_ websocket.StatusCode, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeReason = reason
	return nil
}

func (c *scriptedConn) messages() []connMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]connMsg, len(c.written))
	copy(out, c.written)
	return out
}

func (c *scriptedConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type audioPush struct {
	data     []byte
	rate     int
	channels int
}

type fakeCall struct {
	mu     sync.Mutex
	pushes []audioPush
}

func (f *fakeCall) PushAudio(data []byte, sampleRate, channels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.pushes = append(f.pushes, audioPush{cp, sampleRate, channels})
}

func (f *fakeCall) pushed() []audioPush {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]audioPush, len(f.pushes))
	copy(out, f.pushes)
	return out
}

type endedCall struct {
	streamID string
	reason   string
}

type fakeSessions struct {
	greeting []byte
	startErr error

	mu      sync.Mutex
	call    *fakeCall
	started []session.StartRequest
	ended   []endedCall
}

func (f *fakeSessions) Start(_ context.Context, req session.StartRequest) (Call, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, nil, f.startErr
	}
	f.started = append(f.started, req)
	if f.call == nil {
		f.call = &fakeCall{}
	}
	return f.call, f.greeting, nil
}

func (f *fakeSessions) End(streamID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endedCall{streamID, reason})
	return nil
}

func (f *fakeSessions) startRequests() []session.StartRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]session.StartRequest, len(f.started))
	copy(out, f.started)
	return out
}

func (f *fakeSessions) endCalls() []endedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]endedCall, len(f.ended))
	copy(out, f.ended)
	return out
}

func text(s string) connMsg { return connMsg{websocket.MessageText, []byte(s)} }

const twilioStartMsg = `{
	"event": "start",
	"streamSid": "MZ123",
	"start": {
		"streamSid": "MZ123",
		"callSid": "CA789",
		"customParameters": {"agent_id": "agent-1", "from": "+111", "to": "+222"},
		"mediaFormat": {"encoding": "audio/x-mulaw", "sampleRate": 8000, "channels": 1}
	}
}`

func TestStream_TwilioCallLifecycle(t *testing.T) {
	ulaw := []byte{0x00, 0x55, 0xFF}
	mediaMsg := `{"event":"media","streamSid":"MZ123","media":{"track":"inbound","payload":"` +
		base64.StdEncoding.EncodeToString(ulaw) + `"}}`

	conn := newScriptedConn(
		text(`{"event":"connected","protocol":"Call"}`),
		text(twilioStartMsg),
		text(mediaMsg),
		text(`{"event":"stop","streamSid":"MZ123"}`),
	)
	sessions := &fakeSessions{}
	s, err := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})
	if err != nil {
		t.Fatalf("NewStream() error = %v", err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	starts := sessions.startRequests()
	if len(starts) != 1 {
		t.Fatalf("Start called %d times, want 1", len(starts))
	}
	req := starts[0]
	if req.StreamID != "MZ123" {
		t.Errorf("StreamID = %q, want %q", req.StreamID, "MZ123")
	}
	if req.ClientType != audio.ClientTwilio {
		t.Errorf("ClientType = %q, want %q", req.ClientType, audio.ClientTwilio)
	}
	if req.CarrierCallID != "CA789" {
		t.Errorf("CarrierCallID = %q, want %q", req.CarrierCallID, "CA789")
	}
	if req.AgentID != "agent-1" || req.From != "+111" || req.To != "+222" {
		t.Errorf("identity = %q/%q/%q", req.AgentID, req.From, req.To)
	}

	pushes := sessions.call.pushed()
	if len(pushes) != 1 {
		t.Fatalf("PushAudio called %d times, want 1", len(pushes))
	}
	if pushes[0].rate != 8000 || pushes[0].channels != 1 {
		t.Errorf("push format = %d Hz %dch, want 8000 Hz 1ch", pushes[0].rate, pushes[0].channels)
	}
	if want := audio.PCMToBytes(audio.DecodeMulaw(ulaw)); string(pushes[0].data) != string(want) {
		t.Error("pushed audio is not the decoded PCM16")
	}

	ends := sessions.endCalls()
	if len(ends) != 1 || ends[0].reason != "caller_hangup" {
		t.Fatalf("End calls = %+v, want one caller_hangup", ends)
	}
	if !conn.isClosed() {
		t.Error("connection should be closed after Run")
	}
}

func TestStream_GreetingWritten(t *testing.T) {
	greeting := []byte{0x01, 0x02, 0x03}
	conn := newScriptedConn(
		text(twilioStartMsg),
		text(`{"event":"stop"}`),
	)
	sessions := &fakeSessions{greeting: greeting}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1 (the greeting)", len(msgs))
	}
	var env twilioEnvelope
	if err := json.Unmarshal(msgs[0].data, &env); err != nil {
		t.Fatalf("greeting frame is not JSON: %v", err)
	}
	if env.Event != "media" || env.StreamSid != "MZ123" {
		t.Errorf("envelope = %+v, want media for MZ123", env)
	}
	got, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil || string(got) != string(greeting) {
		t.Error("greeting payload does not round-trip")
	}
}

func TestStream_MediaBeforeStartDropped(t *testing.T) {
	mediaMsg := `{"event":"media","media":{"payload":"` +
		base64.StdEncoding.EncodeToString([]byte{0x42}) + `"}}`
	conn := newScriptedConn(text(mediaMsg), text(`{"event":"stop"}`))
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n := len(sessions.startRequests()); n != 0 {
		t.Errorf("Start called %d times, want 0", n)
	}
	if n := len(sessions.endCalls()); n != 0 {
		t.Errorf("End called %d times before any session, want 0", n)
	}
}

func TestStream_ReadErrorEndsSession(t *testing.T) {
	conn := newScriptedConn(text(twilioStartMsg))
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should surface the read error")
	}

	ends := sessions.endCalls()
	if len(ends) != 1 || ends[0].reason != "connection_closed" {
		t.Fatalf("End calls = %+v, want one connection_closed", ends)
	}
	if !conn.isClosed() {
		t.Error("connection should be closed after Run")
	}
}

func TestStream_StartFailureStopsRun(t *testing.T) {
	conn := newScriptedConn(text(twilioStartMsg))
	sessions := &fakeSessions{startErr: errors.New("no active agent")}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	err := s.Run(context.Background())
	if err == nil || !errors.Is(err, sessions.startErr) {
		t.Fatalf("Run() error = %v, want wrapped start error", err)
	}
	if n := len(sessions.endCalls()); n != 0 {
		t.Errorf("End called %d times for a session that never started, want 0", n)
	}
}

func TestStream_FlushOnInterrupt(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	if err := s.handleStart(context.Background(), Event{Kind: EventStart, StreamID: "MZ9"}); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}

	req := sessions.startRequests()[0]
	if req.OnInterrupt == nil {
		t.Fatal("start request is missing the interrupt hook")
	}
	req.OnInterrupt()

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1 (the clear)", len(msgs))
	}
	var env twilioEnvelope
	if err := json.Unmarshal(msgs[0].data, &env); err != nil {
		t.Fatalf("clear frame is not JSON: %v", err)
	}
	if env.Event != "clear" || env.StreamSid != "MZ9" {
		t.Errorf("envelope = %+v, want clear for MZ9", env)
	}
}

func TestStream_OnEndedClosesSocket(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	if err := s.handleStart(context.Background(), Event{Kind: EventStart, StreamID: "MZ9"}); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}

	req := sessions.startRequests()[0]
	req.OnEnded("MZ9", "idle_timeout")

	if !conn.isClosed() {
		t.Fatal("socket should close when the session ends")
	}
	if conn.closeReason != "idle_timeout" {
		t.Errorf("close reason = %q, want %q", conn.closeReason, "idle_timeout")
	}
}

func TestStream_DuplicateStartIgnored(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	ctx := context.Background()
	if err := s.handleStart(ctx, Event{Kind: EventStart, StreamID: "MZ9"}); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}
	if err := s.handleStart(ctx, Event{Kind: EventStart, StreamID: "MZ10"}); err != nil {
		t.Fatalf("second handleStart() error = %v", err)
	}

	if n := len(sessions.startRequests()); n != 1 {
		t.Errorf("Start called %d times, want 1", n)
	}
}

func TestStream_BrowserGeneratesStreamID(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{
		Conn:     conn,
		Codec:    BrowserCodec{},
		Sessions: sessions,
		AgentID:  "agent-q",
	})

	if err := s.handleStart(context.Background(), Event{Kind: EventStart}); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}

	req := sessions.startRequests()[0]
	if req.StreamID == "" {
		t.Error("stream ID should be generated when the client sends none")
	}
	if req.AgentID != "agent-q" {
		t.Errorf("AgentID = %q, want query fallback %q", req.AgentID, "agent-q")
	}
	if req.ClientType != audio.ClientBrowser {
		t.Errorf("ClientType = %q, want %q", req.ClientType, audio.ClientBrowser)
	}
}

func TestStream_EventAgentIDWinsOverQuery(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{
		Conn:     conn,
		Codec:    BrowserCodec{},
		Sessions: sessions,
		AgentID:  "query-agent",
	})

	ev := Event{Kind: EventStart, AgentID: "event-agent"}
	if err := s.handleStart(context.Background(), ev); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}
	if got := sessions.startRequests()[0].AgentID; got != "event-agent" {
		t.Errorf("AgentID = %q, want %q", got, "event-agent")
	}
}

func TestStream_WriteAudioFramesChunk(t *testing.T) {
	conn := newScriptedConn()
	sessions := &fakeSessions{}
	s, _ := NewStream(StreamConfig{Conn: conn, Codec: TwilioCodec{}, Sessions: sessions})

	if err := s.handleStart(context.Background(), Event{Kind: EventStart, StreamID: "MZ9"}); err != nil {
		t.Fatalf("handleStart() error = %v", err)
	}

	chunk := []byte{0xDE, 0xAD}
	if err := sessions.startRequests()[0].Output(context.Background(), chunk); err != nil {
		t.Fatalf("Output() error = %v", err)
	}

	msgs := conn.messages()
	if len(msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(msgs))
	}
	var env twilioEnvelope
	if err := json.Unmarshal(msgs[0].data, &env); err != nil {
		t.Fatalf("media frame is not JSON: %v", err)
	}
	if env.Media == nil || env.Media.Payload != base64.StdEncoding.EncodeToString(chunk) {
		t.Error("outbound payload is not the base64 chunk")
	}
}
