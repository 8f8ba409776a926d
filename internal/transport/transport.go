// Package transport carries call audio over WebSocket media streams. Each
// client speaks its own framing — Twilio and Telnyx wrap base64 μ-law in JSON
// envelopes, browsers send raw PCM16 — so a per-client [Codec] translates
// between the wire and the pipeline's PCM16 world, and a [Stream] drives one
// connection: decode inbound frames, feed the session, write synthesis back.
//
// [Handler] is the HTTP entry point that upgrades /ws/media-stream requests.
package transport

import (
	"context"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/internal/session"
	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// EventKind classifies one decoded inbound message.
type EventKind string

const (
	// EventConnected is the carrier's protocol handshake. Informational.
	EventConnected EventKind = "connected"

	// EventStart opens the media stream and carries the call identity.
	EventStart EventKind = "start"

	// EventMedia carries one chunk of caller audio.
	EventMedia EventKind = "media"

	// EventStop means the caller hung up or the carrier ended the stream.
	EventStop EventKind = "stop"

	// EventIgnored covers messages the session never acts on (marks, DTMF
	// echoes, keepalives).
	EventIgnored EventKind = "ignored"
)

// Event is one decoded inbound transport message.
type Event struct {
	Kind EventKind

	// StreamID is the carrier's media stream identifier, set on start
	// events. Browser clients may omit it; the stream generates one.
	StreamID string

	// CallID is the carrier call handle (Twilio CallSid, Telnyx
	// call_control_id), needed later for hangup and transfer commands.
	CallID string

	// From and To are the caller and callee numbers when the webhook
	// forwarded them into the stream parameters.
	From string
	To   string

	// AgentID routes the call to a specific agent. Empty falls back to the
	// connection's query parameter, then the active agent.
	AgentID string

	// Audio is the decoded PCM16 payload of a media event, little-endian,
	// at the codec's wire sample rate.
	Audio []byte
}

// Codec translates between one client's wire framing and the pipeline's
// PCM16 audio. Implementations are stateless and safe for concurrent use.
type Codec interface {
	// ClientType names the transport for agent routing and format
	// resolution ("twilio", "telnyx", "browser").
	ClientType() string

	// Format is the client's wire audio format. Inbound media decodes to
	// its PCM16 counterpart; outbound chunks arrive already wire-encoded.
	Format() audio.Format

	// Decode parses one WebSocket message into an Event.
	Decode(typ websocket.MessageType, data []byte) (Event, error)

	// EncodeAudio frames one synthesized chunk for the wire.
	EncodeAudio(streamID string, chunk []byte) (websocket.MessageType, []byte, error)

	// EncodeClear frames the buffered-playback flush sent on barge-in.
	// ok is false when the client has no flush message.
	EncodeClear(streamID string) (typ websocket.MessageType, data []byte, ok bool)
}

// CodecFor picks the framing for a client type label. Unknown labels get the
// Twilio framing, mirroring how audio.ForClient falls back to telephony.
func CodecFor(clientType string) Codec {
	switch clientType {
	case audio.ClientBrowser:
		return BrowserCodec{}
	case audio.ClientTelnyx:
		return TelnyxCodec{}
	default:
		return TwilioCodec{}
	}
}

// Conn is the subset of [websocket.Conn] a stream uses.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Call is one live media session the stream feeds.
type Call interface {
	PushAudio(data []byte, sampleRate, channels int)
}

// Sessions starts and ends media sessions. [ManagerSessions] adapts the
// session manager; tests substitute fakes.
type Sessions interface {
	Start(ctx context.Context, req session.StartRequest) (Call, []byte, error)
	End(streamID, reason string) error
}

// ManagerSessions adapts *session.Manager to the Sessions interface.
type ManagerSessions struct {
	Manager *session.Manager
}

func (m ManagerSessions) Start(ctx context.Context, req session.StartRequest) (Call, []byte, error) {
	sess, greeting, err := m.Manager.StartSession(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	return sess, greeting, nil
}

func (m ManagerSessions) End(streamID, reason string) error {
	return m.Manager.EndSession(streamID, reason)
}
