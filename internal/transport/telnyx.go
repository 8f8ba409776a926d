package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// telnyxEnvelope is the wire shape of Telnyx media streaming messages. Field
// names are snake_case, unlike Twilio's camelCase.
type telnyxEnvelope struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequence_number,omitempty"`
	StreamID       string       `json:"stream_id,omitempty"`
	Start          *telnyxStart `json:"start,omitempty"`
	Media          *telnyxMedia `json:"media,omitempty"`
	Stop           *telnyxStop  `json:"stop,omitempty"`
}

type telnyxStart struct {
	UserID        string            `json:"user_id,omitempty"`
	CallControlID string            `json:"call_control_id"`
	ClientState   string            `json:"client_state,omitempty"`
	MediaFormat   telnyxMediaFormat `json:"media_format"`
}

type telnyxMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type telnyxMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type telnyxStop struct {
	CallControlID string `json:"call_control_id,omitempty"`
}

// telnyxClientState is the JSON our call-control webhook base64-encodes into
// client_state when it answers a call, echoed back in the start event.
type telnyxClientState struct {
	AgentID string `json:"agent_id,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
}

// TelnyxCodec frames Telnyx media streaming traffic: JSON text messages with
// base64 PCMU (μ-law) audio at 8 kHz. Call identity rides in client_state,
// which the call-control webhook sets when answering.
type TelnyxCodec struct{}

func (TelnyxCodec) ClientType() string { return audio.ClientTelnyx }

func (TelnyxCodec) Format() audio.Format { return audio.ForTelephony() }

func (TelnyxCodec) Decode(typ websocket.MessageType, data []byte) (Event, error) {
	if typ != websocket.MessageText {
		return Event{}, fmt.Errorf("transport: telnyx sent a non-text frame (%d bytes)", len(data))
	}
	var env telnyxEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("transport: telnyx envelope: %w", err)
	}

	switch env.Event {
	case "connected":
		return Event{Kind: EventConnected}, nil

	case "start":
		if env.Start == nil {
			return Event{}, errors.New("transport: telnyx start event without start body")
		}
		ev := Event{
			Kind:     EventStart,
			StreamID: env.StreamID,
			CallID:   env.Start.CallControlID,
		}
		if state, ok := decodeClientState(env.Start.ClientState); ok {
			ev.AgentID = state.AgentID
			ev.From = state.From
			ev.To = state.To
		}
		return ev, nil

	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return Event{Kind: EventIgnored}, nil
		}
		ulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("transport: telnyx media payload: %w", err)
		}
		return Event{Kind: EventMedia, Audio: audio.PCMToBytes(audio.DecodeMulaw(ulaw))}, nil

	case "stop", "call.hangup":
		return Event{Kind: EventStop}, nil

	default:
		return Event{Kind: EventIgnored}, nil
	}
}

// EncodeAudio mirrors the inbound media shape: stream_id at the top level and
// the playback track named inbound_track.
func (TelnyxCodec) EncodeAudio(streamID string, chunk []byte) (websocket.MessageType, []byte, error) {
	msg, err := json.Marshal(telnyxEnvelope{
		Event:    "media",
		StreamID: streamID,
		Media: &telnyxMedia{
			Track:   "inbound_track",
			Payload: base64.StdEncoding.EncodeToString(chunk),
		},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("transport: telnyx media frame: %w", err)
	}
	return websocket.MessageText, msg, nil
}

func (TelnyxCodec) EncodeClear(streamID string) (websocket.MessageType, []byte, bool) {
	msg, err := json.Marshal(telnyxEnvelope{Event: "clear", StreamID: streamID})
	if err != nil {
		return 0, nil, false
	}
	return websocket.MessageText, msg, true
}

// EncodeClientState packs call identity for a Telnyx answer command. The
// start event echoes it back so the stream knows which agent to load.
func EncodeClientState(agentID, from, to string) string {
	raw, err := json.Marshal(telnyxClientState{AgentID: agentID, From: from, To: to})
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func decodeClientState(encoded string) (telnyxClientState, bool) {
	if encoded == "" {
		return telnyxClientState{}, false
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return telnyxClientState{}, false
	}
	var state telnyxClientState
	if err := json.Unmarshal(raw, &state); err != nil {
		return telnyxClientState{}, false
	}
	return state, true
}
