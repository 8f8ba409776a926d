package transport

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// browserEnvelope is the JSON control framing for browser clients. Audio
// rides as raw binary PCM16 frames; the media envelope with a base64 payload
// exists for clients that cannot send binary.
type browserEnvelope struct {
	Event    string `json:"event"`
	StreamID string `json:"stream_id,omitempty"`
	AgentID  string `json:"agent_id,omitempty"`
	Payload  string `json:"payload,omitempty"`
}

// BrowserCodec frames browser traffic: JSON envelopes for start/stop/clear
// control and raw binary PCM16 at 24 kHz for audio in both directions.
type BrowserCodec struct{}

func (BrowserCodec) ClientType() string { return audio.ClientBrowser }

func (BrowserCodec) Format() audio.Format { return audio.ForBrowser() }

func (BrowserCodec) Decode(typ websocket.MessageType, data []byte) (Event, error) {
	if typ == websocket.MessageBinary {
		return Event{Kind: EventMedia, Audio: data}, nil
	}

	var env browserEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("transport: browser envelope: %w", err)
	}

	switch env.Event {
	case "start":
		return Event{Kind: EventStart, StreamID: env.StreamID, AgentID: env.AgentID}, nil

	case "media":
		if env.Payload == "" {
			return Event{Kind: EventIgnored}, nil
		}
		pcm, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("transport: browser media payload: %w", err)
		}
		return Event{Kind: EventMedia, Audio: pcm}, nil

	case "stop":
		return Event{Kind: EventStop}, nil

	default:
		return Event{Kind: EventIgnored}, nil
	}
}

// EncodeAudio sends synthesized PCM16 as a binary frame, no wrapping.
func (BrowserCodec) EncodeAudio(_ string, chunk []byte) (websocket.MessageType, []byte, error) {
	return websocket.MessageBinary, chunk, nil
}

// EncodeClear tells the browser client to drop its playback queue.
func (BrowserCodec) EncodeClear(string) (websocket.MessageType, []byte, bool) {
	msg, err := json.Marshal(browserEnvelope{Event: "clear"})
	if err != nil {
		return 0, nil, false
	}
	return websocket.MessageText, msg, true
}
