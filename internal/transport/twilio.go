package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// twilioEnvelope is the wire shape of every Twilio Media Streams message,
// inbound and outbound.
type twilioEnvelope struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Start          *twilioStart `json:"start,omitempty"`
	Media          *twilioMedia `json:"media,omitempty"`
	Stop           *twilioStop  `json:"stop,omitempty"`
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      twilioMediaFormat `json:"mediaFormat"`
}

type twilioMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type twilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type twilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// TwilioCodec frames Twilio Media Streams traffic: JSON text messages with
// base64 μ-law audio at 8 kHz. The incoming-call webhook passes agent_id,
// from and to as <Parameter> elements, which Twilio echoes back in the start
// event's customParameters.
type TwilioCodec struct{}

func (TwilioCodec) ClientType() string { return audio.ClientTwilio }

func (TwilioCodec) Format() audio.Format { return audio.ForTelephony() }

func (TwilioCodec) Decode(typ websocket.MessageType, data []byte) (Event, error) {
	if typ != websocket.MessageText {
		return Event{}, fmt.Errorf("transport: twilio sent a non-text frame (%d bytes)", len(data))
	}
	var env twilioEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("transport: twilio envelope: %w", err)
	}

	switch env.Event {
	case "connected":
		return Event{Kind: EventConnected}, nil

	case "start":
		if env.Start == nil {
			return Event{}, errors.New("transport: twilio start event without start body")
		}
		ev := Event{
			Kind:     EventStart,
			StreamID: env.Start.StreamSid,
			CallID:   env.Start.CallSid,
		}
		if ev.StreamID == "" {
			ev.StreamID = env.StreamSid
		}
		if p := env.Start.CustomParameters; p != nil {
			ev.AgentID = p["agent_id"]
			ev.From = p["from"]
			ev.To = p["to"]
		}
		return ev, nil

	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return Event{Kind: EventIgnored}, nil
		}
		if env.Media.Track == "outbound" {
			// Bidirectional streams echo the agent's own audio back.
			return Event{Kind: EventIgnored}, nil
		}
		ulaw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return Event{}, fmt.Errorf("transport: twilio media payload: %w", err)
		}
		return Event{Kind: EventMedia, Audio: audio.PCMToBytes(audio.DecodeMulaw(ulaw))}, nil

	case "stop":
		return Event{Kind: EventStop}, nil

	default:
		// mark, dtmf and future event types carry nothing the session acts on.
		return Event{Kind: EventIgnored}, nil
	}
}

func (TwilioCodec) EncodeAudio(streamID string, chunk []byte) (websocket.MessageType, []byte, error) {
	msg, err := json.Marshal(twilioEnvelope{
		Event:     "media",
		StreamSid: streamID,
		Media:     &twilioMedia{Payload: base64.StdEncoding.EncodeToString(chunk)},
	})
	if err != nil {
		return 0, nil, fmt.Errorf("transport: twilio media frame: %w", err)
	}
	return websocket.MessageText, msg, nil
}

// EncodeClear emits Twilio's clear message, which drops all audio the carrier
// has buffered but not yet played.
func (TwilioCodec) EncodeClear(streamID string) (websocket.MessageType, []byte, bool) {
	msg, err := json.Marshal(twilioEnvelope{Event: "clear", StreamSid: streamID})
	if err != nil {
		return 0, nil, false
	}
	return websocket.MessageText, msg, true
}
