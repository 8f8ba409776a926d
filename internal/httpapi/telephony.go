package httpapi

import (
	"encoding/json"
	"encoding/xml"
	"log/slog"
	"net/http"

	"github.com/voxloop-ai/voxloop/internal/transport"
)

// twiml is the subset of Twilio's response markup the incoming-call webhook
// emits: connect the call to a bidirectional media stream and pass the call
// identity through as custom parameters, which come back in the stream's
// start event.
type twiml struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string       `xml:"url,attr"`
	Parameters []twimlParam `xml:"Parameter,omitempty"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// mediaURL builds the WebSocket URL a carrier forks call media to.
func (s *Server) mediaURL(client string) string {
	return s.cfg.PublicURL + "/ws/media-stream?client=" + client
}

// handleTwilioIncomingCall answers Twilio's incoming-call webhook with TwiML
// that opens a media stream back to this server. Selecting a non-default
// agent is done by registering the webhook URL with ?agent_id=.
func (s *Server) handleTwilioIncomingCall(w http.ResponseWriter, r *http.Request) {
	if s.cfg.PublicURL == "" {
		writeError(w, http.StatusServiceUnavailable, "public URL is not configured")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	from := r.PostFormValue("From")
	to := r.PostFormValue("To")
	callSid := r.PostFormValue("CallSid")
	agentID := r.URL.Query().Get("agent_id")

	var params []twimlParam
	if agentID != "" {
		params = append(params, twimlParam{Name: "agent_id", Value: agentID})
	}
	if from != "" {
		params = append(params, twimlParam{Name: "from", Value: from})
	}
	if to != "" {
		params = append(params, twimlParam{Name: "to", Value: to})
	}

	doc := twiml{Connect: &twimlConnect{Stream: twimlStream{
		URL:        s.mediaURL("twilio"),
		Parameters: params,
	}}}
	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "twiml encoding failed")
		return
	}

	slog.Info("httpapi: inbound twilio call",
		"call_sid", callSid, "from", from, "to", to, "agent_id", agentID)

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(xml.Header))
	w.Write(body)
}

// telnyxWebhook is the envelope Telnyx posts to the call-control endpoint.
// Only the fields the handler acts on are declared; Telnyx events carry many
// more.
type telnyxWebhook struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			From          string `json:"from"`
			To            string `json:"to"`
		} `json:"payload"`
	} `json:"data"`
}

// handleTelnyxCallControl drives a Telnyx call onto the media stream:
// call.initiated is answered, call.answered starts streaming with the call
// identity tucked into client_state, and everything else is acknowledged
// (hangups tear down through the stream itself). Non-2xx responses make
// Telnyx retry the event.
func (s *Server) handleTelnyxCallControl(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Telnyx == nil {
		writeError(w, http.StatusServiceUnavailable, "telnyx call control is not configured")
		return
	}

	var ev telnyxWebhook
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}
	controlID := ev.Data.Payload.CallControlID
	if controlID == "" {
		writeError(w, http.StatusBadRequest, "missing call_control_id")
		return
	}

	switch ev.Data.EventType {
	case "call.initiated":
		if err := s.cfg.Telnyx.Answer(r.Context(), controlID); err != nil {
			slog.Error("httpapi: telnyx answer failed",
				"call_control_id", controlID, "err", err)
			writeError(w, http.StatusBadGateway, "answer failed")
			return
		}
		slog.Info("httpapi: inbound telnyx call answered",
			"call_control_id", controlID, "from", ev.Data.Payload.From)

	case "call.answered":
		if s.cfg.PublicURL == "" {
			writeError(w, http.StatusServiceUnavailable, "public URL is not configured")
			return
		}
		// Telnyx start events carry no caller identity, so it rides along in
		// client_state and comes back when the stream opens.
		state := transport.EncodeClientState(
			r.URL.Query().Get("agent_id"),
			ev.Data.Payload.From,
			ev.Data.Payload.To,
		)
		if err := s.cfg.Telnyx.StartStreaming(r.Context(), controlID, s.mediaURL("telnyx"), state); err != nil {
			slog.Error("httpapi: telnyx start streaming failed",
				"call_control_id", controlID, "err", err)
			writeError(w, http.StatusBadGateway, "start streaming failed")
			return
		}

	default:
		slog.Debug("httpapi: telnyx event ignored", "event_type", ev.Data.EventType)
	}
	w.WriteHeader(http.StatusOK)
}
