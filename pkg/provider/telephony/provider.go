// Package telephony defines the Provider interface for call-control backends.
//
// Unlike the media ports (STT, LLM, TTS), telephony is purely command-shaped:
// every operation is a side-effecting REST call against the carrier's call
// control API. The media itself flows over the WebSocket transport, not
// through this port.
//
// Carriers disagree on identifiers: Twilio addresses calls by Call SID for
// every operation, while Telnyx splits the call leg (call_control_id) from
// the media stream. This port keeps the distinction: in-call commands take
// the callID, call-setup commands take the controlID handed out by the
// carrier's webhook.
package telephony

import (
	"context"
	"errors"
)

// ErrNotSupported is returned for operations a carrier cannot perform over
// its REST API, such as answering a Twilio call outside the webhook flow.
var ErrNotSupported = errors.New("telephony: not supported")

// Provider is the abstraction over a carrier's call control API.
//
// Implementations must be safe for concurrent use; the same provider serves
// every active call.
type Provider interface {
	// EndCall hangs up the call identified by callID. Ending a call that has
	// already completed is not an error.
	EndCall(ctx context.Context, callID string) error

	// Transfer redirects the call to target, an E.164 number or SIP URI.
	// The media stream for this call ends once the carrier executes the
	// transfer.
	Transfer(ctx context.Context, callID, target string) error

	// SendDTMF plays a DTMF digit sequence into the call. Valid digits are
	// 0-9, *, # and w (0.5 s pause).
	SendDTMF(ctx context.Context, callID, digits string) error

	// Answer accepts an inbound call leg identified by controlID. Carriers
	// that answer through the webhook response return ErrNotSupported.
	Answer(ctx context.Context, controlID string) error

	// StartStreaming forks the call's media to the WebSocket endpoint at
	// wsURL. clientState is an opaque string echoed back in stream events;
	// pass "" when the carrier does not support it.
	StartStreaming(ctx context.Context, controlID, wsURL, clientState string) error
}
