// Package httpapi is the administrative and webhook HTTP surface of the
// voice server: agent CRUD, call history, the carrier webhooks that route
// inbound calls onto the media stream, and the operational endpoints
// (health, metrics). Admin routes require an X-API-Key header and are rate
// limited per key; carrier webhooks and the media stream authenticate out
// of band and bypass the key check.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/voxloop-ai/voxloop/internal/health"
	"github.com/voxloop-ai/voxloop/internal/observe"
	"github.com/voxloop-ai/voxloop/internal/store"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
)

// maxBodyBytes bounds request bodies on the admin routes. Agent definitions
// are a few kilobytes of YAML-turned-JSON.
const maxBodyBytes = 1 << 20

// Config holds the dependencies of the HTTP surface.
type Config struct {
	// Agents, Calls and Transcripts back the admin routes. Agents and Calls
	// are required; without Transcripts, history details omit the lines.
	Agents      store.AgentRepository
	Calls       store.CallRepository
	Transcripts store.TranscriptStore

	// Media serves GET /ws/media-stream. Required.
	Media http.Handler

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler serves GET /metrics when set (the Prometheus exporter).
	MetricsHandler http.Handler

	// Metrics enables the tracing/duration middleware around every route.
	Metrics *observe.Metrics

	// Telnyx issues answer and start-streaming commands from the call-control
	// webhook. Without it the webhook responds 503.
	Telnyx telephony.Provider

	// PublicURL is the externally reachable WebSocket base URL of this
	// server, e.g. "wss://voice.example.com". Webhook responses point the
	// carrier's media fork at PublicURL + "/ws/media-stream".
	PublicURL string

	// APIKeys lists the accepted X-API-Key values. Empty leaves the admin
	// routes open, which is only acceptable for localhost development.
	APIKeys []string

	// RatePerKey and RateBurst shape each key's token bucket. Zero uses the
	// package defaults.
	RatePerKey float64
	RateBurst  int
}

// Server assembles the route table. Create with [New], mount via
// [Server.Handler].
type Server struct {
	cfg  Config
	auth *keyAuth
}

// New validates the configuration and builds the server.
func New(cfg Config) (*Server, error) {
	if cfg.Agents == nil {
		return nil, errors.New("httpapi: agent repository is required")
	}
	if cfg.Calls == nil {
		return nil, errors.New("httpapi: call repository is required")
	}
	if cfg.Media == nil {
		return nil, errors.New("httpapi: media-stream handler is required")
	}
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	s := &Server{
		cfg:  cfg,
		auth: newKeyAuth(cfg.APIKeys, cfg.RatePerKey, cfg.RateBurst),
	}
	if !s.auth.enabled() {
		slog.Warn("httpapi: no API keys configured, admin routes are unauthenticated")
	}
	return s, nil
}

// Handler returns the assembled route table:
//
//	GET    /agents                   list agents
//	POST   /agents                   create an agent
//	GET    /agents/{uuid}            fetch one agent
//	PATCH  /agents/{uuid}            merge fields into an agent
//	DELETE /agents/{uuid}            delete an agent
//	POST   /agents/{uuid}/activate   make this the answering agent
//	PATCH  /config/                  merge into the active agent (legacy)
//	GET    /history/rows             paged call listing
//	GET    /history/{id}/detail      one call with its transcript
//	POST   /telephony/twilio/incoming-call   TwiML webhook
//	POST   /telephony/telnyx/call-control    call-control webhook
//	GET    /ws/media-stream          WebSocket media transport
//	GET    /healthz, /readyz, /metrics       when configured
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /agents", s.auth.wrap(s.handleListAgents))
	mux.Handle("POST /agents", s.auth.wrap(s.handleCreateAgent))
	mux.Handle("GET /agents/{uuid}", s.auth.wrap(s.handleGetAgent))
	mux.Handle("PATCH /agents/{uuid}", s.auth.wrap(s.handlePatchAgent))
	mux.Handle("DELETE /agents/{uuid}", s.auth.wrap(s.handleDeleteAgent))
	mux.Handle("POST /agents/{uuid}/activate", s.auth.wrap(s.handleActivateAgent))

	// Clients from before multi-agent support configure "the" agent here.
	mux.Handle("PATCH /config", s.auth.wrap(s.handlePatchActiveConfig))
	mux.Handle("PATCH /config/{$}", s.auth.wrap(s.handlePatchActiveConfig))

	mux.Handle("GET /history/rows", s.auth.wrap(s.handleHistoryRows))
	mux.Handle("GET /history/{id}/detail", s.auth.wrap(s.handleHistoryDetail))

	// Carriers sign their webhooks and cannot send custom headers on the
	// WebSocket upgrade, so these routes sit outside the key check.
	mux.HandleFunc("POST /telephony/twilio/incoming-call", s.handleTwilioIncomingCall)
	mux.HandleFunc("POST /telephony/telnyx/call-control", s.handleTelnyxCallControl)
	mux.Handle("GET /ws/media-stream", s.cfg.Media)

	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.cfg.MetricsHandler)
	}

	var h http.Handler = mux
	if s.cfg.Metrics != nil {
		h = observe.Middleware(s.cfg.Metrics)(h)
	}
	return h
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// storeError maps repository errors onto HTTP statuses.
func storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("httpapi: store operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads the request body into v, rejecting unknown fields so
// typos in agent definitions fail loudly instead of being dropped.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
