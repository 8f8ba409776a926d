package transport

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/voxloop-ai/voxloop/pkg/audio"
)

// readLimit bounds one inbound WebSocket message. Carrier media frames are a
// few hundred bytes of base64; browser binary chunks stay well under this.
const readLimit = 1 << 20

// Handler upgrades media-stream requests and runs each connection to
// completion. Mounted at GET /ws/media-stream?client=&agent_id=.
type Handler struct {
	sessions Sessions
	origins  []string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOriginPatterns allows cross-origin browser connections (development
// UIs, hosted consoles). Carrier connections send no Origin header and are
// unaffected. Default is same-origin only.
func WithOriginPatterns(patterns ...string) HandlerOption {
	return func(h *Handler) {
		h.origins = patterns
	}
}

// NewHandler creates the media-stream endpoint handler.
func NewHandler(sessions Sessions, opts ...HandlerOption) *Handler {
	h := &Handler{sessions: sessions}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientType := r.URL.Query().Get("client")
	if clientType == "" {
		// Carrier webhooks always embed their client label in the stream
		// URL; a bare connect is an interactive browser client.
		clientType = audio.ClientBrowser
	}
	agentID := r.URL.Query().Get("agent_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		slog.Warn("transport: websocket accept failed",
			"remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(readLimit)

	stream, err := NewStream(StreamConfig{
		Conn:     conn,
		Codec:    CodecFor(clientType),
		Sessions: h.sessions,
		AgentID:  agentID,
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "stream setup failed")
		return
	}

	slog.Info("transport: media stream connected",
		"client", clientType, "remote", r.RemoteAddr)

	if err := stream.Run(r.Context()); err != nil {
		slog.Warn("transport: media stream closed",
			"client", clientType, "err", err)
		return
	}
	slog.Debug("transport: media stream closed", "client", clientType)
}
