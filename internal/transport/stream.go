package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxloop-ai/voxloop/internal/session"
)

// clearWriteTimeout caps the barge-in flush write. The flush fires from the
// session's audio path; a stalled socket must not hold it up.
const clearWriteTimeout = time.Second

// StreamConfig wires one media-stream connection.
type StreamConfig struct {
	Conn     Conn
	Codec    Codec
	Sessions Sessions

	// AgentID is the connection's query-parameter routing hint. Agent IDs
	// carried inside the start event win over it.
	AgentID string
}

// Stream drives one media-stream WebSocket connection. Run reads until the
// peer disconnects or the stream stops; synthesized audio flows back through
// the session's output callback.
type Stream struct {
	conn     Conn
	codec    Codec
	sessions Sessions
	agentID  string

	// writeMu serialises socket writes: the output callback, the greeting
	// and the barge-in flush run on different goroutines.
	writeMu sync.Mutex

	mu         sync.Mutex
	streamID   string
	call       Call
	started    bool
	sessionUp  bool
	localClose bool

	closeOnce sync.Once
}

// NewStream builds a stream for an accepted connection.
func NewStream(cfg StreamConfig) (*Stream, error) {
	if cfg.Conn == nil {
		return nil, errors.New("transport: conn is required")
	}
	if cfg.Codec == nil {
		return nil, errors.New("transport: codec is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("transport: sessions is required")
	}
	return &Stream{
		conn:     cfg.Conn,
		codec:    cfg.Codec,
		sessions: cfg.Sessions,
		agentID:  cfg.AgentID,
	}, nil
}

// Run reads and dispatches messages until the connection closes, the carrier
// sends stop, or decoding the start event fails. It always leaves the session
// ended and the socket closed.
func (s *Stream) Run(ctx context.Context) error {
	defer s.hangup("connection_closed")

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			local := s.localClose
			s.mu.Unlock()
			if local {
				// The session ended and closed the socket under the read.
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		ev, err := s.codec.Decode(typ, data)
		if err != nil {
			slog.Warn("transport: message dropped",
				"client", s.codec.ClientType(), "err", err)
			continue
		}

		switch ev.Kind {
		case EventConnected:
			slog.Debug("transport: peer connected", "client", s.codec.ClientType())

		case EventStart:
			if err := s.handleStart(ctx, ev); err != nil {
				return err
			}

		case EventMedia:
			s.handleMedia(ev)

		case EventStop:
			s.endSession("caller_hangup")
			return nil
		}
	}
}

// handleStart opens the session for a start event and plays the greeting.
func (s *Stream) handleStart(ctx context.Context, ev Event) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		slog.Warn("transport: duplicate start event ignored",
			"client", s.codec.ClientType(), "stream_id", s.streamID)
		return nil
	}
	streamID := ev.StreamID
	if streamID == "" {
		streamID = uuid.NewString()
	}
	// The output callback and barge-in flush frame messages with the stream
	// ID, so it must be visible before the session exists.
	s.streamID = streamID
	s.started = true
	s.mu.Unlock()

	agentID := ev.AgentID
	if agentID == "" {
		agentID = s.agentID
	}

	call, greeting, err := s.sessions.Start(ctx, session.StartRequest{
		AgentID:       agentID,
		StreamID:      streamID,
		ClientType:    s.codec.ClientType(),
		From:          ev.From,
		To:            ev.To,
		CarrierCallID: ev.CallID,
		Output:        s.writeAudio,
		OnInterrupt:   s.flushPlayback,
		OnEnded:       s.onSessionEnded,
	})
	if err != nil {
		return fmt.Errorf("transport: start stream %s: %w", streamID, err)
	}

	s.mu.Lock()
	s.call = call
	s.sessionUp = true
	s.mu.Unlock()

	slog.Info("transport: media stream started",
		"client", s.codec.ClientType(),
		"stream_id", streamID,
		"carrier_call_id", ev.CallID,
	)

	if len(greeting) > 0 {
		if err := s.writeAudio(ctx, greeting); err != nil {
			slog.Warn("transport: greeting write failed",
				"stream_id", streamID, "err", err)
		}
	}
	return nil
}

// handleMedia pushes decoded caller audio into the session. Audio before the
// start event or after the session ended is dropped.
func (s *Stream) handleMedia(ev Event) {
	s.mu.Lock()
	c := s.call
	s.mu.Unlock()
	if c == nil || len(ev.Audio) == 0 {
		return
	}
	pcm := s.codec.Format().PCM16()
	c.PushAudio(ev.Audio, pcm.SampleRate, pcm.Channels)
}

// writeAudio is the session's output callback: it frames one synthesized
// chunk and writes it to the socket.
func (s *Stream) writeAudio(ctx context.Context, chunk []byte) error {
	s.mu.Lock()
	id := s.streamID
	s.mu.Unlock()

	typ, msg, err := s.codec.EncodeAudio(id, chunk)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, typ, msg)
}

// flushPlayback tells the client to drop buffered agent audio. Fired on
// barge-in: chunks already queued on the carrier side would otherwise keep
// playing over the caller.
func (s *Stream) flushPlayback() {
	s.mu.Lock()
	id := s.streamID
	s.mu.Unlock()

	typ, msg, ok := s.codec.EncodeClear(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), clearWriteTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, typ, msg); err != nil {
		slog.Debug("transport: playback flush failed", "stream_id", id, "err", err)
	}
}

// onSessionEnded runs after the session's teardown completes. Closing the
// socket here unblocks Run's read for ends the session initiated (watchdogs,
// end_call, phrase hits).
func (s *Stream) onSessionEnded(streamID, reason string) {
	s.mu.Lock()
	s.call = nil
	s.sessionUp = false
	s.mu.Unlock()
	s.closeConn(reason)
}

// endSession asks the manager to tear the session down. It blocks until
// teardown completes; safe when no session is running.
func (s *Stream) endSession(reason string) {
	s.mu.Lock()
	id := s.streamID
	up := s.sessionUp
	s.sessionUp = false
	s.mu.Unlock()
	if !up {
		return
	}
	if err := s.sessions.End(id, reason); err != nil {
		// The session may have ended itself between the check and the call.
		slog.Debug("transport: end session", "stream_id", id, "err", err)
	}
}

// hangup runs when the read loop exits for any reason.
func (s *Stream) hangup(reason string) {
	s.endSession(reason)
	s.closeConn(reason)
}

func (s *Stream) closeConn(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.localClose = true
		s.mu.Unlock()
		_ = s.conn.Close(websocket.StatusNormalClosure, clipReason(reason))
	})
}

// clipReason keeps close reasons within the 123-byte control-frame limit.
func clipReason(reason string) string {
	const max = 123
	if len(reason) <= max {
		return reason
	}
	return reason[:max]
}
