package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/voxloop-ai/voxloop/internal/call"
	"github.com/voxloop-ai/voxloop/internal/store"
)

// callRow is the list-view projection of a call.
type callRow struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	ClientType  string    `json:"client_type"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	Status      string    `json:"status"`
	StartTime   time.Time `json:"start_time,omitzero"`
	EndTime     time.Time `json:"end_time,omitzero"`
	DurationSec float64   `json:"duration_sec"`
	EndReason   string    `json:"end_reason,omitempty"`
}

func toRow(c *call.Call) callRow {
	return callRow{
		ID:          c.ID,
		AgentName:   c.AgentName,
		ClientType:  c.ClientType,
		PhoneNumber: c.PhoneNumber,
		Status:      string(c.Status),
		StartTime:   c.StartTime,
		EndTime:     c.EndTime,
		DurationSec: c.Duration().Seconds(),
		EndReason:   c.EndReason,
	}
}

type historyRows struct {
	Rows  []callRow `json:"rows"`
	Total int       `json:"total"`
}

func (s *Server) handleHistoryRows(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOpts{ClientType: q.Get("client_type")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}

	calls, total, err := s.cfg.Calls.List(r.Context(), opts)
	if err != nil {
		storeError(w, err)
		return
	}
	rows := make([]callRow, 0, len(calls))
	for _, c := range calls {
		rows = append(rows, toRow(c))
	}
	writeJSON(w, http.StatusOK, historyRows{Rows: rows, Total: total})
}

type transcriptLine struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type callDetail struct {
	callRow
	AgentUUID  string           `json:"agent_uuid,omitempty"`
	StreamID   string           `json:"stream_id,omitempty"`
	Metadata   map[string]any   `json:"metadata,omitempty"`
	Transcript []transcriptLine `json:"transcript"`
}

func (s *Server) handleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := s.cfg.Calls.GetByID(r.Context(), id)
	if err != nil {
		storeError(w, err)
		return
	}

	detail := callDetail{
		callRow:    toRow(c),
		AgentUUID:  c.AgentUUID,
		StreamID:   c.StreamID,
		Metadata:   c.Metadata,
		Transcript: []transcriptLine{},
	}
	if s.cfg.Transcripts != nil {
		entries, err := s.cfg.Transcripts.ListByCall(r.Context(), id)
		if err != nil {
			// The call record is still useful without its lines.
			slog.Warn("httpapi: transcript lookup failed", "call_id", id, "err", err)
		}
		for _, e := range entries {
			detail.Transcript = append(detail.Transcript, transcriptLine{
				Role:      e.Role,
				Content:   e.Content,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, detail)
}
