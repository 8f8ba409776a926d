package httpapi

import (
	"context"
	"net/http"

	"github.com/voxloop-ai/voxloop/internal/agent"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.cfg.Agents.List(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if err := decodeJSON(w, r, &a); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// The repository assigns identity.
	a.UUID = ""
	a.Normalize()
	if err := a.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.cfg.Agents.Create(r.Context(), &a)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.cfg.Agents.GetByUUID(r.Context(), r.PathValue("uuid"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handlePatchAgent merges the request body into the stored agent: only
// fields present in the body change. Maps and slices are replaced wholesale,
// not merged element-wise.
func (s *Server) handlePatchAgent(w http.ResponseWriter, r *http.Request) {
	s.patchAgent(w, r, func(ctx context.Context) (*agent.Agent, error) {
		return s.cfg.Agents.GetByUUID(ctx, r.PathValue("uuid"))
	})
}

// handlePatchActiveConfig is the pre-multi-agent configuration endpoint; it
// merges into whichever agent is currently active.
func (s *Server) handlePatchActiveConfig(w http.ResponseWriter, r *http.Request) {
	s.patchAgent(w, r, s.cfg.Agents.GetActive)
}

func (s *Server) patchAgent(w http.ResponseWriter, r *http.Request, get func(context.Context) (*agent.Agent, error)) {
	existing, err := get(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	// Decoding into a copy of the stored agent gives merge semantics: absent
	// fields keep their stored values.
	updated := existing.Clone()
	if err := decodeJSON(w, r, updated); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// Identity is not patchable.
	updated.UUID = existing.UUID
	updated.CreatedAt = existing.CreatedAt
	updated.Normalize()
	if err := updated.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cfg.Agents.Update(r.Context(), updated); err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleActivateAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.cfg.Agents.SetActive(r.Context(), r.PathValue("uuid"))
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Agents.Delete(r.Context(), r.PathValue("uuid")); err != nil {
		storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
