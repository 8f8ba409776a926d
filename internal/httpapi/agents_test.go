package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxloop-ai/voxloop/internal/agent"
)

func TestAgents_CreateAndGet(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"support","system_prompt":"You handle support calls."}`
	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(body))
	rec := env.do(t, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, want %d\n%s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	created := decodeBody[agent.Agent](t, rec)
	if created.UUID == "" {
		t.Fatal("created agent has no UUID")
	}
	if created.Model.Name != agent.DefaultModel {
		t.Errorf("Model.Name = %q, want normalized default %q", created.Model.Name, agent.DefaultModel)
	}

	req = httptest.NewRequest(http.MethodGet, "/agents/"+created.UUID, nil)
	rec = env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeBody[agent.Agent](t, rec)
	if got.Name != "support" {
		t.Errorf("Name = %q, want %q", got.Name, "support")
	}
}

func TestAgents_CreateInvalid(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(`{"name":"broken"}`))
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAgents_CreateUnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)
	body := `{"name":"support","system_prompt":"x","voice_nmae":"oops"}`
	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(body))
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAgents_CreateDuplicateName(t *testing.T) {
	env := newTestEnv(t)
	seedAgent(t, env.agents, "support", false)

	body := `{"name":"support","system_prompt":"Another one."}`
	req := httptest.NewRequest(http.MethodPost, "/agents", strings.NewReader(body))
	if rec := env.do(t, req); rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestAgents_List(t *testing.T) {
	env := newTestEnv(t)
	seedAgent(t, env.agents, "alpha", false)
	seedAgent(t, env.agents, "beta", false)

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	agents := decodeBody[[]agent.Agent](t, rec)
	if len(agents) != 2 {
		t.Fatalf("len(agents) = %d, want 2", len(agents))
	}
}

func TestAgents_PatchMergesFields(t *testing.T) {
	env := newTestEnv(t)
	a := seedAgent(t, env.agents, "support", false)

	patched, err := env.agents.GetByUUID(context.Background(), a.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() error = %v", err)
	}
	patched.FirstMessage = "Hello!"
	if err := env.agents.Update(context.Background(), patched); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/agents/"+a.UUID,
		strings.NewReader(`{"system_prompt":"You are terse."}`))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\n%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	got := decodeBody[agent.Agent](t, rec)
	if got.SystemPrompt != "You are terse." {
		t.Errorf("SystemPrompt = %q, want the patched value", got.SystemPrompt)
	}
	if got.FirstMessage != "Hello!" {
		t.Errorf("FirstMessage = %q, fields absent from the patch must survive", got.FirstMessage)
	}
	if got.UUID != a.UUID {
		t.Errorf("UUID = %q, identity must not change", got.UUID)
	}
}

func TestAgents_PatchInvalidValue(t *testing.T) {
	env := newTestEnv(t)
	a := seedAgent(t, env.agents, "support", false)

	req := httptest.NewRequest(http.MethodPatch, "/agents/"+a.UUID,
		strings.NewReader(`{"model":{"temperature":9}}`))
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAgents_PatchUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPatch, "/agents/no-such-uuid",
		strings.NewReader(`{"first_message":"hi"}`))
	if rec := env.do(t, req); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAgents_Activate(t *testing.T) {
	env := newTestEnv(t)
	a := seedAgent(t, env.agents, "day-shift", true)
	b := seedAgent(t, env.agents, "night-shift", false)

	req := httptest.NewRequest(http.MethodPost, "/agents/"+b.UUID+"/activate", nil)
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	got := decodeBody[agent.Agent](t, rec)
	if !got.Active {
		t.Error("activated agent should report active")
	}

	prev, err := env.agents.GetByUUID(context.Background(), a.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() error = %v", err)
	}
	if prev.Active {
		t.Error("previously active agent should have been deactivated")
	}
}

func TestAgents_Delete(t *testing.T) {
	env := newTestEnv(t)
	a := seedAgent(t, env.agents, "support", false)

	req := httptest.NewRequest(http.MethodDelete, "/agents/"+a.UUID, nil)
	if rec := env.do(t, req); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	req = httptest.NewRequest(http.MethodGet, "/agents/"+a.UUID, nil)
	if rec := env.do(t, req); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAgents_LegacyConfigPatch(t *testing.T) {
	env := newTestEnv(t)
	seedAgent(t, env.agents, "support", true)

	req := httptest.NewRequest(http.MethodPatch, "/config/",
		strings.NewReader(`{"first_message":"Welcome to the clinic."}`))
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d\n%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	active, err := env.agents.GetActive(context.Background())
	if err != nil {
		t.Fatalf("GetActive() error = %v", err)
	}
	if active.FirstMessage != "Welcome to the clinic." {
		t.Errorf("FirstMessage = %q, want the patched greeting", active.FirstMessage)
	}
}

func TestAgents_LegacyConfigPatchWithoutActive(t *testing.T) {
	env := newTestEnv(t)
	seedAgent(t, env.agents, "support", false)

	req := httptest.NewRequest(http.MethodPatch, "/config",
		strings.NewReader(`{"first_message":"hi"}`))
	if rec := env.do(t, req); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
