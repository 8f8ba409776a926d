package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings/ollama"
)

// embedStub fakes Ollama's /api/embed endpoint. It records every request body
// and returns one canned vector per input text.
type embedStub struct {
	t      *testing.T
	vector []float32

	mu       sync.Mutex
	calls    int
	lastBody map[string]any
	failWith int // when non-zero, respond with this status and an error body
}

func (s *embedStub) start() *httptest.Server {
	s.t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" || r.Method != http.MethodPost {
			s.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		s.mu.Lock()
		s.calls++
		s.lastBody = map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&s.lastBody); err != nil {
			s.t.Errorf("decode request: %v", err)
		}
		fail := s.failWith
		inputs, _ := s.lastBody["input"].([]any)
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if fail != 0 {
			w.WriteHeader(fail)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "model not found"})
			return
		}

		vecs := make([][]float32, len(inputs))
		for i := range vecs {
			vecs[i] = s.vector
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      s.lastBody["model"],
			"embeddings": vecs,
		})
	}))
	s.t.Cleanup(srv.Close)
	return srv
}

func (s *embedStub) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *embedStub) body(key string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBody == nil {
		return nil
	}
	return s.lastBody[key]
}

func (s *embedStub) setFailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = status
}

// unreachableURL points at a port nothing listens on, so a test fails fast if
// code issues a request it should not.
const unreachableURL = "http://127.0.0.1:19999"

// TestNew_RequiresModel verifies that Ollama has no implied default model.
func TestNew_RequiresModel(t *testing.T) {
	if _, err := ollama.New("http://localhost:11434", ""); err == nil {
		t.Fatal("New(empty model) error = nil, want error")
	}
}

// TestProvider_Embed verifies the single-text round trip, including the model
// name and input forwarded in the request body.
func TestProvider_Embed(t *testing.T) {
	stub := &embedStub{t: t, vector: []float32{0.25, -0.5, 1}}
	srv := stub.start()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Embed(context.Background(), "when does the store open?")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(got) != 3 || got[0] != 0.25 || got[2] != 1 {
		t.Errorf("Embed() = %v, want %v", got, stub.vector)
	}
	if model := stub.body("model"); model != "nomic-embed-text" {
		t.Errorf("request model = %v, want nomic-embed-text", model)
	}
	if ka := stub.body("keep_alive"); ka != nil {
		t.Errorf("request carries keep_alive %v without WithKeepAlive", ka)
	}
}

// TestProvider_Embed_SendsKeepAlive verifies that WithKeepAlive lands in the
// request so Ollama keeps the model loaded between calls.
func TestProvider_Embed_SendsKeepAlive(t *testing.T) {
	stub := &embedStub{t: t, vector: []float32{1}}
	srv := stub.start()

	p, err := ollama.New(srv.URL, "nomic-embed-text", ollama.WithKeepAlive(10*time.Minute))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := p.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := stub.body("keep_alive"); got != "10m0s" {
		t.Errorf("request keep_alive = %v, want %q", got, "10m0s")
	}
}

// TestProvider_EmbedBatch verifies that all texts go out in one request and
// come back in input order.
func TestProvider_EmbedBatch(t *testing.T) {
	stub := &embedStub{t: t, vector: []float32{0.5}}
	srv := stub.start()

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(EmbedBatch()) = %d, want 3", len(got))
	}
	if stub.callCount() != 1 {
		t.Errorf("request count = %d, want 1", stub.callCount())
	}
}

// TestProvider_EmbedBatch_Empty verifies that an empty batch issues no request.
func TestProvider_EmbedBatch_Empty(t *testing.T) {
	p, err := ollama.New(unreachableURL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	got, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("EmbedBatch(nil) = %v, want nil", got)
	}
}

// TestProvider_Dimensions_KnownModels verifies the built-in width table,
// including tagged model names, without any network traffic.
func TestProvider_Dimensions_KnownModels(t *testing.T) {
	cases := []struct {
		model string
		want  int
	}{
		{"nomic-embed-text", 768},
		{"nomic-embed-text:latest", 768},
		{"mxbai-embed-large", 1024},
		{"all-minilm", 384},
	}
	for _, tc := range cases {
		t.Run(tc.model, func(t *testing.T) {
			p, err := ollama.New(unreachableURL, tc.model)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := p.Dimensions(); got != tc.want {
				t.Errorf("Dimensions() = %d, want %d", got, tc.want)
			}
		})
	}
}

// TestProvider_Dimensions_ProbesUnknownModel verifies that an unknown model is
// probed against the live server exactly once.
func TestProvider_Dimensions_ProbesUnknownModel(t *testing.T) {
	stub := &embedStub{t: t, vector: make([]float32, 512)}
	srv := stub.start()

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for range 3 {
		if got := p.Dimensions(); got != 512 {
			t.Errorf("Dimensions() = %d, want 512", got)
		}
	}
	if stub.callCount() != 1 {
		t.Errorf("probe count = %d, want 1", stub.callCount())
	}
}

// TestProvider_Dimensions_RetriesFailedProbe verifies that a probe failure is
// not cached: once the server recovers, the width resolves.
func TestProvider_Dimensions_RetriesFailedProbe(t *testing.T) {
	stub := &embedStub{t: t, vector: make([]float32, 256)}
	stub.failWith = http.StatusInternalServerError
	srv := stub.start()

	p, err := ollama.New(srv.URL, "custom-embed")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := p.Dimensions(); got != 0 {
		t.Fatalf("Dimensions() while server failing = %d, want 0", got)
	}

	stub.setFailWith(0)
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() after recovery = %d, want 256", got)
	}
}

// TestProvider_Dimensions_Override verifies that WithDimensions bypasses both
// the table and the probe.
func TestProvider_Dimensions_Override(t *testing.T) {
	p, err := ollama.New(unreachableURL, "custom-embed", ollama.WithDimensions(256))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := p.Dimensions(); got != 256 {
		t.Errorf("Dimensions() = %d, want 256", got)
	}
}

// TestProvider_Embed_SurfacesServerError verifies that Ollama's error body
// shows up in the returned error instead of a bare status code.
func TestProvider_Embed_SurfacesServerError(t *testing.T) {
	stub := &embedStub{t: t, failWith: http.StatusNotFound}
	srv := stub.start()

	p, err := ollama.New(srv.URL, "missing-model")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = p.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("Embed() error = nil, want error")
	}
	if want := "model not found"; !strings.Contains(err.Error(), want) {
		t.Errorf("Embed() error = %q, want it to mention %q", err, want)
	}
}

// TestProvider_Embed_ContextCancelled verifies that a hung server does not
// hang the caller past its deadline.
func TestProvider_Embed_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	p, err := ollama.New(srv.URL, "nomic-embed-text")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := p.Embed(ctx, "x"); err == nil {
		t.Fatal("Embed() error = nil, want deadline error")
	}
}
