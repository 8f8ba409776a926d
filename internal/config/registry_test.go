package config_test

import (
	"errors"
	"testing"

	"github.com/voxloop-ai/voxloop/internal/config"
	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
	embmock "github.com/voxloop-ai/voxloop/pkg/provider/embeddings/mock"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	llmmock "github.com/voxloop-ai/voxloop/pkg/provider/llm/mock"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	sttmock "github.com/voxloop-ai/voxloop/pkg/provider/stt/mock"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	telmock "github.com/voxloop-ai/voxloop/pkg/provider/telephony/mock"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	ttsmock "github.com/voxloop-ai/voxloop/pkg/provider/tts/mock"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
	vadmock "github.com/voxloop-ai/voxloop/pkg/provider/vad/mock"
)

func TestRegistry_UnknownProviders(t *testing.T) {
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	if _, err := reg.CreateSTT(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateSTT: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateLLM(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateLLM: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateTTS(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateVAD(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateVAD: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateEmbeddings(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateEmbeddings: expected ErrProviderNotRegistered, got: %v", err)
	}
	if _, err := reg.CreateTelephony(entry); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTelephony: expected ErrProviderNotRegistered, got: %v", err)
	}
}

func TestRegistry_RegisteredSTT(t *testing.T) {
	reg := config.NewRegistry()
	want := &sttmock.Provider{}
	reg.RegisterSTT("stub", func(e config.ProviderEntry) (stt.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateSTT(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the registered instance")
	}
}

func TestRegistry_RegisteredLLM(t *testing.T) {
	reg := config.NewRegistry()
	want := &llmmock.Provider{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the registered instance")
	}
}

func TestRegistry_RegisteredTTS(t *testing.T) {
	reg := config.NewRegistry()
	want := &ttsmock.Provider{}
	reg.RegisterTTS("stub", func(e config.ProviderEntry) (tts.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTTS(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the registered instance")
	}
}

func TestRegistry_RegisteredVAD(t *testing.T) {
	reg := config.NewRegistry()
	want := &vadmock.Engine{}
	reg.RegisterVAD("stub", func(e config.ProviderEntry) (vad.Engine, error) {
		return want, nil
	})
	got, err := reg.CreateVAD(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned engine is not the registered instance")
	}
}

func TestRegistry_RegisteredEmbeddings(t *testing.T) {
	reg := config.NewRegistry()
	want := &embmock.Provider{}
	reg.RegisterEmbeddings("stub", func(e config.ProviderEntry) (embeddings.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateEmbeddings(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned provider is not the registered instance")
	}
}

func TestRegistry_RegisteredTelephony(t *testing.T) {
	reg := config.NewRegistry()
	want := &telmock.Provider{}
	reg.RegisterTelephony("stub", func(e config.ProviderEntry) (telephony.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateTelephony(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("returned carrier is not the registered instance")
	}
}

func TestRegistry_FactoryReceivesEntry(t *testing.T) {
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	entry := config.ProviderEntry{Name: "deepgram", APIKey: "dg-test", Model: "nova-2"}
	if _, err := reg.CreateSTT(entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotEntry.Model != "nova-2" {
		t.Errorf("factory entry model: got %q, want %q", gotEntry.Model, "nova-2")
	}
	if gotEntry.APIKey != "dg-test" {
		t.Errorf("factory entry api_key: got %q, want %q", gotEntry.APIKey, "dg-test")
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(e config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_OverwriteRegistration(t *testing.T) {
	reg := config.NewRegistry()
	first := &llmmock.Provider{}
	second := &llmmock.Provider{}
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return first, nil
	})
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		return second, nil
	})

	got, err := reg.CreateLLM(config.ProviderEntry{Name: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != second {
		t.Error("later registration should overwrite the earlier one")
	}
}
