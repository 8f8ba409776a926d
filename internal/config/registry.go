package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxloop-ai/voxloop/pkg/provider/embeddings"
	"github.com/voxloop-ai/voxloop/pkg/provider/llm"
	"github.com/voxloop-ai/voxloop/pkg/provider/stt"
	"github.com/voxloop-ai/voxloop/pkg/provider/telephony"
	"github.com/voxloop-ai/voxloop/pkg/provider/tts"
	"github.com/voxloop-ai/voxloop/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factoryTable holds one provider kind's name-to-constructor map. kind only
// feeds error messages.
type factoryTable[T any] struct {
	mu        sync.RWMutex
	kind      string
	factories map[string]func(ProviderEntry) (T, error)
}

func newFactoryTable[T any](kind string) *factoryTable[T] {
	return &factoryTable[T]{
		kind:      kind,
		factories: map[string]func(ProviderEntry) (T, error){},
	}
}

func (t *factoryTable[T]) register(name string, factory func(ProviderEntry) (T, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.factories[name] = factory
}

func (t *factoryTable[T]) create(entry ProviderEntry) (T, error) {
	t.mu.RLock()
	factory, ok := t.factories[entry.Name]
	t.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, t.kind, entry.Name)
	}
	return factory(entry)
}

// Registry maps provider names to their constructor functions for each
// provider kind. The binary registers its built-in factories at startup;
// config loading then instantiates whatever the operator named. Safe for
// concurrent use.
type Registry struct {
	stt        *factoryTable[stt.Provider]
	llm        *factoryTable[llm.Provider]
	tts        *factoryTable[tts.Provider]
	vad        *factoryTable[vad.Engine]
	embeddings *factoryTable[embeddings.Provider]
	telephony  *factoryTable[telephony.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:        newFactoryTable[stt.Provider]("stt"),
		llm:        newFactoryTable[llm.Provider]("llm"),
		tts:        newFactoryTable[tts.Provider]("tts"),
		vad:        newFactoryTable[vad.Engine]("vad"),
		embeddings: newFactoryTable[embeddings.Provider]("embeddings"),
		telephony:  newFactoryTable[telephony.Provider]("telephony"),
	}
}

// RegisterSTT registers an STT provider factory under name. Registering the
// same name again overwrites the previous factory; this holds for every
// Register* method.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.stt.register(name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.llm.register(name, factory)
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.tts.register(name, factory)
}

// RegisterVAD registers a VAD engine factory under name.
func (r *Registry) RegisterVAD(name string, factory func(ProviderEntry) (vad.Engine, error)) {
	r.vad.register(name, factory)
}

// RegisterEmbeddings registers an embeddings provider factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.embeddings.register(name, factory)
}

// RegisterTelephony registers a telephony carrier factory under name.
func (r *Registry) RegisterTelephony(name string, factory func(ProviderEntry) (telephony.Provider, error)) {
	r.telephony.register(name, factory)
}

// CreateSTT instantiates an STT provider using the factory registered under
// entry.Name. Returns [ErrProviderNotRegistered] if no factory has been
// registered for that name; this holds for every Create* method.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return r.stt.create(entry)
}

// CreateLLM instantiates an LLM provider for entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return r.llm.create(entry)
}

// CreateTTS instantiates a TTS provider for entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return r.tts.create(entry)
}

// CreateVAD instantiates a VAD engine for entry.Name.
func (r *Registry) CreateVAD(entry ProviderEntry) (vad.Engine, error) {
	return r.vad.create(entry)
}

// CreateEmbeddings instantiates an embeddings provider for entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return r.embeddings.create(entry)
}

// CreateTelephony instantiates a telephony carrier for entry.Name.
func (r *Registry) CreateTelephony(entry ProviderEntry) (telephony.Provider, error) {
	return r.telephony.create(entry)
}
