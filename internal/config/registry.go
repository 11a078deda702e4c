package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/kaudio/pkg/provider/llm"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
)

// ErrProviderNotRegistered is returned when a config names a provider that
// no factory was registered for.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// LLMFactory builds a chat backend from its config entry.
type LLMFactory func(entry ProviderEntry) (llm.Provider, error)

// STTFactory builds a transcription model. The whole [STTConfig] is passed
// so factories can read threads and language.
type STTFactory func(entry ProviderEntry, sttCfg STTConfig) (stt.Provider, error)

// VADFactory builds the voice activity engine for the streaming settings.
type VADFactory func(streaming StreamingConfig) (vad.Engine, error)

type factories[F any] struct {
	kind string
	byID map[string]F
}

func newFactories[F any](kind string) factories[F] {
	return factories[F]{kind: kind, byID: make(map[string]F)}
}

func (f factories[F]) lookup(name string) (F, error) {
	fn, ok := f.byID[name]
	if !ok {
		return fn, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, name)
	}
	return fn, nil
}

// Registry resolves provider names from the config file to constructors.
// Registering a name twice replaces the earlier factory. Safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[LLMFactory]
	stt factories[STTFactory]
	vad factories[VADFactory]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: newFactories[LLMFactory]("llm"),
		stt: newFactories[STTFactory]("stt"),
		vad: newFactories[VADFactory]("vad"),
	}
}

func (r *Registry) RegisterLLM(name string, f LLMFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm.byID[name] = f
}

func (r *Registry) RegisterSTT(name string, f STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt.byID[name] = f
}

func (r *Registry) RegisterVAD(name string, f VADFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vad.byID[name] = f
}

// CreateLLM builds the chat backend named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	f, err := r.llm.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry)
}

// CreateSTT builds the transcription model named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry, sttCfg STTConfig) (stt.Provider, error) {
	r.mu.RLock()
	f, err := r.stt.lookup(entry.Name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(entry, sttCfg)
}

// CreateVAD builds the named voice activity engine.
func (r *Registry) CreateVAD(name string, streaming StreamingConfig) (vad.Engine, error) {
	r.mu.RLock()
	f, err := r.vad.lookup(name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return f(streaming)
}

// LLMNames returns the registered chat backends, sorted.
func (r *Registry) LLMNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.llm.byID))
}
