package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/clearmic/clearmic/pkg/audio"
)

// ErrNotRegistered is returned by Create* methods when no factory has been
// registered under the requested name.
var ErrNotRegistered = errors.New("config: adapter not registered")

// SourceFactory builds a capture source from the capture settings.
type SourceFactory func(CaptureConfig) (audio.CaptureSource, error)

// EncoderFactory builds an output encoder from the output settings.
type EncoderFactory func(OutputConfig) (audio.Encoder, error)

// Registry maps adapter names to their constructor functions. main wires the
// real adapters (malgo, wav, opus) in; tests register mocks. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]SourceFactory
	encoders map[string]EncoderFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		sources:  make(map[string]SourceFactory),
		encoders: make(map[string]EncoderFactory),
	}
}

// RegisterSource registers a capture source factory under name, replacing
// any previous registration.
func (r *Registry) RegisterSource(name string, f SourceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = f
}

// RegisterEncoder registers an encoder factory under name, replacing any
// previous registration.
func (r *Registry) RegisterEncoder(name string, f EncoderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[name] = f
}

// CreateSource builds the capture source selected by cfg.Source.
func (r *Registry) CreateSource(cfg CaptureConfig) (audio.CaptureSource, error) {
	r.mu.RLock()
	f, ok := r.sources[cfg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture source %q", ErrNotRegistered, cfg.Source)
	}
	return f(cfg)
}

// CreateEncoder builds the encoder selected by cfg.Encoder. The name "none"
// is always valid and yields a nil encoder.
func (r *Registry) CreateEncoder(cfg OutputConfig) (audio.Encoder, error) {
	if cfg.Encoder == "none" {
		return nil, nil
	}
	r.mu.RLock()
	f, ok := r.encoders[cfg.Encoder]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: encoder %q", ErrNotRegistered, cfg.Encoder)
	}
	return f(cfg)
}

// SourceNames returns the registered capture source names.
func (r *Registry) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	return names
}
