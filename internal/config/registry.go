package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// DefaultProvider is the realtime provider used when live.provider.name is
// empty.
const DefaultProvider = "gemini"

// AudioDevices bundles the device implementations of an audio backend.
type AudioDevices struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker

	// Cue plays the hold cue. Nil means the hold state is silent.
	Cue audio.CuePlayer
}

// Registry maps provider and backend names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	realtime map[string]func(ProviderEntry) (realtime.Provider, error)
	audio    map[string]func(LiveConfig) (AudioDevices, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		realtime: make(map[string]func(ProviderEntry) (realtime.Provider, error)),
		audio:    make(map[string]func(LiveConfig) (AudioDevices, error)),
	}
}

// RegisterRealtime registers a realtime provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterRealtime(name string, factory func(ProviderEntry) (realtime.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtime[name] = factory
}

// RegisterAudio registers an audio backend factory under name.
func (r *Registry) RegisterAudio(name AudioBackend, factory func(LiveConfig) (AudioDevices, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[string(name)] = factory
}

// CreateRealtime instantiates the realtime provider registered under
// entry.Name, or [DefaultProvider] when the name is empty.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateRealtime(entry ProviderEntry) (realtime.Provider, error) {
	if entry.Name == "" {
		entry.Name = DefaultProvider
	}
	r.mu.RLock()
	factory, ok := r.realtime[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: realtime/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateAudio instantiates the audio backend selected by cfg.Audio.Backend,
// or ffmpeg when it is empty.
func (r *Registry) CreateAudio(cfg LiveConfig) (AudioDevices, error) {
	name := cfg.Audio.Backend
	if name == "" {
		name = AudioFFmpeg
	}
	r.mu.RLock()
	factory, ok := r.audio[string(name)]
	r.mu.RUnlock()
	if !ok {
		return AudioDevices{}, fmt.Errorf("%w: audio/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// RealtimeNames returns the registered realtime provider names, sorted.
func (r *Registry) RealtimeNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.realtime))
	for name := range r.realtime {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
