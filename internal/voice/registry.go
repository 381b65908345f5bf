// Package voice holds the configured voices and their cache identities.
package voice

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/config"
)

var (
	// ErrUnknownVoice is returned when a request names a voice that is not configured.
	ErrUnknownVoice = errors.New("unknown voice")
	// ErrNoVoices is returned when the registry has nothing to list.
	ErrNoVoices = errors.New("no voices configured")
	// ErrDuplicateVoice is returned when two voices share a name.
	ErrDuplicateVoice = errors.New("voice already registered")
)

// Voice describes one synthesis voice. Values are immutable once loaded.
type Voice struct {
	Name        string
	Language    string
	ModelType   string
	ModelPath   string
	VocoderType string
	VocoderPath string
	SampleRate  int
}

// CacheID identifies everything that changes the audio a voice produces.
func (v Voice) CacheID() string {
	parts := []string{v.Name}
	for _, p := range []string{v.Language, v.ModelType, base(v.ModelPath), v.VocoderType, base(v.VocoderPath)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "_")
}

func base(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// FromConfig converts a configured voice.
func FromConfig(vc config.VoiceConfig) Voice {
	return Voice{
		Name:        vc.Name,
		Language:    vc.Language,
		ModelType:   vc.ModelType,
		ModelPath:   vc.ModelPath,
		VocoderType: vc.VocoderType,
		VocoderPath: vc.VocoderPath,
		SampleRate:  vc.SampleRate,
	}
}

// Registry is a read-only name -> voice table built once at startup.
type Registry struct {
	voices map[string]Voice
	def    string
}

// NewRegistry builds a registry. defaultName may be empty, in which case
// requests without a voice fail with ErrUnknownVoice.
func NewRegistry(voices []Voice, defaultName string) (*Registry, error) {
	r := &Registry{
		voices: make(map[string]Voice, len(voices)),
		def:    defaultName,
	}
	for _, v := range voices {
		if _, exists := r.voices[v.Name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVoice, v.Name)
		}
		r.voices[v.Name] = v
	}
	if defaultName != "" {
		if _, ok := r.voices[defaultName]; !ok {
			return nil, fmt.Errorf("%w: default voice %q", ErrUnknownVoice, defaultName)
		}
	}
	return r, nil
}

// NewRegistryFromConfig builds a registry from the voices section.
func NewRegistryFromConfig(voices []config.VoiceConfig, defaultName string) (*Registry, error) {
	converted := make([]Voice, 0, len(voices))
	for _, vc := range voices {
		converted = append(converted, FromConfig(vc))
	}
	return NewRegistry(converted, defaultName)
}

// Resolve returns the named voice, or the default voice when name is empty.
func (r *Registry) Resolve(name string) (Voice, error) {
	if name == "" {
		name = r.def
	}
	v, ok := r.voices[name]
	if !ok {
		return Voice{}, fmt.Errorf("%w: %q", ErrUnknownVoice, name)
	}
	return v, nil
}

// Default returns the default voice name.
func (r *Registry) Default() string {
	return r.def
}

// List returns all voices sorted by name.
func (r *Registry) List() ([]Voice, error) {
	if r == nil || len(r.voices) == 0 {
		return nil, ErrNoVoices
	}
	out := make([]Voice, 0, len(r.voices))
	for _, v := range r.voices {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
