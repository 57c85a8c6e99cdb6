package config

import (
	"cmp"
	"slices"

	"github.com/voicedeck/voicedeck/internal/persona"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PersonasChanged bool          // true if any persona was added, removed or edited
	PersonaChanges  []PersonaDiff // per-persona diffs
	TriggersChanged bool
	NewTriggers     []string
	LogLevelChanged bool
	NewLogLevel     LogLevel
}

// PersonaDiff describes what changed for a single persona between two configs.
type PersonaDiff struct {
	ID            string
	PromptChanged bool // system prompt or first sentence
	VoiceChanged  bool
	OtherChanged  bool // name or description
	Added         bool
	Removed       bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Hold-cue triggers
	if !slices.Equal(old.Live.Hold.Triggers, new.Live.Hold.Triggers) {
		d.TriggersChanged = true
		d.NewTriggers = slices.Clone(new.Live.Hold.Triggers)
	}

	// Build persona lookup maps keyed by ID.
	oldPersonas := make(map[string]*persona.Persona, len(old.Personas))
	for i := range old.Personas {
		oldPersonas[old.Personas[i].ID] = &old.Personas[i]
	}
	newPersonas := make(map[string]*persona.Persona, len(new.Personas))
	for i := range new.Personas {
		newPersonas[new.Personas[i].ID] = &new.Personas[i]
	}

	// Detect modified and removed personas.
	for id, oldP := range oldPersonas {
		newP, exists := newPersonas[id]
		if !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: id, Removed: true})
			d.PersonasChanged = true
			continue
		}
		pd := diffPersona(id, oldP, newP)
		if pd.PromptChanged || pd.VoiceChanged || pd.OtherChanged {
			d.PersonaChanges = append(d.PersonaChanges, pd)
			d.PersonasChanged = true
		}
	}

	// Detect added personas.
	for id := range newPersonas {
		if _, exists := oldPersonas[id]; !exists {
			d.PersonaChanges = append(d.PersonaChanges, PersonaDiff{ID: id, Added: true})
			d.PersonasChanged = true
		}
	}

	slices.SortFunc(d.PersonaChanges, func(a, b PersonaDiff) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return d
}

// diffPersona compares two personas with the same ID.
func diffPersona(id string, old, new *persona.Persona) PersonaDiff {
	return PersonaDiff{
		ID:            id,
		PromptChanged: old.SystemPrompt != new.SystemPrompt || old.FirstSentence != new.FirstSentence,
		VoiceChanged:  old.Voice != new.Voice,
		OtherChanged:  old.Name != new.Name || old.Description != new.Description,
	}
}
