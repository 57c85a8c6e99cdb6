// Package persona manages the agent personas an operator can start a live
// session with.
//
// Personas live in a [Catalog] that prefers a remote [Store] (Postgres) and
// falls back to an in-process cache when the remote cannot be reached. A
// [Seeder] fills in the premade personas that are missing from the catalog.
package persona

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when no persona with the requested ID exists.
var ErrNotFound = errors.New("persona: not found")

// Persona is a voice identity plus the instructions that shape the agent.
type Persona struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// Voice is a prebuilt voice ID of the realtime provider.
	Voice string `json:"voice" yaml:"voice"`

	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`

	// FirstSentence is the greeting the agent opens the conversation with.
	FirstSentence string `json:"first_sentence,omitempty" yaml:"first_sentence"`

	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Instructions returns the system instructions sent when a session opens.
func (p Persona) Instructions() string {
	prompt := strings.TrimSpace(p.SystemPrompt)
	first := strings.TrimSpace(p.FirstSentence)
	if first == "" {
		return prompt
	}
	greeting := fmt.Sprintf("Begin the conversation by saying exactly: %q", first)
	if prompt == "" {
		return greeting
	}
	return prompt + "\n\n" + greeting
}

// Validate checks the fields required to start a session.
func (p Persona) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if strings.TrimSpace(p.SystemPrompt) == "" {
		errs = append(errs, errors.New("system_prompt is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("persona %q: %w", p.ID, err)
	}
	return nil
}
