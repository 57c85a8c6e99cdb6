package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/voicedeck/voicedeck/internal/config"
	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/pkg/audio"
	audiomock "github.com/voicedeck/voicedeck/pkg/audio/mock"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
	rtmock "github.com/voicedeck/voicedeck/pkg/provider/realtime/mock"
)

func TestSlogLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := slogLevel(tc.in); got != tc.want {
			t.Errorf("slogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltins(reg)

	p, err := reg.CreateRealtime(config.ProviderEntry{APIKey: "k"})
	if err != nil {
		t.Fatalf("CreateRealtime: %v", err)
	}
	if len(p.Voices()) == 0 {
		t.Error("gemini provider lists no voices")
	}

	devs, err := reg.CreateAudio(config.LiveConfig{Audio: config.AudioConfig{Backend: config.AudioNone}})
	if err != nil {
		t.Fatalf("CreateAudio(none): %v", err)
	}
	if _, ok := devs.Microphone.(audio.NoDevice); !ok {
		t.Errorf("microphone = %T, want audio.NoDevice", devs.Microphone)
	}
	if devs.Cue != nil {
		t.Error("none backend returned a cue player")
	}

	if _, err := reg.CreateAudio(config.LiveConfig{Hold: config.HoldConfig{Asset: "/nonexistent/hold.mp3"}}); err == nil {
		t.Error("ffmpeg backend accepted a missing cue asset")
	}
}

func TestApplyReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog := persona.NewCatalog(nil)
	if err := catalog.Upsert(ctx,
		persona.Persona{ID: "a", Name: "A", SystemPrompt: "Be A."},
		persona.Persona{ID: "b", Name: "B", SystemPrompt: "Be B."},
	); err != nil {
		t.Fatal(err)
	}
	prov := &rtmock.Provider{}
	m := live.NewManager(live.Config{
		Provider:   prov,
		Microphone: &audiomock.Microphone{},
		Speaker:    &audiomock.Speaker{},
		Cue:        &audiomock.CuePlayer{},
		Hold:       live.HoldConfig{MinDuration: time.Hour, MaxDuration: time.Hour},
	})
	t.Cleanup(m.EndSession)

	old := &config.Config{
		Server:   config.ServerConfig{LogLevel: config.LogInfo},
		Personas: []persona.Persona{{ID: "a", Name: "A", SystemPrompt: "Be A."}, {ID: "b", Name: "B", SystemPrompt: "Be B."}},
	}
	next := &config.Config{
		Server: config.ServerConfig{LogLevel: config.LogDebug},
		Live:   config.LiveConfig{Hold: config.HoldConfig{Triggers: []string{"hang on"}}},
		Personas: []persona.Persona{
			{ID: "a", Name: "A", SystemPrompt: "Be A, briefly."},
			{ID: "c", Name: "C", SystemPrompt: "Be C."},
		},
	}

	var level slog.LevelVar
	applyReload(ctx, config.Diff(old, next), next, &level, m, catalog)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if p, err := catalog.Get(ctx, "a"); err != nil || p.SystemPrompt != "Be A, briefly." {
		t.Errorf("persona a = %+v, %v", p, err)
	}
	if _, err := catalog.Get(ctx, "b"); err == nil {
		t.Error("removed persona b is still in the catalog")
	}
	if _, err := catalog.Get(ctx, "c"); err != nil {
		t.Errorf("added persona c: %v", err)
	}

	// The new trigger phrase starts the hold cue.
	if err := m.StartSession(ctx, persona.Persona{ID: "a", Name: "A", SystemPrompt: "Be A."}); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	prov.Last().Emit(realtime.OutputTranscript{Text: "Hang on, please."})
	if !m.Snapshot().IsHolding {
		t.Error("reloaded trigger did not start the hold cue")
	}
}
