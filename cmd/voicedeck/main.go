// Command voicedeck is the main entry point for the voicedeck operator console.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voicedeck/voicedeck/internal/config"
	"github.com/voicedeck/voicedeck/internal/console"
	"github.com/voicedeck/voicedeck/internal/live"
	"github.com/voicedeck/voicedeck/internal/observe"
	"github.com/voicedeck/voicedeck/internal/persona"
	"github.com/voicedeck/voicedeck/internal/resilience"
	"github.com/voicedeck/voicedeck/internal/sessionlog"
	"github.com/voicedeck/voicedeck/internal/storage/postgres"
	"github.com/voicedeck/voicedeck/pkg/audio"
	"github.com/voicedeck/voicedeck/pkg/audio/ffmpeg"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime"
	"github.com/voicedeck/voicedeck/pkg/provider/realtime/gemini"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// defaultListenAddr is used when server.listen_addr is empty.
const defaultListenAddr = ":8080"

// shutdownTimeout bounds the graceful shutdown of the HTTP server.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional .env file loaded before the configuration")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath, true); err != nil {
		fmt.Fprintf(os.Stderr, "voicedeck: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicedeck: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicedeck: %v\n", err)
		}
		return 1
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("voicedeck starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers and devices ─────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltins(reg)

	provider, err := reg.CreateRealtime(cfg.Live.Provider)
	if err != nil {
		slog.Error("failed to create realtime provider", "err", err)
		return 1
	}
	devices, err := reg.CreateAudio(cfg.Live)
	if err != nil {
		slog.Error("failed to create audio backend", "err", err)
		return 1
	}
	if devices.Cue != nil {
		defer devices.Cue.Close()
	}

	// ── Storage ───────────────────────────────────────────────────────────────
	var (
		remote   persona.Store
		sessions sessionlog.Store = sessionlog.NewMemStore(0)
		checks   []console.Checker
	)
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Warn("postgres unavailable, personas and session log stay in memory", "err", err)
		} else {
			defer store.Close()
			remote = store.Personas()
			sessions = sessionlog.NewGuarded(store.Sessions(), nil,
				resilience.NewBreaker(resilience.BreakerConfig{Name: "postgres-sessions"}))
			checks = append(checks, console.Checker{Name: "database", Check: store.Ping})
		}
	}

	catalog := persona.NewCatalog(remote)
	catalog.Init(ctx)
	if len(cfg.Personas) > 0 {
		if err := catalog.Upsert(ctx, cfg.Personas...); err != nil {
			slog.Warn("failed to store configured personas", "err", err)
		}
	}
	if n, err := persona.NewSeeder(catalog, provider.Voices, persona.Premade()).Seed(ctx); err != nil {
		slog.Warn("failed to seed premade personas", "err", err)
	} else if n > 0 {
		slog.Info("seeded premade personas", "count", n)
	}

	// ── Live session manager ──────────────────────────────────────────────────
	manager := live.NewManager(live.Config{
		Provider:   provider,
		Microphone: devices.Microphone,
		Speaker:    devices.Speaker,
		Cue:        devices.Cue,
		Hold: live.HoldConfig{
			Volume:      cfg.Live.Hold.Volume,
			MinDuration: millis(cfg.Live.Hold.MinMS),
			MaxDuration: millis(cfg.Live.Hold.MaxMS),
		},
		Triggers:       cfg.Live.Hold.Triggers,
		Archive:        sessions,
		ConnectTimeout: millis(cfg.Live.ConnectTimeoutMS),
	})
	defer manager.EndSession()

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	printStartupSummary(cfg, catalog.Mode())

	// ── HTTP console ──────────────────────────────────────────────────────────
	srv := console.New(console.Config{
		Live:     manager,
		Catalog:  catalog,
		Sessions: sessions,
		Voices:   provider.Voices,
		Checks:   checks,
		Metrics:  promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})
	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("console listening", "addr", httpSrv.Addr, "tls", cfg.Server.TLS != nil)
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, func(next *config.Config, d config.ConfigDiff) {
				applyReload(gctx, d, next, &level, manager, catalog)
			})
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping…")
		manager.EndSession()

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltins wires the realtime providers and audio backends that ship
// with voicedeck into reg.
func registerBuiltins(reg *config.Registry) {
	reg.RegisterRealtime("gemini", func(entry config.ProviderEntry) (realtime.Provider, error) {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAudio(config.AudioFFmpeg, func(lc config.LiveConfig) (config.AudioDevices, error) {
		b := ffmpeg.New(ffmpeg.Config{
			FFmpegPath:  lc.Audio.FFmpegPath,
			FFplayPath:  lc.Audio.FFplayPath,
			InputDevice: lc.Audio.InputDevice,
		})
		if err := b.Available(); err != nil {
			slog.Warn("ffmpeg backend incomplete, live sessions will fail to open devices", "err", err)
		}
		devs := config.AudioDevices{Microphone: b, Speaker: b}
		if lc.Hold.Asset != "" {
			cue, err := b.NewCuePlayer(lc.Hold.Asset)
			if err != nil {
				return config.AudioDevices{}, err
			}
			devs.Cue = cue
		}
		return devs, nil
	})

	reg.RegisterAudio(config.AudioNone, func(config.LiveConfig) (config.AudioDevices, error) {
		return config.AudioDevices{Microphone: audio.NoDevice{}, Speaker: audio.NoDevice{}}, nil
	})

	for _, name := range reg.RealtimeNames() {
		slog.Debug("registered provider", "kind", "realtime", "name", name)
	}
}

// ── Hot reload ────────────────────────────────────────────────────────────────

// applyReload applies the hot-reloadable parts of a config change.
func applyReload(ctx context.Context, d config.ConfigDiff, cfg *config.Config, level *slog.LevelVar, m *live.Manager, catalog *persona.Catalog) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.TriggersChanged {
		m.SetTriggers(d.NewTriggers)
		slog.Info("hold triggers changed", "count", len(d.NewTriggers))
	}
	if !d.PersonasChanged {
		return
	}

	byID := make(map[string]persona.Persona, len(cfg.Personas))
	for _, p := range cfg.Personas {
		byID[p.ID] = p
	}
	for _, pd := range d.PersonaChanges {
		if pd.Removed {
			if err := catalog.Delete(ctx, pd.ID); err != nil {
				slog.Warn("reload: delete persona", "id", pd.ID, "err", err)
			}
			continue
		}
		if err := catalog.Upsert(ctx, byID[pd.ID]); err != nil {
			slog.Warn("reload: upsert persona", "id", pd.ID, "err", err)
			continue
		}
		slog.Info("persona reloaded", "id", pd.ID, "added", pd.Added, "prompt_changed", pd.PromptChanged)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, mode persona.Mode) {
	provider := cfg.Live.Provider.Name
	if provider == "" {
		provider = config.DefaultProvider
	}
	if cfg.Live.Provider.Model != "" {
		provider += " / " + cfg.Live.Provider.Model
	}
	backend := string(cfg.Live.Audio.Backend)
	if backend == "" {
		backend = string(config.AudioFFmpeg)
	}
	cue := "(silent)"
	if cfg.Live.Hold.Asset != "" {
		cue = cfg.Live.Hold.Asset
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicedeck startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", provider)
	printRow("Audio", backend)
	printRow("Hold cue", cue)
	printRow("Personas", string(mode))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
