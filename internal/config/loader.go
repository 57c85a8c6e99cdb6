package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads KEY=value pairs from the dotenv file at path into the process
// environment without overriding variables that are already set. A missing
// file is not an error when optional is true.
func LoadEnv(path string, optional bool) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if optional && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("config: load env %q: %w", path, err)
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are expanded from the environment before decoding.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Live
	live := cfg.Live
	if live.Audio.Backend != "" && !live.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("live.audio.backend %q is invalid; valid values: ffmpeg, none", live.Audio.Backend))
	}
	if live.Hold.Volume < 0 || live.Hold.Volume > 1 {
		errs = append(errs, fmt.Errorf("live.hold.volume %.2f is out of range [0, 1]", live.Hold.Volume))
	}
	if live.Hold.MinMS < 0 {
		errs = append(errs, fmt.Errorf("live.hold.min_ms %d must not be negative", live.Hold.MinMS))
	}
	if live.Hold.MaxMS != 0 && live.Hold.MaxMS < live.Hold.MinMS {
		errs = append(errs, fmt.Errorf("live.hold.max_ms %d is below min_ms %d", live.Hold.MaxMS, live.Hold.MinMS))
	}
	if live.ConnectTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("live.connect_timeout_ms %d must not be negative", live.ConnectTimeoutMS))
	}
	if live.Provider.APIKey == "" {
		slog.Warn("live.provider.api_key is empty; live sessions will fail to connect")
	}

	// Personas
	seen := make(map[string]int, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
		if p.ID == "" {
			continue
		}
		if prev, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of personas[%d]", prefix, p.ID, prev))
		}
		seen[p.ID] = i
	}

	return errors.Join(errs...)
}
