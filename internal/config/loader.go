package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBytes(b []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(b))
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Bus.URL != "" {
		u, err := url.Parse(cfg.Bus.URL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("bus.url: %w", err))
		case u.Scheme != "ws" && u.Scheme != "wss":
			errs = append(errs, fmt.Errorf("bus.url %q must use ws or wss", cfg.Bus.URL))
		}
	}
	if cfg.Bus.ReconnectMin < 0 || cfg.Bus.ReconnectMax < 0 || cfg.Bus.WriteTimeout < 0 {
		errs = append(errs, errors.New("bus durations must not be negative"))
	}
	if cfg.Bus.ReconnectMax > 0 && cfg.Bus.ReconnectMin > cfg.Bus.ReconnectMax {
		errs = append(errs, fmt.Errorf("bus.reconnect_min %s exceeds bus.reconnect_max %s", cfg.Bus.ReconnectMin, cfg.Bus.ReconnectMax))
	}

	if strings.ContainsAny(cfg.Skill.SkillID, " \t\n") {
		errs = append(errs, fmt.Errorf("skill.skill_id %q must not contain whitespace", cfg.Skill.SkillID))
	}
	if cfg.Skill.Priority < 0 || cfg.Skill.Priority > 100 {
		errs = append(errs, fmt.Errorf("skill.priority %d must be within [0, 100]", cfg.Skill.Priority))
	}
	b := cfg.Skill.Breaker
	if b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("skill.breaker values must not be negative"))
	}

	return errors.Join(errs...)
}
