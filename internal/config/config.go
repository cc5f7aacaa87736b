// Package config provides the service configuration schema, its loader and
// watcher, and the registry of LLM provider constructors.
//
// The service configuration covers process-level concerns (HTTP listener,
// logging, bus connection, skill registration). What the skill says and which
// LLM it asks lives in the separate skill settings file; see package settings.
package config

import (
	"time"

	"github.com/MrWong99/gptfallback/internal/resilience"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr   = ":9464"
	DefaultBusURL       = "ws://127.0.0.1:8181/core"
	DefaultSettingsPath = "settings.json"
	DefaultSkillID      = "gptfallback.openvoiceos"
	DefaultPriority     = 85
	DefaultLang         = "en-us"
)

// Config is the root of the service configuration file.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Bus    BusConfig    `yaml:"bus"`
	Skill  SkillConfig  `yaml:"skill"`
}

// ServerConfig holds the HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the address of the health and metrics listener. An
	// explicit "-" disables the listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied live when the file changes.
	LogLevel LogLevel `yaml:"log_level"`
}

// BusConfig holds the message bus connection settings.
type BusConfig struct {
	// URL is the websocket address of the messagebus service.
	URL string `yaml:"url"`

	// ReconnectMin and ReconnectMax bound the delay between reconnect
	// attempts. Zero values select the client defaults.
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`

	// WriteTimeout bounds a single outbound message.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// SkillConfig holds how the skill registers itself and where its settings
// live.
type SkillConfig struct {
	// SettingsPath is the skill settings file, re-read on every turn.
	SettingsPath string `yaml:"settings_path"`

	// SkillID names the skill in fallback registration and bus events.
	SkillID string `yaml:"skill_id"`

	// Priority orders the skill among fallback handlers; lower runs first.
	Priority int `yaml:"priority"`

	// Lang is used for dialogs when a message carries no language.
	Lang string `yaml:"lang"`

	// Breaker tunes the circuit breaker kept per LLM endpoint.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors [resilience.CircuitBreakerConfig] for YAML.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// CircuitBreaker converts b into a [resilience.CircuitBreakerConfig]. Zero
// fields keep the resilience defaults.
func (b BreakerConfig) CircuitBreaker() resilience.CircuitBreakerConfig {
	return resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	}
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Bus.URL == "" {
		c.Bus.URL = DefaultBusURL
	}
	if c.Skill.SettingsPath == "" {
		c.Skill.SettingsPath = DefaultSettingsPath
	}
	if c.Skill.SkillID == "" {
		c.Skill.SkillID = DefaultSkillID
	}
	if c.Skill.Priority == 0 {
		c.Skill.Priority = DefaultPriority
	}
	if c.Skill.Lang == "" {
		c.Skill.Lang = DefaultLang
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}
