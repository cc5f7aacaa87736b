// Package settings holds the per-skill settings a user edits to enable and
// tune the fallback: the API credential, endpoint, model, persona and memory
// options.
//
// Settings are read through a [Store] at the start of every turn so that an
// edit takes effect on the next utterance without a restart.
package settings

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [Settings.WithDefaults]. The endpoint defaults are
// those of the "openai" provider.
const (
	DefaultProvider   = "openai"
	DefaultAPIURL     = "https://api.openai.com/v1"
	DefaultModel      = "gpt-3.5-turbo"
	DefaultPersona    = "You are a helpful assistant who gives very short and factual answers in maximum twenty words and you don't use emojis"
	DefaultMemorySize = 15
)

// Endpoint identifies one chat API: which provider implementation talks to it,
// where it lives and which model it serves.
type Endpoint struct {
	Provider string `yaml:"provider" json:"provider"`
	Key      string `yaml:"key"      json:"key"`
	APIURL   string `yaml:"api_url"  json:"api_url"`
	Model    string `yaml:"model"    json:"model"`
}

// Name returns a stable identity for the endpoint, used to key its circuit
// breaker and label logs. The credential is not part of it.
func (e Endpoint) Name() string {
	return e.Provider + "|" + e.APIURL + "|" + e.Model
}

// Settings is the skill settings document.
type Settings struct {
	Endpoint `yaml:",inline"`

	// Persona is the system prompt. InitialPrompt is an older name for it and
	// is used when Persona is empty.
	Persona       string `yaml:"persona"        json:"persona"`
	InitialPrompt string `yaml:"initial_prompt" json:"initial_prompt"`

	// EnableMemory passes earlier question/answer pairs of the session to the
	// model. Nil means enabled.
	EnableMemory *bool `yaml:"enable_memory" json:"enable_memory"`

	// MemorySize caps the number of pairs passed. Zero means the default.
	MemorySize int `yaml:"memory_size" json:"memory_size"`

	MaxTokens   int     `yaml:"max_tokens"  json:"max_tokens"`
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// Fallbacks are tried in order when the primary endpoint cannot start a
	// reply. Empty fields inherit from the primary.
	Fallbacks []Endpoint `yaml:"fallbacks" json:"fallbacks"`
}

// Configured reports whether a credential is present. Without one the skill
// does not handle utterances.
func (s Settings) Configured() bool {
	return strings.TrimSpace(s.Key) != ""
}

// MemoryEnabled reports whether history is passed to the model.
func (s Settings) MemoryEnabled() bool {
	return s.EnableMemory == nil || *s.EnableMemory
}

// WithDefaults returns a copy of s with unset fields filled in.
//
// DefaultAPIURL and DefaultModel only apply to the "openai" provider; other
// providers keep an empty api_url and model so their client picks its own.
// A fallback inherits the key, api_url and model of the primary only when it
// talks to the same provider.
func (s Settings) WithDefaults() Settings {
	if s.Provider == "" {
		s.Provider = DefaultProvider
	}
	s.Endpoint = s.Endpoint.withProviderDefaults()
	if s.Persona == "" {
		s.Persona = s.InitialPrompt
	}
	if s.Persona == "" {
		s.Persona = DefaultPersona
	}
	if s.MemorySize <= 0 {
		s.MemorySize = DefaultMemorySize
	}
	fallbacks := make([]Endpoint, len(s.Fallbacks))
	for i, fb := range s.Fallbacks {
		if fb.Provider == "" {
			fb.Provider = s.Provider
		}
		if fb.Provider == s.Provider {
			if fb.Key == "" {
				fb.Key = s.Key
			}
			if fb.APIURL == "" {
				fb.APIURL = s.APIURL
			}
			if fb.Model == "" {
				fb.Model = s.Model
			}
		}
		fallbacks[i] = fb.withProviderDefaults()
	}
	s.Fallbacks = fallbacks
	return s
}

func (e Endpoint) withProviderDefaults() Endpoint {
	if e.Provider != DefaultProvider {
		return e
	}
	if e.APIURL == "" {
		e.APIURL = DefaultAPIURL
	}
	if e.Model == "" {
		e.Model = DefaultModel
	}
	return e
}

// Validate reports problems that would make every request fail. Settings
// without a key are valid; they simply leave the skill disabled.
func (s Settings) Validate() error {
	var errs []error
	if s.MemorySize < 0 {
		errs = append(errs, fmt.Errorf("memory_size %d must not be negative", s.MemorySize))
	}
	if s.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens %d must not be negative", s.MaxTokens))
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %g must be within [0, 2]", s.Temperature))
	}
	for i, fb := range s.Fallbacks {
		if fb.Provider == "" && fb.APIURL == "" && fb.Model == "" && fb.Key == "" {
			errs = append(errs, fmt.Errorf("fallbacks[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}

// Store loads the current settings.
type Store interface {
	Load() (Settings, error)
}

// Decode reads a settings document. The YAML decoder also accepts the JSON
// settings files written by skill settings UIs.
func Decode(r io.Reader) (Settings, error) {
	var s Settings
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("settings: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

// FileStore reads settings from a file on every Load. A missing file yields
// empty settings, which leave the skill unconfigured.
type FileStore struct {
	Path string
}

// Compile-time interface assertion.
var _ Store = (*FileStore)(nil)

// NewFileStore returns a [FileStore] for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// Load implements [Store].
func (fs *FileStore) Load() (Settings, error) {
	f, err := os.Open(fs.Path)
	if errors.Is(err, os.ErrNotExist) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("settings: open %q: %w", fs.Path, err)
	}
	defer f.Close()

	s, err := Decode(f)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: %q: %w", fs.Path, err)
	}
	return s, nil
}

// MemStore is an in-memory [Store], used in tests.
type MemStore struct {
	mu  sync.RWMutex
	s   Settings
	err error
}

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// NewMemStore returns a store holding s.
func NewMemStore(s Settings) *MemStore {
	return &MemStore{s: s}
}

// Load implements [Store].
func (m *MemStore) Load() (Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.s, m.err
}

// Set replaces the stored settings.
func (m *MemStore) Set(s Settings) {
	m.mu.Lock()
	m.s = s
	m.mu.Unlock()
}

// SetErr makes subsequent Loads fail with err. A nil err clears the failure.
func (m *MemStore) SetErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
