// Package fallback implements the LLM fallback skill: it answers utterances
// that no other skill handled by asking a chat model, speaking the reply
// sentence by sentence as it streams in.
//
// The skill listens on the bus for recognised utterances and for everything
// spoken, keeping a per-session conversation log so that follow-up questions
// carry context. Settings are re-read for every turn; without an API key the
// skill declines every utterance and stays silent.
package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/gptfallback/internal/dialog"
	"github.com/MrWong99/gptfallback/internal/history"
	"github.com/MrWong99/gptfallback/internal/observe"
	"github.com/MrWong99/gptfallback/internal/resilience"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/bus"
	"github.com/MrWong99/gptfallback/pkg/provider/llm"
)

// Defaults for [Skill] identity.
const (
	DefaultSkillID  = "gptfallback.openvoiceos"
	DefaultPriority = 85
	DefaultLang     = "en-us"
)

// Bus events the skill emits or consumes besides the fallback protocol.
const (
	// RequestEvent announces that an utterance was accepted and is being
	// answered asynchronously.
	RequestEvent = "async.chatgpt.fallback"

	// ErrorDialog is spoken when a turn produced no answer.
	ErrorDialog = "gpt_error"

	utteranceEvent = "recognizer_loop:utterance"
	speakEvent     = "speak"
)

// ProviderFactory builds a chat provider for an endpoint from the skill
// settings. The config package's Registry satisfies it.
type ProviderFactory interface {
	CreateLLM(settings.Endpoint) (llm.Provider, error)
}

// Skill is the fallback skill. Create it with [New], attach it with
// [Skill.Initialize] and detach it with [Skill.Shutdown].
//
// Skill is safe for concurrent use.
type Skill struct {
	bus       bus.Bus
	store     settings.Store
	providers ProviderFactory

	skillID    string
	priority   int
	lang       string
	baseCtx    context.Context
	dialogs    *dialog.Catalog
	metrics    *observe.Metrics
	breakerCfg resilience.CircuitBreakerConfig

	tracker  *history.Tracker
	breakers *resilience.BreakerSet

	mu     sync.Mutex
	unsubs []func()
	closed bool
	tasks  sync.WaitGroup
}

// Option configures a [Skill].
type Option func(*Skill)

// WithSkillID sets the id used in fallback registration. Default:
// [DefaultSkillID].
func WithSkillID(id string) Option {
	return func(s *Skill) {
		if id != "" {
			s.skillID = id
		}
	}
}

// WithPriority sets the fallback priority. Default: [DefaultPriority].
func WithPriority(p int) Option {
	return func(s *Skill) { s.priority = p }
}

// WithLang sets the dialog language used when a message carries none.
func WithLang(lang string) Option {
	return func(s *Skill) {
		if lang != "" {
			s.lang = lang
		}
	}
}

// WithContext sets the parent context of turns started from bus events.
// Cancelling it aborts in-flight turns. Default: context.Background().
func WithContext(ctx context.Context) Option {
	return func(s *Skill) { s.baseCtx = ctx }
}

// WithDialogs replaces the built-in dialog catalog.
func WithDialogs(c *dialog.Catalog) Option {
	return func(s *Skill) { s.dialogs = c }
}

// WithMetrics sets the metric instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Skill) { s.metrics = m }
}

// WithBreaker tunes the circuit breaker kept for each LLM endpoint.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Skill) { s.breakerCfg = cfg }
}

// New creates a Skill that talks over b, reads its settings from store and
// builds LLM clients through providers.
func New(b bus.Bus, store settings.Store, providers ProviderFactory, opts ...Option) *Skill {
	s := &Skill{
		bus:       b,
		store:     store,
		providers: providers,
		skillID:   DefaultSkillID,
		priority:  DefaultPriority,
		lang:      DefaultLang,
		baseCtx:   context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.dialogs == nil {
		s.dialogs = dialog.New()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	s.tracker = history.NewTracker(history.WithNewSessionHook(func(sessionID string) {
		s.metrics.ActiveSessions.Add(s.baseCtx, 1)
		slog.Debug("fallback: tracking new session", "session_id", sessionID)
	}))

	cbCfg := s.breakerCfg
	userHook := cbCfg.OnStateChange
	cbCfg.OnStateChange = func(name string, from, to resilience.State) {
		s.metrics.RecordBreakerTransition(s.baseCtx, name, to.String())
		if userHook != nil {
			userHook(name, from, to)
		}
	}
	s.breakers = resilience.NewBreakerSet(cbCfg)
	return s
}

// SkillID returns the id the skill registers under.
func (s *Skill) SkillID() string { return s.skillID }

// Tracker returns the conversation history the skill keeps.
func (s *Skill) Tracker() *history.Tracker { return s.tracker }

// Breakers returns the per-endpoint circuit breakers.
func (s *Skill) Breakers() *resilience.BreakerSet { return s.breakers }

// Configured reports whether the current settings carry an API key.
func (s *Skill) Configured() bool {
	st, err := s.store.Load()
	return err == nil && st.Configured()
}

// Initialize subscribes the skill's handlers and registers it with the
// fallback host. It returns the error of the registration emit; handlers stay
// subscribed either way so that a later [Skill.Register] can retry.
func (s *Skill) Initialize(ctx context.Context) error {
	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.bus.On(utteranceEvent, s.handleUtterance),
		s.bus.On(speakEvent, s.handleSpeak),
		s.bus.On(pingEvent, s.handlePing),
		s.bus.On(requestTopic(s.skillID), s.handleFallbackRequest),
		s.bus.On(readyEvent, func(bus.Message) {
			if err := s.Register(s.baseCtx); err != nil {
				slog.Warn("fallback: re-register failed", "skill_id", s.skillID, "err", err)
			}
		}),
	)
	s.mu.Unlock()

	return s.Register(ctx)
}

func (s *Skill) shuttingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Register announces the skill to the fallback host.
func (s *Skill) Register(ctx context.Context) error {
	msg := bus.NewMessage(registerEvent, map[string]any{
		"skill_id": s.skillID,
		"priority": s.priority,
	})
	msg.Context["skill_id"] = s.skillID
	if err := s.bus.Emit(ctx, msg); err != nil {
		return fmt.Errorf("fallback: register: %w", err)
	}
	slog.Info("fallback: registered", "skill_id", s.skillID, "priority", s.priority)
	return nil
}

// Shutdown unsubscribes the skill, deregisters it from the fallback host and
// waits for in-flight turns to finish or ctx to expire.
func (s *Skill) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, u := range unsubs {
		u()
	}

	msg := bus.NewMessage(deregisterEvent, map[string]any{"skill_id": s.skillID})
	if err := s.bus.Emit(ctx, msg); err != nil {
		slog.Debug("fallback: deregister not sent", "skill_id", s.skillID, "err", err)
	}

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("fallback: shutdown: %w", ctx.Err())
	}
}
