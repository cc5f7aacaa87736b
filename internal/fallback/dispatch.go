package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gptfallback/internal/observe"
	"github.com/MrWong99/gptfallback/internal/persona"
	"github.com/MrWong99/gptfallback/internal/resilience"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/provider/llm"
)

// Stream is an LLM reply being streamed as speakable fragments.
type Stream struct {
	fragments <-chan string
	wait      func() error

	once sync.Once
	err  error
	done func(error) error
}

// Fragments returns the channel of sentences, closed when the reply ends.
// The caller must drain it or cancel the context passed to Dispatch.
func (st *Stream) Fragments() <-chan string { return st.fragments }

// Err blocks until the stream has ended and returns nil on a normal finish
// or an error wrapping [ErrNoResponse].
func (st *Stream) Err() error {
	st.once.Do(func() {
		st.err = st.done(st.wait())
	})
	return st.err
}

// Dispatch sends utterance, with the session's earlier exchanges, to the
// configured LLM and returns the reply stream. Settings are loaded afresh.
// It returns [ErrNotConfigured] without any network call when no API key is
// set, and an error wrapping [ErrNoResponse] when no endpoint could start a
// reply.
func (s *Skill) Dispatch(ctx context.Context, sessionID, utterance string) (*Stream, error) {
	st, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConfigured, err)
	}
	if !st.Configured() {
		return nil, ErrNotConfigured
	}
	st = st.WithDefaults()

	provider, err := s.buildProvider(st)
	if err != nil {
		s.metrics.RecordProviderError(ctx, st.Provider, "create")
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}

	pairs := s.tracker.Pairs(sessionID)
	start := time.Now()
	fragments, wait, err := persona.New(provider, st).StreamSentences(ctx, utterance, pairs)
	if err != nil {
		s.metrics.RecordProviderError(ctx, st.Provider, "start")
		return nil, fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	s.logger(ctx).Debug("fallback: streaming reply",
		"session_id", sessionID, "provider", st.Provider, "model", st.Model, "pairs", len(pairs))

	return &Stream{
		fragments: fragments,
		wait:      wait,
		done: func(err error) error {
			s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("provider", st.Provider)))
			if err == nil {
				return nil
			}
			kind := "stream"
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				kind = "cancelled"
			}
			s.metrics.RecordProviderError(ctx, st.Provider, kind)
			return fmt.Errorf("%w: %w", ErrNoResponse, err)
		},
	}, nil
}

// buildProvider returns the primary endpoint's provider followed by the
// configured fallbacks, each guarded by its endpoint's breaker. Fallbacks
// that cannot be built are skipped.
func (s *Skill) buildProvider(st settings.Settings) (llm.Provider, error) {
	primary, err := s.providers.CreateLLM(st.Endpoint)
	if err != nil {
		return nil, err
	}
	group := resilience.NewLLMFallback(primary, st.Endpoint.Name(), s.breakers)
	for _, ep := range st.Fallbacks {
		p, err := s.providers.CreateLLM(ep)
		if err != nil {
			slog.Warn("fallback: skipping fallback endpoint", "endpoint", ep.Name(), "err", err)
			continue
		}
		group.AddFallback(ep.Name(), p)
	}
	return group, nil
}

func (s *Skill) logger(ctx context.Context) *slog.Logger {
	return observe.Logger(ctx).With("skill_id", s.skillID)
}
