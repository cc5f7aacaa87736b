package fallback

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/gptfallback/internal/observe"
	"github.com/MrWong99/gptfallback/internal/session"
	"github.com/MrWong99/gptfallback/pkg/bus"
)

// Result is the outcome of a turn run by [Skill.Ask].
type Result struct {
	// Spoken is the number of reply fragments spoken.
	Spoken int

	// Err is nil when the reply finished normally. Otherwise it is
	// [ErrNotConfigured] or wraps [ErrNoResponse]. Some fragments may have
	// been spoken before a mid-stream failure.
	Err error
}

// Task is a turn running in the background.
type Task struct {
	// ID identifies the turn in logs and spans.
	ID string

	done   chan struct{}
	result Result
}

// Done is closed when the turn has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the turn has finished and returns its outcome.
func (t *Task) Wait() Result {
	<-t.done
	return t.result
}

// AskChatGPT is the fallback handler. It declines, returning false and
// emitting nothing, when the skill is shutting down, the settings hold no API
// key or the message carries no utterance. Otherwise it announces the turn with a [RequestEvent]
// message, starts answering in the background and returns true at once so
// that the fallback host does not time out.
func (s *Skill) AskChatGPT(msg bus.Message) bool {
	if s.shuttingDown() {
		return false
	}
	st, err := s.store.Load()
	if err != nil {
		s.logger(s.baseCtx).Warn("fallback: cannot read settings", "err", err)
		s.metrics.RecordFallbackRequest(s.baseCtx, observe.ResultNotConfigured)
		return false
	}
	if !st.Configured() {
		s.metrics.RecordFallbackRequest(s.baseCtx, observe.ResultNotConfigured)
		return false
	}
	utterance := utteranceOf(msg)
	if utterance == "" {
		return false
	}

	s.emit(s.baseCtx, msg.Forward(RequestEvent, map[string]any{"utterance": utterance}))
	s.Ask(s.baseCtx, msg)
	return true
}

// Ask answers the utterance in msg in the background: every reply fragment
// is spoken as it arrives, and the error dialog is spoken if none was. The
// turn stops early when ctx is cancelled. After [Skill.Shutdown] the task is
// returned already finished with [ErrShutdown] and nothing is spoken.
func (s *Skill) Ask(ctx context.Context, msg bus.Message) *Task {
	t := &Task{ID: uuid.NewString(), done: make(chan struct{})}

	// Add is ordered before the Wait in Shutdown by s.mu.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		t.result = Result{Err: ErrShutdown}
		close(t.done)
		return t
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()
		defer close(t.done)
		t.result = s.run(ctx, t.ID, msg)
	}()
	return t
}

func (s *Skill) run(ctx context.Context, taskID string, msg bus.Message) Result {
	sessionID := session.ID(msg)
	ctx, span := observe.StartSpan(ctx, "fallback.ask",
		trace.WithAttributes(
			attribute.String("task_id", taskID),
			attribute.String("session_id", sessionID),
		),
	)
	log := s.logger(ctx).With("task_id", taskID, "session_id", sessionID)
	start := time.Now()

	var res Result
	stream, err := s.Dispatch(ctx, sessionID, utteranceOf(msg))
	if err == nil {
		for fragment := range stream.Fragments() {
			if res.Spoken == 0 {
				s.metrics.FirstFragmentLatency.Record(ctx, time.Since(start).Seconds())
			}
			s.speak(ctx, msg, fragment, nil)
			res.Spoken++
			s.metrics.Fragments.Add(ctx, 1)
		}
		err = stream.Err()
	}
	res.Err = err

	if res.Spoken == 0 {
		s.speakDialog(ctx, msg, ErrorDialog)
	}

	result := observe.ResultAnswered
	switch {
	case errors.Is(err, ErrNotConfigured):
		result = observe.ResultNotConfigured
	case res.Spoken == 0:
		result = observe.ResultNoResponse
	}
	s.metrics.RecordFallbackRequest(ctx, result)
	span.SetAttributes(attribute.Int("fragments", res.Spoken), attribute.String("result", result))

	if err != nil {
		log.Warn("fallback: turn failed", "kind", errorKind(err), "spoken", res.Spoken, "err", err)
	} else {
		log.Info("fallback: turn answered", "spoken", res.Spoken, "duration", time.Since(start))
	}
	observe.EndSpan(span, err)
	return res
}
