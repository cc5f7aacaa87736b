package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry of a [FallbackGroup] failed or had
// an open breaker.
var ErrAllFailed = errors.New("resilience: all endpoints failed")

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds a primary value and zero or more alternates of the same
// type. Calls go to the first entry whose breaker admits them; on failure the
// next entry is tried in registration order.
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	breakers *BreakerSet
}

// NewFallbackGroup creates a group with primary as its first entry. Entry
// breakers come from breakers, so their state outlives the group; a nil set
// gives the group private breakers with default settings.
func NewFallbackGroup[T any](primary T, primaryName string, breakers *BreakerSet) *FallbackGroup[T] {
	if breakers == nil {
		breakers = NewBreakerSet(CircuitBreakerConfig{})
	}
	fg := &FallbackGroup[T]{breakers: breakers}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an alternate entry.
func (fg *FallbackGroup[T]) AddFallback(name string, value T) {
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   value,
		breaker: fg.breakers.Get(name),
	})
}

// ExecuteWithResult calls fn with each entry of fg until one succeeds and
// returns its result. Entries whose breaker is open are skipped. If none
// succeeds, the returned error wraps [ErrAllFailed] and every entry's error.
//
// It is a package-level function because methods cannot declare type
// parameters.
func ExecuteWithResult[T, R any](fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var err error
			result, err = fn(entry.value)
			return err
		})
		if err == nil {
			return result, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping endpoint, circuit open", "endpoint", entry.name)
			continue
		}
		if i < len(fg.entries)-1 {
			slog.Warn("resilience: endpoint failed, trying next", "endpoint", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
