package resilience

import (
	"context"

	"github.com/MrWong99/gptfallback/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over across several chat
// endpoints. Only starting a stream is covered; once chunks flow, a failure
// surfaces through the stream itself.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// endpoint. See [NewFallbackGroup] for breakers.
func NewLLMFallback(primary llm.Provider, primaryName string, breakers *BreakerSet) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, breakers)}
}

// AddFallback registers an alternate endpoint.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// StreamCompletion implements [llm.Provider].
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}
