// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local chat-completion API (OpenAI or any
// OpenAI-compatible endpoint, Anthropic, Gemini, a local Ollama instance, …)
// and exposes a uniform interface so the fallback skill can stream answers
// without coupling to a specific SDK.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package llm

import "context"

// Role values used in [Message].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// FinishReasonError marks a [Chunk] that carries a mid-stream failure. The
// chunk's Text holds the error message and no further chunks follow.
const FinishReasonError = "error"

// Message is a single turn in a chat conversation.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string

	// Content is the text of the turn.
	Content string
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation. The last message is the user turn
	// that drives the response.
	Messages []Message

	// SystemPrompt is prepended as a system message by providers.
	SystemPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero selects the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content. May be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError] for a mid-stream failure. Empty on non-final chunks.
	FinishReason string
}

// Provider is the abstraction over any LLM backend.
//
// Implementations must be safe for concurrent use from multiple goroutines and
// must honour context cancellation promptly.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed when
	// generation finishes or ctx is cancelled.
	//
	// The error return is non-nil only for failures that prevent the stream
	// from starting (invalid credentials, unreachable endpoint, malformed
	// request). Failures after that are delivered as a final chunk with
	// FinishReason [FinishReasonError].
	//
	// The returned channel must never be nil when error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}
