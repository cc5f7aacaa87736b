// Package persona turns a user utterance plus the session's earlier exchanges
// into a chat request and re-chunks the streamed reply into sentences that
// can be spoken one at a time.
package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/gptfallback/internal/history"
	"github.com/MrWong99/gptfallback/internal/settings"
	"github.com/MrWong99/gptfallback/pkg/provider/llm"
)

// ErrStream is wrapped by errors reported through the stream's error
// function when the provider fails after the stream started.
var ErrStream = errors.New("persona: stream failed")

// Solver answers utterances with a configured persona.
type Solver struct {
	provider llm.Provider
	settings settings.Settings
}

// New creates a Solver that sends requests to p. Unset fields of s take
// their defaults.
func New(p llm.Provider, s settings.Settings) *Solver {
	return &Solver{provider: p, settings: s.WithDefaults()}
}

// BuildRequest returns the chat request for utterance. When memory is
// enabled the last MemorySize pairs precede the utterance as alternating
// user and assistant messages, oldest first.
func (s *Solver) BuildRequest(utterance string, pairs []history.Pair) llm.CompletionRequest {
	var msgs []llm.Message
	if s.settings.MemoryEnabled() {
		if n := s.settings.MemorySize; len(pairs) > n {
			pairs = pairs[len(pairs)-n:]
		}
		msgs = make([]llm.Message, 0, 2*len(pairs)+1)
		for _, p := range pairs {
			msgs = append(msgs,
				llm.Message{Role: llm.RoleUser, Content: p.Question},
				llm.Message{Role: llm.RoleAssistant, Content: p.Answer},
			)
		}
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: utterance})
	return llm.CompletionRequest{
		SystemPrompt: s.settings.Persona,
		Messages:     msgs,
		Temperature:  s.settings.Temperature,
		MaxTokens:    s.settings.MaxTokens,
	}
}

// StreamSentences sends the request for utterance and returns a channel of
// speakable sentences. The channel is closed when the reply ends, the
// provider fails or ctx is cancelled; after it is closed, wait reports why
// the stream ended (nil on a normal finish). An error starting the stream is
// returned directly and no channel is opened.
//
// The caller must drain the channel or cancel ctx.
func (s *Solver) StreamSentences(ctx context.Context, utterance string, pairs []history.Pair) (<-chan string, func() error, error) {
	chunks, err := s.provider.StreamCompletion(ctx, s.BuildRequest(utterance, pairs))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan string)
	done := make(chan struct{})
	var streamErr error

	go func() {
		defer close(done)
		defer close(out)

		emit := func(sentence string) bool {
			select {
			case out <- sentence:
				return true
			case <-ctx.Done():
				streamErr = ctx.Err()
				return false
			}
		}

		var buf strings.Builder
		for chunk := range chunks {
			if chunk.FinishReason == llm.FinishReasonError {
				streamErr = fmt.Errorf("%w: %s", ErrStream, chunk.Text)
				return
			}
			buf.WriteString(chunk.Text)
			sentences, rest := Split(buf.String())
			buf.Reset()
			buf.WriteString(rest)
			for _, sentence := range sentences {
				if !emit(sentence) {
					return
				}
			}
		}
		if err := ctx.Err(); err != nil {
			streamErr = err
			return
		}
		if tail := strings.TrimSpace(buf.String()); tail != "" {
			emit(tail)
		}
	}()

	wait := func() error {
		<-done
		return streamErr
	}
	return out, wait, nil
}

// Split cuts complete sentences off the front of text and returns them with
// the unfinished remainder. A sentence ends at '.', '!', '?' or ':' followed
// by whitespace, or at a newline. A terminator at the very end of text is not
// yet a boundary because the next token may continue it, as in "3." + "5".
// A '.' after a digit never ends a sentence, which keeps list numbers such as
// "Step 1. Mix" together. Returned sentences are trimmed; blank ones are
// dropped.
func Split(text string) (sentences []string, rest string) {
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		end := -1
		switch {
		case r == '\n':
			end = i
		case r == '.' && i > 0 && unicode.IsDigit(runes[i-1]):
		case strings.ContainsRune(".!?:", r) && i+1 < len(runes) && unicode.IsSpace(runes[i+1]):
			end = i + 1
		}
		if end < 0 {
			continue
		}
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			sentences = append(sentences, s)
		}
		start = end
	}
	return sentences, string(runes[start:])
}
