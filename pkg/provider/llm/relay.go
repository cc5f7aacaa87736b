package llm

import "context"

// relayBuffer lets a provider read ahead of a slow consumer, e.g. one that
// waits for speech output between sentences.
const relayBuffer = 32

// Relay adapts an SDK stream to the [Provider] channel contract. next yields
// chunks until it reports false; end is then asked for the stream's error,
// which is delivered as a final [FinishReasonError] chunk. Chunks carrying
// neither text nor a finish reason, such as role-only deltas, are dropped.
//
// The returned channel is closed when the stream ends or ctx is cancelled.
// cleanup, if non-nil, runs after that on the relay goroutine.
func Relay(ctx context.Context, next func() (Chunk, bool), end func() error, cleanup func()) <-chan Chunk {
	ch := make(chan Chunk, relayBuffer)
	go func() {
		defer close(ch)
		if cleanup != nil {
			defer cleanup()
		}

		send := func(c Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			c, ok := next()
			if !ok {
				break
			}
			if c.Text == "" && c.FinishReason == "" {
				continue
			}
			if !send(c) {
				return
			}
		}
		if err := end(); err != nil {
			send(Chunk{FinishReason: FinishReasonError, Text: err.Error()})
		}
	}()
	return ch
}
