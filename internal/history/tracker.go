// Package history reconstructs question/answer pairs from the utterances a
// user speaks and the replies the assistant speaks back.
//
// The [Tracker] keeps one ordered log per conversation session. User
// utterances open a log; spoken output is only recorded for sessions that
// already have one, so greetings or errors spoken before the user asked
// anything are ignored. [Tracker.Pairs] folds a log into the Q/A pairs that
// are sent to the LLM as conversation memory.
//
// Logs live for the lifetime of the Tracker; there is no eviction.
package history

import "sync"

// Role tags a log entry with its speaker.
type Role int

const (
	// RoleUser marks an utterance spoken by the user.
	RoleUser Role = iota
	// RoleAI marks output spoken by the assistant.
	RoleAI
)

// String returns "user" or "ai".
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAI:
		return "ai"
	default:
		return "unknown"
	}
}

// Entry is one observed utterance in a session log.
type Entry struct {
	Role Role
	Text string
}

// Pair is a reconstructed question and its (possibly merged) answer.
type Pair struct {
	Question string
	Answer   string
}

// answerSeparator joins consecutive spoken fragments of one answer.
const answerSeparator = ". "

// Tracker holds the session logs.
//
// Reads and writes for different sessions may run concurrently. Writes to
// the same session are expected to come from the single goroutine that owns
// the conversation turn; entry order is the order of the calls.
type Tracker struct {
	mu   sync.RWMutex
	logs map[string][]Entry

	onNewSession func(sessionID string)
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithNewSessionHook registers fn to be called, outside the lock, the first
// time a log is created for a session.
func WithNewSessionHook(fn func(sessionID string)) Option {
	return func(t *Tracker) {
		t.onNewSession = fn
	}
}

// NewTracker returns an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{logs: make(map[string][]Entry)}
	for _, o := range opts {
		o(t)
	}
	return t
}

// RecordUserUtterance appends a user entry to the session's log, creating the
// log if needed. Callers filter out empty text.
func (t *Tracker) RecordUserUtterance(sessionID, text string) {
	t.mu.Lock()
	log, existed := t.logs[sessionID]
	t.logs[sessionID] = append(log, Entry{Role: RoleUser, Text: text})
	t.mu.Unlock()

	if !existed && t.onNewSession != nil {
		t.onNewSession(sessionID)
	}
}

// RecordSpokenOutput appends an assistant entry to the session's log. It is a
// no-op when the session has no log yet. It reports whether the entry was
// recorded.
func (t *Tracker) RecordSpokenOutput(sessionID, text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	log, ok := t.logs[sessionID]
	if !ok {
		return false
	}
	t.logs[sessionID] = append(log, Entry{Role: RoleAI, Text: text})
	return true
}

// Pairs reconstructs the Q/A pairs of a session, oldest first. It does not
// modify the log, so repeated calls without new entries return equal results.
// An unknown session yields nil.
//
// A question without any answer before the next question, or before the end
// of the log, is dropped. Consecutive answers are merged with ". ".
func (t *Tracker) Pairs(sessionID string) []Pair {
	t.mu.RLock()
	log := t.logs[sessionID]
	t.mu.RUnlock()

	// log is only ever appended to, so the prefix read here stays valid
	// without holding the lock.
	return reconstruct(log)
}

// reconstruct folds a session log into Q/A pairs.
func reconstruct(log []Entry) []Pair {
	var (
		pairs                  []Pair
		question, answer       string
		hasQuestion, hasAnswer bool
	)
	for _, e := range log {
		switch e.Role {
		case RoleUser:
			if hasAnswer {
				pairs = append(pairs, Pair{Question: question, Answer: answer})
				answer, hasAnswer = "", false
			}
			question, hasQuestion = e.Text, true
		case RoleAI:
			if hasAnswer {
				answer += answerSeparator + e.Text
			} else {
				answer, hasAnswer = e.Text, true
			}
		}
	}
	if hasQuestion && hasAnswer {
		pairs = append(pairs, Pair{Question: question, Answer: answer})
	}
	return pairs
}

// Entries returns a copy of the session's log, or nil if it has none.
func (t *Tracker) Entries(sessionID string) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	log, ok := t.logs[sessionID]
	if !ok {
		return nil
	}
	out := make([]Entry, len(log))
	copy(out, log)
	return out
}

// Sessions returns the number of sessions with a log.
func (t *Tracker) Sessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.logs)
}
