package fallback

import "errors"

// Errors reported by [Skill.Dispatch] and carried in [Result.Err]. None is
// ever sent to the bus; callers tell them apart with errors.Is.
var (
	// ErrNotConfigured means the skill settings hold no API key, or could not
	// be read. No request was sent.
	ErrNotConfigured = errors.New("fallback: not configured")

	// ErrNoResponse means the LLM could not be reached or failed while
	// replying. The wrapped error carries the cause.
	ErrNoResponse = errors.New("fallback: no response")

	// ErrShutdown means the turn was not started because [Skill.Shutdown]
	// had been called.
	ErrShutdown = errors.New("fallback: skill shut down")
)

// errorKind labels err for metrics and logs.
func errorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrNoResponse):
		return "no_response"
	case errors.Is(err, ErrShutdown):
		return "shutdown"
	default:
		return "other"
	}
}
