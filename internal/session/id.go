// Package session reads the conversation session and language a bus message
// belongs to from the message context the host attaches.
package session

import "github.com/MrWong99/gptfallback/pkg/bus"

// DefaultID is the session the host assigns to turns that carry no explicit
// session, e.g. the local microphone.
const DefaultID = "default"

// ID returns the conversation session a bus message belongs to. The host
// stores it under context.session.session_id; messages without one belong to
// [DefaultID].
func ID(msg bus.Message) string {
	sess, ok := msg.Context["session"].(map[string]any)
	if !ok {
		return DefaultID
	}
	if id, ok := sess["session_id"].(string); ok && id != "" {
		return id
	}
	return DefaultID
}

// Lang returns the language code of a bus message, looked up in data.lang,
// then context.session.lang, then fallback.
func Lang(msg bus.Message, fallback string) string {
	if l := msg.String("lang"); l != "" {
		return l
	}
	if sess, ok := msg.Context["session"].(map[string]any); ok {
		if l, ok := sess["lang"].(string); ok && l != "" {
			return l
		}
	}
	return fallback
}
